package userdata

import "strings"

// NoPlan is returned by plan lookups for users without a subscription
const NoPlan = "no plan set"

// Unbounded marks a lookback window without a lower date limit
const Unbounded = 0

var planLookback = map[string]int{
	NoPlan:      3,
	"free":      3,
	"gratuito":  3,
	"basic":     30,
	"mensal":    30,
	"premium":   90,
	"anual":     90,
	"pro":       Unbounded,
	"vitalicio": Unbounded,
}

// LookbackDays maps a plan tier to its transaction window in days.
// Unknown tiers get the free window.
func LookbackDays(planTier string) int {
	tier := strings.ToLower(strings.TrimSpace(planTier))
	if tier == "" {
		tier = NoPlan
	}
	if days, ok := planLookback[tier]; ok {
		return days
	}
	return planLookback[NoPlan]
}
