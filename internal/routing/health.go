package routing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/metrics"
	"github.com/leolimacr/advisor-core/internal/types"
)

// providerHealth is the mutable circuit state of one provider. It is only
// touched with HealthTracker.mu held.
type providerHealth struct {
	state             types.ProviderState
	consecutiveErrors int
	suspendedUntil    time.Time
	lastError         string
	lastSuccess       time.Time

	// generation invalidates reactivation timers scheduled for an earlier
	// suspension
	generation uint64
	timer      *time.Timer
}

// HealthTracker is a time-based circuit breaker shared by every request.
// After threshold consecutive failures a provider is suspended and a timer
// reactivates it after cooldown. The timer callback takes the same lock as
// request-path reads and writes.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
	threshold int
	cooldown  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
	stopped   bool
}

// NewHealthTracker creates a tracker with the given threshold and cool-down
func NewHealthTracker(threshold int, cooldown time.Duration, logger *logrus.Logger) *HealthTracker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 2 * time.Minute
	}
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Register starts tracking a provider as available
func (h *HealthTracker) Register(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.providers[name]; !ok {
		h.providers[name] = &providerHealth{state: types.ProviderAvailable}
		metrics.ProviderSuspended.WithLabelValues(name).Set(0)
	}
}

// Available reports whether the router may send traffic to name
func (h *HealthTracker) Available(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.providers[name]
	return ok && p.state == types.ProviderAvailable
}

// RecordFailure counts a failed attempt and reports whether this failure
// opened the circuit.
func (h *HealthTracker) RecordFailure(name string, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.providers[name]
	if !ok {
		return false
	}

	p.consecutiveErrors++
	if err != nil {
		p.lastError = err.Error()
	}

	if p.state == types.ProviderSuspended || p.consecutiveErrors < h.threshold {
		return false
	}

	p.state = types.ProviderSuspended
	p.suspendedUntil = h.now().Add(h.cooldown)
	p.generation++
	if !h.stopped {
		gen := p.generation
		p.timer = time.AfterFunc(h.cooldown, func() { h.reactivate(name, gen) })
	}

	metrics.ProviderSuspended.WithLabelValues(name).Set(1)
	h.logger.WithFields(logrus.Fields{
		"provider":        name,
		"errors":          p.consecutiveErrors,
		"suspended_until": p.suspendedUntil.Format(time.RFC3339),
		"last_error":      p.lastError,
	}).Warn("Provider suspended")
	return true
}

// RecordSuccess resets the provider's consecutive error count. A suspended
// provider stays suspended until its cool-down ends.
func (h *HealthTracker) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.providers[name]
	if !ok {
		return
	}
	if p.consecutiveErrors > 0 {
		h.logger.WithFields(logrus.Fields{
			"provider": name,
			"errors":   p.consecutiveErrors,
		}).Info("Provider recovered")
	}
	p.consecutiveErrors = 0
	p.lastSuccess = h.now()
}

func (h *HealthTracker) reactivate(name string, gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.providers[name]
	if !ok || p.generation != gen || p.state != types.ProviderSuspended {
		return
	}

	p.state = types.ProviderAvailable
	p.consecutiveErrors = 0
	p.suspendedUntil = time.Time{}
	p.timer = nil

	metrics.ProviderSuspended.WithLabelValues(name).Set(0)
	h.logger.WithField("provider", name).Info("Provider reactivated after cool-down")
}

// Status returns a copy of the provider's health
func (h *HealthTracker) Status(name string) (types.ProviderStatus, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.providers[name]
	if !ok {
		return types.ProviderStatus{}, false
	}

	status := types.ProviderStatus{
		Name:              name,
		State:             p.state,
		ConsecutiveErrors: p.consecutiveErrors,
		LastError:         p.lastError,
	}
	if !p.suspendedUntil.IsZero() {
		until := p.suspendedUntil
		status.SuspendedUntil = &until
	}
	if !p.lastSuccess.IsZero() {
		last := p.lastSuccess
		status.LastSuccess = &last
	}
	return status, true
}

// Stop cancels pending reactivation timers. Suspended providers stay
// suspended.
func (h *HealthTracker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopped = true
	for _, p := range h.providers {
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
	}
}
