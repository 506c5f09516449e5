package market

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatBRL renders an amount in Brazilian notation, e.g. R$ 1.234,56
func FormatBRL(amount decimal.Decimal) string {
	return "R$ " + formatNumber(amount, 2)
}

// FormatPercent renders a signed change, e.g. +1,25%
func FormatPercent(pct decimal.Decimal) string {
	sign := "+"
	if pct.IsNegative() {
		sign = "-"
	}
	return sign + formatNumber(pct.Abs(), 2) + "%"
}

func formatNumber(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	if negative {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if fracPart != "" {
		b.WriteByte(',')
		b.WriteString(fracPart)
	}
	return b.String()
}

// FormatSnippet renders quotes as the market block of the instructions
func FormatSnippet(quotes []Quote) string {
	if len(quotes) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Cotações em tempo real:\n")
	for _, q := range quotes {
		name := q.Symbol.Code
		if q.Name != "" && q.Name != q.Symbol.Code {
			name = fmt.Sprintf("%s (%s)", q.Name, q.Symbol.Code)
		}

		value := FormatBRL(q.Price)
		if q.Symbol.Kind == KindIndex {
			value = formatNumber(q.Price.Round(0), 0) + " pontos"
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", name, value, FormatPercent(q.ChangePercent))
	}
	return strings.TrimRight(b.String(), "\n")
}
