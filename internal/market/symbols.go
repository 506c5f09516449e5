// Package market extracts instrument mentions from user messages and
// fetches live quotes for them.
package market

import (
	"regexp"
	"strings"

	"github.com/leolimacr/advisor-core/internal/textutil"
)

// Kind classifies an instrument
type Kind string

const (
	KindStock    Kind = "stock"
	KindCrypto   Kind = "crypto"
	KindCurrency Kind = "currency"
	KindIndex    Kind = "index"
)

// Symbol is an instrument code with its kind
type Symbol struct {
	Code string
	Kind Kind
}

// MaxSymbols caps how many instruments one message can trigger
const MaxSymbols = 5

// IndexBovespa is the B3 benchmark index
const IndexBovespa = "^BVSP"

type alias struct {
	re     *regexp.Regexp
	symbol Symbol
	// skip matches immediately followed by this text
	unless string
}

// Aliases are matched against folded text in table order
var aliases = []alias{
	{re: regexp.MustCompile(`\bpetrobras\b`), symbol: Symbol{"PETR4", KindStock}},
	{re: regexp.MustCompile(`\bvale\b`), symbol: Symbol{"VALE3", KindStock}, unless: " a pena"},
	{re: regexp.MustCompile(`\bitau( unibanco)?\b`), symbol: Symbol{"ITUB4", KindStock}},
	{re: regexp.MustCompile(`\bbradesco\b`), symbol: Symbol{"BBDC4", KindStock}},
	{re: regexp.MustCompile(`\bambev\b`), symbol: Symbol{"ABEV3", KindStock}},
	{re: regexp.MustCompile(`\b(magalu|magazine luiza)\b`), symbol: Symbol{"MGLU3", KindStock}},
	{re: regexp.MustCompile(`\bbanco do brasil\b`), symbol: Symbol{"BBAS3", KindStock}},
	{re: regexp.MustCompile(`\bweg\b`), symbol: Symbol{"WEGE3", KindStock}},
	{re: regexp.MustCompile(`\bnubank\b`), symbol: Symbol{"ROXO34", KindStock}},
	{re: regexp.MustCompile(`\b(bitcoin|btc)\b`), symbol: Symbol{"BTC", KindCrypto}},
	{re: regexp.MustCompile(`\b(ethereum|eth)\b`), symbol: Symbol{"ETH", KindCrypto}},
	{re: regexp.MustCompile(`\bsolana\b`), symbol: Symbol{"SOL", KindCrypto}},
	{re: regexp.MustCompile(`\bdolar(es)?\b`), symbol: Symbol{"USD-BRL", KindCurrency}},
	{re: regexp.MustCompile(`\beuros?\b`), symbol: Symbol{"EUR-BRL", KindCurrency}},
	{re: regexp.MustCompile(`\b(ibovespa|ibov|bolsa)\b`), symbol: Symbol{IndexBovespa, KindIndex}},
}

var tickerPattern = regexp.MustCompile(`\b[A-Z]{4}(3|4|5|6|11|34)\b`)

// ExtractSymbols finds instruments named in message. Order follows the
// alias table then ticker appearance; duplicates are dropped and the
// result is capped at MaxSymbols.
func ExtractSymbols(message string) []Symbol {
	folded := textutil.Fold(message)
	seen := make(map[string]bool)
	var out []Symbol

	add := func(s Symbol) bool {
		if seen[s.Code] {
			return true
		}
		seen[s.Code] = true
		out = append(out, s)
		return len(out) < MaxSymbols
	}

	for _, a := range aliases {
		if !a.matches(folded) {
			continue
		}
		if !add(a.symbol) {
			return out
		}
	}

	for _, code := range tickerPattern.FindAllString(strings.ToUpper(folded), -1) {
		if !add(Symbol{Code: code, Kind: KindStock}) {
			return out
		}
	}
	return out
}

func (a alias) matches(folded string) bool {
	for _, loc := range a.re.FindAllStringIndex(folded, -1) {
		if a.unless == "" || !strings.HasPrefix(folded[loc[1]:], a.unless) {
			return true
		}
	}
	return false
}
