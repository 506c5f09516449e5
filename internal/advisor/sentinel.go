package advisor

import (
	"regexp"
	"strings"
)

// sentinelPattern matches "[PESQUISAR: termo]". BUSCAR and SEARCH are
// accepted aliases. The query is at most 200 characters and never
// crosses a line or a closing bracket.
var sentinelPattern = regexp.MustCompile(`\[(?i:pesquisar|buscar|search)\s*:[ \t]*([^\]\n]{1,200}?)[ \t]*\]`)

// ParseSearchRequest extracts the first search query a provider asked
// for. Malformed or empty tokens mean no search.
func ParseSearchRequest(text string) (string, bool) {
	m := sentinelPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	query := strings.TrimSpace(m[1])
	if query == "" {
		return "", false
	}
	return query, true
}

// StripSentinels removes every search token from text
func StripSentinels(text string) string {
	return sentinelPattern.ReplaceAllString(text, "")
}
