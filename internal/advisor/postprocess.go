package advisor

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	thinkBlockPattern   = regexp.MustCompile(`(?is)<think>.*?</think>`)
	controlTokenPattern = regexp.MustCompile(`<\|[a-zA-Z0-9_]{1,40}\|>`)
	blankLinesPattern   = regexp.MustCompile(`\n{3,}`)

	// "Olá, Maria! " or "Oi João, " at the very start of an answer
	greetingPreamblePattern = regexp.MustCompile(`(?i)^\s*(ol[áa]|oi de novo|oi|bom dia|boa tarde|boa noite|e a[íi])(,?\s+\p{L}+)?\s*[!.,]+\s*`)
)

// PostProcess cleans provider output. Answers after the first turn lose
// a leading greeting; when trimming would leave nothing the cleaned text
// is kept.
func PostProcess(text string, firstTurn bool) string {
	cleaned := thinkBlockPattern.ReplaceAllString(text, "")
	cleaned = StripSentinels(cleaned)
	cleaned = controlTokenPattern.ReplaceAllString(cleaned, "")
	cleaned = blankLinesPattern.ReplaceAllString(cleaned, "\n\n")
	cleaned = strings.TrimSpace(cleaned)

	if firstTurn || cleaned == "" {
		return cleaned
	}

	trimmed := strings.TrimSpace(greetingPreamblePattern.ReplaceAllString(cleaned, ""))
	if trimmed == "" {
		return cleaned
	}
	return capitalize(trimmed)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
