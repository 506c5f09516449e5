package discretion

import (
	"regexp"
	"strings"
	"time"

	"github.com/leolimacr/advisor-core/internal/textutil"
	"github.com/leolimacr/advisor-core/internal/types"
)

const (
	presenceWindow   = 30 * time.Second
	presenceMaxLen   = 10
	presenceMinDepth = 2

	streakWindow = 10 * time.Second
	streakMaxLen = 15
	streakTurns  = 2

	detailedMinLen = 220
	complexMinLen  = 160
	simpleMaxWords = 6
)

var (
	impatientPattern  = regexp.MustCompile(`\b(rapido|rapidinho|anda logo|responde logo|demora|demorando|cade|urgente|depressa|(to|estou) esperando)\b`)
	confusedPattern   = regexp.MustCompile(`\b(nao entendi|nao entendo|nao compreendi|como assim|confus[oa]|confuso|nao ficou claro|nao faz sentido|hein|explica de novo)\b`)
	detailedPattern   = regexp.MustCompile(`\b(detalh\w*|passo a passo|aprofund\w*|mais informac\w*|completo|completa|exemplos?|explique melhor)\b`)
	curiousPattern    = regexp.MustCompile(`\b(curios\w*|sera que|interessante|queria saber|gostaria de saber|fiquei pensando|por que)\b`)
	complexPattern    = regexp.MustCompile(`\b(compar\w*|simul\w*|planej\w*|estrateg\w*|projec\w*|cenarios?|aposentadoria|financiamento|juros compostos|longo prazo)\b`)
	formalPattern     = regexp.MustCompile(`\b(senhor|senhora|prezad[oa]s?|por gentileza|por obsequio|poderia|gostaria|cordialmente)\b`)
	stillTherePattern = regexp.MustCompile(`^(ainda (esta |ta )?ai|(vc |voce )?(ta|esta) ai|tem alguem ai|cade voce|alo+|ei+|psiu|oi+|hello)?$`)
	casualPattern     = regexp.MustCompile(`\b(vc|vcs|blz|k{3,}|(ha){2,}|rs+|tb|tbm|pq|mano|cara|ta|to|beleza|valeu|vlw|eai|e ai|oi+)\b`)
)

// elapsedSince measures from the latest timestamped non-system turn in
// history to the message. ok is false when either side has no timestamp.
func elapsedSince(message types.ConversationTurn, history []types.ConversationTurn, role types.Role) (time.Duration, bool) {
	if message.Timestamp == nil {
		return 0, false
	}
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		if turn.Role == types.RoleSystem || (role != "" && turn.Role != role) {
			continue
		}
		if turn.Timestamp == nil {
			return 0, false
		}
		return message.Timestamp.Sub(*turn.Timestamp), true
	}
	return 0, false
}

func nonSystemTurns(history []types.ConversationTurn) int {
	n := 0
	for _, turn := range history {
		if turn.Role != types.RoleSystem {
			n++
		}
	}
	return n
}

// IsPresenceCheck spots "still there?" nudges: tiny messages sent right
// after an exchange in a conversation that is already underway
func IsPresenceCheck(message types.ConversationTurn, history []types.ConversationTurn) bool {
	if textutil.RuneLen(message.Text) >= presenceMaxLen || nonSystemTurns(history) <= presenceMinDepth {
		return false
	}
	elapsed, ok := elapsedSince(message, history, "")
	return ok && elapsed >= 0 && elapsed < presenceWindow
}

// AsksIfPresent is a presence check whose wording only asks whether the
// assistant is there ("ainda aí?", "alô", "?"). Short follow-up questions
// sent just as fast do not count.
func AsksIfPresent(message types.ConversationTurn, history []types.ConversationTurn) bool {
	if !IsPresenceCheck(message, history) {
		return false
	}
	bare := strings.Trim(textutil.Fold(message.Text), " ?!.,")
	return stillTherePattern.MatchString(bare)
}

func punctuationDense(text string) bool {
	marks := strings.Count(text, "?") + strings.Count(text, "!")
	length := textutil.RuneLen(text)
	return marks >= 3 && length > 0 && float64(marks)/float64(length) >= 0.15
}

// shortStreak is true when the last few user turns and the message are
// all terse and the assistant answered moments ago
func shortStreak(message types.ConversationTurn, history []types.ConversationTurn) bool {
	if textutil.RuneLen(message.Text) >= streakMaxLen {
		return false
	}
	seen := 0
	for i := len(history) - 1; i >= 0 && seen < streakTurns; i-- {
		if history[i].Role != types.RoleUser {
			continue
		}
		if textutil.RuneLen(history[i].Text) >= streakMaxLen {
			return false
		}
		seen++
	}
	if seen < streakTurns {
		return false
	}
	elapsed, ok := elapsedSince(message, history, types.RoleAssistant)
	return ok && elapsed >= 0 && elapsed < streakWindow
}

func inferMood(message types.ConversationTurn, folded string, history []types.ConversationTurn, intent Intent, presence bool) Mood {
	switch {
	case presence:
		return MoodTesting
	case impatientPattern.MatchString(folded), punctuationDense(message.Text), shortStreak(message, history):
		return MoodImpatient
	case confusedPattern.MatchString(folded):
		return MoodConfused
	case detailedPattern.MatchString(folded), textutil.RuneLen(message.Text) > detailedMinLen:
		return MoodDetailed
	case curiousPattern.MatchString(folded), intent == IntentExplanation:
		return MoodCurious
	default:
		return MoodNeutral
	}
}

func inferComplexity(message types.ConversationTurn, folded string) Complexity {
	switch {
	case textutil.RuneLen(message.Text) > complexMinLen,
		strings.Count(message.Text, "?") >= 2,
		complexPattern.MatchString(folded):
		return ComplexityComplex
	case len(strings.Fields(folded)) <= simpleMaxWords:
		return ComplexitySimple
	default:
		return ComplexityModerate
	}
}

func inferFormality(folded string) Formality {
	switch {
	case formalPattern.MatchString(folded):
		return FormalityFormal
	case casualPattern.MatchString(folded):
		return FormalityCasual
	default:
		return FormalityNeutral
	}
}
