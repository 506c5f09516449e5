package discretion

import (
	"github.com/leolimacr/advisor-core/internal/textutil"
	"github.com/leolimacr/advisor-core/internal/types"
)

// Analyze classifies message against history and derives the answer
// policy. The message timestamp stands in for the current time; without
// one the time-based signals stay off.
func Analyze(message types.ConversationTurn, history []types.ConversationTurn, flags DataFlags) Decision {
	folded := textutil.Fold(message.Text)

	presence := IsPresenceCheck(message, history)
	intent := classify(folded, history)
	mood := inferMood(message, folded, history, intent, presence)
	complexity := inferComplexity(message, folded)

	base := intentPolicies[intent]
	return Decision{
		Intent:            intent,
		Mood:              mood,
		Complexity:        complexity,
		IsPresenceCheck:   presence,
		WantsTransactions: base.IncludeTransactions,
		WantsGoals:        base.IncludeGoals,
		WantsMarket:       base.IncludeMarket,
		Policy:            derivePolicy(intent, mood, complexity, inferFormality(folded), flags),
	}
}
