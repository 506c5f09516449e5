// Package discretion decides how an answer should be shaped for a given
// message: what the user wants, how they feel about it, and how much of
// their data the answer should surface. Everything here is pure and
// deterministic; the same inputs always yield the same Decision.
package discretion

// Intent is the classified purpose of a message
type Intent string

const (
	IntentIdentity         Intent = "identity"
	IntentDateTime         Intent = "datetime"
	IntentUserData         Intent = "user_data"
	IntentExplanation      Intent = "explanation"
	IntentMarket           Intent = "market"
	IntentInvestmentAdvice Intent = "investment_advice"
	IntentGreeting         Intent = "greeting"
	IntentFollowUp         Intent = "follow_up"
	IntentGeneral          Intent = "general"
)

// Mood is the inferred emotional state of the user
type Mood string

const (
	MoodTesting   Mood = "testing"
	MoodConfused  Mood = "confused"
	MoodImpatient Mood = "impatient"
	MoodDetailed  Mood = "detailed"
	MoodCurious   Mood = "curious"
	MoodNeutral   Mood = "neutral"
)

// Complexity estimates how much reasoning a message asks for
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Formality is the register the answer should use
type Formality string

const (
	FormalityFormal  Formality = "formal"
	FormalityCasual  Formality = "casual"
	FormalityNeutral Formality = "neutral"
)

// Depth orders answer lengths from shortest to longest
type Depth int

const (
	DepthMinimal Depth = iota
	DepthBrief
	DepthStandard
	DepthDetailed
)

func (d Depth) String() string {
	switch d {
	case DepthMinimal:
		return "minimal"
	case DepthBrief:
		return "brief"
	case DepthStandard:
		return "standard"
	case DepthDetailed:
		return "detailed"
	default:
		return "unknown"
	}
}

// MaxSentences is the sentence budget the instructions give for a depth
func (d Depth) MaxSentences() int {
	switch d {
	case DepthMinimal:
		return 2
	case DepthBrief:
		return 4
	case DepthStandard:
		return 8
	default:
		return 15
	}
}

// DataFlags reports which data classes are actually available for the user
type DataFlags struct {
	HasTransactions bool
	HasGoals        bool
	HasMarket       bool
}

// Policy shapes the answer. Fields are comparable so decisions can be
// checked for equality.
type Policy struct {
	Depth               Depth
	IncludeTransactions bool
	IncludeGoals        bool
	IncludeMarket       bool
	UseBullets          bool
	ClosingQuestion     bool
	Formality           Formality
	EscalatePoliteness  bool
}

// Narrow applies a cap. Depth can only shrink and every flag is ANDed,
// so nothing a previous rule disabled can come back.
func (p Policy) Narrow(c Cap) Policy {
	if c.MaxDepth < p.Depth {
		p.Depth = c.MaxDepth
	}
	p.IncludeTransactions = p.IncludeTransactions && c.Transactions
	p.IncludeGoals = p.IncludeGoals && c.Goals
	p.IncludeMarket = p.IncludeMarket && c.Market
	p.UseBullets = p.UseBullets && c.Bullets
	p.ClosingQuestion = p.ClosingQuestion && c.Closing
	return p
}

// Cap is an upper bound applied through Policy.Narrow
type Cap struct {
	MaxDepth     Depth
	Transactions bool
	Goals        bool
	Market       bool
	Bullets      bool
	Closing      bool
}

// Unrestricted leaves a policy unchanged
var Unrestricted = Cap{MaxDepth: DepthDetailed, Transactions: true, Goals: true, Market: true, Bullets: true, Closing: true}

// Decision is the full output of Analyze
type Decision struct {
	Intent          Intent
	Mood            Mood
	Complexity      Complexity
	IsPresenceCheck bool

	// Data the intent asked for, before availability was applied
	WantsTransactions bool
	WantsGoals        bool
	WantsMarket       bool

	Policy Policy
}
