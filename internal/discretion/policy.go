package discretion

// intentPolicies is the base rule per intent. Everything applied after it
// can only narrow.
var intentPolicies = map[Intent]Policy{
	IntentIdentity:         {Depth: DepthBrief},
	IntentDateTime:         {Depth: DepthMinimal},
	IntentUserData:         {Depth: DepthStandard, IncludeTransactions: true, IncludeGoals: true, UseBullets: true, ClosingQuestion: true},
	IntentExplanation:      {Depth: DepthDetailed, UseBullets: true, ClosingQuestion: true},
	IntentMarket:           {Depth: DepthBrief, IncludeMarket: true},
	IntentInvestmentAdvice: {Depth: DepthStandard, IncludeGoals: true, IncludeMarket: true, UseBullets: true, ClosingQuestion: true},
	IntentGreeting:         {Depth: DepthMinimal, ClosingQuestion: true},
	IntentFollowUp:         {Depth: DepthStandard, IncludeTransactions: true, IncludeGoals: true, IncludeMarket: true},
	IntentGeneral:          {Depth: DepthStandard, IncludeGoals: true, ClosingQuestion: true},
}

var moodCaps = map[Mood]Cap{
	MoodTesting:   {MaxDepth: DepthMinimal},
	MoodImpatient: {MaxDepth: DepthMinimal, Transactions: true, Goals: true, Market: true},
	MoodConfused:  {MaxDepth: DepthBrief, Transactions: true, Goals: true, Market: true, Bullets: true, Closing: true},
	MoodDetailed:  Unrestricted,
	MoodCurious:   Unrestricted,
	MoodNeutral:   Unrestricted,
}

var complexityCaps = map[Complexity]Cap{
	ComplexitySimple:   {MaxDepth: DepthStandard, Transactions: true, Goals: true, Market: true, Bullets: true, Closing: true},
	ComplexityModerate: Unrestricted,
	ComplexityComplex:  Unrestricted,
}

func availabilityCap(flags DataFlags) Cap {
	c := Unrestricted
	c.Transactions = flags.HasTransactions
	c.Goals = flags.HasGoals
	c.Market = flags.HasMarket
	return c
}

func capFor[K comparable](table map[K]Cap, key K) Cap {
	if c, ok := table[key]; ok {
		return c
	}
	return Unrestricted
}

func derivePolicy(intent Intent, mood Mood, complexity Complexity, formality Formality, flags DataFlags) Policy {
	p, ok := intentPolicies[intent]
	if !ok {
		p = intentPolicies[IntentGeneral]
	}
	p = p.Narrow(capFor(moodCaps, mood))
	p = p.Narrow(capFor(complexityCaps, complexity))
	p = p.Narrow(availabilityCap(flags))
	p.Formality = formality
	p.EscalatePoliteness = mood == MoodConfused || mood == MoodImpatient
	return p
}
