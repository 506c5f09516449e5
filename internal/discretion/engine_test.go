package discretion

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leolimacr/advisor-core/internal/types"
)

var t0 = time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)

func at(offset time.Duration) *time.Time {
	ts := t0.Add(offset)
	return &ts
}

func msg(text string) types.ConversationTurn {
	return types.ConversationTurn{Role: types.RoleUser, Text: text}
}

func TestIntentRulesOrder(t *testing.T) {
	want := []Intent{
		IntentIdentity,
		IntentDateTime,
		IntentUserData,
		IntentExplanation,
		IntentMarket,
		IntentInvestmentAdvice,
		IntentGreeting,
		IntentFollowUp,
		IntentGeneral,
	}
	got := make([]Intent, len(IntentRules))
	for i, rule := range IntentRules {
		got[i] = rule.Intent
	}
	assert.Equal(t, want, got)
}

func TestAnalyzeIntent(t *testing.T) {
	conversation := []types.ConversationTurn{
		types.UserTurn("quanto gastei em setembro?", nil),
		types.AssistantTurn("Você gastou R$ 1.200,00 em setembro.", nil),
	}

	tests := []struct {
		name    string
		message string
		history []types.ConversationTurn
		want    Intent
	}{
		{"identity", "Quem é você?", nil, IntentIdentity},
		{"datetime", "Que dia é hoje?", nil, IntentDateTime},
		{"user data", "Quanto gastei este mês?", nil, IntentUserData},
		{"explanation beats market keyword", "O que é CDI?", nil, IntentExplanation},
		{"market", "Qual a cotação do dólar hoje?", nil, IntentMarket},
		{"greeting prefix does not win", "oi, qual a cotação do dólar?", nil, IntentMarket},
		{"ticker", "PETR4 está cara?", nil, IntentMarket},
		{"investment", "Vale a pena investir em tesouro direto?", nil, IntentInvestmentAdvice},
		{"greeting", "oi", nil, IntentGreeting},
		{"greeting with punctuation", "Bom dia!", nil, IntentGreeting},
		{"follow up", "e no mês passado?", conversation, IntentFollowUp},
		{"follow up needs history", "e no mês passado?", nil, IntentGeneral},
		{"general", "Preciso organizar minha vida financeira", nil, IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Analyze(msg(tt.message), tt.history, DataFlags{})
			assert.Equal(t, tt.want, d.Intent)
		})
	}
}

func TestIsGreetingOnly(t *testing.T) {
	for _, text := range []string{"oi", "oii", "ola!", "bom dia", "oi, tudo bem?", "e ai"} {
		assert.True(t, IsGreetingOnly(text), text)
	}
	for _, text := range []string{"oi, qual a cotacao do dolar?", "bom dia, quanto gastei?", "preciso de ajuda"} {
		assert.False(t, IsGreetingOnly(text), text)
	}
}

func TestPresenceCheck(t *testing.T) {
	history := []types.ConversationTurn{
		types.UserTurn("quanto gastei com mercado?", at(-60*time.Second)),
		types.AssistantTurn("Foram R$ 640,00 este mês.", at(-50*time.Second)),
		types.UserTurn("obrigado, e com lazer?", at(-30*time.Second)),
		types.AssistantTurn("Com lazer foram R$ 210,00.", at(0)),
	}

	t.Run("quick short nudge", func(t *testing.T) {
		d := Analyze(types.UserTurn("ainda aí?", at(10*time.Second)), history, DataFlags{HasTransactions: true})
		assert.True(t, d.IsPresenceCheck)
		assert.Equal(t, MoodTesting, d.Mood)
		assert.Equal(t, DepthMinimal, d.Policy.Depth)
		assert.False(t, d.Policy.IncludeTransactions)
		assert.False(t, d.Policy.ClosingQuestion)
	})

	t.Run("after a long pause", func(t *testing.T) {
		d := Analyze(types.UserTurn("ainda aí?", at(2*time.Minute)), history, DataFlags{})
		assert.False(t, d.IsPresenceCheck)
	})

	t.Run("second hi after a pause is a greeting", func(t *testing.T) {
		d := Analyze(types.UserTurn("oi", at(10*time.Minute)), history, DataFlags{})
		assert.False(t, d.IsPresenceCheck)
		assert.Equal(t, IntentGreeting, d.Intent)
	})

	t.Run("shallow history", func(t *testing.T) {
		d := Analyze(types.UserTurn("ainda aí?", at(10*time.Second)), history[:2], DataFlags{})
		assert.False(t, d.IsPresenceCheck)
	})

	t.Run("no timestamp", func(t *testing.T) {
		d := Analyze(msg("ainda aí?"), history, DataFlags{})
		assert.False(t, d.IsPresenceCheck)
	})
}

func TestAsksIfPresent(t *testing.T) {
	history := []types.ConversationTurn{
		types.UserTurn("quanto gastei com mercado?", at(-60*time.Second)),
		types.AssistantTurn("Foram R$ 640,00 este mês.", at(-50*time.Second)),
		types.UserTurn("obrigado, e com lazer?", at(-30*time.Second)),
		types.AssistantTurn("Com lazer foram R$ 210,00.", at(0)),
	}

	tests := []struct {
		name   string
		text   string
		offset time.Duration
		want   bool
	}{
		{"still there", "ainda aí?", 8 * time.Second, true},
		{"are you there", "tá aí?", 8 * time.Second, true},
		{"hello", "alô", 8 * time.Second, true},
		{"bare question mark", "?", 8 * time.Second, true},
		{"short follow-up question", "e o cdi?", 8 * time.Second, false},
		{"short amount question", "e ontem?", 8 * time.Second, false},
		{"nudge after a long pause", "ainda aí?", 2 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AsksIfPresent(types.UserTurn(tt.text, at(tt.offset)), history))
		})
	}

	t.Run("follow-up still reads as testing mood", func(t *testing.T) {
		d := Analyze(types.UserTurn("e o cdi?", at(8*time.Second)), history, DataFlags{})
		assert.True(t, d.IsPresenceCheck)
		assert.Equal(t, MoodTesting, d.Mood)
	})
}

func TestMood(t *testing.T) {
	t.Run("impatient wording forces minimal depth", func(t *testing.T) {
		d := Analyze(msg("me explica rápido o que é CDB"), nil, DataFlags{})
		assert.Equal(t, IntentExplanation, d.Intent)
		assert.Equal(t, MoodImpatient, d.Mood)
		assert.Equal(t, DepthMinimal, d.Policy.Depth)
		assert.False(t, d.Policy.UseBullets)
		assert.True(t, d.Policy.EscalatePoliteness)
	})

	t.Run("punctuation density", func(t *testing.T) {
		d := Analyze(msg("e aí???"), nil, DataFlags{})
		assert.Equal(t, MoodImpatient, d.Mood)
	})

	t.Run("short streak right after a reply", func(t *testing.T) {
		history := []types.ConversationTurn{
			types.UserTurn("oi", at(-20*time.Second)),
			types.AssistantTurn("Olá! Como posso ajudar?", at(-15*time.Second)),
			types.UserTurn("meu saldo", at(-8*time.Second)),
			types.AssistantTurn("Seu saldo é de R$ 3.000,00.", at(0)),
		}
		d := Analyze(types.UserTurn("e então agora", at(3*time.Second)), history, DataFlags{})
		assert.False(t, d.IsPresenceCheck)
		assert.Equal(t, MoodImpatient, d.Mood)
	})

	t.Run("confused", func(t *testing.T) {
		d := Analyze(msg("não entendi, pode explicar de novo?"), nil, DataFlags{})
		assert.Equal(t, MoodConfused, d.Mood)
		assert.Equal(t, DepthBrief, d.Policy.Depth)
		assert.True(t, d.Policy.EscalatePoliteness)
	})

	t.Run("detailed", func(t *testing.T) {
		d := Analyze(msg("quero um passo a passo para montar minha reserva de emergência"), nil, DataFlags{})
		assert.Equal(t, MoodDetailed, d.Mood)
	})

	t.Run("curious explanation capped by simplicity", func(t *testing.T) {
		d := Analyze(msg("O que é CDI?"), nil, DataFlags{})
		assert.Equal(t, MoodCurious, d.Mood)
		assert.Equal(t, ComplexitySimple, d.Complexity)
		assert.Equal(t, DepthStandard, d.Policy.Depth)
	})

	t.Run("complex comparison keeps full depth", func(t *testing.T) {
		d := Analyze(msg("compare CDB e tesouro selic para daqui a cinco anos"), nil, DataFlags{})
		assert.Equal(t, ComplexityComplex, d.Complexity)
	})
}

func TestDataAvailabilityMasksPolicy(t *testing.T) {
	d := Analyze(msg("Quanto gastei este mês?"), nil, DataFlags{})
	assert.True(t, d.WantsTransactions)
	assert.False(t, d.Policy.IncludeTransactions)
	assert.False(t, d.Policy.IncludeGoals)

	d = Analyze(msg("Quanto gastei este mês?"), nil, DataFlags{HasTransactions: true, HasGoals: true, HasMarket: true})
	assert.True(t, d.Policy.IncludeTransactions)
	assert.True(t, d.Policy.IncludeGoals)
	assert.False(t, d.Policy.IncludeMarket)
	assert.Equal(t, DepthStandard, d.Policy.Depth)
}

func TestFormality(t *testing.T) {
	tests := map[string]Formality{
		"Prezado, poderia me explicar o que é um CDB?": FormalityFormal,
		"vc sabe o que é cdb?":                         FormalityCasual,
		"O que é CDB?":                                 FormalityNeutral,
	}
	for text, want := range tests {
		d := Analyze(msg(text), nil, DataFlags{})
		assert.Equal(t, want, d.Policy.Formality, text)
	}
}

func TestPolicyNarrow(t *testing.T) {
	full := Policy{Depth: DepthDetailed, IncludeTransactions: true, IncludeGoals: true, IncludeMarket: true, UseBullets: true, ClosingQuestion: true}

	got := full.Narrow(Cap{MaxDepth: DepthBrief, Transactions: true})
	assert.Equal(t, DepthBrief, got.Depth)
	assert.True(t, got.IncludeTransactions)
	assert.False(t, got.IncludeGoals)
	assert.False(t, got.IncludeMarket)
	assert.False(t, got.UseBullets)
	assert.False(t, got.ClosingQuestion)

	empty := Policy{Depth: DepthMinimal}
	assert.Equal(t, empty, empty.Narrow(Unrestricted))
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	phrases := []string{
		"oi", "Quanto gastei este mês?", "O que é CDI?", "qual a cotação do dólar?",
		"responde logo!!!", "não entendi", "ainda aí?", "e no mês passado?",
		"Prezado, poderia me ajudar?", "compare CDB e LCI", "vale a pena investir?",
		"quem é você?", "que horas são?", "PETR4 subiu?", "valeu",
	}
	rng := rand.New(rand.NewSource(42))

	pick := func() string { return phrases[rng.Intn(len(phrases))] }
	stamp := func(offset int) *time.Time {
		if rng.Intn(4) == 0 {
			return nil
		}
		return at(time.Duration(offset) * time.Second)
	}

	for i := 0; i < 300; i++ {
		n := rng.Intn(6)
		history := make([]types.ConversationTurn, n)
		for j := range history {
			role := types.RoleUser
			if j%2 == 1 {
				role = types.RoleAssistant
			}
			history[j] = types.ConversationTurn{Role: role, Text: pick(), Timestamp: stamp(-10 * (n - j))}
		}
		message := types.ConversationTurn{Role: types.RoleUser, Text: pick(), Timestamp: stamp(rng.Intn(60))}
		flags := DataFlags{HasTransactions: rng.Intn(2) == 0, HasGoals: rng.Intn(2) == 0, HasMarket: rng.Intn(2) == 0}

		first := Analyze(message, history, flags)
		second := Analyze(message, history, flags)
		require.Equal(t, first, second)

		base := intentPolicies[first.Intent]
		assert.LessOrEqual(t, int(first.Policy.Depth), int(base.Depth))
		assert.False(t, first.Policy.IncludeTransactions && !(first.WantsTransactions && flags.HasTransactions))
		assert.False(t, first.Policy.IncludeGoals && !(first.WantsGoals && flags.HasGoals))
		assert.False(t, first.Policy.IncludeMarket && !(first.WantsMarket && flags.HasMarket))
	}
}
