package discretion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckRequest(t *testing.T) {
	violations := []struct {
		message  string
		category Category
	}{
		{"onde devo investir meus 10000 reais?", CategoryPersonalizedInvestment},
		{"Não sei onde devo investir meu dinheiro", CategoryPersonalizedInvestment},
		{"Em que devo aplicar minha reserva?", CategoryPersonalizedInvestment},
		{"me recomenda um fundo imobiliário", CategoryPersonalizedInvestment},
		{"Devo comprar PETR4?", CategoryBuySell},
		{"Quais ações devo comprar agora?", CategoryBuySell},
		{"Como devo dividir meu salário?", CategoryAllocation},
		{"where should I invest?", CategoryPersonalizedInvestment},
	}
	for _, tt := range violations {
		t.Run(tt.message, func(t *testing.T) {
			got := CheckRequest(tt.message)
			assert.True(t, got.Violation)
			assert.Equal(t, tt.category, got.Category)
		})
	}

	allowed := []string{
		"O que é CDB?",
		"Como funciona o tesouro direto?",
		"Quanto gastei com mercado?",
		"Onde gastei mais dinheiro este mês?",
		"qual a cotação do dólar?",
		"me recomenda um livro sobre finanças",
	}
	for _, message := range allowed {
		assert.False(t, CheckRequest(message).Violation, message)
	}
}

func TestCheckAnswer(t *testing.T) {
	flagged := []string{
		"Recomendo que você compre PETR4 agora.",
		"Você deve investir em bitcoin.",
		"Sugiro investir no tesouro selic.",
		"Compre ações da Vale enquanto estão baratas.",
	}
	for _, text := range flagged {
		assert.True(t, CheckAnswer(text).Violation, text)
	}

	clean := []string{
		"Não recomendo que você compre ações sem estudar antes.",
		"Você deve investir primeiro na sua reserva de emergência.",
		"O CDB é um título de renda fixa emitido por bancos.",
		"Evite vender ações no pânico. Estude o seu perfil antes de decidir.",
	}
	for _, text := range clean {
		assert.False(t, CheckAnswer(text).Violation, text)
	}
}

func TestRefusalMessage(t *testing.T) {
	msg := RefusalMessage("Maria Souza")
	assert.Contains(t, msg, "Maria, não posso")
	assert.Contains(t, msg, "CVM")

	assert.Contains(t, RefusalMessage(""), "Não posso fazer recomendações")
}
