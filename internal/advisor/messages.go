package advisor

import (
	"fmt"

	"github.com/leolimacr/advisor-core/internal/textutil"
)

// addressed returns ", Name" or "" when the name is unknown
func addressed(userName string) string {
	if name := textutil.FirstName(userName); name != "" {
		return ", " + name
	}
	return ""
}

// WelcomeMessage answers a greeting that opens a conversation
func WelcomeMessage(userName string) string {
	return fmt.Sprintf("Olá%s! Sou seu assistente financeiro. Posso analisar seus gastos, acompanhar suas metas e explicar conceitos de investimento. Como posso ajudar hoje?", addressed(userName))
}

// ReGreetingMessage answers a greeting in an ongoing conversation
func ReGreetingMessage(userName string) string {
	return fmt.Sprintf("Oi de novo%s! Em que posso ajudar agora?", addressed(userName))
}

// PresenceMessage answers a "still there?" nudge
func PresenceMessage(userName string) string {
	return fmt.Sprintf("Estou aqui%s! Pode mandar sua pergunta.", addressed(userName))
}

// FallbackMessage is returned when no usable answer could be produced
func FallbackMessage(userName string) string {
	return fmt.Sprintf("Desculpe%s, não consegui montar uma resposta agora. Pode tentar reformular a pergunta?", addressed(userName))
}
