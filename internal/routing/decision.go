package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/leolimacr/advisor-core/internal/types"
)

// ContingencyProvider marks responses synthesized after every provider failed
const ContingencyProvider = "contingency"

// defaultUserName addresses users whose name is unknown
const defaultUserName = "você"

// ContingencyMessage is the apology returned when no provider could answer
func ContingencyMessage(userName string) string {
	name := strings.TrimSpace(userName)
	if name == "" {
		name = defaultUserName
	}
	return fmt.Sprintf("Desculpe, %s! Estou com dificuldades técnicas no momento e não consegui processar sua pergunta. Por favor, tente novamente em alguns instantes.", name)
}

// attemptTrail collects the provider/model tries made for one invocation
type attemptTrail struct {
	attempts []types.Attempt
}

func (t *attemptTrail) record(provider, model string, started time.Time, err error) {
	a := types.Attempt{
		Provider: provider,
		Model:    model,
		Duration: time.Since(started),
	}
	if err != nil {
		a.Error = err.Error()
	}
	t.attempts = append(t.attempts, a)
}

func (t *attemptTrail) providersTried() []string {
	seen := make(map[string]bool)
	var names []string
	for _, a := range t.attempts {
		if !seen[a.Provider] {
			seen[a.Provider] = true
			names = append(names, a.Provider)
		}
	}
	return names
}

func contingencyResponse(userName string, trail *attemptTrail) *types.RouterResponse {
	return &types.RouterResponse{
		Success:     true,
		Text:        ContingencyMessage(userName),
		Provider:    ContingencyProvider,
		Contingency: true,
		Attempts:    trail.attempts,
	}
}
