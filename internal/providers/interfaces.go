package providers

import (
	"context"

	"github.com/leolimacr/advisor-core/internal/types"
)

// Family identifies the wire shape a provider speaks
type Family string

const (
	// FamilyChat sends a system instruction plus role-tagged turns in one call
	FamilyChat Family = "chat"
	// FamilyDocument has no system role; instructions and turns are flattened
	// into alternating document blocks
	FamilyDocument Family = "document"
)

// Core provider interface - all providers must implement
type LLMProvider interface {
	GetProviderName() string
	Family() Family
	ChatCompletion(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error)
}

// Translator is implemented by adapters that can expose the provider request
// they would send for a given conversation. R is the provider's request type.
type Translator[R any] interface {
	Translate(req *types.CompletionRequest) (R, error)
}
