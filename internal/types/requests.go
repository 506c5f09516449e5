package types

import (
	"errors"
	"strings"
	"time"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ErrEmptyConversation is returned when a conversation has no usable turns
// or does not end with a user turn.
var ErrEmptyConversation = errors.New("conversation must be non-empty and end with a user turn")

// ConversationTurn is one message exchanged between the user and the assistant.
// Turns are owned by the caller and passed by value.
type ConversationTurn struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// UserTurn builds a user turn with an optional timestamp
func UserTurn(text string, at *time.Time) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Text: text, Timestamp: at}
}

// AssistantTurn builds an assistant turn with an optional timestamp
func AssistantTurn(text string, at *time.Time) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Text: text, Timestamp: at}
}

// ValidateConversation checks that a conversation can be sent to a provider
func ValidateConversation(conv []ConversationTurn) error {
	if len(conv) == 0 {
		return ErrEmptyConversation
	}
	last := conv[len(conv)-1]
	if last.Role != RoleUser || strings.TrimSpace(last.Text) == "" {
		return ErrEmptyConversation
	}
	return nil
}

// HasNonSystemTurn reports whether any user or assistant turn carries text
func HasNonSystemTurn(history []ConversationTurn) bool {
	for _, t := range history {
		if t.Role != RoleSystem && strings.TrimSpace(t.Text) != "" {
			return true
		}
	}
	return false
}

// InvokeOptions tunes a single Router invocation
type InvokeOptions struct {
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	// UserName addresses the user in contingency messages
	UserName string `json:"user_name,omitempty"`

	// CacheScope partitions cached answers, usually by user id
	CacheScope string `json:"cache_scope,omitempty"`

	// SkipCache bypasses both cache lookup and cache write
	SkipCache bool `json:"skip_cache,omitempty"`
}

// CompletionRequest is the provider-neutral request handed to an adapter
type CompletionRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system"`
	Turns       []ConversationTurn `json:"turns"`
	Temperature *float32           `json:"temperature,omitempty"`
	MaxTokens   *int               `json:"max_tokens,omitempty"`
}

// AdviseRequest is the inbound advisory call
type AdviseRequest struct {
	UserID             string             `json:"-"`
	Prompt             string             `json:"prompt"`
	UserName           string             `json:"userName,omitempty"`
	History            []ConversationTurn `json:"history,omitempty"`
	IsFirstInteraction *bool              `json:"isFirstInteraction,omitempty"`

	// At is the time the prompt was received. Zero means now.
	At time.Time `json:"-"`

	// RequestID correlates logs; one is generated when empty
	RequestID string `json:"-"`
}
