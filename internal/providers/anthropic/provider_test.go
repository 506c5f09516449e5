package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/types"
)

func TestAnthropicProvider_GetProviderName(t *testing.T) {
	provider := createTestProvider(t, "")

	if name := provider.GetProviderName(); name != "anthropic" {
		t.Errorf("Expected provider name 'anthropic', got %s", name)
	}
}

func TestAnthropicProvider_Translate(t *testing.T) {
	provider := createTestProvider(t, "")

	tests := []struct {
		name         string
		request      *types.CompletionRequest
		wantErr      bool
		wantMessages int
		wantSystem   string
		wantMax      int64
	}{
		{
			name: "System split out",
			request: &types.CompletionRequest{
				Model:  "claude-3-5-haiku-latest",
				System: "Você é um assistente financeiro.",
				Turns: []types.ConversationTurn{
					{Role: types.RoleUser, Text: "Oi"},
					{Role: types.RoleAssistant, Text: "Olá!"},
					{Role: types.RoleUser, Text: "Qual meu saldo?"},
				},
				MaxTokens: intPtr(256),
			},
			wantMessages: 3,
			wantSystem:   "Você é um assistente financeiro.",
			wantMax:      256,
		},
		{
			name: "Consecutive user turns merged",
			request: &types.CompletionRequest{
				Model: "claude-3-5-haiku-latest",
				Turns: []types.ConversationTurn{
					{Role: types.RoleUser, Text: "primeira"},
					{Role: types.RoleUser, Text: "segunda"},
				},
			},
			wantMessages: 1,
			wantMax:      defaultMaxTokens,
		},
		{
			name: "Inline system turn folded into instruction",
			request: &types.CompletionRequest{
				Model:  "claude-3-5-haiku-latest",
				System: "base",
				Turns: []types.ConversationTurn{
					{Role: types.RoleSystem, Text: "extra"},
					{Role: types.RoleUser, Text: "Oi"},
				},
			},
			wantMessages: 1,
			wantSystem:   "base\n\nextra",
			wantMax:      defaultMaxTokens,
		},
		{
			name: "Leading assistant turn gets a user prefix",
			request: &types.CompletionRequest{
				Model: "claude-3-5-haiku-latest",
				Turns: []types.ConversationTurn{
					{Role: types.RoleAssistant, Text: "Olá!"},
					{Role: types.RoleUser, Text: "Oi"},
				},
			},
			wantMessages: 3,
			wantMax:      defaultMaxTokens,
		},
		{
			name:    "Empty conversation",
			request: &types.CompletionRequest{Model: "claude-3-5-haiku-latest"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.Translate(tt.request)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Translate failed: %v", err)
			}
			if len(got.Messages) != tt.wantMessages {
				t.Errorf("Expected %d messages, got %d", tt.wantMessages, len(got.Messages))
			}
			if got.Messages[0].Role != anthropic.MessageParamRoleUser {
				t.Errorf("First message must be from user, got %s", got.Messages[0].Role)
			}
			wantSystem := tt.wantSystem
			if wantSystem == "" && len(got.System) != 0 {
				t.Errorf("Expected no system blocks, got %d", len(got.System))
			}
			if wantSystem != "" && (len(got.System) != 1 || got.System[0].Text != wantSystem) {
				t.Errorf("Expected system %q, got %+v", wantSystem, got.System)
			}
			if got.MaxTokens != tt.wantMax {
				t.Errorf("Expected max tokens %d, got %d", tt.wantMax, got.MaxTokens)
			}
		})
	}
}

func TestAnthropicProvider_ChatCompletion(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "Sua reserva está em dia."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL)
	completion, err := provider.ChatCompletion(context.Background(), &types.CompletionRequest{
		Model:  "claude-3-5-haiku-latest",
		System: "sistema",
		Turns:  []types.ConversationTurn{{Role: types.RoleUser, Text: "Como está minha reserva?"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if completion.Text != "Sua reserva está em dia." {
		t.Errorf("Unexpected text %q", completion.Text)
	}
	if completion.TokensUsed != 20 {
		t.Errorf("Expected 20 tokens, got %d", completion.TokensUsed)
	}
	if _, ok := body["system"]; !ok {
		t.Error("Expected system field in request body")
	}
}

func TestAnthropicProvider_ChatCompletionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL)
	_, err := provider.ChatCompletion(context.Background(), &types.CompletionRequest{
		Model: "claude-3-5-haiku-latest",
		Turns: []types.ConversationTurn{{Role: types.RoleUser, Text: "Oi"}},
	})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
}

// Helper functions
func createTestProvider(t *testing.T, baseURL string) *AnthropicProvider {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return NewAnthropicProvider(&AnthropicConfig{
		APIKey:  "test-api-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, logger)
}

func intPtr(i int) *int {
	return &i
}
