package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

func TestGeminiProvider_Family(t *testing.T) {
	provider := createTestProvider(t, "")
	if provider.Family() != providers.FamilyDocument {
		t.Errorf("Expected document family, got %s", provider.Family())
	}
	if provider.GetProviderName() != "gemini" {
		t.Errorf("Expected provider name 'gemini', got %s", provider.GetProviderName())
	}
}

func TestGeminiProvider_Translate(t *testing.T) {
	provider := createTestProvider(t, "")

	tests := []struct {
		name      string
		request   *types.CompletionRequest
		wantRoles []string
		wantErr   bool
	}{
		{
			name: "Instruction flattened before turns",
			request: &types.CompletionRequest{
				Model:  "gemini-2.0-flash",
				System: "Você é um assistente financeiro.",
				Turns: []types.ConversationTurn{
					{Role: types.RoleUser, Text: "Oi"},
					{Role: types.RoleAssistant, Text: "Olá!"},
					{Role: types.RoleUser, Text: "Qual meu saldo?"},
				},
			},
			wantRoles: []string{"user", "model", "user", "model", "user"},
		},
		{
			name: "Assistant turn after ack merges into model block",
			request: &types.CompletionRequest{
				Model:  "gemini-2.0-flash",
				System: "instrução",
				Turns: []types.ConversationTurn{
					{Role: types.RoleAssistant, Text: "Olá!"},
					{Role: types.RoleUser, Text: "Oi"},
				},
			},
			wantRoles: []string{"user", "model", "user"},
		},
		{
			name: "Without instruction",
			request: &types.CompletionRequest{
				Model: "gemini-2.0-flash",
				Turns: []types.ConversationTurn{
					{Role: types.RoleUser, Text: "a"},
					{Role: types.RoleUser, Text: "b"},
				},
			},
			wantRoles: []string{"user"},
		},
		{
			name:    "Missing model",
			request: &types.CompletionRequest{Turns: []types.ConversationTurn{{Role: types.RoleUser, Text: "Oi"}}},
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
			if len(got.Contents) != len(tt.wantRoles) {
				t.Fatalf("Expected %d blocks, got %d: %+v", len(tt.wantRoles), len(got.Contents), got.Contents)
			}
			for i, role := range tt.wantRoles {
				if got.Contents[i].Role != role {
					t.Errorf("Block %d: expected role %s, got %s", i, role, got.Contents[i].Role)
				}
			}
		})
	}
}

func TestGeminiProvider_ChatCompletion(t *testing.T) {
	var received GenerateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-2.0-flash:generateContent") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-api-key" || r.URL.RawQuery != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Sua meta "}, {"text": "está 40% concluída."}]}}],
			"usageMetadata": {"totalTokenCount": 42}
		}`))
	}))
	defer server.Close()

	provider := createTestProvider(t, server.URL)
	completion, err := provider.ChatCompletion(context.Background(), &types.CompletionRequest{
		Model:     "gemini-2.0-flash",
		System:    "sistema",
		Turns:     []types.ConversationTurn{{Role: types.RoleUser, Text: "Como está minha meta?"}},
		MaxTokens: intPtr(200),
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if completion.Text != "Sua meta está 40% concluída." {
		t.Errorf("Unexpected text %q", completion.Text)
	}
	if completion.TokensUsed != 42 {
		t.Errorf("Expected 42 tokens, got %d", completion.TokensUsed)
	}
	if completion.Model != "gemini-2.0-flash" {
		t.Errorf("Expected requested model as fallback, got %s", completion.Model)
	}
	if received.GenerationConfig == nil || *received.GenerationConfig.MaxOutputTokens != 200 {
		t.Errorf("Expected maxOutputTokens 200, got %+v", received.GenerationConfig)
	}
}

func TestGeminiProvider_ChatCompletionErrors(t *testing.T) {
	tests := []struct {
		name string
		code int
		body string
	}{
		{name: "Rate limited", code: http.StatusTooManyRequests, body: `{"error":{"code":429,"message":"quota"}}`},
		{name: "No candidates", code: http.StatusOK, body: `{"candidates":[]}`},
		{name: "Malformed payload", code: http.StatusOK, body: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider := createTestProvider(t, server.URL)
			_, err := provider.ChatCompletion(context.Background(), &types.CompletionRequest{
				Model: "gemini-2.0-flash",
				Turns: []types.ConversationTurn{{Role: types.RoleUser, Text: "Oi"}},
			})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}

func TestGeminiProvider_ErrorsDoNotLeakKey(t *testing.T) {
	statusServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer statusServer.Close()

	tests := []struct {
		name    string
		baseURL string
	}{
		{name: "Connection refused", baseURL: "http://127.0.0.1:1"},
		{name: "Error status", baseURL: statusServer.URL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewGeminiProvider(&GeminiConfig{
				APIKey:  "SECRET-KEY-123",
				BaseURL: tt.baseURL,
				Timeout: 2 * time.Second,
			}, logrus.New())

			_, err := provider.ChatCompletion(context.Background(), &types.CompletionRequest{
				Model: "gemini-2.0-flash",
				Turns: []types.ConversationTurn{{Role: types.RoleUser, Text: "Oi"}},
			})
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if strings.Contains(err.Error(), "SECRET-KEY-123") {
				t.Errorf("Error exposes the API key: %v", err)
			}
		})
	}
}

func createTestProvider(t *testing.T, baseURL string) *GeminiProvider {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return NewGeminiProvider(&GeminiConfig{
		APIKey:  "test-api-key",
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, logger)
}

func intPtr(i int) *int {
	return &i
}
