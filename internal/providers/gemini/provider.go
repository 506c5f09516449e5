package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"

	// instructionAck is the model block that closes the flattened instruction
	instructionAck = "Entendido. Vou seguir essas instruções."
)

// GeminiProvider implements the LLMProvider interface for the Gemini
// generateContent API. The API has no system role, so the instruction and the
// prior turns are flattened into alternating user/model content blocks.
type GeminiProvider struct {
	httpClient *http.Client
	config     *GeminiConfig
	logger     *logrus.Logger
}

// GeminiConfig holds Gemini-specific configuration
type GeminiConfig struct {
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// GenerateRequest is the generateContent request body
type GenerateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is one document block
type Content struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

type GenerationConfig struct {
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      Content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
	Error        *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ providers.LLMProvider = (*GeminiProvider)(nil)
var _ providers.Translator[*GenerateRequest] = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider instance
func NewGeminiProvider(config *GeminiConfig, logger *logrus.Logger) *GeminiProvider {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GeminiProvider{
		httpClient: &http.Client{Timeout: timeout},
		config:     config,
		logger:     logger,
	}
}

// GetProviderName returns the provider name
func (p *GeminiProvider) GetProviderName() string {
	if p.config.Name != "" {
		return p.config.Name
	}
	return "gemini"
}

// Family returns the single-document family
func (p *GeminiProvider) Family() providers.Family {
	return providers.FamilyDocument
}

// Translate flattens the instruction and turns into alternating blocks.
// Consecutive blocks of the same role are merged.
func (p *GeminiProvider) Translate(req *types.CompletionRequest) (*GenerateRequest, error) {
	if req == nil || req.Model == "" {
		return nil, errors.New("model is required")
	}
	if err := types.ValidateConversation(req.Turns); err != nil {
		return nil, err
	}

	var contents []Content
	appendBlock := func(role, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts[0].Text += "\n\n" + text
			return
		}
		contents = append(contents, Content{Role: role, Parts: []Part{{Text: text}}})
	}

	if strings.TrimSpace(req.System) != "" {
		appendBlock("user", req.System)
		appendBlock("model", instructionAck)
	}
	for _, turn := range req.Turns {
		role := "user"
		if turn.Role == types.RoleAssistant {
			role = "model"
		}
		appendBlock(role, turn.Text)
	}
	if len(contents) > 0 && contents[0].Role != "user" {
		contents = append([]Content{{Role: "user", Parts: []Part{{Text: "(continuação da conversa)"}}}}, contents...)
	}

	out := &GenerateRequest{Contents: contents}
	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &GenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}
	return out, nil
}

// ChatCompletion performs a generateContent call
func (p *GeminiProvider) ChatCompletion(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	body, err := p.Translate(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	base := p.config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	// The key travels in a header so transport errors, which quote the URL, never carry it.
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(base, "/"), url.PathEscape(req.Model))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini api call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.WithFields(logrus.Fields{
			"provider": p.GetProviderName(),
			"status":   resp.StatusCode,
		}).Debug("Gemini API returned error status")
		return nil, fmt.Errorf("gemini api returned status %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("gemini api error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, errors.New("gemini response has no candidates")
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	model := parsed.ModelVersion
	if model == "" {
		model = req.Model
	}
	return &types.Completion{
		Text:       text.String(),
		TokensUsed: parsed.UsageMetadata.TotalTokenCount,
		Model:      model,
	}, nil
}
