package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

// OpenAIProvider implements the LLMProvider interface for OpenAI and any
// host exposing the OpenAI chat-completions API (Groq, OpenRouter).
type OpenAIProvider struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration
type OpenAIConfig struct {
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	OrgID   string        `yaml:"org_id"`
	Timeout time.Duration `yaml:"timeout"`
}

var _ providers.LLMProvider = (*OpenAIProvider)(nil)
var _ providers.Translator[*openai.ChatCompletionRequest] = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider instance
func NewOpenAIProvider(config *OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)

	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (p *OpenAIProvider) GetProviderName() string {
	if p.config.Name != "" {
		return p.config.Name
	}
	return "openai"
}

// Family returns the chat-message family
func (p *OpenAIProvider) Family() providers.Family {
	return providers.FamilyChat
}

// ChatCompletion performs a chat completion request
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	openaiReq, err := p.Translate(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, *openaiReq)
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.GetProviderName()).Debug("OpenAI API call failed")
		return nil, fmt.Errorf("openai api call failed: %w", err)
	}

	return convertFromOpenAIResponse(&resp)
}

// Translate converts the provider-neutral request to OpenAI's format.
// The system instruction becomes the first message.
func (p *OpenAIProvider) Translate(req *types.CompletionRequest) (*openai.ChatCompletionRequest, error) {
	if req == nil || req.Model == "" {
		return nil, errors.New("model is required")
	}
	if err := types.ValidateConversation(req.Turns); err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Turns)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, turn := range req.Turns {
		role := openai.ChatMessageRoleUser
		switch turn.Role {
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	openaiReq := &openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature != nil {
		openaiReq.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		openaiReq.MaxTokens = *req.MaxTokens
	}
	return openaiReq, nil
}

// convertFromOpenAIResponse converts OpenAI's response to our format
func convertFromOpenAIResponse(resp *openai.ChatCompletionResponse) (*types.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai response has no choices")
	}
	return &types.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      resp.Model,
	}, nil
}
