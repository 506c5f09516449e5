package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/providers"
	"github.com/leolimacr/advisor-core/internal/types"
)

// defaultMaxTokens is sent when the request carries no budget; the Messages
// API requires max_tokens.
const defaultMaxTokens = 1024

// AnthropicProvider implements the LLMProvider interface for Anthropic Claude
type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

// AnthropicConfig holds Anthropic-specific configuration
type AnthropicConfig struct {
	Name    string        `yaml:"name"`
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

var _ providers.LLMProvider = (*AnthropicProvider)(nil)
var _ providers.Translator[*anthropic.MessageNewParams] = (*AnthropicProvider)(nil)

// NewAnthropicProvider creates a new Anthropic provider instance.
// SDK retries are disabled: the Router owns fallback.
func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}

	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(config.Timeout))
	}

	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{
		client: &client,
		config: config,
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (p *AnthropicProvider) GetProviderName() string {
	if p.config.Name != "" {
		return p.config.Name
	}
	return "anthropic"
}

// Family returns the chat-message family
func (p *AnthropicProvider) Family() providers.Family {
	return providers.FamilyChat
}

// ChatCompletion performs a chat completion request
func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req *types.CompletionRequest) (*types.Completion, error) {
	anthropicReq, err := p.Translate(req)
	if err != nil {
		return nil, fmt.Errorf("failed to convert request: %w", err)
	}

	resp, err := p.client.Messages.New(ctx, *anthropicReq)
	if err != nil {
		p.logger.WithError(err).WithField("provider", p.GetProviderName()).Debug("Anthropic API call failed")
		return nil, fmt.Errorf("anthropic api call failed: %w", err)
	}

	return convertFromAnthropicResponse(resp), nil
}

// Translate converts the provider-neutral request to Anthropic's format.
// The system instruction travels separately and consecutive turns of the
// same role are merged, since the API requires alternation.
func (p *AnthropicProvider) Translate(req *types.CompletionRequest) (*anthropic.MessageNewParams, error) {
	if req == nil || req.Model == "" {
		return nil, errors.New("model is required")
	}
	if err := types.ValidateConversation(req.Turns); err != nil {
		return nil, err
	}

	system := strings.TrimSpace(req.System)
	var messages []anthropic.MessageParam
	var lastRole types.Role
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(buf, "\n\n"))
		if lastRole == types.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
		buf = nil
	}

	for _, turn := range req.Turns {
		if turn.Role == types.RoleSystem {
			// Inline system turns join the top-level instruction
			if system != "" {
				system += "\n\n"
			}
			system += turn.Text
			continue
		}
		if turn.Role != lastRole {
			flush()
			lastRole = turn.Role
		}
		buf = append(buf, turn.Text)
	}
	flush()

	if len(messages) > 0 && messages[0].Role != anthropic.MessageParamRoleUser {
		// First message must come from the user
		messages = append([]anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("(continuação da conversa)"))}, messages...)
	}

	anthropicReq := &anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}

	if system != "" {
		anthropicReq.System = []anthropic.TextBlockParam{
			{Text: system, Type: "text"},
		}
	}
	if req.MaxTokens != nil {
		anthropicReq.MaxTokens = int64(*req.MaxTokens)
	}
	if req.Temperature != nil {
		anthropicReq.Temperature = anthropic.Float(float64(*req.Temperature))
	}

	return anthropicReq, nil
}

// convertFromAnthropicResponse converts Anthropic's response to our format
func convertFromAnthropicResponse(resp *anthropic.Message) *types.Completion {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &types.Completion{
		Text:       text.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		Model:      string(resp.Model),
	}
}
