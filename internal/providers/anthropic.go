package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/aacode/pkg/models"
)

// defaultAnthropicMaxTokens bounds the completion length per call.
const defaultAnthropicMaxTokens = 8192

// AnthropicCaller calls the Anthropic Messages API.
type AnthropicCaller struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCaller builds a caller for one model.
func NewAnthropicCaller(apiKey, model string) (*AnthropicCaller, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	return &AnthropicCaller{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Model returns the configured model identifier.
func (c *AnthropicCaller) Model() string { return c.model }

// Call sends the conversation and returns the concatenated text blocks.
// System messages are lifted into the system parameter, as the Messages API
// requires.
func (c *AnthropicCaller) Call(ctx context.Context, messages []models.Message) (string, error) {
	system, turns := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultAnthropicMaxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

// splitSystem joins system messages into one system string and converts the
// rest into API turns.
func splitSystem(messages []models.Message) (string, []anthropic.MessageParam) {
	var system []string
	var turns []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			system = append(system, m.Content)
		case models.RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return strings.Join(system, "\n\n"), turns
}
