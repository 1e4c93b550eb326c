// Package providers adapts LLM SDKs to the single Call operation the agent
// runtime consumes. Responses are returned whole; streaming stays inside
// the transport.
package providers

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/aacode/pkg/models"
)

// OpenAICaller calls the OpenAI chat-completions API.
type OpenAICaller struct {
	client *openai.Client
	model  string
}

// NewOpenAICaller builds a caller for one model. An empty baseURL uses the
// public API; setting it targets any OpenAI-compatible endpoint.
func NewOpenAICaller(apiKey, model, baseURL string) (*OpenAICaller, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	if model == "" {
		model = openai.GPT4o
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAICaller{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Model returns the configured model identifier.
func (c *OpenAICaller) Model() string { return c.model }

// Call sends the conversation and returns the full completion text.
func (c *OpenAICaller) Call(ctx context.Context, messages []models.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toOpenAIMessages(messages),
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty choice list")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
