package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/aacode/pkg/models"
)

// Caller is the model operation the runtime consumes.
type Caller interface {
	Call(ctx context.Context, messages []models.Message) (string, error)
}

// FromConfig builds the caller named by the provider string, reading API
// keys from the environment.
func FromConfig(provider, model string) (Caller, error) {
	switch provider {
	case "openai":
		return NewOpenAICaller(os.Getenv("OPENAI_API_KEY"), model, os.Getenv("OPENAI_BASE_URL"))
	case "anthropic":
		return NewAnthropicCaller(os.Getenv("ANTHROPIC_API_KEY"), model)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}
