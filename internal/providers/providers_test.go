package providers

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/aacode/pkg/models"
)

func TestFromConfigUnknownProvider(t *testing.T) {
	if _, err := FromConfig("llamacpp", ""); err == nil {
		t.Fatal("unknown provider accepted")
	}
}

func TestCallersRequireAPIKey(t *testing.T) {
	if _, err := NewOpenAICaller("", "gpt-4o", ""); err == nil {
		t.Error("openai caller built without key")
	}
	if _, err := NewAnthropicCaller("", ""); err == nil {
		t.Error("anthropic caller built without key")
	}
}

func TestToOpenAIMessagesRoles(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "s"},
		{Role: models.RoleUser, Content: "u"},
		{Role: models.RoleAssistant, Content: "a"},
	}
	out := toOpenAIMessages(msgs)
	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	wantRoles := []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
	}
	for i, want := range wantRoles {
		if out[i].Role != want {
			t.Errorf("role %d = %s, want %s", i, out[i].Role, want)
		}
	}
}

func TestSplitSystemLiftsPreamble(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "preamble"},
		{Role: models.RoleUser, Content: "task"},
		{Role: models.RoleAssistant, Content: "thought"},
	}
	system, turns := splitSystem(msgs)
	if system != "preamble" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 2 {
		t.Errorf("turns = %d, want 2", len(turns))
	}
}
