package compact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/tokens"
	"github.com/haasonsaas/aacode/internal/workspace"
	"github.com/haasonsaas/aacode/pkg/models"
)

type fakeCaller struct {
	response   string
	err        error
	calls      int
	lastPrompt string
}

func (f *fakeCaller) Call(_ context.Context, msgs []models.Message) (string, error) {
	f.calls++
	if len(msgs) > 0 {
		f.lastPrompt = msgs[len(msgs)-1].Content
	}
	return f.response, f.err
}

func newCompactor(t *testing.T, caller ModelCaller) (*Compactor, *contextstore.Store) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	store, err := contextstore.New(ws, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := New(store, tokens.NewCounter(), caller, nil)
	c.KeepRounds = 2
	c.ProtectFirstRounds = 1
	c.SummaryTimeout = time.Second
	return c, store
}

func conversation(n int) []models.Message {
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "preamble", Tokens: 2},
		{Role: models.RoleUser, Content: "the task", Tokens: 2},
	}
	for i := 0; i < n; i++ {
		msgs = append(msgs,
			models.Message{Role: models.RoleAssistant, Content: "thought", Tokens: 2},
			models.Message{Role: models.RoleUser, Content: "observation", Tokens: 2},
		)
	}
	return msgs
}

func TestSummaryStepsCapTranscript(t *testing.T) {
	caller := &fakeCaller{response: "概要"}
	c, _ := newCompactor(t, caller)
	c.SummarySteps = 1

	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "preamble", Tokens: 2},
		{Role: models.RoleUser, Content: "the task", Tokens: 2},
	}
	for i := 0; i < 10; i++ {
		msgs = append(msgs,
			models.Message{Role: models.RoleAssistant, Content: fmt.Sprintf("thought %d", i), Tokens: 2},
			models.Message{Role: models.RoleUser, Content: fmt.Sprintf("obs %d", i), Tokens: 2},
		)
	}

	c.Compact(context.Background(), msgs, nil)

	if caller.calls != 1 {
		t.Fatalf("summarizer calls = %d", caller.calls)
	}
	if !strings.Contains(caller.lastPrompt, "未纳入摘要") {
		t.Errorf("omission notice missing:\n%s", caller.lastPrompt)
	}
	if !strings.Contains(caller.lastPrompt, "obs 7") {
		t.Errorf("latest middle round missing:\n%s", caller.lastPrompt)
	}
	if strings.Contains(caller.lastPrompt, "obs 1\n") {
		t.Errorf("older rounds should be omitted:\n%s", caller.lastPrompt)
	}
}

func TestShouldCompactStrict(t *testing.T) {
	c, _ := newCompactor(t, nil)
	c.TriggerTokens = 8000
	if c.ShouldCompact(8000) {
		t.Error("compacted at exactly the trigger")
	}
	if !c.ShouldCompact(8001) {
		t.Error("did not compact one above the trigger")
	}
}

func TestCompactReassembly(t *testing.T) {
	caller := &fakeCaller{response: `{"file_activity": "read a.go", "tool_activity": "ran tests", "must_preserve": "test X still failing"}`}
	c, _ := newCompactor(t, caller)

	msgs := conversation(10) // 22 messages
	out := c.Compact(context.Background(), msgs, []models.Step{{Thought: "t"}})

	// system(2) + protect(1*2) + synthetic(1) + keep(2*2).
	want := 2 + 2*c.ProtectFirstRounds + 1 + 2*c.KeepRounds
	if len(out) != want {
		t.Fatalf("messages = %d, want %d", len(out), want)
	}
	if out[0].Content != "preamble" || out[1].Content != "the task" {
		t.Error("system head not preserved")
	}
	synthetic := out[2+2*c.ProtectFirstRounds]
	if synthetic.Role != models.RoleSystem {
		t.Errorf("synthetic role = %s", synthetic.Role)
	}
	for _, wantSub := range []string{"文件活动: read a.go", "工具活动: ran tests", "必须保留: test X still failing", ".aacode/context/"} {
		if !strings.Contains(synthetic.Content, wantSub) {
			t.Errorf("synthetic missing %q:\n%s", wantSub, synthetic.Content)
		}
	}
	if !strings.Contains(synthetic.Content, "完整步骤历史: ") {
		t.Errorf("synthetic missing step history path:\n%s", synthetic.Content)
	}
	if caller.calls != 1 {
		t.Errorf("summarizer calls = %d, want 1", caller.calls)
	}
	last := out[len(out)-1]
	if last.Content != "observation" {
		t.Errorf("recent tail not preserved: %q", last.Content)
	}
}

func TestCompactTooShortIsNoop(t *testing.T) {
	caller := &fakeCaller{response: "{}"}
	c, _ := newCompactor(t, caller)
	msgs := conversation(3) // 8 messages, within 2 + 2 + 4
	out := c.Compact(context.Background(), msgs, nil)
	if len(out) != len(msgs) {
		t.Errorf("short conversation rewritten: %d -> %d", len(msgs), len(out))
	}
	if caller.calls != 0 {
		t.Error("summarizer called for a no-op compaction")
	}
}

func TestCompactSummarizerFailureFallsBack(t *testing.T) {
	caller := &fakeCaller{err: errors.New("model down")}
	c, _ := newCompactor(t, caller)
	out := c.Compact(context.Background(), conversation(10), nil)
	synthetic := out[2+2*c.ProtectFirstRounds]
	if !strings.Contains(synthetic.Content, "摘要不可用") {
		t.Errorf("no degraded summary:\n%s", synthetic.Content)
	}
}

func TestCompactNonJSONSummaryTruncated(t *testing.T) {
	caller := &fakeCaller{response: strings.Repeat("prose summary without json ", 100)}
	c, _ := newCompactor(t, caller)
	out := c.Compact(context.Background(), conversation(10), nil)
	synthetic := out[2+2*c.ProtectFirstRounds]
	if len(synthetic.Content) > summaryFallbackLen+300 {
		t.Errorf("fallback summary not truncated: %d chars", len(synthetic.Content))
	}
	if !strings.Contains(synthetic.Content, "prose summary") {
		t.Error("model output dropped entirely")
	}
}

func TestOffloadFencedBlock(t *testing.T) {
	c, store := newCompactor(t, nil)
	code := "```go\n" + strings.Repeat("func f() {}\n", 60) + "```"
	middle := []models.Message{{Role: models.RoleUser, Content: "看这个文件:\n" + code, Tokens: 100}}

	out := c.offloadBlobs(middle)
	if strings.Contains(out[0].Content, "func f() {}") {
		t.Error("blob not offloaded")
	}
	if !strings.Contains(out[0].Content, "已归档") {
		t.Errorf("no citation: %s", out[0].Content)
	}
	if !strings.Contains(out[0].Content, "看这个文件:") {
		t.Error("surrounding text lost")
	}
	if store.Dir() == "" {
		t.Fatal("store dir missing")
	}
}

func TestOffloadShellMessageWithErrorMarker(t *testing.T) {
	c, _ := newCompactor(t, nil)
	content := "returncode: 1\nstdout:\nFAILED TestX\n" + strings.Repeat("assertion detail\n", 120)
	middle := []models.Message{{Role: models.RoleUser, Content: content, Tokens: 500}}

	out := c.offloadBlobs(middle)
	if !strings.Contains(out[0].Content, "已归档") {
		t.Fatalf("shell message not offloaded: %s", out[0].Content)
	}
	if !strings.Contains(out[0].Content, "⚠️") {
		t.Errorf("error marker missing: %s", out[0].Content)
	}
	if !strings.Contains(out[0].Content, string(contextstore.KindShellOutput)) {
		t.Errorf("kind missing from citation: %s", out[0].Content)
	}
}

func TestOffloadDedupAcrossMessages(t *testing.T) {
	c, _ := newCompactor(t, nil)
	blob := "```\n" + strings.Repeat("same payload\n", 60) + "```"
	middle := []models.Message{
		{Content: blob, Tokens: 100},
		{Content: blob, Tokens: 100},
	}
	out := c.offloadBlobs(middle)
	if out[0].Content != out[1].Content {
		t.Errorf("identical blobs cited differently:\n%s\n%s", out[0].Content, out[1].Content)
	}
}
