// Package compact shrinks a conversation that outgrew its token trigger:
// large payloads are offloaded to the context archive, the middle of the
// conversation is summarized by one model call, and the message list is
// reassembled around a single synthetic summary message.
package compact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/tokens"
	"github.com/haasonsaas/aacode/pkg/models"
)

// ModelCaller is the single model operation the compactor needs.
type ModelCaller interface {
	Call(ctx context.Context, messages []models.Message) (string, error)
}

const (
	// systemMessages is the protected conversation head: system preamble
	// plus the initial user task.
	systemMessages = 2

	// minBlobLen is the fenced-block size worth offloading.
	minBlobLen = 500

	// minMessageOffloadLen is the whole-message size worth offloading when
	// the message looks like shell or search output.
	minMessageOffloadLen = 1500

	// summaryFallbackLen truncates the raw model output when its JSON form
	// cannot be parsed.
	summaryFallbackLen = 1000
)

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\n.*?```")

// successTokens flag a blob as a succeeded operation in its citation.
var successTokens = []string{"passed", "ok", "success", "成功", "完成", "已写入"}

// errorTokens flag a blob as a failure in its citation.
var errorTokens = []string{"error", "failed", "traceback", "exception", "错误", "失败"}

// summarizePrompt asks for the three tagged summaries as JSON.
const summarizePrompt = `请将以下对话片段压缩为 JSON，仅输出 JSON 对象，包含三个字段：
"file_activity"（文件读写活动摘要）、
"tool_activity"（工具执行活动摘要）、
"must_preserve"（必须保留的信息：未解决的错误、关键决定）。

对话片段：
`

// Compactor rewrites an over-budget message list.
type Compactor struct {
	store   *contextstore.Store
	counter *tokens.Counter
	caller  ModelCaller
	logger  *slog.Logger

	// TriggerTokens is the strict threshold above which Compact should run.
	TriggerTokens int

	// KeepRounds is the number of trailing rounds kept verbatim.
	KeepRounds int

	// SummarySteps caps how many middle rounds feed the summarization
	// prompt; older rounds are represented only by the archived step
	// history.
	SummarySteps int

	// ProtectFirstRounds is the number of leading rounds kept verbatim
	// after the system head.
	ProtectFirstRounds int

	// SummaryTimeout bounds the summarization model call.
	SummaryTimeout time.Duration
}

// New creates a compactor with the default thresholds.
func New(store *contextstore.Store, counter *tokens.Counter, caller ModelCaller, logger *slog.Logger) *Compactor {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{
		store:              store,
		counter:            counter,
		caller:             caller,
		logger:             logger,
		TriggerTokens:      8000,
		KeepRounds:         8,
		SummarySteps:       10,
		ProtectFirstRounds: 3,
		SummaryTimeout:     30 * time.Second,
	}
}

// ShouldCompact reports whether a token count crosses the trigger. The
// comparison is strict: a count equal to the trigger does not compact.
func (c *Compactor) ShouldCompact(totalTokens int) bool {
	return totalTokens > c.TriggerTokens
}

// Compact rewrites msgs around a synthetic summary of its middle. The step
// history is archived first so nothing is lost. Compact never fails the
// caller: on a summarization error the synthetic message degrades to a
// plain notice carrying the archive path.
func (c *Compactor) Compact(ctx context.Context, msgs []models.Message, steps []models.Step) []models.Message {
	before := totalTokens(msgs)

	protect := c.ProtectFirstRounds * 2
	keep := c.KeepRounds * 2
	if len(msgs) <= systemMessages+protect+keep {
		return msgs
	}

	historyPath := c.archiveSteps(steps)

	system := msgs[:systemMessages]
	first := msgs[systemMessages : systemMessages+protect]
	middle := msgs[systemMessages+protect : len(msgs)-keep]
	recent := msgs[len(msgs)-keep:]

	shrunk := c.offloadBlobs(middle)
	summary := c.summarize(ctx, shrunk, historyPath)

	out := make([]models.Message, 0, len(system)+len(first)+1+len(recent))
	out = append(out, system...)
	out = append(out, first...)
	out = append(out, summary)
	out = append(out, recent...)

	c.logger.Info("conversation compacted",
		"messages_before", len(msgs), "messages_after", len(out),
		"tokens_before", before, "tokens_after", totalTokens(out))
	return out
}

// archiveSteps persists the full step history and returns its archive path.
func (c *Compactor) archiveSteps(steps []models.Step) string {
	if len(steps) == 0 {
		return ""
	}
	data, err := json.MarshalIndent(steps, "", "  ")
	if err != nil {
		c.logger.Warn("step history encode failed", "error", err)
		return ""
	}
	path, err := c.store.SaveLargeOutput(data, "step_history.json")
	if err != nil {
		c.logger.Warn("step history archive failed", "error", err)
		return ""
	}
	return path
}

// offloadBlobs replaces large payloads inside the middle messages with
// archive citations.
func (c *Compactor) offloadBlobs(middle []models.Message) []models.Message {
	out := make([]models.Message, len(middle))
	copy(out, middle)
	for i := range out {
		content := out[i].Content

		if len(content) > minMessageOffloadLen {
			if kind, id, ok := classifyOutput(content); ok {
				out[i].Content = c.offload(content, kind, id)
				out[i].Tokens = c.counter.Count(out[i].Content)
				continue
			}
		}

		replaced := fencedBlockRe.ReplaceAllStringFunc(content, func(block string) string {
			if len(block) < minBlobLen {
				return block
			}
			return c.offload(block, contextstore.KindFileContent, "code_block")
		})
		if replaced != content {
			out[i].Content = replaced
			out[i].Tokens = c.counter.Count(replaced)
		}
	}
	return out
}

// offload archives one blob and returns its citation line.
func (c *Compactor) offload(blob string, kind contextstore.Kind, identifier string) string {
	path, err := c.store.SaveLargeOutput([]byte(blob), contextstore.ArchiveName(kind, identifier))
	if err != nil {
		c.logger.Warn("blob archive failed", "error", err)
		return blob
	}
	return fmt.Sprintf("[%s %s 已归档: %s（%d 字节，hash %s）%s]",
		kind, identifier, path, len(blob), contextstore.ContentHash([]byte(blob)),
		blobSummary(blob))
}

// blobSummary is the one-line description attached to a citation, with an
// outcome marker when the blob reads as an error or a success.
func blobSummary(blob string) string {
	line := firstLine(blob)
	lower := strings.ToLower(blob)
	for _, tok := range errorTokens {
		if strings.Contains(lower, tok) {
			return " ⚠️ " + line
		}
	}
	for _, tok := range successTokens {
		if strings.Contains(lower, tok) {
			return " ✅ " + line
		}
	}
	if line == "" {
		return ""
	}
	return " " + line
}

// classifyOutput recognizes whole messages that are shell or search output.
func classifyOutput(content string) (contextstore.Kind, string, bool) {
	switch {
	case strings.Contains(content, "returncode:") || strings.Contains(content, "stdout:"):
		return contextstore.KindShellOutput, "shell", true
	case strings.Contains(content, "条匹配") || strings.Contains(content, "search_results"):
		return contextstore.KindSearchResults, "search", true
	}
	return "", "", false
}

// summarize makes the single summarization call and builds the synthetic
// system message.
func (c *Compactor) summarize(ctx context.Context, middle []models.Message, historyPath string) models.Message {
	omitted := 0
	if limit := c.SummarySteps * 2; limit > 0 && len(middle) > limit {
		omitted = len(middle) - limit
		middle = middle[omitted:]
	}

	var transcript strings.Builder
	if omitted > 0 {
		fmt.Fprintf(&transcript, "（更早的 %d 条消息未纳入摘要，见步骤历史归档）\n", omitted)
	}
	for _, m := range middle {
		fmt.Fprintf(&transcript, "[%s] %s\n", m.Role, m.Content)
	}

	body := c.callSummarizer(ctx, transcript.String())

	var b strings.Builder
	b.WriteString("（历史对话已压缩）\n")
	b.WriteString(body)
	if historyPath != "" {
		fmt.Fprintf(&b, "\n完整步骤历史: %s", historyPath)
	}
	b.WriteString("\n归档内容见 .aacode/context/ 目录。")

	content := b.String()
	return models.Message{
		Role:      models.RoleSystem,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    c.counter.Count(content),
		Metadata:  map[string]any{"compacted": true},
	}
}

// callSummarizer returns the three tagged summaries, degrading to a raw
// truncation and then to a static notice as failures accumulate.
func (c *Compactor) callSummarizer(ctx context.Context, transcript string) string {
	if c.caller == nil {
		return "（摘要不可用）"
	}
	cctx, cancel := context.WithTimeout(ctx, c.SummaryTimeout)
	defer cancel()

	response, err := c.caller.Call(cctx, []models.Message{
		{Role: models.RoleUser, Content: summarizePrompt + transcript},
	})
	if err != nil {
		c.logger.Warn("summarization call failed", "error", err)
		return "（摘要不可用）"
	}

	if parsed, ok := parseSummaries(response); ok {
		return parsed
	}
	// Truncation fallback keeps whatever the model said.
	if len(response) > summaryFallbackLen {
		response = response[:summaryFallbackLen]
	}
	return strings.TrimSpace(response)
}

// summaryFields is the expected shape of the summarization response.
type summaryFields struct {
	FileActivity string `json:"file_activity"`
	ToolActivity string `json:"tool_activity"`
	MustPreserve string `json:"must_preserve"`
}

func parseSummaries(response string) (string, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return "", false
	}
	var fields summaryFields
	if err := json.Unmarshal([]byte(response[start:end+1]), &fields); err != nil {
		return "", false
	}
	if fields.FileActivity == "" && fields.ToolActivity == "" && fields.MustPreserve == "" {
		return "", false
	}
	return fmt.Sprintf("文件活动: %s\n工具活动: %s\n必须保留: %s",
		fields.FileActivity, fields.ToolActivity, fields.MustPreserve), true
}

func totalTokens(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens
	}
	return total
}

func firstLine(text string) string {
	line := text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(strings.TrimLeft(line, "`"))
	if len(line) > 80 {
		cut := 80
		for cut > 0 && line[cut]&0xC0 == 0x80 {
			cut--
		}
		line = line[:cut]
	}
	return line
}
