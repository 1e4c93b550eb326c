// Package agent runs the ReAct loop: call the model, parse the response,
// execute the requested tools, feed the observations back, and compact the
// conversation when it outgrows its token budget.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/aacode/internal/compact"
	"github.com/haasonsaas/aacode/internal/config"
	"github.com/haasonsaas/aacode/internal/contextstore"
	"github.com/haasonsaas/aacode/internal/eventlog"
	"github.com/haasonsaas/aacode/internal/observability"
	"github.com/haasonsaas/aacode/internal/parser"
	"github.com/haasonsaas/aacode/internal/sessions"
	"github.com/haasonsaas/aacode/internal/todo"
	"github.com/haasonsaas/aacode/internal/tools"
	"github.com/haasonsaas/aacode/pkg/models"
)

// ModelCaller is the injected model transport.
type ModelCaller interface {
	Call(ctx context.Context, messages []models.Message) (string, error)
}

// retryableMarkers make a failed tool call worth retrying.
var retryableMarkers = []string{"timeout", "connection", "temporary", "暂时"}

// retryDelay spaces retry attempts.
const retryDelay = time.Second

// continueNudge is appended when the model declared no action but the task
// is not complete.
const continueNudge = "任务尚未完成，请继续。"

// Driver owns one task run.
type Driver struct {
	cfg      *config.Config
	caller   ModelCaller
	registry *tools.Registry
	store    *contextstore.Store
	sessions *sessions.Store
	logger   *slog.Logger

	// Compactor, when set, runs after iterations that cross the trigger.
	Compactor *compact.Compactor

	// Todos, when set, receives iteration records and error-driven items.
	Todos *todo.Manager

	// Metrics, when set, receives runtime counters. Nil is safe.
	Metrics *observability.Metrics

	// EventLog, when set, receives the per-task JSONL events. Nil is safe.
	EventLog *eventlog.Logger

	// Display, when set, receives the truncated display form of each merged
	// observation.
	Display func(string)

	// ModelName labels model_call events.
	ModelName string

	steps []models.Step
}

// New wires a driver from its required collaborators.
func New(cfg *config.Config, caller ModelCaller, registry *tools.Registry,
	store *contextstore.Store, sess *sessions.Store, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		cfg:      cfg,
		caller:   caller,
		registry: registry,
		store:    store,
		sessions: sess,
		logger:   logger,
	}
}

// Steps returns the step history of the current run.
func (d *Driver) Steps() []models.Step { return d.steps }

// Run executes the task to termination and returns the result. The loop is
// cooperatively cancellable through ctx.
func (d *Driver) Run(ctx context.Context, task string) (*models.RunResult, error) {
	start := time.Now()
	d.steps = nil

	if _, err := d.sessions.Create(task, ""); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	result := &models.RunResult{Status: models.RunMaxIterations}
	var runErr error

	for i := 1; i <= d.cfg.MaxReactIterations; i++ {
		if ctx.Err() != nil {
			result.Status = models.RunCancelled
			break
		}
		result.Iterations = i

		response, err := d.callModel(ctx)
		if err != nil {
			if ctx.Err() != nil {
				result.Status = models.RunCancelled
				break
			}
			d.EventLog.Error("model_call", err)
			d.logger.Error("model call failed", "iteration", i, "error", err)
			result.Status = models.RunError
			runErr = fmt.Errorf("model call (iteration %d): %w", i, err)
			break
		}

		thought, actions := parser.Parse(response)
		d.recordIteration(i, thought)

		step := models.Step{Thought: thought, Actions: actions, Timestamp: time.Now()}

		if len(actions) == 0 {
			d.steps = append(d.steps, step)
			if d.checkCompletion(ctx, task, thought) {
				result.Status = models.RunCompleted
				result.FinalThought = thought
				d.EventLog.Iteration(i, thought, 0)
				break
			}
			d.appendExchange(response, continueNudge)
			d.EventLog.Iteration(i, thought, 0)
			d.Metrics.IncIteration()
			continue
		}

		merged, displayMerged := d.executeActions(ctx, step.Actions)
		d.steps = append(d.steps, step)

		d.appendExchange(response, merged)
		if d.Display != nil {
			d.Display(displayMerged)
		}

		if err := d.store.Update(merged); err != nil {
			d.logger.Warn("context update failed", "error", err)
		}
		d.EventLog.ContextUpdate(map[string]any{"observation_len": len(merged)})

		d.maybeCompact(ctx)

		d.EventLog.Iteration(i, thought, len(actions))
		d.Metrics.IncIteration()
	}

	if ctx.Err() != nil && result.Status != models.RunCompleted {
		result.Status = models.RunCancelled
	}
	result.Duration = time.Since(start)
	result.Steps = d.steps
	d.EventLog.FinishTask(string(result.Status))
	return result, runErr
}

// callModel performs one timed, logged model call over the session history
// plus a transient context-store preamble. The preamble is rebuilt every
// call and never persisted, so stale listings cannot accumulate.
func (d *Driver) callModel(ctx context.Context) (string, error) {
	history, err := d.sessions.Messages("")
	if err != nil {
		return "", err
	}
	msgs := make([]models.Message, len(history), len(history)+1)
	copy(msgs, history)
	if preamble := d.store.BuildContext(); preamble != "" {
		msgs = append(msgs, models.Message{
			Role:      models.RoleSystem,
			Content:   "当前工作区上下文:\n" + preamble,
			Timestamp: time.Now(),
		})
	}
	start := time.Now()
	response, err := d.caller.Call(ctx, msgs)
	d.EventLog.ModelCall(d.ModelName, d.sessions.TotalTokens(), time.Since(start))
	d.Metrics.IncModelCall()
	if err != nil {
		return "", err
	}
	return response, nil
}

// executeActions runs the actions sequentially in declaration order and
// returns the merged observation in full and display forms.
func (d *Driver) executeActions(ctx context.Context, actions []models.ActionItem) (string, string) {
	var full, display strings.Builder
	for k := range actions {
		observation, displayObs := d.executeAction(ctx, &actions[k])
		actions[k].Observation = observation

		fmt.Fprintf(&full, "动作 %d 结果: %s\n\n", k+1, observation)
		fmt.Fprintf(&display, "动作 %d 结果: %s\n\n", k+1, displayObs)
	}
	return strings.TrimRight(full.String(), "\n"), strings.TrimRight(display.String(), "\n")
}

// executeAction validates, runs, and observes one action.
func (d *Driver) executeAction(ctx context.Context, action *models.ActionItem) (string, string) {
	if msg, bad := action.InputError(); bad {
		obs := fmt.Sprintf("错误：动作参数解析失败: %s", msg)
		d.noteError(action.Action, obs)
		return obs, obs
	}

	validation := d.registry.ValidateCall(action.Action, action.Input)
	if !validation.Valid {
		d.noteError(action.Action, validation.Message)
		d.EventLog.ToolCall(action.Action, action.Input, true, 0)
		d.Metrics.IncToolCall(action.Action, true)
		return validation.Message, validation.Message
	}
	for _, warning := range validation.Warnings {
		d.logger.Warn("tool call normalized", "tool", action.Action, "warning", warning)
	}
	action.Input = validation.Params

	result := d.executeWithRetry(ctx, action.Action, validation.Params)

	display := d.displayForm(result)
	if result.ArchivePath != "" {
		if !strings.Contains(result.Content, result.ArchivePath) ||
			!strings.Contains(display, result.ArchivePath) {
			d.logger.Warn("archive path lost in observation",
				"tool", action.Action, "path", result.ArchivePath)
		}
		d.Metrics.IncArchived()
	}
	if result.IsError {
		d.noteError(action.Action, result.Content)
		if strings.HasPrefix(result.Content, "命令被安全护栏拒绝") {
			d.Metrics.IncSafetyRejection()
		}
	}
	return result.Content, display
}

// executeWithRetry applies the per-call deadline and the retry policy.
// Deadline expiries consume retry budget like any transient failure.
func (d *Driver) executeWithRetry(ctx context.Context, name string, params map[string]any) *tools.Result {
	var result *tools.Result
	attempts := d.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		var timedOut bool
		result, timedOut = d.invoke(ctx, name, params)
		d.EventLog.ToolCall(name, params, result.IsError, time.Since(start))
		d.Metrics.IncToolCall(name, result.IsError)

		retryable := timedOut || isRetryable(result.Content)
		if !result.IsError || !retryable || attempt == attempts {
			return result
		}
		d.logger.Warn("retrying tool call", "tool", name, "attempt", attempt,
			"reason", firstLine(result.Content))
		select {
		case <-ctx.Done():
			return result
		case <-time.After(retryDelay):
		}
	}
	return result
}

// invoke runs one tool call under the hard wall-clock deadline. The second
// return reports a deadline expiry, which is retryable regardless of the
// observation text.
func (d *Driver) invoke(ctx context.Context, name string, params map[string]any) (*tools.Result, bool) {
	cctx, cancel := context.WithTimeout(ctx, d.cfg.ToolExecutionTimeout.Std())
	defer cancel()

	result, err := d.registry.Execute(cctx, name, params)
	if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return &tools.Result{
			Content: fmt.Sprintf("执行超时：工具 %s 超过 %s 未返回", name, d.cfg.ToolExecutionTimeout),
			IsError: true,
		}, true
	}
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("错误：工具执行失败: %v", err), IsError: true}, false
	}
	return result, false
}

// displayForm truncates an observation for terminal display using the
// threshold matching its content kind.
func (d *Driver) displayForm(result *tools.Result) string {
	threshold, preview := d.cfg.NormalOutputThreshold, d.cfg.NormalOutputPreview
	switch result.Kind {
	case contextstore.KindCodeOutput:
		threshold, preview = d.cfg.TestOutputThreshold, d.cfg.TestOutputPreview
	case contextstore.KindFileContent:
		threshold, preview = d.cfg.CodeContentThreshold, d.cfg.CodeContentPreview
	}
	content := result.Content
	if len(content) <= threshold || preview >= len(content) {
		return content
	}
	cut := preview
	for cut > 0 && content[cut]&0xC0 == 0x80 {
		cut--
	}
	return fmt.Sprintf("%s\n…（共 %d 字符，已截断显示）", content[:cut], len(content))
}

// appendExchange adds the assistant response and the observation turn to
// the session. A budget rejection is logged, not fatal: compaction will
// recover space on the next round.
func (d *Driver) appendExchange(response, observation string) {
	if ok, err := d.sessions.AddMessage(models.RoleAssistant, response, nil); err != nil || !ok {
		d.logger.Warn("assistant message not stored", "ok", ok, "error", err)
	}
	if ok, err := d.sessions.AddMessage(models.RoleUser, observation, nil); err != nil || !ok {
		d.logger.Warn("observation message not stored", "ok", ok, "error", err)
	}
}

// maybeCompact runs the compactor when the session crossed the trigger.
func (d *Driver) maybeCompact(ctx context.Context) {
	if d.Compactor == nil || !d.Compactor.ShouldCompact(d.sessions.TotalTokens()) {
		return
	}
	msgs, err := d.sessions.Messages("")
	if err != nil {
		d.logger.Warn("compaction skipped", "error", err)
		return
	}
	compacted := d.Compactor.Compact(ctx, msgs, d.steps)
	if err := d.sessions.ReplaceMessages(compacted); err != nil {
		d.logger.Warn("compacted messages not stored", "error", err)
		return
	}
	d.Metrics.IncCompaction()
	d.EventLog.ContextUpdate(map[string]any{
		"compacted": true, "tokens": d.sessions.TotalTokens(),
	})
}

// recordIteration journals the iteration in the todo file without guessing
// task semantics from the thought.
func (d *Driver) recordIteration(n int, thought string) {
	if d.Todos == nil {
		return
	}
	entry := fmt.Sprintf("迭代 %d: %s", n, excerpt(thought, 120))
	if err := d.Todos.AddRecord(entry); err != nil {
		d.logger.Warn("todo record failed", "error", err)
	}
}

// noteError turns a clear error observation into a high-priority fix item.
// Ambiguous error text is journaled only.
func (d *Driver) noteError(tool, observation string) {
	if d.Todos == nil {
		return
	}
	line := errorLine(observation)
	if line == "" {
		return
	}
	item := fmt.Sprintf("fix %s: %s", tool, line)
	if err := d.Todos.AddItem(item, "high", "fix"); err != nil {
		d.logger.Warn("todo item failed", "error", err)
	}
}

// errorLine extracts the first line carrying an error keyword. Lines too
// short to describe anything are treated as ambiguous.
func errorLine(observation string) string {
	markers := []string{"error", "failed", "traceback", "exception", "错误", "失败"}
	for _, line := range strings.Split(observation, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		for _, marker := range markers {
			if strings.Contains(lower, marker) && len(line) >= 10 {
				return excerpt(line, 120)
			}
		}
	}
	return ""
}

func isRetryable(observation string) bool {
	lower := strings.ToLower(observation)
	for _, marker := range retryableMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

func excerpt(text string, limit int) string {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && text[cut]&0xC0 == 0x80 {
		cut--
	}
	return text[:cut] + "…"
}
