// Package eventlog writes one JSON-Lines file per task under
// <workdir>/.aacode/logs/. Logging never fails the caller: a write error is
// reported to stderr once and subsequent errors are swallowed.
package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTaskStart     = "task_start"
	EventIteration     = "iteration"
	EventModelCall     = "model_call"
	EventToolCall      = "tool_call"
	EventContextUpdate = "context_update"
	EventError         = "error"
	EventTaskComplete  = "task_complete"
)

// Logger records the events of one task run.
type Logger struct {
	mu   sync.Mutex
	file *os.File
	path string

	taskID   string
	task     string
	started  time.Time
	reported bool

	iterations int
	modelCalls int
	toolCalls  int
	toolErrors int
	errors     int
}

// New opens agent_thought_and_action_<timestamp>.log in dir and records the
// task_start event.
func New(dir, task string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("agent_thought_and_action_%s.log", now.Format("20060102_150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	l := &Logger{
		file:    file,
		path:    path,
		taskID:  uuid.NewString(),
		task:    task,
		started: now,
	}
	l.write(EventTaskStart, map[string]any{"task": task, "task_id": l.taskID})
	return l, nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// TaskID returns the run identifier attached to every event.
func (l *Logger) TaskID() string { return l.taskID }

// Iteration records the start of one ReAct iteration.
func (l *Logger) Iteration(n int, thought string, actionCount int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.iterations = n
	l.write(EventIteration, map[string]any{
		"iteration": n,
		"thought":   thought,
		"actions":   actionCount,
	})
}

// ModelCall records one model invocation with its response time.
func (l *Logger) ModelCall(model string, promptTokens int, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modelCalls++
	l.write(EventModelCall, map[string]any{
		"model":            model,
		"prompt_tokens":    promptTokens,
		"response_time_ms": elapsed.Milliseconds(),
	})
}

// ToolCall records one tool execution.
func (l *Logger) ToolCall(name string, params map[string]any, isError bool, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toolCalls++
	if isError {
		l.toolErrors++
	}
	l.write(EventToolCall, map[string]any{
		"tool":             name,
		"params":           params,
		"is_error":         isError,
		"response_time_ms": elapsed.Milliseconds(),
	})
}

// ContextUpdate records a context-store write or compaction.
func (l *Logger) ContextUpdate(detail map[string]any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(EventContextUpdate, detail)
}

// Error records a non-fatal runtime error.
func (l *Logger) Error(where string, err error) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors++
	l.write(EventError, map[string]any{"where": where, "error": fmt.Sprint(err)})
}

// FinishTask records task_complete, closes the log, and writes the sibling
// .summary.json.
func (l *Logger) FinishTask(status string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	duration := time.Since(l.started)
	l.write(EventTaskComplete, map[string]any{
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			l.report(err)
		}
		l.file = nil
	}

	summary := map[string]any{
		"task_id":     l.taskID,
		"task":        l.task,
		"status":      status,
		"started_at":  l.started.Format(time.RFC3339),
		"duration_ms": duration.Milliseconds(),
		"iterations":  l.iterations,
		"model_calls": l.modelCalls,
		"tool_calls":  l.toolCalls,
		"tool_errors": l.toolErrors,
		"errors":      l.errors,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		l.report(err)
		return
	}
	if err := os.WriteFile(l.path+".summary.json", data, 0o644); err != nil {
		l.report(err)
	}
}

// write appends one event line. Callers hold the mutex.
func (l *Logger) write(eventType string, fields map[string]any) {
	if l.file == nil {
		return
	}
	event := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		event[k] = v
	}
	event["type"] = eventType
	event["timestamp"] = time.Now().Format(time.RFC3339Nano)

	data, err := json.Marshal(event)
	if err != nil {
		l.report(err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.report(err)
	}
}

// report surfaces the first logging failure on stderr; later ones are
// swallowed so a full disk cannot spam the terminal.
func (l *Logger) report(err error) {
	if l.reported {
		return
	}
	l.reported = true
	fmt.Fprintf(os.Stderr, "事件日志写入失败（后续错误将被忽略）: %v\n", err)
}
