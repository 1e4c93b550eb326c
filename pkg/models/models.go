// Package models provides the domain types shared across the aacode runtime:
// conversation messages, reasoning steps, tool actions, and run results.
package models

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's ordered conversation.
//
// The token count is computed once at insertion time and cached so that
// budget checks never re-tokenize history.
type Message struct {
	// Role is the message author (system, user, or assistant).
	Role Role `json:"role"`

	// Content is the UTF-8 text of the message.
	Content string `json:"content"`

	// Timestamp is when the message was inserted.
	Timestamp time.Time `json:"timestamp"`

	// Tokens is the cached token count of Content.
	Tokens int `json:"tokens"`

	// Metadata holds optional message annotations.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionItem is one tool invocation requested by the model: a tool name,
// a parameter map, and (after execution) the observation text.
type ActionItem struct {
	// Action is the tool name as emitted by the model.
	Action string `json:"action"`

	// Input is the parameter map. Keys may be aliases; the registry
	// normalizes them to canonical names before execution.
	Input map[string]any `json:"action_input"`

	// Observation is the textual result, filled in after execution.
	Observation string `json:"observation,omitempty"`
}

// InputError returns the parse error attached to the action input, if any.
// The parser records failed Action Input JSON under the "_error" key so the
// driver can surface a structured parse-error observation at execution time.
func (a *ActionItem) InputError() (string, bool) {
	if a.Input == nil {
		return "", false
	}
	v, ok := a.Input["_error"]
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// Step records one ReAct iteration: the model's thought and the actions it
// requested. Steps form an append-only sequence per task.
type Step struct {
	// Thought is the reasoning text extracted from the model response.
	Thought string `json:"thought"`

	// Actions are the tool invocations requested in this step.
	Actions []ActionItem `json:"actions,omitempty"`

	// Timestamp is when the step was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// RunStatus is the terminal state of a driver run.
type RunStatus string

const (
	// RunCompleted means the completion predicate fired.
	RunCompleted RunStatus = "completed"

	// RunMaxIterations means the step budget was exhausted.
	RunMaxIterations RunStatus = "max_iterations_reached"

	// RunCancelled means the run was cancelled cooperatively.
	RunCancelled RunStatus = "cancelled"

	// RunError means the model caller failed irrecoverably.
	RunError RunStatus = "error"
)

// RunResult is what the driver returns when the loop terminates.
type RunResult struct {
	// Status is the terminal state of the run.
	Status RunStatus `json:"status"`

	// Iterations is the number of loop iterations executed.
	Iterations int `json:"iterations"`

	// Duration is the total wall-clock time of the run.
	Duration time.Duration `json:"duration"`

	// Steps is the full step history of the run.
	Steps []Step `json:"steps"`

	// FinalThought is the thought from the terminating iteration.
	FinalThought string `json:"final_thought,omitempty"`
}

// HasErrors reports whether any of the last n steps carries an observation
// containing one of the given markers.
func HasErrors(steps []Step, n int, markers []string) bool {
	start := len(steps) - n
	if start < 0 {
		start = 0
	}
	for _, step := range steps[start:] {
		for _, action := range step.Actions {
			obs := strings.ToLower(action.Observation)
			for _, marker := range markers {
				if marker != "" && strings.Contains(obs, strings.ToLower(marker)) {
					return true
				}
			}
		}
	}
	return false
}
