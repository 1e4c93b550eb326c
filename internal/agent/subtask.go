package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/aacode/pkg/models"
)

// SubTaskStatus is a point-in-time view of one child run.
type SubTaskStatus struct {
	ID     string
	Task   string
	Done   bool
	Result *models.RunResult
	RunErr error
}

// DriverFactory builds a fresh child driver. The child must have its own
// session store but may share the parent's context store, so child
// discoveries surface in the parent's context window.
type DriverFactory func() (*Driver, error)

// SubTaskManager launches child drivers fire-and-forget and lets the parent
// poll their status.
type SubTaskManager struct {
	mu      sync.Mutex
	factory DriverFactory
	runs    map[string]*subTaskRun
}

type subTaskRun struct {
	task   string
	done   chan struct{}
	result *models.RunResult
	err    error
	cancel context.CancelFunc
}

// NewSubTaskManager builds a manager over the given child factory.
func NewSubTaskManager(factory DriverFactory) *SubTaskManager {
	return &SubTaskManager{
		factory: factory,
		runs:    make(map[string]*subTaskRun),
	}
}

// Spawn starts the task on a new child driver and returns its id
// immediately.
func (m *SubTaskManager) Spawn(ctx context.Context, task string) (string, error) {
	driver, err := m.factory()
	if err != nil {
		return "", fmt.Errorf("build child driver: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	run := &subTaskRun{task: task, done: make(chan struct{}), cancel: cancel}
	id := uuid.NewString()

	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()
		result, err := driver.Run(cctx, task)
		m.mu.Lock()
		run.result, run.err = result, err
		m.mu.Unlock()
	}()
	return id, nil
}

// Status returns the current state of a spawned run.
func (m *SubTaskManager) Status(id string) (SubTaskStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return SubTaskStatus{}, fmt.Errorf("unknown sub-task %q", id)
	}
	status := SubTaskStatus{ID: id, Task: run.task}
	select {
	case <-run.done:
		status.Done = true
		status.Result = run.result
		status.RunErr = run.err
	default:
	}
	return status, nil
}

// Cancel stops a running sub-task. Cancelling a finished run is a no-op.
func (m *SubTaskManager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("unknown sub-task %q", id)
	}
	run.cancel()
	return nil
}

// Wait blocks until the run finishes or ctx expires.
func (m *SubTaskManager) Wait(ctx context.Context, id string) (SubTaskStatus, error) {
	m.mu.Lock()
	run, ok := m.runs[id]
	m.mu.Unlock()
	if !ok {
		return SubTaskStatus{}, fmt.Errorf("unknown sub-task %q", id)
	}
	select {
	case <-run.done:
		return m.Status(id)
	case <-ctx.Done():
		return SubTaskStatus{}, ctx.Err()
	}
}
