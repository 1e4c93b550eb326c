// Package workspace defines the on-disk layout of the .aacode state
// directory and the path-safety rule shared by the safety guard, the
// context store, and the file tools.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirName is the per-project state directory.
const StateDirName = ".aacode"

// Layout describes where runtime state lives for one project workspace.
type Layout struct {
	// Root is the absolute project root.
	Root string
}

// New resolves root to an absolute path and returns the layout.
func New(root string) (*Layout, error) {
	clean := strings.TrimSpace(root)
	if clean == "" {
		clean = "."
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Layout{Root: abs}, nil
}

// StateDir returns <root>/.aacode.
func (l *Layout) StateDir() string { return filepath.Join(l.Root, StateDirName) }

// ContextDir returns the archive/observation directory.
func (l *Layout) ContextDir() string { return filepath.Join(l.StateDir(), "context") }

// LogsDir returns the event-log directory.
func (l *Layout) LogsDir() string { return filepath.Join(l.StateDir(), "logs") }

// SessionsDir returns the session-file directory.
func (l *Layout) SessionsDir() string { return filepath.Join(l.StateDir(), "sessions") }

// TodosDir returns the todo-file directory.
func (l *Layout) TodosDir() string { return filepath.Join(l.StateDir(), "todos") }

// CurrentSessionFile returns the pointer file naming the active session.
func (l *Layout) CurrentSessionFile() string {
	return filepath.Join(l.StateDir(), "current_session.txt")
}

// InitFile returns the optional project brief at <root>/init.md.
func (l *Layout) InitFile() string { return filepath.Join(l.Root, "init.md") }

// EnsureDirs creates the state directory tree.
func (l *Layout) EnsureDirs() error {
	for _, dir := range []string{l.ContextDir(), l.LogsDir(), l.SessionsDir(), l.TodosDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Resolve returns an absolute, cleaned path. Relative paths are joined
// against the workspace root.
func (l *Layout) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(l.Root, clean)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	return abs, nil
}

// Contains reports whether the resolved path is inside the project root.
func (l *Layout) Contains(path string) bool {
	abs, err := l.Resolve(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(l.Root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// readOnlyAllowList enumerates paths outside the project root that tools
// may read but never write.
var readOnlyAllowList = []string{
	"/tmp",
	"/usr/share",
	"/proc/cpuinfo",
	"/proc/meminfo",
	"/proc/version",
	"/proc/loadavg",
	"/etc/os-release",
}

// IsSafePath reports whether path may be touched by tools: inside the
// project root, or covered by the read-only allow list.
func (l *Layout) IsSafePath(path string) bool {
	if l.Contains(path) {
		return true
	}
	abs, err := l.Resolve(path)
	if err != nil {
		return false
	}
	for _, allowed := range readOnlyAllowList {
		if abs == allowed || strings.HasPrefix(abs, allowed+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}
