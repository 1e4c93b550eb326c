// Package todo maintains the per-task markdown checklist under
// <workdir>/.aacode/todos/: pending items, completed items with
// timestamps, and a capped execution-record journal. Mutations are line
// edits on the existing file, not regenerations.
package todo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	pendingHeader   = "## Pending"
	completedHeader = "## Completed"
	recordsHeader   = "## Records"

	// maxRecords caps the Records section at the most recent entries.
	maxRecords = 20

	timeLayout = "2006-01-02 15:04:05"
)

// Manager owns one todo file.
type Manager struct {
	mu   sync.Mutex
	path string
}

// Create writes a fresh todo list for a task and returns its manager. The
// file name embeds the project name and a timestamp.
func Create(dir, project string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create todos dir: %w", err)
	}
	name := fmt.Sprintf("%s_to-do-list_%s.md", sanitize(project), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	content := strings.Join([]string{
		fmt.Sprintf("# %s 任务清单", project),
		"",
		pendingHeader,
		"",
		completedHeader,
		"",
		recordsHeader,
		"",
	}, "\n")
	if err := atomicWrite(path, []byte(content)); err != nil {
		return nil, fmt.Errorf("write todo list: %w", err)
	}
	return &Manager{path: path}, nil
}

// Open attaches to an existing todo file.
func Open(path string) (*Manager, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open todo list: %w", err)
	}
	return &Manager{path: path}, nil
}

// Path returns the todo file path.
func (m *Manager) Path() string { return m.path }

// AddItem appends an unchecked bullet to the Pending section. Priority and
// category are rendered as bracketed prefixes when present.
func (m *Manager) AddItem(text, priority, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	b.WriteString("- [ ] ")
	if priority != "" {
		fmt.Fprintf(&b, "[%s] ", priority)
	}
	if category != "" {
		fmt.Fprintf(&b, "(%s) ", category)
	}
	b.WriteString(strings.TrimSpace(text))

	return m.edit(func(lines []string) ([]string, error) {
		return insertAtSectionEnd(lines, pendingHeader, b.String())
	})
}

// MarkCompleted flips the first pending bullet matching pattern to checked
// and moves it into the Completed section with a timestamp. Returns false
// when nothing matched.
func (m *Manager) MarkCompleted(pattern string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := false
	err := m.edit(func(lines []string) ([]string, error) {
		idx := findPendingMatch(lines, pattern)
		if idx < 0 {
			return lines, nil
		}
		matched = true
		item := strings.Replace(lines[idx], "- [ ]", "- [x]", 1)
		item = fmt.Sprintf("%s （完成于 %s）", item, time.Now().Format(timeLayout))
		lines = append(lines[:idx], lines[idx+1:]...)
		return insertAtSectionEnd(lines, completedHeader, item)
	})
	return matched, err
}

// UpdateItem rewrites the first pending bullet matching oldPattern.
// Returns false when nothing matched.
func (m *Manager) UpdateItem(oldPattern, newText string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := false
	err := m.edit(func(lines []string) ([]string, error) {
		idx := findPendingMatch(lines, oldPattern)
		if idx < 0 {
			return lines, nil
		}
		matched = true
		lines[idx] = "- [ ] " + strings.TrimSpace(newText)
		return lines, nil
	})
	return matched, err
}

// AddRecord appends a timestamped journal entry, evicting the oldest
// entries beyond the cap.
func (m *Manager) AddRecord(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := fmt.Sprintf("- [%s] %s", time.Now().Format(timeLayout),
		strings.ReplaceAll(strings.TrimSpace(text), "\n", " "))
	return m.edit(func(lines []string) ([]string, error) {
		lines, err := insertAtSectionEnd(lines, recordsHeader, entry)
		if err != nil {
			return nil, err
		}
		start, end := sectionBounds(lines, recordsHeader)
		var bullets []int
		for i := start; i < end; i++ {
			if strings.HasPrefix(lines[i], "- ") {
				bullets = append(bullets, i)
			}
		}
		if extra := len(bullets) - maxRecords; extra > 0 {
			lines = append(lines[:bullets[0]], lines[bullets[extra]:]...)
		}
		return lines, nil
	})
}

// Summary reports pending/completed counts and the pending items.
func (m *Manager) Summary() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines, err := m.read()
	if err != nil {
		return "", err
	}
	var pending []string
	completed := 0
	pStart, pEnd := sectionBounds(lines, pendingHeader)
	for i := pStart; i < pEnd; i++ {
		if strings.HasPrefix(lines[i], "- [ ]") {
			pending = append(pending, strings.TrimPrefix(lines[i], "- [ ] "))
		}
	}
	cStart, cEnd := sectionBounds(lines, completedHeader)
	for i := cStart; i < cEnd; i++ {
		if strings.HasPrefix(lines[i], "- [x]") {
			completed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "待办 %d 项，已完成 %d 项\n", len(pending), completed)
	for _, p := range pending {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String(), nil
}

// edit applies a line transformation and writes the result back.
func (m *Manager) edit(fn func([]string) ([]string, error)) error {
	lines, err := m.read()
	if err != nil {
		return err
	}
	lines, err = fn(lines)
	if err != nil {
		return err
	}
	return atomicWrite(m.path, []byte(strings.Join(lines, "\n")))
}

func (m *Manager) read() ([]string, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("read todo list: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}

// sectionBounds returns the half-open line range of a section body.
func sectionBounds(lines []string, header string) (int, int) {
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == header {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return 0, 0
	}
	end := len(lines)
	for i := start; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			end = i
			break
		}
	}
	return start, end
}

// insertAtSectionEnd places a line after the last bullet of a section.
func insertAtSectionEnd(lines []string, header, newLine string) ([]string, error) {
	start, end := sectionBounds(lines, header)
	if start == 0 && end == 0 {
		return nil, fmt.Errorf("section %q not found", header)
	}
	insert := start
	for i := start; i < end; i++ {
		if strings.HasPrefix(lines[i], "- ") {
			insert = i + 1
		}
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insert]...)
	out = append(out, newLine)
	out = append(out, lines[insert:]...)
	return out, nil
}

// findPendingMatch returns the line index of the first unchecked bullet in
// the Pending section containing pattern.
func findPendingMatch(lines []string, pattern string) int {
	start, end := sectionBounds(lines, pendingHeader)
	for i := start; i < end; i++ {
		if strings.HasPrefix(lines[i], "- [ ]") && strings.Contains(lines[i], pattern) {
			return i
		}
	}
	return -1
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "task"
	}
	return b.String()
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
