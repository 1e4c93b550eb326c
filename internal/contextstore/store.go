// Package contextstore owns the <workdir>/.aacode/context directory: the
// latest-observation and error-history files and the content-addressed
// archive of large tool payloads.
package contextstore

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/aacode/internal/workspace"
)

const (
	// latestObservationLimit truncates latest_observation.txt at write.
	latestObservationLimit = 500

	// historyEntries is the size of the observation ring buffer.
	historyEntries = 5

	// historySeparator joins ring buffer entries on disk.
	historySeparator = "\n---\n"

	// errorFileLimit trims important_errors.txt to its trailing bytes.
	errorFileLimit = 3000

	// errorEntryLimit truncates each appended error excerpt.
	errorEntryLimit = 500
)

// Kind names the origin of an archived payload and becomes the first
// segment of the archive file name.
type Kind string

const (
	KindFileContent   Kind = "file_content"
	KindShellOutput   Kind = "shell_output"
	KindSearchResults Kind = "search_results"
	KindFileList      Kind = "file_list"
	KindCodeOutput    Kind = "code_output"
)

// errorKeywords flag an observation for the important-errors file.
var errorKeywords = []string{"error", "failed", "warning", "错误", "失败", "警告"}

// Store manages observation state and payload archives for one workspace.
type Store struct {
	mu     sync.Mutex
	ws     *workspace.Layout
	logger *slog.Logger

	// MaxContextFiles caps the file listing in BuildContext.
	MaxContextFiles int

	// TodoPath, when set, is referenced in the assembled context.
	TodoPath string
}

// New creates a store rooted at the workspace context directory, creating
// it if needed.
func New(ws *workspace.Layout, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(ws.ContextDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create context dir: %w", err)
	}
	return &Store{ws: ws, logger: logger, MaxContextFiles: 50}, nil
}

// Dir returns the context directory.
func (s *Store) Dir() string { return s.ws.ContextDir() }

// IsSafePath exposes the shared workspace path rule.
func (s *Store) IsSafePath(path string) bool { return s.ws.IsSafePath(path) }

// ContentHash returns the 8-character hex MD5 prefix used for archive
// deduplication.
func ContentHash(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:])[:8]
}

// SaveLargeOutput archives payload under a content-addressed name derived
// from suggestedName and returns the path relative to the workspace root.
// Identical payloads return the existing archive path.
func (s *Store) SaveLargeOutput(payload []byte, suggestedName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := ContentHash(payload)

	entries, err := os.ReadDir(s.ws.ContextDir())
	if err != nil {
		return "", fmt.Errorf("read context dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.Contains(entry.Name(), hash) {
			return s.relPath(entry.Name()), nil
		}
	}

	name := injectHash(sanitizeName(suggestedName), hash)
	target := filepath.Join(s.ws.ContextDir(), name)
	if err := atomicWrite(target, payload); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	index := fmt.Sprintf("%s|%s|%d|%s\n", name, hash, len(payload), time.Now().Format(time.RFC3339))
	if err := appendFile(filepath.Join(s.ws.ContextDir(), "archive_index.txt"), index); err != nil {
		s.logger.Warn("archive index append failed", "error", err)
	}
	return s.relPath(name), nil
}

// ArchiveName builds the canonical archive file name for a payload kind
// and identifier.
func ArchiveName(kind Kind, identifier string) string {
	return fmt.Sprintf("%s_%s.txt", kind, sanitizeIdentifier(identifier))
}

// Update records an observation: latest file, history ring, and (when it
// carries an error keyword) the important-errors file.
func (s *Store) Update(observation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := truncate(observation, latestObservationLimit)
	if err := atomicWrite(s.file("latest_observation.txt"), []byte(latest)); err != nil {
		return fmt.Errorf("write latest observation: %w", err)
	}

	if err := s.pushHistory(latest); err != nil {
		return err
	}

	if containsErrorKeyword(observation) {
		entry := fmt.Sprintf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"),
			truncate(observation, errorEntryLimit))
		if err := s.appendError(entry); err != nil {
			return err
		}
	}
	return nil
}

// LatestObservation returns the truncated most recent observation.
func (s *Store) LatestObservation() string {
	data, err := os.ReadFile(s.file("latest_observation.txt"))
	if err != nil {
		return ""
	}
	return string(data)
}

// History returns up to n most recent observations, oldest first.
func (s *Store) History(n int) []string {
	data, err := os.ReadFile(s.file("observation_history.txt"))
	if err != nil || len(data) == 0 {
		return nil
	}
	entries := strings.Split(string(data), historySeparator)
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

// RecentErrors returns the contents of the important-errors file.
func (s *Store) RecentErrors() string {
	data, err := os.ReadFile(s.file("important_errors.txt"))
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Store) pushHistory(entry string) error {
	path := s.file("observation_history.txt")
	var entries []string
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		entries = strings.Split(string(data), historySeparator)
	}
	entries = append(entries, entry)
	if len(entries) > historyEntries {
		entries = entries[len(entries)-historyEntries:]
	}
	if err := atomicWrite(path, []byte(strings.Join(entries, historySeparator))); err != nil {
		return fmt.Errorf("write observation history: %w", err)
	}
	return nil
}

func (s *Store) appendError(entry string) error {
	path := s.file("important_errors.txt")
	existing, _ := os.ReadFile(path)
	combined := append(existing, []byte(entry)...)
	if len(combined) > errorFileLimit {
		combined = combined[len(combined)-errorFileLimit:]
	}
	if err := atomicWrite(path, combined); err != nil {
		return fmt.Errorf("write important errors: %w", err)
	}
	return nil
}

func (s *Store) file(name string) string {
	return filepath.Join(s.ws.ContextDir(), name)
}

func (s *Store) relPath(name string) string {
	return filepath.Join(workspace.StateDirName, "context", name)
}

func containsErrorKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// injectHash places the hash before the extension: shell_output_go_test.txt
// becomes shell_output_go_test_a1b2c3d4.txt.
func injectHash(name, hash string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return name + "_" + hash + ".txt"
	}
	return strings.TrimSuffix(name, ext) + "_" + hash + ext
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "archive.txt"
	}
	return sanitizeIdentifier(name)
}

func sanitizeIdentifier(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	const maxLen = 80
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Cut on a rune boundary.
	cut := limit
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func appendFile(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
