// Package sessions persists conversations as per-session JSON files under
// <workdir>/.aacode/sessions/ with a shared index and a current-session
// pointer. Every mutation writes through to disk before returning.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/aacode/internal/tokens"
	"github.com/haasonsaas/aacode/internal/workspace"
	"github.com/haasonsaas/aacode/pkg/models"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// systemPreamble is message 0 of every session.
const systemPreamble = "你是一个自主编码助手。你在项目目录中通过工具完成任务：" +
	"阅读和修改文件、执行命令、搜索代码。每一步先给出思考，再给出动作；" +
	"任务完成后明确说明结果。"

// localSummaryKeep is how many trailing messages survive the local
// over-budget compaction.
const localSummaryKeep = 3

// Session is one persisted conversation.
type Session struct {
	// ID is "<timestamp>_<counter>", unique within the store.
	ID string `json:"id"`

	// Title is a short human label; defaults to a task excerpt.
	Title string `json:"title"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// CreatedAt and LastActivity bound the session's lifetime.
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// Messages is the ordered conversation; index 0 is the system preamble.
	Messages []models.Message `json:"messages"`

	// TotalTokens caches the sum of message token counts.
	TotalTokens int `json:"total_tokens"`
}

// indexEntry is one row of sessions_index.json.
type indexEntry struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	TotalTokens  int       `json:"total_tokens"`
}

// Store manages sessions for one workspace.
type Store struct {
	mu      sync.Mutex
	ws      *workspace.Layout
	counter *tokens.Counter
	logger  *slog.Logger

	// MaxTokens is the hard per-session token ceiling.
	MaxTokens int

	current *Session
	seq     int
}

// New creates a store; the sessions directory must already exist (see
// workspace.EnsureDirs).
func New(ws *workspace.Layout, counter *tokens.Counter, logger *slog.Logger) *Store {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{ws: ws, counter: counter, logger: logger, MaxTokens: 200000}
}

// Create starts a new session with the system preamble and the initial user
// task, persists it, and makes it current.
func (s *Store) Create(task, title string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := time.Now()
	if title == "" {
		title = excerpt(task, 40)
	}
	session := &Session{
		ID:           fmt.Sprintf("%s_%d", now.Format("20060102_150405"), s.seq),
		Title:        title,
		Status:       StatusActive,
		CreatedAt:    now,
		LastActivity: now,
	}
	session.append(s.message(models.RoleSystem, systemPreamble, nil))
	session.append(s.message(models.RoleUser, task, nil))

	s.current = session
	if err := s.persist(session); err != nil {
		return nil, err
	}
	if err := atomicWrite(s.ws.CurrentSessionFile(), []byte(session.ID)); err != nil {
		return nil, fmt.Errorf("write current session pointer: %w", err)
	}
	return session, nil
}

// Current returns the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// AddMessage appends a message to the current session. When the budget
// would be exceeded it first runs the local compaction (system preamble +
// one-line summary + last three messages); if the message still does not
// fit, it reports false and the session is unchanged beyond the compaction.
func (s *Store) AddMessage(role models.Role, content string, metadata map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return false, fmt.Errorf("no active session")
	}
	msg := s.message(role, content, metadata)

	if s.current.TotalTokens+msg.Tokens > s.MaxTokens {
		s.compactLocal(s.current)
		if err := s.persist(s.current); err != nil {
			return false, err
		}
		if s.current.TotalTokens+msg.Tokens > s.MaxTokens {
			s.logger.Warn("message exceeds session budget after compaction",
				"session", s.current.ID, "tokens", msg.Tokens, "budget", s.MaxTokens)
			return false, nil
		}
	}

	s.current.append(msg)
	if err := s.persist(s.current); err != nil {
		return false, err
	}
	return true, nil
}

// Messages returns a copy of the message list; an empty id means the
// current session, any other id is loaded from disk.
func (s *Store) Messages(id string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, len(session.Messages))
	copy(out, session.Messages)
	return out, nil
}

// ReplaceMessages swaps the current session's message list, used by the
// compactor. Token counts are recomputed for messages that carry none.
func (s *Store) ReplaceMessages(msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return fmt.Errorf("no active session")
	}
	total := 0
	for i := range msgs {
		if msgs[i].Tokens == 0 && msgs[i].Content != "" {
			msgs[i].Tokens = s.counter.Count(msgs[i].Content)
		}
		total += msgs[i].Tokens
	}
	s.current.Messages = msgs
	s.current.TotalTokens = total
	s.current.LastActivity = time.Now()
	return s.persist(s.current)
}

// Compress truncates a session to its system preamble plus the most recent
// maxMessages non-system messages.
func (s *Store) Compress(id string, maxMessages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return err
	}
	var system, rest []models.Message
	for _, m := range session.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if maxMessages > 0 && len(rest) > maxMessages {
		rest = rest[len(rest)-maxMessages:]
	}
	session.Messages = append(system, rest...)
	session.recount()
	session.LastActivity = time.Now()
	return s.persist(session)
}

// History renders a preview of the current conversation, newest last,
// truncated to maxLength characters.
func (s *Store) History(maxLength int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return ""
	}
	var b strings.Builder
	for _, m := range s.current.Messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, excerpt(m.Content, 200))
	}
	out := b.String()
	if maxLength > 0 && len(out) > maxLength {
		out = out[len(out)-maxLength:]
	}
	return out
}

// SetStatus updates a session's lifecycle state.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return err
	}
	session.Status = status
	session.LastActivity = time.Now()
	return s.persist(session)
}

// TotalTokens returns the cached token count of the current session.
func (s *Store) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.TotalTokens
}

// Load makes a persisted session current.
func (s *Store) Load(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.read(id)
	if err != nil {
		return nil, err
	}
	s.current = session
	if err := atomicWrite(s.ws.CurrentSessionFile(), []byte(id)); err != nil {
		return nil, fmt.Errorf("write current session pointer: %w", err)
	}
	return session, nil
}

// compactLocal keeps the system preamble and the trailing messages,
// replacing everything between with a one-line summary.
func (s *Store) compactLocal(session *Session) {
	if len(session.Messages) <= 1+localSummaryKeep {
		return
	}
	head := session.Messages[:1]
	tail := session.Messages[len(session.Messages)-localSummaryKeep:]
	dropped := len(session.Messages) - 1 - localSummaryKeep

	summary := s.message(models.RoleSystem,
		fmt.Sprintf("（会话过长，中间 %d 条消息已省略；关键上下文见 .aacode/context/）", dropped),
		map[string]any{"compacted": true})

	msgs := make([]models.Message, 0, 2+localSummaryKeep)
	msgs = append(msgs, head...)
	msgs = append(msgs, summary)
	msgs = append(msgs, tail...)
	session.Messages = msgs
	session.recount()
}

// lookup resolves an id to the in-memory session or reads it from disk.
func (s *Store) lookup(id string) (*Session, error) {
	if id == "" || (s.current != nil && s.current.ID == id) {
		if s.current == nil {
			return nil, fmt.Errorf("no active session")
		}
		return s.current, nil
	}
	return s.read(id)
}

func (s *Store) read(id string) (*Session, error) {
	data, err := os.ReadFile(s.sessionFile(id))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &session, nil
}

// persist writes the session file and refreshes the index row.
func (s *Store) persist(session *Session) error {
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	if err := atomicWrite(s.sessionFile(session.ID), data); err != nil {
		return fmt.Errorf("write session %s: %w", session.ID, err)
	}
	return s.updateIndex(session)
}

func (s *Store) updateIndex(session *Session) error {
	path := filepath.Join(s.ws.SessionsDir(), "sessions_index.json")
	var index []indexEntry
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt index is rebuilt from this entry onward.
		_ = json.Unmarshal(data, &index)
	}

	entry := indexEntry{
		ID:           session.ID,
		Title:        session.Title,
		Status:       session.Status,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		MessageCount: len(session.Messages),
		TotalTokens:  session.TotalTokens,
	}
	replaced := false
	for i := range index {
		if index[i].ID == session.ID {
			index[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		index = append(index, entry)
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session index: %w", err)
	}
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	return nil
}

func (s *Store) sessionFile(id string) string {
	return filepath.Join(s.ws.SessionsDir(), id+".json")
}

func (s *Store) message(role models.Role, content string, metadata map[string]any) models.Message {
	return models.Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    s.counter.Count(content),
		Metadata:  metadata,
	}
}

func (sess *Session) append(msg models.Message) {
	sess.Messages = append(sess.Messages, msg)
	sess.TotalTokens += msg.Tokens
	sess.LastActivity = msg.Timestamp
}

func (sess *Session) recount() {
	total := 0
	for _, m := range sess.Messages {
		total += m.Tokens
	}
	sess.TotalTokens = total
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

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
