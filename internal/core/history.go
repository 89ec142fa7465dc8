package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

const (
	sessionsKey       = "chat_sessions"
	currentSessionKey = "current_session_id"

	maxTitleLength = 50
	titleEllipsis  = "..."
)

type NewMessage struct {
	Role    store.Role
	Content string
	ModelID string
}

// ChatHistoryStore owns the list of chat sessions, newest-created first.
// Sessions keep their position when they receive messages.
//
// Every mutation is applied in memory and then written through to the
// key-value store while the lock is held, so persisted snapshots are
// written in mutation order. Write failures are logged, not returned.
type ChatHistoryStore struct {
	kv     store.KeyValueStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string

	mu        sync.RWMutex
	sessions  []store.ChatSession
	currentID string
}

type HistoryOption func(*ChatHistoryStore)

func WithHistoryClock(now func() time.Time) HistoryOption {
	return func(s *ChatHistoryStore) { s.now = now }
}

func WithIDGenerator(newID func() string) HistoryOption {
	return func(s *ChatHistoryStore) { s.newID = newID }
}

// newTimeOrderedID returns a UUIDv7: millisecond time prefix followed by a
// counter and random bits, monotonic within the process.
func newTimeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewChatHistoryStore loads the persisted collection. Unreadable or corrupt
// state yields an empty collection.
func NewChatHistoryStore(ctx context.Context, kv store.KeyValueStore, logger *zap.Logger, opts ...HistoryOption) *ChatHistoryStore {
	s := &ChatHistoryStore{
		kv:     kv,
		logger: logger.Named("history"),
		now:    time.Now,
		newID:  newTimeOrderedID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load(ctx)
	return s
}

func (s *ChatHistoryStore) load(ctx context.Context) {
	raw, ok, err := s.kv.Get(ctx, sessionsKey)
	if err != nil {
		s.logger.Warn("failed to read chat history, starting empty", zap.Error(err))
		return
	}
	if ok && raw != "" {
		var sessions []store.ChatSession
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			s.logger.Warn("corrupt chat history, starting empty", zap.Error(err))
			return
		}
		s.sessions = sessions
	}

	current, ok, err := s.kv.Get(ctx, currentSessionKey)
	if err != nil {
		s.logger.Warn("failed to read current session id", zap.Error(err))
		return
	}
	if ok {
		s.currentID = current
	}
	s.logger.Debug("chat history loaded", zap.Int("sessions", len(s.sessions)), zap.String("current", s.currentID))
}

// persist must be called with mu held for writing.
func (s *ChatHistoryStore) persist(ctx context.Context) {
	sessions := s.sessions
	if sessions == nil {
		sessions = []store.ChatSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		s.logger.Error("failed to encode chat history", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, sessionsKey, string(data)); err != nil {
		s.logger.Warn("chat history write dropped", zap.Error(err))
	}
	if err := s.kv.Set(ctx, currentSessionKey, s.currentID); err != nil {
		s.logger.Warn("current session write dropped", zap.Error(err))
	}
}

func (s *ChatHistoryStore) indexOf(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateSession prepends a fresh untitled session, makes it current and
// returns its id.
func (s *ChatHistoryStore) CreateSession(ctx context.Context, modelID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for s.indexOf(id) >= 0 {
		id = s.newID()
	}
	now := s.now()
	session := store.ChatSession{
		ID:        id,
		Title:     store.UntitledSession,
		Messages:  []store.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
		ModelID:   modelID,
	}
	s.sessions = append([]store.ChatSession{session}, s.sessions...)
	s.currentID = id
	s.persist(ctx)

	s.logger.Debug("chat session created", zap.String("session_id", id), zap.String("model_id", modelID))
	return id
}

// AddMessage appends a message to a session. The first user message of an
// untitled session becomes its title, cut to maxTitleLength characters.
// Later messages never retitle a session, even one still titled
// UntitledSession.
func (s *ChatHistoryStore) AddMessage(ctx context.Context, sessionID string, msg NewMessage) (store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(sessionID)
	if i < 0 {
		return store.ChatMessage{}, fmt.Errorf("add message to %s: %w", sessionID, ErrSessionNotFound)
	}
	session := &s.sessions[i]

	// Timestamps never go backwards within a session, even if the wall clock does.
	ts := s.now()
	if ts.Before(session.UpdatedAt) {
		ts = session.UpdatedAt
	}
	if last, ok := session.LastMessage(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}

	message := store.ChatMessage{
		ID:        s.newID(),
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: ts,
		ModelID:   msg.ModelID,
	}
	firstUserMessage := msg.Role == store.RoleUser && !hasUserMessage(session.Messages)
	session.Messages = append(session.Messages, message)
	session.UpdatedAt = ts
	if firstUserMessage && session.Title == store.UntitledSession {
		session.Title = deriveTitle(msg.Content)
	}
	s.persist(ctx)
	return message, nil
}

func hasUserMessage(messages []store.ChatMessage) bool {
	for _, m := range messages {
		if m.Role == store.RoleUser {
			return true
		}
	}
	return false
}

func deriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleLength {
		return content
	}
	return string([]rune(content)[:maxTitleLength]) + titleEllipsis
}

// UpdateSessionTitle overwrites the title, derived or not.
func (s *ChatHistoryStore) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(sessionID)
	if i < 0 {
		return fmt.Errorf("update title of %s: %w", sessionID, ErrSessionNotFound)
	}
	session := &s.sessions[i]
	session.Title = title
	if now := s.now(); now.After(session.UpdatedAt) {
		session.UpdatedAt = now
	}
	s.persist(ctx)
	return nil
}

// DeleteSession removes a session; unknown ids are ignored. Deleting the
// current session moves the pointer to the new first session, or to none.
func (s *ChatHistoryStore) DeleteSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(sessionID)
	if i < 0 {
		return
	}
	s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	if s.currentID == sessionID {
		s.currentID = ""
		if len(s.sessions) > 0 {
			s.currentID = s.sessions[0].ID
		}
	}
	s.persist(ctx)
}

// SetCurrentSession moves the current pointer without checking that the id
// exists. An empty id clears it.
func (s *ChatHistoryStore) SetCurrentSession(ctx context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = sessionID
	s.persist(ctx)
}

func (s *ChatHistoryStore) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// CurrentSession returns false when no session is current or the pointer dangles.
func (s *ChatHistoryStore) CurrentSession() (store.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentID == "" {
		return store.ChatSession{}, false
	}
	i := s.indexOf(s.currentID)
	if i < 0 {
		return store.ChatSession{}, false
	}
	return s.sessions[i].Clone(), true
}

func (s *ChatHistoryStore) Session(sessionID string) (store.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(sessionID)
	if i < 0 {
		return store.ChatSession{}, false
	}
	return s.sessions[i].Clone(), true
}

func (s *ChatHistoryStore) Sessions() []store.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChatSession, len(s.sessions))
	for i := range s.sessions {
		out[i] = s.sessions[i].Clone()
	}
	return out
}

// ClearAllSessions drops every session. There is no undo.
func (s *ChatHistoryStore) ClearAllSessions(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	s.currentID = ""
	s.persist(ctx)
	s.logger.Info("chat history cleared")
}
