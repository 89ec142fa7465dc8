package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/config"
	"hulkai.app/hulk-chat/internal/store"
)

const apologyReply = "I'm sorry, I'm having trouble responding right now. Please try again later."

type SendResult struct {
	SessionID        string             `json:"session_id"`
	Blocked          bool               `json:"blocked"`
	UserMessage      *store.ChatMessage `json:"user_message,omitempty"`
	AssistantMessage *store.ChatMessage `json:"assistant_message,omitempty"`
	Status           GateStatus         `json:"status"`
}

// ChatService runs the send flow: gate, append, complete, append.
type ChatService struct {
	history   *ChatHistoryStore
	gate      *EntitlementGate
	models    *ModelSelector
	completer Completer
	logger    *zap.Logger

	mu   sync.Mutex
	busy map[string]struct{}
}

func NewChatService(history *ChatHistoryStore, gate *EntitlementGate, models *ModelSelector, completer Completer, logger *zap.Logger) *ChatService {
	return &ChatService{
		history:   history,
		gate:      gate,
		models:    models,
		completer: completer,
		logger:    logger.Named("chat"),
		busy:      make(map[string]struct{}),
	}
}

// CreateSession starts a session bound to modelID, or to the selected model
// when modelID is empty.
func (s *ChatService) CreateSession(ctx context.Context, modelID string) (store.ChatSession, error) {
	model := s.models.Selected()
	if modelID != "" {
		m, err := s.models.Lookup(modelID)
		if err != nil {
			return store.ChatSession{}, err
		}
		model = m
	}
	id := s.history.CreateSession(ctx, model.ID)
	session, _ := s.history.Session(id)
	return session, nil
}

// acquire resolves the target session and marks it busy. An empty id means
// the current session, created on demand.
func (s *ChatService) acquire(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		if current, ok := s.history.CurrentSession(); ok {
			sessionID = current.ID
		} else {
			sessionID = s.history.CreateSession(ctx, s.models.Selected().ID)
		}
	} else if _, ok := s.history.Session(sessionID); !ok {
		return "", fmt.Errorf("send to %s: %w", sessionID, ErrSessionNotFound)
	}

	if _, busy := s.busy[sessionID]; busy {
		return "", fmt.Errorf("send to %s: %w", sessionID, ErrSessionBusy)
	}
	s.busy[sessionID] = struct{}{}
	return sessionID, nil
}

// sessionModel returns the model the session was created with, or the
// selected model when that one is gone from the catalog or needs a premium
// entitlement the user no longer has.
func (s *ChatService) sessionModel(session store.ChatSession) config.ModelConfig {
	if session.ModelID != "" {
		if m, err := s.models.Lookup(session.ModelID); err == nil {
			return m
		}
	}
	return s.models.Selected()
}

func (s *ChatService) release(sessionID string) {
	s.mu.Lock()
	delete(s.busy, sessionID)
	s.mu.Unlock()
}

// SendMessage sends content to a session and waits for the reply.
//
// Quota is paid on send: a free user's message is charged before the
// completion call and is not refunded if the call fails or is cancelled.
// It is refunded only when the session disappears before the user message
// is stored. When no quota is left the result is Blocked and nothing is
// appended. Replies use the session's model while it is still available.
func (s *ChatService) SendMessage(ctx context.Context, sessionID, content string) (*SendResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	sessionID, err := s.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer s.release(sessionID)

	session, ok := s.history.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("send to %s: %w", sessionID, ErrSessionNotFound)
	}
	history := make([]Turn, 0, len(session.Messages))
	for _, m := range session.Messages {
		history = append(history, Turn{Role: m.Role, Content: m.Content})
	}
	model := s.sessionModel(session)

	quota, ok := s.gate.Reserve(ctx)
	if !ok {
		s.logger.Info("message blocked, daily quota exhausted", zap.String("session_id", sessionID))
		return &SendResult{
			SessionID: sessionID,
			Blocked:   true,
			Status:    statusFor(false, quota),
		}, nil
	}

	userMsg, err := s.history.AddMessage(ctx, sessionID, NewMessage{Role: store.RoleUser, Content: content, ModelID: model.ID})
	if err != nil {
		// Deleted after the lookup; nothing was sent.
		s.gate.Release(context.WithoutCancel(ctx))
		return nil, err
	}

	reply, err := s.completer.Complete(ctx, content, history, model.Model, model.SystemPrompt)
	if ctx.Err() != nil {
		s.logger.Info("send cancelled before the reply was stored", zap.String("session_id", sessionID))
		return nil, fmt.Errorf("send to %s: %w", sessionID, ctx.Err())
	}
	if err != nil {
		s.logger.Error("completion failed, replying with apology",
			zap.String("session_id", sessionID),
			zap.String("model", model.Model),
			zap.Error(err))
		reply = apologyReply
	}

	assistantMsg, err := s.history.AddMessage(ctx, sessionID, NewMessage{Role: store.RoleAssistant, Content: reply, ModelID: model.ID})
	if err != nil {
		return nil, err
	}

	return &SendResult{
		SessionID:        sessionID,
		UserMessage:      &userMsg,
		AssistantMessage: &assistantMsg,
		Status:           s.gate.Status(ctx),
	}, nil
}
