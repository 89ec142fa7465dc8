package store

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// UntitledSession is the title every session starts with. A session still
// carrying it has not had a title derived or set yet.
const UntitledSession = "New Chat"

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ModelID   string    `json:"model_id"`
}

type ChatSession struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ModelID   string        `json:"model_id"`
}

// Clone returns a copy that shares no message storage with s.
func (s ChatSession) Clone() ChatSession {
	c := s
	c.Messages = make([]ChatMessage, len(s.Messages))
	copy(c.Messages, s.Messages)
	return c
}

// LastMessage returns the most recently appended message, if any.
func (s ChatSession) LastMessage() (ChatMessage, bool) {
	if len(s.Messages) == 0 {
		return ChatMessage{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
