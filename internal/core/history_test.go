package core

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

func newTestHistory(t *testing.T, kv store.KeyValueStore, opts ...HistoryOption) *ChatHistoryStore {
	t.Helper()
	return NewChatHistoryStore(context.Background(), kv, zap.NewNop(), opts...)
}

func userMsg(content string) NewMessage {
	return NewMessage{Role: store.RoleUser, Content: content}
}

func sessionIDs(sessions []store.ChatSession) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func TestCreateSessionPrependsAndBecomesCurrent(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())

	first := h.CreateSession(ctx, "gpt-4o-mini")
	second := h.CreateSession(ctx, "gpt-4o-mini")

	assert.Equal(t, []string{second, first}, sessionIDs(h.Sessions()))
	assert.Equal(t, second, h.CurrentSessionID())

	session, ok := h.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, store.UntitledSession, session.Title)
	assert.Empty(t, session.Messages)
	assert.Equal(t, "gpt-4o-mini", session.ModelID)
}

func TestSessionsKeepCreationOrderWhenMessaged(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())

	older := h.CreateSession(ctx, "")
	newer := h.CreateSession(ctx, "")
	_, err := h.AddMessage(ctx, older, userMsg("ping"))
	require.NoError(t, err)

	assert.Equal(t, []string{newer, older}, sessionIDs(h.Sessions()))
}

func TestTitleDerivedOnceFromFirstUserMessage(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())
	id := h.CreateSession(ctx, "")

	_, err := h.AddMessage(ctx, id, NewMessage{Role: store.RoleAssistant, Content: "Welcome!"})
	require.NoError(t, err)
	session, _ := h.Session(id)
	assert.Equal(t, store.UntitledSession, session.Title, "assistant messages never title a session")

	_, err = h.AddMessage(ctx, id, userMsg("Hello"))
	require.NoError(t, err)
	_, err = h.AddMessage(ctx, id, userMsg("Something else entirely"))
	require.NoError(t, err)

	session, _ = h.Session(id)
	assert.Equal(t, "Hello", session.Title)
	assert.Len(t, session.Messages, 3)
}

func TestTitleTruncation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "Hello", "Hello"},
		{"exactly fifty", strings.Repeat("b", 50), strings.Repeat("b", 50)},
		{"sixty ascii", strings.Repeat("a", 60), strings.Repeat("a", 50) + "..."},
		{"multibyte", strings.Repeat("é", 55), strings.Repeat("é", 50) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newTestHistory(t, store.NewMemoryStore())
			id := h.CreateSession(ctx, "")

			_, err := h.AddMessage(ctx, id, userMsg(tt.content))
			require.NoError(t, err)

			session, _ := h.Session(id)
			assert.Equal(t, tt.want, session.Title)
			assert.Equal(t, tt.content, session.Messages[0].Content)
		})
	}
}

func TestUpdateSessionTitleOverridesGuard(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())
	id := h.CreateSession(ctx, "")

	require.NoError(t, h.UpdateSessionTitle(ctx, id, "Renamed"))
	_, err := h.AddMessage(ctx, id, userMsg("Hello"))
	require.NoError(t, err)

	session, _ := h.Session(id)
	assert.Equal(t, "Renamed", session.Title)

	err = h.UpdateSessionTitle(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAddMessageUnknownSession(t *testing.T) {
	ctx := context.Background()
	kv := newFlakyStore()
	h := newTestHistory(t, kv)
	h.CreateSession(ctx, "")
	setsBefore := kv.sets.Load()

	_, err := h.AddMessage(ctx, "missing", userMsg("Hello"))

	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, setsBefore, kv.sets.Load())
}

func TestDeleteCurrentSessionMovesPointer(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())
	c := h.CreateSession(ctx, "")
	b := h.CreateSession(ctx, "")
	a := h.CreateSession(ctx, "")
	require.Equal(t, []string{a, b, c}, sessionIDs(h.Sessions()))

	h.DeleteSession(ctx, a)
	assert.Equal(t, b, h.CurrentSessionID())

	h.DeleteSession(ctx, c)
	assert.Equal(t, b, h.CurrentSessionID(), "deleting another session keeps the pointer")

	h.DeleteSession(ctx, "missing")
	assert.Len(t, h.Sessions(), 1)

	h.DeleteSession(ctx, b)
	assert.Empty(t, h.CurrentSessionID())
	_, ok := h.CurrentSession()
	assert.False(t, ok)
	assert.Empty(t, h.Sessions())
}

func TestSetCurrentSessionAcceptsUnknownID(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())
	h.CreateSession(ctx, "")

	h.SetCurrentSession(ctx, "dangling")

	assert.Equal(t, "dangling", h.CurrentSessionID())
	_, ok := h.CurrentSession()
	assert.False(t, ok)
}

func TestMessageTimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testDay)
	h := newTestHistory(t, store.NewMemoryStore(), WithHistoryClock(clock.Now))
	id := h.CreateSession(ctx, "")

	first, err := h.AddMessage(ctx, id, userMsg("one"))
	require.NoError(t, err)
	clock.Advance(-time.Hour)
	second, err := h.AddMessage(ctx, id, userMsg("two"))
	require.NoError(t, err)
	clock.Set(testDay.Add(time.Minute))
	third, err := h.AddMessage(ctx, id, userMsg("three"))
	require.NoError(t, err)

	assert.False(t, second.Timestamp.Before(first.Timestamp))
	assert.True(t, third.Timestamp.After(second.Timestamp))

	session, _ := h.Session(id)
	assert.Equal(t, third.Timestamp, session.UpdatedAt)
	assert.Equal(t, testDay, session.CreatedAt)
}

func TestSessionIDsAreUnique(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(testDay)
	h := newTestHistory(t, store.NewMemoryStore(), WithHistoryClock(clock.Now))

	seen := make(map[string]struct{})
	for i := 0; i < 500; i++ {
		id := h.CreateSession(ctx, "")
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestCreateSessionRetriesOnCollision(t *testing.T) {
	ctx := context.Background()
	ids := []string{"dup", "dup", "fresh"}
	next := func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	h := newTestHistory(t, store.NewMemoryStore(), WithIDGenerator(next))

	first := h.CreateSession(ctx, "")
	second := h.CreateSession(ctx, "")

	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second)
}

func TestSessionsReturnsCopies(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())
	id := h.CreateSession(ctx, "")
	_, err := h.AddMessage(ctx, id, userMsg("Hello"))
	require.NoError(t, err)

	sessions := h.Sessions()
	sessions[0].Title = "mutated"
	sessions[0].Messages[0].Content = "mutated"

	session, _ := h.Session(id)
	assert.Equal(t, "Hello", session.Title)
	assert.Equal(t, "Hello", session.Messages[0].Content)
}

func TestClearAllSessions(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	h := newTestHistory(t, kv)
	h.CreateSession(ctx, "")
	h.CreateSession(ctx, "")

	h.ClearAllSessions(ctx)

	assert.Empty(t, h.Sessions())
	assert.Empty(t, h.CurrentSessionID())
	raw, _, err := kv.Get(ctx, sessionsKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestHistoryPersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "hulk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := newTestHistory(t, db)
	older := h.CreateSession(ctx, "gpt-4o-mini")
	_, err = h.AddMessage(ctx, older, userMsg("What is Go?"))
	require.NoError(t, err)
	_, err = h.AddMessage(ctx, older, NewMessage{Role: store.RoleAssistant, Content: "A language.", ModelID: "gpt-4o-mini"})
	require.NoError(t, err)
	newer := h.CreateSession(ctx, "")
	h.SetCurrentSession(ctx, older)

	reloaded := newTestHistory(t, db)

	assert.Equal(t, []string{newer, older}, sessionIDs(reloaded.Sessions()))
	assert.Equal(t, older, reloaded.CurrentSessionID())
	session, ok := reloaded.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, "What is Go?", session.Title)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, store.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, "gpt-4o-mini", session.Messages[1].ModelID)
}

func TestCorruptHistoryStartsEmpty(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, sessionsKey, "{not json"))

	h := newTestHistory(t, kv)

	assert.Empty(t, h.Sessions())
	id := h.CreateSession(ctx, "")
	assert.Equal(t, id, h.CurrentSessionID())
}

func TestUnreadableHistoryStartsEmpty(t *testing.T) {
	kv := newFlakyStore()
	kv.failGet.Store(true)

	h := newTestHistory(t, kv)

	assert.Empty(t, h.Sessions())
	assert.Empty(t, h.CurrentSessionID())
}

func TestTitleDerivedAtMostOnce(t *testing.T) {
	ctx := context.Background()
	h := newTestHistory(t, store.NewMemoryStore())

	literal := h.CreateSession(ctx, "")
	_, err := h.AddMessage(ctx, literal, userMsg(store.UntitledSession))
	require.NoError(t, err)
	_, err = h.AddMessage(ctx, literal, userMsg("Plan a weekend in Lisbon"))
	require.NoError(t, err)
	session, _ := h.Session(literal)
	assert.Equal(t, store.UntitledSession, session.Title)

	renamed := h.CreateSession(ctx, "")
	_, err = h.AddMessage(ctx, renamed, userMsg("Hello"))
	require.NoError(t, err)
	require.NoError(t, h.UpdateSessionTitle(ctx, renamed, store.UntitledSession))
	_, err = h.AddMessage(ctx, renamed, userMsg("Another question"))
	require.NoError(t, err)
	session, _ = h.Session(renamed)
	assert.Equal(t, store.UntitledSession, session.Title)
}
