package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"
	"hulkai.app/hulk-chat/internal/store"
)

var errStorageDown = errors.New("storage unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// premiumFlag is a settable EntitlementChecker. A function stored in
// onNextCheck runs once, on the next IsPremium call.
type premiumFlag struct {
	atomic.Bool
	onNextCheck atomic.Pointer[func()]
}

func (p *premiumFlag) IsPremium() bool {
	if fn := p.onNextCheck.Swap(nil); fn != nil {
		(*fn)()
	}
	return p.Load()
}

// flakyStore wraps a MemoryStore and fails reads or writes on demand.
type flakyStore struct {
	*store.MemoryStore
	failGet atomic.Bool
	failSet atomic.Bool
	sets    atomic.Int64
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore()}
}

func (f *flakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet.Load() {
		return "", false, errStorageDown
	}
	return f.MemoryStore.Get(ctx, key)
}

func (f *flakyStore) Set(ctx context.Context, key, value string) error {
	f.sets.Add(1)
	if f.failSet.Load() {
		return errStorageDown
	}
	return f.MemoryStore.Set(ctx, key, value)
}

func (f *flakyStore) value(key string) string {
	v, _, _ := f.MemoryStore.Get(context.Background(), key)
	return v
}

// MockCompleter is a mock type for the Completer interface
type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string, history []Turn, model, systemPrompt string) (string, error) {
	args := m.Called(ctx, prompt, history, model, systemPrompt)
	return args.String(0), args.Error(1)
}

var testDay = time.Date(2026, time.October, 15, 9, 30, 0, 0, time.Local)
