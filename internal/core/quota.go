package core

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

const (
	messageCountKey  = "daily_message_count"
	lastResetDateKey = "last_reset_date"

	// dateLayout is locale independent and carries no time of day.
	dateLayout = "2006-01-02"

	// Unlimited is reported as MessagesLeft and MaxMessages for premium users.
	Unlimited = -1
)

type QuotaState struct {
	MessagesUsedToday int    `json:"messages_used_today"`
	MessagesLeft      int    `json:"messages_left"`
	MaxMessages       int    `json:"max_messages"`
	LastResetDate     string `json:"last_reset_date"`
}

func (q QuotaState) Unlimited() bool {
	return q.MaxMessages == Unlimited
}

// EntitlementChecker exposes the premium flag owned by the billing side.
type EntitlementChecker interface {
	IsPremium() bool
}

// QuotaTracker counts the free messages a non-premium user sends per local
// calendar day. Every read-modify-write runs under one mutex so two
// concurrent sends can never both take the last message.
type QuotaTracker struct {
	kv          store.KeyValueStore
	entitlement EntitlementChecker
	limit       int
	failOpen    bool
	now         func() time.Time
	logger      *zap.Logger

	mu sync.Mutex
}

type QuotaOption func(*QuotaTracker)

func WithQuotaClock(now func() time.Time) QuotaOption {
	return func(t *QuotaTracker) { t.now = now }
}

// WithFailOpen decides what a storage read failure means: a fresh full quota
// (true, the default) or an exhausted one (false).
func WithFailOpen(failOpen bool) QuotaOption {
	return func(t *QuotaTracker) { t.failOpen = failOpen }
}

func NewQuotaTracker(kv store.KeyValueStore, entitlement EntitlementChecker, dailyLimit int, logger *zap.Logger, opts ...QuotaOption) *QuotaTracker {
	t := &QuotaTracker{
		kv:          kv,
		entitlement: entitlement,
		limit:       dailyLimit,
		failOpen:    true,
		now:         time.Now,
		logger:      logger.Named("quota"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *QuotaTracker) DailyLimit() int {
	return t.limit
}

func (t *QuotaTracker) premium() bool {
	return t.entitlement != nil && t.entitlement.IsPremium()
}

func (t *QuotaTracker) today() string {
	return t.now().Format(dateLayout)
}

func (t *QuotaTracker) unlimited() QuotaState {
	return QuotaState{MessagesLeft: Unlimited, MaxMessages: Unlimited, LastResetDate: t.today()}
}

func (t *QuotaTracker) stateFor(used int, date string) QuotaState {
	return QuotaState{
		MessagesUsedToday: used,
		MessagesLeft:      max(0, t.limit-used),
		MaxMessages:       t.limit,
		LastResetDate:     date,
	}
}

func (t *QuotaTracker) fallback() QuotaState {
	if t.failOpen {
		return t.stateFor(0, t.today())
	}
	return t.stateFor(t.limit, t.today())
}

// GetState returns today's quota, resetting the persisted counter first when
// the stored date is not today. Premium users get the unlimited state and the
// counters are left alone.
func (t *QuotaTracker) GetState(ctx context.Context) QuotaState {
	if t.premium() {
		return t.unlimited()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		t.logger.Warn("quota read failed, using fallback state", zap.Bool("fail_open", t.failOpen), zap.Error(err))
		return t.fallback()
	}
	return state
}

func (t *QuotaTracker) CanSend(ctx context.Context) bool {
	if t.premium() {
		return true
	}
	return t.GetState(ctx).MessagesLeft > 0
}

// Increment consumes one message. At the limit it is a silent no-op.
func (t *QuotaTracker) Increment(ctx context.Context) QuotaState {
	state, _ := t.TryIncrement(ctx)
	return state
}

// TryIncrement is Increment that also reports whether a message may be sent
// on the strength of this call. It is the reservation step of a send.
func (t *QuotaTracker) TryIncrement(ctx context.Context) (QuotaState, bool) {
	if t.premium() {
		return t.unlimited(), true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		// The real count is unknown, so nothing is written back.
		t.logger.Warn("quota read failed during increment", zap.Bool("fail_open", t.failOpen), zap.Error(err))
		return t.fallback(), t.failOpen
	}
	if state.MessagesLeft <= 0 {
		return state, false
	}

	used := state.MessagesUsedToday + 1
	if err := t.kv.Set(ctx, messageCountKey, strconv.Itoa(used)); err != nil {
		t.logger.Warn("quota write dropped", zap.Int("messages_used_today", used), zap.Error(err))
	}
	return t.stateFor(used, state.LastResetDate), true
}

// ResetDailyCount zeroes today's counter unconditionally.
func (t *QuotaTracker) ResetDailyCount(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reset(ctx, t.today())
}

// Refund gives back a message reserved by TryIncrement that was never sent.
func (t *QuotaTracker) Refund(ctx context.Context) {
	if t.premium() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state, err := t.load(ctx)
	if err != nil {
		t.logger.Warn("quota read failed during refund", zap.Error(err))
		return
	}
	if state.MessagesUsedToday == 0 {
		return
	}
	if err := t.kv.Set(ctx, messageCountKey, strconv.Itoa(state.MessagesUsedToday-1)); err != nil {
		t.logger.Warn("quota refund write dropped", zap.Error(err))
	}
}

// rollover brings the stored counter to today without touching a counter
// that already belongs to today.
func (t *QuotaTracker) rollover(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.load(ctx)
	return err
}

// load must be called with mu held.
func (t *QuotaTracker) load(ctx context.Context) (QuotaState, error) {
	today := t.today()

	date, hasDate, err := t.kv.Get(ctx, lastResetDateKey)
	if err != nil {
		return QuotaState{}, fmt.Errorf("failed to read %s: %w", lastResetDateKey, err)
	}
	raw, hasCount, err := t.kv.Get(ctx, messageCountKey)
	if err != nil {
		return QuotaState{}, fmt.Errorf("failed to read %s: %w", messageCountKey, err)
	}

	if !hasDate || date != today {
		if err := t.reset(ctx, today); err != nil {
			t.logger.Warn("quota rollover write dropped", zap.String("previous_date", date), zap.Error(err))
		}
		return t.stateFor(0, today), nil
	}

	used := 0
	if hasCount {
		used, err = strconv.Atoi(raw)
		if err != nil || used < 0 {
			t.logger.Warn("corrupt quota counter, resetting", zap.String("value", raw))
			if err := t.reset(ctx, today); err != nil {
				t.logger.Warn("quota reset write dropped", zap.Error(err))
			}
			return t.stateFor(0, today), nil
		}
	}
	return t.stateFor(used, date), nil
}

// reset must be called with mu held.
func (t *QuotaTracker) reset(ctx context.Context, today string) error {
	return multierr.Append(
		t.kv.Set(ctx, messageCountKey, "0"),
		t.kv.Set(ctx, lastResetDateKey, today),
	)
}
