package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

const subscriptionKey = "subscription"

type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanYearly  Plan = "yearly"
)

func (p Plan) Valid() bool {
	return p == PlanMonthly || p == PlanYearly
}

type Subscription struct {
	IsPremium bool       `json:"isPremium"`
	Type      Plan       `json:"subscriptionType,omitempty"`
	Date      *time.Time `json:"subscriptionDate,omitempty"`
}

// SubscriptionStore stands in for the in-app purchase provider: it keeps the
// entitlement in memory for synchronous reads and writes it through to the
// key-value store.
type SubscriptionStore struct {
	kv     store.KeyValueStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state Subscription
}

func NewSubscriptionStore(ctx context.Context, kv store.KeyValueStore, logger *zap.Logger) *SubscriptionStore {
	s := &SubscriptionStore{kv: kv, logger: logger.Named("subscription"), now: time.Now}

	raw, ok, err := kv.Get(ctx, subscriptionKey)
	switch {
	case err != nil:
		s.logger.Warn("failed to read subscription, treating user as free", zap.Error(err))
	case ok:
		if err := json.Unmarshal([]byte(raw), &s.state); err != nil {
			s.logger.Warn("corrupt subscription record, treating user as free", zap.Error(err))
			s.state = Subscription{}
		}
	}
	return s
}

func (s *SubscriptionStore) IsPremium() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsPremium
}

func (s *SubscriptionStore) Status() Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetPremium records a completed purchase.
func (s *SubscriptionStore) SetPremium(ctx context.Context, plan Plan) (Subscription, error) {
	if !plan.Valid() {
		return Subscription{}, fmt.Errorf("%q: %w", plan, ErrInvalidPlan)
	}
	now := s.now().UTC()
	next := Subscription{IsPremium: true, Type: plan, Date: &now}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, next); err != nil {
		return s.state, err
	}
	s.state = next
	s.logger.Info("premium activated", zap.String("plan", string(plan)))
	return next, nil
}

func (s *SubscriptionStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(ctx, Subscription{}); err != nil {
		return err
	}
	s.state = Subscription{}
	s.logger.Info("subscription reset")
	return nil
}

func (s *SubscriptionStore) save(ctx context.Context, sub Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}
	if err := s.kv.Set(ctx, subscriptionKey, string(data)); err != nil {
		return fmt.Errorf("failed to persist subscription: %w", err)
	}
	return nil
}
