package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/store"
)

func TestSubscriptionDefaultsToFree(t *testing.T) {
	s := NewSubscriptionStore(context.Background(), store.NewMemoryStore(), zap.NewNop())

	assert.False(t, s.IsPremium())
	assert.Equal(t, Subscription{}, s.Status())
}

func TestSubscriptionPurchasePersists(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	s := NewSubscriptionStore(ctx, kv, zap.NewNop())

	sub, err := s.SetPremium(ctx, PlanYearly)
	require.NoError(t, err)
	assert.True(t, sub.IsPremium)
	assert.Equal(t, PlanYearly, sub.Type)
	require.NotNil(t, sub.Date)
	assert.True(t, s.IsPremium())

	reloaded := NewSubscriptionStore(ctx, kv, zap.NewNop())
	assert.True(t, reloaded.IsPremium())
	assert.Equal(t, PlanYearly, reloaded.Status().Type)
	assert.True(t, sub.Date.Equal(*reloaded.Status().Date))

	require.NoError(t, reloaded.Reset(ctx))
	assert.False(t, reloaded.IsPremium())
	assert.False(t, NewSubscriptionStore(ctx, kv, zap.NewNop()).IsPremium())
}

func TestSubscriptionRejectsUnknownPlan(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore(ctx, store.NewMemoryStore(), zap.NewNop())

	_, err := s.SetPremium(ctx, Plan("weekly"))

	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.False(t, s.IsPremium())
}

func TestSubscriptionWriteFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	kv := newFlakyStore()
	s := NewSubscriptionStore(ctx, kv, zap.NewNop())
	kv.failSet.Store(true)

	_, err := s.SetPremium(ctx, PlanMonthly)

	assert.ErrorIs(t, err, errStorageDown)
	assert.False(t, s.IsPremium())
}

func TestSubscriptionCorruptRecordIsFree(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, subscriptionKey, "premium!"))

	s := NewSubscriptionStore(ctx, kv, zap.NewNop())

	assert.False(t, s.IsPremium())
}
