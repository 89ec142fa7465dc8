package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/config"
	"hulkai.app/hulk-chat/internal/store"
)

const selectedModelKey = "selected_model"

type ModelOption struct {
	config.ModelConfig
	Available bool `json:"available"`
	Selected  bool `json:"selected"`
}

// ModelSelector remembers which catalog model the user picked. Premium models
// can only be picked, and only take effect, while the user is premium.
type ModelSelector struct {
	catalog     []config.ModelConfig
	defaultID   string
	kv          store.KeyValueStore
	entitlement EntitlementChecker
	logger      *zap.Logger

	mu       sync.RWMutex
	selected string
}

func NewModelSelector(ctx context.Context, catalog []config.ModelConfig, defaultID string, kv store.KeyValueStore, entitlement EntitlementChecker, logger *zap.Logger) (*ModelSelector, error) {
	s := &ModelSelector{
		catalog:     catalog,
		defaultID:   defaultID,
		kv:          kv,
		entitlement: entitlement,
		logger:      logger.Named("models"),
	}
	if _, ok := s.lookup(defaultID); !ok {
		return nil, fmt.Errorf("default model %q: %w", defaultID, ErrUnknownModel)
	}

	id, ok, err := kv.Get(ctx, selectedModelKey)
	if err != nil {
		s.logger.Warn("failed to read selected model, using default", zap.Error(err))
	} else if ok {
		s.selected = id
	}
	return s, nil
}

func (s *ModelSelector) lookup(id string) (config.ModelConfig, bool) {
	for _, m := range s.catalog {
		if m.ID == id {
			return m, true
		}
	}
	return config.ModelConfig{}, false
}

func (s *ModelSelector) available(m config.ModelConfig) bool {
	return !m.Premium || (s.entitlement != nil && s.entitlement.IsPremium())
}

func (s *ModelSelector) Default() config.ModelConfig {
	m, _ := s.lookup(s.defaultID)
	return m
}

// Lookup returns a model the user is currently allowed to use.
func (s *ModelSelector) Lookup(id string) (config.ModelConfig, error) {
	m, ok := s.lookup(id)
	if !ok {
		return config.ModelConfig{}, fmt.Errorf("%q: %w", id, ErrUnknownModel)
	}
	if !s.available(m) {
		return config.ModelConfig{}, fmt.Errorf("%q: %w", id, ErrPremiumRequired)
	}
	return m, nil
}

// Selected resolves the stored choice, falling back to the default when the
// stored id is gone from the catalog or the premium entitlement lapsed.
func (s *ModelSelector) Selected() config.ModelConfig {
	s.mu.RLock()
	id := s.selected
	s.mu.RUnlock()

	if id == "" {
		return s.Default()
	}
	m, err := s.Lookup(id)
	if err != nil {
		return s.Default()
	}
	return m
}

func (s *ModelSelector) Select(ctx context.Context, id string) (config.ModelConfig, error) {
	m, err := s.Lookup(id)
	if err != nil {
		return config.ModelConfig{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = id
	if err := s.kv.Set(ctx, selectedModelKey, id); err != nil {
		s.logger.Warn("selected model write dropped", zap.String("model_id", id), zap.Error(err))
	}
	return m, nil
}

func (s *ModelSelector) Options() []ModelOption {
	current := s.Selected()
	out := make([]ModelOption, 0, len(s.catalog))
	for _, m := range s.catalog {
		out = append(out, ModelOption{
			ModelConfig: m,
			Available:   s.available(m),
			Selected:    m.ID == current.ID,
		})
	}
	return out
}
