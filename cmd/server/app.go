package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/config"
	"hulkai.app/hulk-chat/internal/core"
	"hulkai.app/hulk-chat/internal/store"
)

// app holds the process-wide stores. It is built once per command and passed
// down explicitly.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	kv     store.KeyValueStore

	subscription *core.SubscriptionStore
	quota        *core.QuotaTracker
	history      *core.ChatHistoryStore
	gate         *core.EntitlementGate
	models       *core.ModelSelector

	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, kv store.KeyValueStore, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, kv: kv}

	a.subscription = core.NewSubscriptionStore(ctx, kv, logger)
	a.quota = core.NewQuotaTracker(kv, a.subscription, cfg.DailyLimit, logger, core.WithFailOpen(cfg.QuotaFailOpen))
	a.history = core.NewChatHistoryStore(ctx, kv, logger)
	a.gate = core.NewEntitlementGate(a.quota, a.subscription)

	models, err := core.NewModelSelector(ctx, cfg.Models, cfg.DefaultModel, kv, a.subscription, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize model catalog: %w", err)
	}
	a.models = models
	return a, nil
}

// openApp opens the configured database and builds the stores on top of it.
func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a, err := newApp(ctx, cfg, db, logger)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	a.closers = append(a.closers, db)
	return a, nil
}

func (a *app) newCompleter(ctx context.Context) (core.Completer, error) {
	if err := a.cfg.RequireProviderKey(); err != nil {
		return nil, err
	}
	switch a.cfg.LLMProvider {
	case config.ProviderGemini:
		c, err := core.NewGeminiCompleter(ctx, a.cfg.GeminiAPIKey, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c)
		return c, nil
	default:
		return core.NewOpenAICompleter(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, a.logger)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

func (a *app) printStatus(ctx context.Context, w io.Writer) {
	status := a.gate.Status(ctx)
	sub := a.subscription.Status()

	plan := "free"
	if sub.IsPremium {
		plan = "premium (" + string(sub.Type) + ")"
	}
	fmt.Fprintf(w, "plan:          %s\n", plan)
	if status.MaxMessages == core.Unlimited {
		fmt.Fprintf(w, "messages left: unlimited\n")
	} else {
		fmt.Fprintf(w, "messages left: %d/%d\n", status.MessagesLeft, status.MaxMessages)
	}
	fmt.Fprintf(w, "display:       %s\n", status.Display)
	fmt.Fprintf(w, "model:         %s\n", a.models.Selected().Name)
	fmt.Fprintf(w, "sessions:      %d\n", len(a.history.Sessions()))
}

func (a *app) printModels(w io.Writer) {
	for _, m := range a.models.Options() {
		marker := " "
		if m.Selected {
			marker = "*"
		}
		lock := ""
		if !m.Available {
			lock = " [premium required]"
		}
		fmt.Fprintf(w, "%s %-16s %-18s %s%s\n", marker, m.ID, m.Name, m.Model, lock)
	}
}
