package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"hulkai.app/hulk-chat/internal/api"
	"hulkai.app/hulk-chat/internal/config"
	"hulkai.app/hulk-chat/internal/core"
)

var rootCmd = &cobra.Command{
	Use:           "hulkd",
	Short:         "hulkd - chat backend with a daily free-message quota",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	RunE:  runServe,
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's message quota and plan",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
		a.printStatus(ctx, cmd.OutOrStdout())
		return nil
	}),
}

var quotaResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset today's message count to zero",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
		if err := a.quota.ResetDailyCount(ctx); err != nil {
			return fmt.Errorf("reset quota: %w", err)
		}
		a.printStatus(ctx, cmd.OutOrStdout())
		return nil
	}),
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage stored chat history",
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every chat session (cannot be undone)",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
		n := len(a.history.Sessions())
		a.history.ClearAllSessions(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
		return nil
	}),
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
		a.printModels(cmd.OutOrStdout())
		return nil
	}),
}

func init() {
	quotaCmd.AddCommand(quotaResetCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(serveCmd, quotaCmd, historyCmd, modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogLevel == "DEBUG" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// withApp loads configuration and opens the stores around a maintenance command.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer logger.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, cmd)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	completer, err := a.newCompleter(ctx)
	if err != nil {
		return fmt.Errorf("initialize completion provider: %w", err)
	}

	scheduler, err := core.NewDailyResetScheduler(a.quota, cfg.DailyResetSchedule, logger)
	if err != nil {
		return err
	}

	chatService := core.NewChatService(a.history, a.gate, a.models, completer, logger)
	apiHandler := api.NewAPIHandler(api.Services{
		Chat:         chatService,
		History:      a.history,
		Gate:         a.gate,
		Quota:        a.quota,
		Subscription: a.subscription,
		Models:       a.models,
	}, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      api.NewRouter(apiHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // completion calls can take time
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("provider", cfg.LLMProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited gracefully")
	return nil
}
