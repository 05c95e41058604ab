package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/szaher/llmhub/internal/config"
	"github.com/szaher/llmhub/internal/httpapi"
	"github.com/szaher/llmhub/internal/hub"
	"github.com/szaher/llmhub/internal/store"
	"github.com/szaher/llmhub/internal/telemetry"
	"github.com/szaher/llmhub/internal/ws"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Bind address (overrides config)")
	return cmd
}

func serve(parent context.Context, cfg config.Config) error {
	logger := telemetry.NewLogger(os.Stdout, telemetry.ParseLevel(cfg.LogLevel))
	metrics := telemetry.NewMetrics()

	var auditStore store.Store
	if cfg.StorePath != "" {
		badgerStore, err := store.OpenBadger(cfg.StorePath)
		if err != nil {
			// Audit unavailability must not block routing.
			logger.Error("audit store unavailable, auditing disabled", "path", cfg.StorePath, "error", err)
		} else {
			auditStore = badgerStore
			defer func() { _ = badgerStore.Close() }()
		}
	}

	h := hub.New(logger.With("component", "hub"), metrics, auditStore, hub.Config{
		RequestTTL: cfg.RequestTTL.Std(),
		AuditQueue: cfg.AuditQueue,
	})
	transport := ws.NewServer(h, logger.With("component", "ws"))
	api := httpapi.NewServer(h, transport, metrics, httpapi.WithLogger(logger.With("component", "http")))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := api.ListenAndServe(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return api.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
