package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"escrowlink/internal/escrow"
	"escrowlink/internal/idempotency"
	"escrowlink/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the escrow operations over HTTP",
		Long: `serve establishes a wallet session once at startup and exposes reads and
HMAC-signed, idempotent submissions under /api/v1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := slog.New(serviceHandler(a.cfg.Service.LogFormat, a.cfg.Service.LogLevel))
	a.logger = logger

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	client, err := escrow.NewEthClient(sess, escrow.EthClientConfig{
		ContractAddress: a.cfg.Chain.ContractAddress,
		Decimals:        a.cfg.Chain.Decimals,
		PollInterval:    a.cfg.Chain.PollInterval,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	if a.cfg.Service.HMACSecret == "" {
		logger.Warn("HMAC_SECRET is empty, submissions are not authenticated")
	}

	apiServer := server.NewServer(a.cfg, client, store, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

// openStore picks Postgres when a DSN is configured and the JSON file store
// otherwise.
func (a *app) openStore(ctx context.Context) (idempotency.Store, func(), error) {
	if dsn := a.cfg.Service.IdempotencyPostgresDSN; dsn != "" {
		pg, err := idempotency.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	fs, err := idempotency.NewFileStore(a.cfg.Service.IdempotencyStorePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func serviceHandler(format, level string) slog.Handler {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}
