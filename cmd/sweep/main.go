package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomide/paylink/backend/internal/config"
	"github.com/tomide/paylink/backend/internal/logging"
	"github.com/tomide/paylink/backend/internal/store"
	"github.com/tomide/paylink/backend/internal/voucher"
)

func main() {
	var (
		interval = flag.Duration("interval", 0, "Re-run the sweep on this interval; 0 sweeps once and exits")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "sweep")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.OpenPostgres(ctx, store.Options{
		Host:     cfg.Store.Host,
		Port:     cfg.Store.Port,
		User:     cfg.Store.User,
		Password: cfg.Store.Password,
		Name:     cfg.Store.Name,
		SSLMode:  cfg.Store.SSLMode,
		MaxConns: cfg.Store.MaxConns,
	})
	if err != nil {
		logger.Error("failed to open voucher store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing voucher store failed", "error", err)
		}
	}()

	lifecycle := voucher.NewLifecycle(st, voucher.Options{
		StorageTimeout: cfg.Voucher.StorageTimeout,
	})

	if err := sweepOnce(ctx, logger, lifecycle); err != nil {
		os.Exit(1)
	}
	if *interval <= 0 {
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweep stopped")
			return
		case <-ticker.C:
			// Keep looping on failures; the next tick gets a fresh attempt.
			_ = sweepOnce(ctx, logger, lifecycle)
		}
	}
}

func sweepOnce(ctx context.Context, logger *slog.Logger, lifecycle *voucher.Lifecycle) error {
	start := time.Now()
	count, err := lifecycle.ExpireSweep(ctx)
	if err != nil {
		logger.Error("expiry sweep failed", "error", err)
		return err
	}
	logger.Info("expiry sweep complete", "expired", count, "duration", time.Since(start).String())
	return nil
}
