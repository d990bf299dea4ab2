package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tomide/paylink/backend/internal/config"
	"github.com/tomide/paylink/backend/internal/intent"
	"github.com/tomide/paylink/backend/internal/logging"
	"github.com/tomide/paylink/backend/internal/server"
	"github.com/tomide/paylink/backend/internal/store"
	"github.com/tomide/paylink/backend/internal/voucher"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	st, err := buildStore(ctx, logger, cfg.Store)
	if err != nil {
		logger.Error("failed to open voucher store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing voucher store failed", "error", err)
		}
	}()

	grammar := intent.NewGrammar(intent.Rules{
		AllowedHosts:    config.SplitCSV(cfg.Intent.AllowedHostsCSV),
		Scheme:          cfg.Intent.Scheme,
		Currencies:      config.SplitCSV(cfg.Intent.CurrenciesCSV),
		DefaultCurrency: cfg.Intent.DefaultCurrency,
		ShortenerHosts:  config.SplitCSV(cfg.Intent.ShortenerHostsCSV),
	})

	lifecycle := voucher.NewLifecycle(st, voucher.Options{
		Currencies:     config.SplitCSV(cfg.Intent.CurrenciesCSV),
		AmountCeiling:  cfg.Voucher.AmountCeiling,
		StorageTimeout: cfg.Voucher.StorageTimeout,
	})

	apiHandlers := server.NewAPIHandlers(logger, intent.NewParser(grammar), intent.NewValidator(grammar), lifecycle, nil)

	router := server.NewRouter(logger, server.RouterDependencies{
		Health:           server.StoreHealthService{Store: st},
		API:              apiHandlers,
		RedeemLimiter:    server.NewRateLimiter(cfg.HTTP.RedeemRatePerSec, cfg.HTTP.RedeemRateBurst),
		AllowedOrigins:   config.SplitCSV(cfg.HTTP.AllowedOriginsCSV),
		AllowCredentials: true,
	})

	srv := server.New(logger, cfg.HTTP, router)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped unexpectedly", "error", err)
		os.Exit(1)
	}
}

func buildStore(ctx context.Context, logger *slog.Logger, cfg config.StoreConfig) (store.Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		logger.Warn("using in-memory voucher store, data will not survive restarts")
		return store.NewMemoryStore(), nil
	case "postgres":
		return store.OpenPostgres(ctx, store.Options{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: cfg.Password,
			Name:     cfg.Name,
			SSLMode:  cfg.SSLMode,
			MaxConns: cfg.MaxConns,
		})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
