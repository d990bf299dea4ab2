package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP    HTTPConfig
	Store   StoreConfig
	Logging LoggingConfig
	Intent  IntentConfig
	Voucher VoucherConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOriginsCSV string
	RedeemRatePerSec  float64
	RedeemRateBurst   int
}

// StoreConfig describes connectivity to the voucher store.
type StoreConfig struct {
	// Driver selects the backing store: "postgres" or "memory".
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string
	Format        string // text|json
	IncludeCaller bool
}

// IntentConfig carries the recognition rules for payment payloads.
type IntentConfig struct {
	AllowedHostsCSV   string
	Scheme            string
	CurrenciesCSV     string
	DefaultCurrency   string
	ShortenerHostsCSV string
}

// VoucherConfig tunes the voucher lifecycle.
type VoucherConfig struct {
	AmountCeiling  decimal.Decimal
	StorageTimeout time.Duration
}

const (
	defaultHost            = "0.0.0.0"
	defaultPort            = 8080
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLoggingLevel    = "info"
	defaultLoggingFormat   = "text"

	defaultStoreDriver    = "postgres"
	defaultStoreMaxConns  = 10
	defaultStorageTimeout = 3 * time.Second

	defaultScheme          = "paylink"
	defaultAllowedHosts    = "paylink.app"
	defaultCurrencies      = "USDC,APT"
	defaultCurrency        = "USDC"
	defaultShortenerHosts  = "bit.ly,tinyurl.com,t.co,goo.gl,is.gd,ow.ly,buff.ly"
	defaultAmountCeiling   = "10000"
	defaultRedeemRate      = 1.0
	defaultRedeemRateBurst = 5
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Host:             valueOrDefault("SERVER_HOST", defaultHost),
			ReadTimeout:      defaultReadTimeout,
			WriteTimeout:     defaultWriteTimeout,
			IdleTimeout:      defaultIdleTimeout,
			ShutdownTimeout:  defaultShutdownTimeout,
			RedeemRatePerSec: parseFloatWithDefault("SERVER_REDEEM_RATE", defaultRedeemRate),
			RedeemRateBurst:  parseIntWithDefault("SERVER_REDEEM_BURST", defaultRedeemRateBurst),
		},
		Store: StoreConfig{
			Driver:   valueOrDefault("STORE_DRIVER", defaultStoreDriver),
			Host:     valueOrDefault("STORE_HOST", "localhost"),
			Port:     valueOrDefault("STORE_PORT", "5432"),
			User:     valueOrDefault("STORE_USER", "postgres"),
			Password: valueOrDefault("STORE_PASSWORD", "postgres"),
			Name:     valueOrDefault("STORE_NAME", "paylink"),
			SSLMode:  valueOrDefault("STORE_SSLMODE", "disable"),
			MaxConns: parseIntWithDefault("STORE_MAX_CONNECTIONS", defaultStoreMaxConns),
		},
		Logging: LoggingConfig{
			Level:         valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format:        valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
			IncludeCaller: parseBoolWithDefault("LOG_INCLUDE_CALLER", false),
		},
		Intent: IntentConfig{
			AllowedHostsCSV:   valueOrDefault("INTENT_ALLOWED_HOSTS", defaultAllowedHosts),
			Scheme:            valueOrDefault("INTENT_SCHEME", defaultScheme),
			CurrenciesCSV:     valueOrDefault("INTENT_CURRENCIES", defaultCurrencies),
			DefaultCurrency:   valueOrDefault("INTENT_DEFAULT_CURRENCY", defaultCurrency),
			ShortenerHostsCSV: valueOrDefault("INTENT_SHORTENER_HOSTS", defaultShortenerHosts),
		},
		Voucher: VoucherConfig{
			StorageTimeout: defaultStorageTimeout,
		},
	}

	port, err := parsePort("SERVER_PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	for _, tc := range []struct {
		key  string
		dest *time.Duration
	}{
		{"SERVER_READ_TIMEOUT", &cfg.HTTP.ReadTimeout},
		{"SERVER_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout},
		{"SERVER_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout},
		{"SERVER_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
		{"VOUCHER_STORAGE_TIMEOUT", &cfg.Voucher.StorageTimeout},
	} {
		if v := os.Getenv(tc.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", tc.key, err)
			}
			*tc.dest = d
		}
	}

	ceiling := valueOrDefault("VOUCHER_AMOUNT_CEILING", defaultAmountCeiling)
	cfg.Voucher.AmountCeiling, err = decimal.NewFromString(ceiling)
	if err != nil {
		return Config{}, fmt.Errorf("invalid VOUCHER_AMOUNT_CEILING %q: %w", ceiling, err)
	}

	cfg.HTTP.AllowedOriginsCSV = os.Getenv("SERVER_ALLOWED_ORIGINS")

	return cfg, nil
}

// SplitCSV turns a comma-separated value into its trimmed, non-empty parts.
func SplitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var parts []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseFloatWithDefault(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			return val
		}
	}
	return fallback
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}
