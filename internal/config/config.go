package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "VaultBank"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultNativeFeed      = "native-usd"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	// Fixed-point scales for the two limits: the exposure cap is held in
	// 8-decimal reference units, the withdrawal ceiling in 18-decimal native
	// smallest units.
	referenceDecimals = 8
	nativeDecimals    = 18
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	NativeFeed     string
	AdminAccount   string
	AdminKeyHash   string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// GlobalExposureCapUSD is parsed from a human-readable decimal string
	// (e.g. "20000.00") into 8-decimal reference units.
	GlobalExposureCapUSD *big.Int
	// PerTxWithdrawLimit is parsed from a human-readable decimal string
	// denominated in whole native units (e.g. "0.05") into smallest units.
	PerTxWithdrawLimit *big.Int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		NativeFeed:     getEnv("NATIVE_FEED", defaultNativeFeed),
		AdminAccount:   os.Getenv("ADMIN_ACCOUNT"),
		AdminKeyHash:   os.Getenv("ADMIN_KEY_HASH"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	var err error
	cfg.GlobalExposureCapUSD, err = parseFixed("GLOBAL_EXPOSURE_CAP_USD", referenceDecimals)
	if err != nil {
		return Config{}, err
	}
	cfg.PerTxWithdrawLimit, err = parseFixed("PER_TX_WITHDRAW_LIMIT", nativeDecimals)
	if err != nil {
		return Config{}, err
	}

	if cfg.AdminAccount == "" {
		return Config{}, fmt.Errorf("ADMIN_ACCOUNT must be set")
	}

	// Development runs on the in-memory ledger and the deterministic price
	// adapter; production requires both backing stores.
	if cfg.AppEnv == "production" {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set in production")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set in production")
		}
		if cfg.AdminKeyHash == "" {
			return Config{}, fmt.Errorf("ADMIN_KEY_HASH must be set in production")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// parseFixed reads a required decimal environment variable and scales it to a
// fixed-point integer with the given number of decimals. Sub-precision digits
// are rejected rather than silently truncated.
func parseFixed(key string, decimals int32) (*big.Int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, fmt.Errorf("%s must be set", key)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", key)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid %s: more than %d decimal places", key, decimals)
	}
	return scaled.BigInt(), nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
