package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port        string        `toml:"port"`
	DatabaseURL string        `toml:"-"`
	JWTSecret   string        `toml:"-"`
	TokenTTL    time.Duration `toml:"token_ttl"`
	CORSOrigins []string      `toml:"cors_origins"`
	ReadOnly    bool          `toml:"read_only"`

	Ledger LedgerConfig `toml:"ledger"`
	Cache  CacheConfig  `toml:"cache"`
	Plaid  PlaidConfig  `toml:"plaid"`
}

type LedgerConfig struct {
	Currency           string        `toml:"currency"`
	ReconcileWindow    time.Duration `toml:"reconcile_window"`
	ReconcileInterval  time.Duration `toml:"reconcile_interval"`
	ManualFee          int64         `toml:"manual_fee"`
	NotificationBuffer int           `toml:"notification_buffer"`
}

type CacheConfig struct {
	MaxEntries int64 `toml:"max_entries"`
}

type PlaidConfig struct {
	ClientID   string `toml:"-"`
	Secret     string `toml:"-"`
	Env        string `toml:"env"`
	WebhookURL string `toml:"webhook_url"`
	ClientName string `toml:"client_name"`
}

// Enabled reports whether Plaid credentials were supplied.
func (p PlaidConfig) Enabled() bool {
	return p.ClientID != "" && p.Secret != ""
}

func DefaultConfig() Config {
	return Config{
		Port:        "8080",
		TokenTTL:    24 * time.Hour,
		CORSOrigins: []string{"http://localhost:3000"},
		Ledger: LedgerConfig{
			Currency:           "KES",
			ReconcileWindow:    30 * time.Minute,
			ReconcileInterval:  5 * time.Minute,
			NotificationBuffer: 50,
		},
		Cache: CacheConfig{MaxEntries: 10_000},
		Plaid: PlaidConfig{Env: "sandbox", ClientName: "Fundflow"},
	}
}

// Load builds the configuration from defaults, the optional TOML file named
// by LEDGER_CONFIG, and then the environment (including a .env file), in
// increasing order of precedence.
func Load() (Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := getEnv("LEDGER_CONFIG", ""); path != "" {
		if err := LoadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.Ledger.Currency = strings.ToUpper(getEnv("CURRENCY", cfg.Ledger.Currency))
	cfg.Plaid.ClientID = getEnv("PLAID_CLIENT_ID", cfg.Plaid.ClientID)
	cfg.Plaid.Secret = getEnv("PLAID_SECRET", cfg.Plaid.Secret)
	cfg.Plaid.Env = getEnv("PLAID_ENV", cfg.Plaid.Env)
	cfg.Plaid.WebhookURL = getEnv("PLAID_WEBHOOK_URL", cfg.Plaid.WebhookURL)
	cfg.Plaid.ClientName = getEnv("PLAID_CLIENT_NAME", cfg.Plaid.ClientName)

	if v := getEnv("CORS_ORIGINS", ""); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return err
	}
	if cfg.Ledger.ReconcileWindow, err = getDuration("RECONCILE_WINDOW", cfg.Ledger.ReconcileWindow); err != nil {
		return err
	}
	if cfg.Ledger.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", cfg.Ledger.ReconcileInterval); err != nil {
		return err
	}
	if v := getEnv("CACHE_MAX_COST", ""); v != "" {
		if cfg.Cache.MaxEntries, err = strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("CACHE_MAX_COST: %w", err)
		}
	}
	if v := getEnv("READ_ONLY", ""); v != "" {
		if cfg.ReadOnly, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("READ_ONLY: %w", err)
		}
	}
	return nil
}

// Validate checks the settings a server needs. A memory-backed server does
// not need a database.
func (c Config) Validate(memory bool) error {
	if !memory && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Ledger.ReconcileWindow <= 0 || c.Ledger.ReconcileInterval <= 0 {
		return errors.New("reconcile window and interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
