// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config defines the typed configuration of the authd service and
// loads it from defaults, a YAML file, command-line flags and the
// environment.
package config

import (
	"net/netip"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/store"
)

// Config is the complete service configuration.
type Config struct {
	HTTPAddr    string `koanf:"http_addr"`
	MetricsAddr string `koanf:"metrics_addr"` // empty disables the observability server

	// TrustedProxies lists proxy networks (CIDR or single address) whose
	// X-Forwarded-For header is honoured.
	TrustedProxies []string `koanf:"trusted_proxies"`

	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	Tokens    TokenConfig     `koanf:"tokens"`
	Lockout   LockoutConfig   `koanf:"lockout"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Password  PasswordConfig  `koanf:"password"`
	Sweep     SweepConfig     `koanf:"sweep"`

	// Secrets never come from the config file.
	Secrets Secrets `koanf:"-"`
}

// LogConfig configures logging.Setup.
type LogConfig struct {
	Format string `koanf:"format"` // json or text
	Level  string `koanf:"level"`
}

// DatabaseConfig bounds the pool and the retry behavior of the data layer.
type DatabaseConfig struct {
	MinConns         int32         `koanf:"min_conns"`
	MaxConns         int32         `koanf:"max_conns"`
	MaxConnIdleTime  time.Duration `koanf:"max_conn_idle_time"`
	MaxConnUses      int64         `koanf:"max_conn_uses"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
	OperationTimeout time.Duration `koanf:"operation_timeout"`
	Retry            RetryConfig   `koanf:"retry"`
	TxRetry          RetryConfig   `koanf:"tx_retry"`
}

// RetryConfig mirrors store.RetryPolicy. Retry applies to single
// statements, TxRetry to whole transactions.
type RetryConfig struct {
	MaxRetries uint64        `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
}

// TokenConfig holds token lifetimes.
type TokenConfig struct {
	AccessTTL  time.Duration `koanf:"access_ttl"`
	RefreshTTL time.Duration `koanf:"refresh_ttl"`
	Issuer     string        `koanf:"issuer"`
}

// LockoutConfig mirrors auth.LockoutPolicy.
type LockoutConfig struct {
	Threshold int           `koanf:"threshold"`
	Duration  time.Duration `koanf:"duration"`
}

// RateLimitConfig sizes the two request budgets.
type RateLimitConfig struct {
	AuthMax  int           `koanf:"auth_max"`
	LoginMax int           `koanf:"login_max"`
	Window   time.Duration `koanf:"window"`
}

// PasswordConfig holds strength rules and the bcrypt cost.
type PasswordConfig struct {
	MinLength     int  `koanf:"min_length"`
	RequireUpper  bool `koanf:"require_upper"`
	RequireLower  bool `koanf:"require_lower"`
	RequireDigit  bool `koanf:"require_digit"`
	RequireSymbol bool `koanf:"require_symbol"`
	BcryptCost    int  `koanf:"bcrypt_cost"`
}

// SweepConfig mirrors auth.SweepConfig.
type SweepConfig struct {
	Interval       time.Duration `koanf:"interval"`
	TokenRetention time.Duration `koanf:"token_retention"`
	EventRetention time.Duration `koanf:"event_retention"`
}

// Secrets are read from the environment only.
type Secrets struct {
	DatabaseURL       string `env:"DATABASE_URL"`
	AccessTokenSecret string `env:"AUTHCORE_ACCESS_TOKEN_SECRET"`
	RefreshHashKey    string `env:"AUTHCORE_REFRESH_HASH_KEY"`
	SentryDSN         string `env:"SENTRY_DSN"`
	Environment       string `env:"AUTHCORE_ENV" envDefault:"development"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	retry := store.DefaultRetryPolicy()
	txRetry := store.DefaultTxRetryPolicy()
	lockout := auth.DefaultLockoutPolicy()
	password := auth.DefaultPasswordPolicy()
	sweep := auth.DefaultSweepConfig()

	return Config{
		HTTPAddr:    "127.0.0.1:8080",
		MetricsAddr: "127.0.0.1:9100",
		Log:         LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			MinConns:         1,
			MaxConns:         10,
			MaxConnIdleTime:  5 * time.Minute,
			MaxConnUses:      10000,
			ConnectTimeout:   5 * time.Second,
			StatementTimeout: 10 * time.Second,
			OperationTimeout: store.DefaultOperationTimeout,
			Retry: RetryConfig{
				MaxRetries: retry.MaxRetries,
				BaseDelay:  retry.BaseDelay,
				MaxDelay:   retry.MaxDelay,
			},
			TxRetry: RetryConfig{
				MaxRetries: txRetry.MaxRetries,
				BaseDelay:  txRetry.BaseDelay,
				MaxDelay:   txRetry.MaxDelay,
			},
		},
		Tokens: TokenConfig{
			AccessTTL:  auth.DefaultAccessTTL,
			RefreshTTL: auth.DefaultRefreshTTL,
			Issuer:     "authcore",
		},
		Lockout: LockoutConfig{Threshold: lockout.Threshold, Duration: lockout.Duration},
		RateLimit: RateLimitConfig{
			AuthMax:  auth.DefaultAuthRateMax,
			LoginMax: auth.DefaultLoginRateMax,
			Window:   auth.DefaultRateWindow,
		},
		Password: PasswordConfig{
			MinLength:     password.MinLength,
			RequireUpper:  password.RequireUpper,
			RequireLower:  password.RequireLower,
			RequireDigit:  password.RequireDigit,
			RequireSymbol: password.RequireSymbol,
			BcryptCost:    auth.DefaultBcryptCost,
		},
		Sweep: SweepConfig{
			Interval:       sweep.Interval,
			TokenRetention: sweep.TokenRetention,
			EventRetention: sweep.EventRetention,
		},
	}
}

func invalid(key, format string, args ...any) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
}

// Validate checks ranges and the secret requirements. Secrets are checked
// only when requireSecrets is set so commands that never sign tokens
// (migrate) can run without them.
func (c *Config) Validate(requireSecrets bool) error {
	if c.HTTPAddr == "" {
		return invalid("http_addr", "http_addr is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level %q is not a level", c.Log.Level)
	}

	db := c.Database
	if db.MaxConns < 1 {
		return invalid("database.max_conns", "database.max_conns must be at least 1, got %d", db.MaxConns)
	}
	if db.MinConns < 0 || db.MinConns > db.MaxConns {
		return invalid("database.min_conns", "database.min_conns must be between 0 and max_conns, got %d", db.MinConns)
	}
	if db.OperationTimeout <= 0 {
		return invalid("database.operation_timeout", "database.operation_timeout must be positive")
	}
	if db.Retry.BaseDelay <= 0 || db.Retry.MaxDelay < db.Retry.BaseDelay {
		return invalid("database.retry", "database.retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if db.TxRetry.BaseDelay <= 0 || db.TxRetry.MaxDelay < db.TxRetry.BaseDelay {
		return invalid("database.tx_retry", "database.tx_retry delays must satisfy 0 < base_delay <= max_delay")
	}
	for _, p := range c.TrustedProxies {
		if _, err := parseProxy(p); err != nil {
			return invalid("trusted_proxies", "trusted_proxies entry %q is not an address or CIDR", p)
		}
	}

	if c.Tokens.AccessTTL <= 0 || c.Tokens.RefreshTTL <= 0 {
		return invalid("tokens", "token lifetimes must be positive")
	}
	if c.Tokens.AccessTTL >= c.Tokens.RefreshTTL {
		return invalid("tokens.access_ttl", "tokens.access_ttl must be shorter than tokens.refresh_ttl")
	}
	if c.Lockout.Threshold < 1 || c.Lockout.Duration <= 0 {
		return invalid("lockout", "lockout threshold and duration must be positive")
	}
	if c.RateLimit.AuthMax < 1 || c.RateLimit.LoginMax < 1 || c.RateLimit.Window <= 0 {
		return invalid("rate_limit", "rate limits and window must be positive")
	}
	if c.Password.MinLength < 1 || c.Password.MinLength > auth.MaxPasswordBytes {
		return invalid("password.min_length", "password.min_length must be between 1 and %d", auth.MaxPasswordBytes)
	}
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		return invalid("password.bcrypt_cost", "password.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Sweep.Interval <= 0 || c.Sweep.TokenRetention <= 0 || c.Sweep.EventRetention <= 0 {
		return invalid("sweep", "sweep interval and retention must be positive")
	}

	if c.Secrets.DatabaseURL == "" {
		return invalid("DATABASE_URL", "DATABASE_URL environment variable is required")
	}
	if requireSecrets {
		if err := c.TokenConfig().Validate(); err != nil {
			return oops.Code("CONFIG_INVALID").With("key", "secrets").Wrap(err)
		}
	}
	return nil
}

// PoolConfig returns the pool settings for store.NewPool.
func (c *Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		DSN:              c.Secrets.DatabaseURL,
		MinConns:         c.Database.MinConns,
		MaxConns:         c.Database.MaxConns,
		MaxConnIdleTime:  c.Database.MaxConnIdleTime,
		MaxConnUses:      c.Database.MaxConnUses,
		ConnectTimeout:   c.Database.ConnectTimeout,
		StatementTimeout: c.Database.StatementTimeout,
	}
}

// RetryPolicy returns the statement retry policy.
func (c *Config) RetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxRetries: c.Database.Retry.MaxRetries,
		BaseDelay:  c.Database.Retry.BaseDelay,
		MaxDelay:   c.Database.Retry.MaxDelay,
	}
}

// TxRetryPolicy returns the transaction retry policy.
func (c *Config) TxRetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		MaxRetries: c.Database.TxRetry.MaxRetries,
		BaseDelay:  c.Database.TxRetry.BaseDelay,
		MaxDelay:   c.Database.TxRetry.MaxDelay,
	}
}

// TrustedProxyPrefixes returns TrustedProxies as prefixes. Entries that do
// not parse are skipped; Validate rejects them.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, p := range c.TrustedProxies {
		if prefix, err := parseProxy(p); err == nil {
			prefixes = append(prefixes, prefix)
		}
	}
	return prefixes
}

func parseProxy(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		return prefix.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// TokenConfig returns the token service configuration.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		AccessSecret:   []byte(c.Secrets.AccessTokenSecret),
		RefreshHashKey: []byte(c.Secrets.RefreshHashKey),
		AccessTTL:      c.Tokens.AccessTTL,
		RefreshTTL:     c.Tokens.RefreshTTL,
		Issuer:         c.Tokens.Issuer,
	}
}

// LockoutPolicy returns the lockout policy.
func (c *Config) LockoutPolicy() auth.LockoutPolicy {
	return auth.LockoutPolicy{Threshold: c.Lockout.Threshold, Duration: c.Lockout.Duration}
}

// PasswordPolicy returns the password strength policy.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:     c.Password.MinLength,
		RequireUpper:  c.Password.RequireUpper,
		RequireLower:  c.Password.RequireLower,
		RequireDigit:  c.Password.RequireDigit,
		RequireSymbol: c.Password.RequireSymbol,
	}
}

// AuthRateLimit returns the register/change-password budget.
func (c *Config) AuthRateLimit() auth.RateLimitConfig {
	return auth.RateLimitConfig{Name: "auth", Max: c.RateLimit.AuthMax, Window: c.RateLimit.Window}
}

// LoginRateLimit returns the failed-login budget.
func (c *Config) LoginRateLimit() auth.RateLimitConfig {
	return auth.RateLimitConfig{Name: "login", Max: c.RateLimit.LoginMax, Window: c.RateLimit.Window}
}

// SweepConfig returns the retention sweep configuration.
func (c *Config) SweepConfig() auth.SweepConfig {
	return auth.SweepConfig{
		Interval:       c.Sweep.Interval,
		TokenRetention: c.Sweep.TokenRetention,
		EventRetention: c.Sweep.EventRetention,
	}
}
