// Package config defines the top-level configuration for the bond escrow node
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BONDESCROW_* environment variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Replay   ReplayConfig   `toml:"replay"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
	// APIKey guards operator endpoints such as the archive trigger. Empty
	// disables them.
	APIKey string `toml:"api_key"`
}

// ChainConfig fixes the system identities, construction-time parameters and
// the genesis state applied before the journal on every start.
type ChainConfig struct {
	Admin         string `toml:"admin"`
	Escrow        string `toml:"escrow"`
	Treasury      string `toml:"treasury"`
	RewardRateBps uint64 `toml:"reward_rate_bps"`

	GovernanceFeeBps uint64 `toml:"governance_fee_bps"`
	AffiliateFeeBps  uint64 `toml:"affiliate_fee_bps"`

	VotingPeriod  duration `toml:"voting_period"`
	RequiredVotes uint64   `toml:"required_votes"`

	Adjudicators []string `toml:"adjudicators"`
	// Balances maps holder address to a decimal token amount minted at
	// genesis.
	Balances map[string]string `toml:"balances"`

	// WriterLeaseTTL is the lifetime of the single-writer lease in Redis.
	WriterLeaseTTL duration `toml:"writer_lease_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	KeyPrefix    string `toml:"key_prefix"`
	StreamMaxLen int64  `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// MaxClockSkew bounds how far a signed request timestamp may drift from
	// the server clock.
	MaxClockSkew duration `toml:"max_clock_skew"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPI       string   `toml:"telegram_api"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls periodic journal exports to object storage.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ReplayConfig selects where replay mode reads the journal from.
type ReplayConfig struct {
	Source string `toml:"source"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RewardRateBps:    500,
			GovernanceFeeBps: 500,
			AffiliateFeeBps:  200,
			VotingPeriod:     duration{7 * 24 * time.Hour},
			RequiredVotes:    2,
			Balances:         map[string]string{},
			WriterLeaseTTL:   duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bondescrow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "bondescrow:",
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bondescrow",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
			MaxClockSkew: duration{5 * time.Minute},
			RateLimit:    120,
			RateWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"BondPosted", "BondExpired", "LeakAdjudicated", "ProposalCreated", "ProposalDismissed"},
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Interval: duration{time.Hour},
		},
		Replay: ReplayConfig{
			Source: "postgres",
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"replay": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validReplaySources = map[string]bool{
	"postgres": true,
	"s3":       true,
}

// Fees returns the configured protocol fee rates.
func (c ChainConfig) Fees() domain.FeeRates {
	return domain.FeeRates{GovernanceBps: c.GovernanceFeeBps, AffiliateBps: c.AffiliateFeeBps}
}

// VotingPeriodSeconds is the voting window in whole seconds.
func (c ChainConfig) VotingPeriodSeconds() uint64 {
	return uint64(c.VotingPeriod.Duration / time.Second)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, replay)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain identities
	for name, v := range map[string]string{
		"admin":    c.Chain.Admin,
		"escrow":   c.Chain.Escrow,
		"treasury": c.Chain.Treasury,
	} {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Sprintf("chain: %s must be a hex address, got %q", name, v))
		} else if common.HexToAddress(v) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("chain: %s must not be the zero address", name))
		}
	}
	if err := c.Chain.Fees().Validate(); err != nil {
		errs = append(errs, "chain: "+err.Error())
	}
	if c.Chain.VotingPeriod.Duration < time.Second {
		errs = append(errs, "chain: voting_period must be at least 1s")
	}
	if c.Chain.RequiredVotes < 1 {
		errs = append(errs, "chain: required_votes must be >= 1")
	}
	for _, a := range c.Chain.Adjudicators {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Sprintf("chain: adjudicator %q is not a hex address", a))
		}
	}
	for holder, amount := range c.Chain.Balances {
		if !common.IsHexAddress(holder) {
			errs = append(errs, fmt.Sprintf("chain: balance holder %q is not a hex address", holder))
		}
		if v, ok := math.ParseBig256(amount); !ok || v.Sign() <= 0 {
			errs = append(errs, fmt.Sprintf("chain: balance for %s must be a positive integer, got %q", holder, amount))
		}
	}
	if c.Chain.WriterLeaseTTL.Duration < time.Second {
		errs = append(errs, "chain: writer_lease_ttl must be at least 1s")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed when something reads or writes archives.
	if c.Archive.Enabled || c.Replay.Source == "s3" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.MaxClockSkew.Duration <= 0 {
		errs = append(errs, "server: max_clock_skew must be > 0")
	}
	if c.Server.RateLimit < 1 {
		errs = append(errs, "server: rate_limit must be >= 1")
	}
	if c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Archive
	if c.Archive.Enabled && c.Archive.Interval.Duration < time.Minute {
		errs = append(errs, "archive: interval must be at least 1m when enabled")
	}

	// Replay
	if !validReplaySources[strings.ToLower(c.Replay.Source)] {
		errs = append(errs, fmt.Sprintf("replay: unknown source %q (valid: postgres, s3)", c.Replay.Source))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
