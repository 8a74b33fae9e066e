package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BONDESCROW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BONDESCROW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Admin, "BONDESCROW_CHAIN_ADMIN")
	setStr(&cfg.Chain.Escrow, "BONDESCROW_CHAIN_ESCROW")
	setStr(&cfg.Chain.Treasury, "BONDESCROW_CHAIN_TREASURY")
	setUint64(&cfg.Chain.RewardRateBps, "BONDESCROW_CHAIN_REWARD_RATE_BPS")
	setUint64(&cfg.Chain.GovernanceFeeBps, "BONDESCROW_CHAIN_GOVERNANCE_FEE_BPS")
	setUint64(&cfg.Chain.AffiliateFeeBps, "BONDESCROW_CHAIN_AFFILIATE_FEE_BPS")
	setDuration(&cfg.Chain.VotingPeriod, "BONDESCROW_CHAIN_VOTING_PERIOD")
	setUint64(&cfg.Chain.RequiredVotes, "BONDESCROW_CHAIN_REQUIRED_VOTES")
	setStringSlice(&cfg.Chain.Adjudicators, "BONDESCROW_CHAIN_ADJUDICATORS")
	setDuration(&cfg.Chain.WriterLeaseTTL, "BONDESCROW_CHAIN_WRITER_LEASE_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BONDESCROW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BONDESCROW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BONDESCROW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BONDESCROW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BONDESCROW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BONDESCROW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BONDESCROW_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BONDESCROW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BONDESCROW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BONDESCROW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BONDESCROW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BONDESCROW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BONDESCROW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BONDESCROW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BONDESCROW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BONDESCROW_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "BONDESCROW_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "BONDESCROW_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BONDESCROW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BONDESCROW_S3_REGION")
	setStr(&cfg.S3.Bucket, "BONDESCROW_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BONDESCROW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BONDESCROW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BONDESCROW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BONDESCROW_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "BONDESCROW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "BONDESCROW_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.MaxClockSkew, "BONDESCROW_SERVER_MAX_CLOCK_SKEW")
	setInt(&cfg.Server.RateLimit, "BONDESCROW_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BONDESCROW_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramAPI, "BONDESCROW_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.TelegramToken, "BONDESCROW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BONDESCROW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BONDESCROW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BONDESCROW_NOTIFY_EVENTS")

	// ── Archive / replay ──
	setBool(&cfg.Archive.Enabled, "BONDESCROW_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BONDESCROW_ARCHIVE_INTERVAL")
	setStr(&cfg.Replay.Source, "BONDESCROW_REPLAY_SOURCE")

	// ── Top-level ──
	setStr(&cfg.Mode, "BONDESCROW_MODE")
	setStr(&cfg.LogLevel, "BONDESCROW_LOG_LEVEL")
	setStr(&cfg.APIKey, "BONDESCROW_API_KEY")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
