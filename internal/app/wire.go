package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/bondescrow/internal/blob/s3"
	"github.com/alanyoungcy/bondescrow/internal/cache/redis"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/config"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/notify"
	"github.com/alanyoungcy/bondescrow/internal/server/handler"
	"github.com/alanyoungcy/bondescrow/internal/service"
	"github.com/alanyoungcy/bondescrow/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Journal    domain.Journal
	AuditStore domain.AuditStore
	ArchiveLog domain.ArchiveLog

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage. Nil unless archiving is enabled or replay reads from S3.
	BlobWriter    domain.BlobWriter
	BlobReader    domain.BlobReader
	ArchiveReader domain.JournalReader

	Notifier *notify.Notifier
	Registry *prometheus.Registry

	// Pingers reports each wired backend for the health check.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a health function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// needsS3 reports whether the configuration uses object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || cfg.Replay.Source == "s3"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Pingers: map[string]handler.Pinger{}}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Journal = postgres.NewJournalStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.ArchiveLog = postgres.NewArchiveStore(pool)
	deps.Pingers["postgres"] = pgClient

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  cfg.Redis.KeyPrefix,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, cfg.Redis.StreamMaxLen)
	deps.Pingers["redis"] = redisClient

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.ArchiveReader = s3blob.NewJournalReader(reader)
		deps.Pingers["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return deps, cleanup, nil
}

// NewSystem builds the escrow system described by the chain section.
func NewSystem(cfg config.ChainConfig, clock chain.Clock, logger *slog.Logger, opts ...chain.Option) (*service.System, error) {
	return service.NewSystem(service.SystemConfig{
		Admin:         common.HexToAddress(cfg.Admin),
		Escrow:        common.HexToAddress(cfg.Escrow),
		Treasury:      common.HexToAddress(cfg.Treasury),
		RewardRateBps: cfg.RewardRateBps,
		Fees:          cfg.Fees(),
	}, clock, logger, opts...)
}

// GenesisFrom converts the chain section into the genesis state applied
// before the journal.
func GenesisFrom(cfg config.ChainConfig) (service.Genesis, error) {
	g := service.Genesis{
		Balances:      make(map[common.Address]*big.Int, len(cfg.Balances)),
		VotingPeriod:  cfg.VotingPeriodSeconds(),
		RequiredVotes: cfg.RequiredVotes,
	}
	for holder, amount := range cfg.Balances {
		if !common.IsHexAddress(holder) {
			return g, fmt.Errorf("genesis: balance holder %q is not a hex address", holder)
		}
		v, ok := math.ParseBig256(amount)
		if !ok || v.Sign() <= 0 {
			return g, fmt.Errorf("genesis: balance for %s must be a positive integer, got %q", holder, amount)
		}
		addr := common.HexToAddress(holder)
		if prev, dup := g.Balances[addr]; dup {
			v = new(big.Int).Add(prev, v)
		}
		g.Balances[addr] = v
	}
	for _, a := range cfg.Adjudicators {
		if !common.IsHexAddress(a) {
			return g, fmt.Errorf("genesis: adjudicator %q is not a hex address", a)
		}
		g.Adjudicators = append(g.Adjudicators, common.HexToAddress(a))
	}
	return g, nil
}
