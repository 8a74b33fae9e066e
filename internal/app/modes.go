package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/bondescrow/internal/blob/s3"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/server"
	"github.com/alanyoungcy/bondescrow/internal/server/handler"
	"github.com/alanyoungcy/bondescrow/internal/server/ws"
	"github.com/alanyoungcy/bondescrow/internal/service"
)

// writerLeaseKey names the Redis lease held by the single writer.
const writerLeaseKey = "writer"

// ErrLeaseLost stops server mode when another process takes the writer lease.
var ErrLeaseLost = errors.New("writer lease lost")

// restore builds a fresh system, applies genesis and replays src onto it.
func (a *App) restore(ctx context.Context, src domain.JournalReader, opts ...chain.Option) (*service.System, service.ReplayResult, error) {
	sys, err := NewSystem(a.cfg.Chain, chain.SystemClock{}, a.logger, opts...)
	if err != nil {
		return nil, service.ReplayResult{}, err
	}
	genesis, err := GenesisFrom(a.cfg.Chain)
	if err != nil {
		return nil, service.ReplayResult{}, err
	}
	if err := service.Bootstrap(ctx, sys, genesis); err != nil {
		return nil, service.ReplayResult{}, fmt.Errorf("bootstrap: %w", err)
	}
	res, err := service.Replay(ctx, sys, src, a.logger)
	if err != nil {
		return nil, res, err
	}
	return sys, res, nil
}

// ServerMode takes the writer lease, rebuilds state from the journal and
// serves the API, the WebSocket hub and the archive loop until ctx is
// cancelled or the lease is lost.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	ttl := a.cfg.Chain.WriterLeaseTTL.Duration
	lease, err := deps.LockManager.AcquireLease(ctx, writerLeaseKey, ttl)
	if err != nil {
		return fmt.Errorf("server mode: acquire writer lease: %w", err)
	}
	defer lease.Release()

	sys, res, err := a.restore(ctx, deps.Journal, chain.WithMetrics(chain.NewMetrics(deps.Registry)))
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}
	a.logger.InfoContext(ctx, "state restored",
		slog.Int("records", res.Records),
		slog.Uint64("seq", sys.Host.Seq()),
	)

	sys.Host.OnCommit(service.JournalHook(deps.Journal))
	sys.Host.Subscribe(service.NewEventPublisher(deps.SignalBus, a.logger))
	sys.Host.Subscribe(service.NewEventNotifier(deps.Notifier, a.logger))

	queries := service.NewQueryService(sys)
	var archiver domain.Archiver
	if a.cfg.Archive.Enabled && deps.BlobWriter != nil {
		archiver = s3blob.NewArchiver(deps.Journal, deps.BlobWriter, queries, deps.ArchiveLog, deps.AuditStore)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.keepLease(ctx, lease, ttl)
	})

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:        service.ChannelEvents,
		Seq:            sys.Host.Seq,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, archiver, a.cfg.Archive.Interval.Duration)
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Pingers, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, sys.Host.Seq),
		Tx:        handler.NewTxHandler(service.NewEscrowService(sys, deps.AuditStore, a.logger), a.logger),
		Bonds:     handler.NewBondHandler(queries, a.logger),
		Proposals: handler.NewProposalHandler(queries, a.logger),
		Accounts:  handler.NewAccountHandler(queries, a.logger),
	}
	if archiver != nil {
		handlers.Archive = handler.NewArchiveHandler(archiver, a.logger)
	}
	a.startHTTPServer(ctx, g, handlers, server.Deps{
		Locks:    deps.LockManager,
		Limiter:  deps.RateLimiter,
		Registry: deps.Registry,
		Hub:      hub,
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ReplayMode rebuilds state from the configured journal source, verifying
// every recorded hash, logs a summary and returns.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) (service.ReplayResult, error) {
	a.logger.InfoContext(ctx, "starting replay mode", slog.String("source", a.cfg.Replay.Source))

	var src domain.JournalReader = deps.Journal
	if a.cfg.Replay.Source == "s3" {
		if deps.ArchiveReader == nil {
			return service.ReplayResult{}, errors.New("replay mode: s3 source is not configured")
		}
		src = deps.ArchiveReader
	}

	sys, res, err := a.restore(ctx, src)
	if err != nil {
		return res, fmt.Errorf("replay mode: %w", err)
	}

	params, err := service.NewQueryService(sys).Params()
	if err != nil {
		return res, fmt.Errorf("replay mode: %w", err)
	}
	a.logger.InfoContext(ctx, "replay verified",
		slog.Int("records", res.Records),
		slog.Uint64("last_seq", res.LastSeq),
		slog.String("last_hash", res.LastHash),
		slog.Any("params", params),
	)

	if a.cfg.Replay.Source == "postgres" {
		last, err := deps.Journal.LastSeq(ctx)
		if err != nil {
			return res, fmt.Errorf("replay mode: journal last seq: %w", err)
		}
		if last != res.LastSeq {
			return res, fmt.Errorf("replay mode: %w", service.ErrReplayMismatch.With("replayed to %d, journal ends at %d", res.LastSeq, last))
		}
	}
	return res, nil
}

// keepLease refreshes the writer lease at a third of its TTL. Losing the
// lease is fatal to server mode.
func (a *App) keepLease(ctx context.Context, lease domain.Lease, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.ErrorContext(ctx, "writer lease refresh failed", slog.String("error", err.Error()))
				return fmt.Errorf("server mode: %w: %w", ErrLeaseLost, err)
			}
		}
	}
}

// archiveLoop exports new journal records on every tick. Failures are logged
// and retried on the next tick.
func (a *App) archiveLoop(ctx context.Context, archiver domain.Archiver, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := archiver.ArchiveJournal(ctx, 0)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				a.logger.WarnContext(ctx, "archive run failed", slog.String("error", err.Error()))
				continue
			}
			if res.Records == 0 {
				continue
			}
			a.logger.InfoContext(ctx, "journal archived",
				slog.Uint64("from_seq", res.FromSeq),
				slog.Uint64("to_seq", res.ToSeq),
				slog.Int64("records", res.Records),
				slog.String("path", res.JournalPath),
			)
		}
	}
}

// startHTTPServer adds the HTTP server to the errgroup and shuts it down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers, deps server.Deps) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.APIKey,
		MaxSkew:     a.cfg.Server.MaxClockSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, deps, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
