package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// ErrReplayMismatch is returned when a replayed transaction does not
// reproduce its recorded hash.
var ErrReplayMismatch = &domain.Error{Kind: domain.KindInfrastructure, Code: "ReplayMismatch"}

const replayPageSize = 500

// JournalHook appends every committed transaction to j. An append failure
// reverts the transaction.
func JournalHook(j domain.Journal) chain.CommitHook {
	return func(ctx context.Context, rcpt chain.Receipt) error {
		rec, err := rcpt.Record()
		if err != nil {
			return err
		}
		rec.CommittedAt = time.Now().UTC()
		if err := j.Append(ctx, rec); err != nil {
			return fmt.Errorf("journal append %d: %w", rec.Seq, err)
		}
		return nil
	}
}

// ReplayResult summarises a replay run.
type ReplayResult struct {
	Records  int    `json:"records"`
	LastSeq  uint64 `json:"last_seq"`
	LastHash string `json:"last_hash"`
}

// Replay re-executes journal records from src onto sys in sequence order at
// their recorded timestamps. sys must be freshly bootstrapped. Every record
// must commit and reproduce its recorded hash.
func Replay(ctx context.Context, sys *System, src domain.JournalReader, logger *slog.Logger) (ReplayResult, error) {
	logger = logger.With(slog.String("component", "replay"))
	var res ReplayResult

	from := sys.Host.Seq() + 1
	for {
		recs, err := src.Range(ctx, from, replayPageSize)
		if err != nil {
			return res, fmt.Errorf("replay: read from %d: %w", from, err)
		}
		if len(recs) == 0 {
			break
		}

		for _, rec := range recs {
			if want := sys.Host.Seq() + 1; rec.Seq != want {
				return res, fmt.Errorf("replay: %w", ErrReplayMismatch.With("expected seq %d, journal has %d", want, rec.Seq))
			}
			run, err := Bind(sys, Command{Op: rec.Op, Args: rec.Args})
			if err != nil {
				return res, fmt.Errorf("replay: seq %d: %w", rec.Seq, err)
			}
			rcpt, err := sys.Host.ExecuteAt(ctx, rec.Caller, rec.Op, rec.Args, rec.Timestamp, func(tx *chain.Tx) error {
				_, err := run(tx)
				return err
			})
			if err != nil {
				return res, fmt.Errorf("replay: seq %d %s: %w", rec.Seq, rec.Op, err)
			}
			if rcpt.Hash.Hex() != rec.Hash {
				return res, fmt.Errorf("replay: %w", ErrReplayMismatch.With("seq %d hash %s, journal has %s", rec.Seq, rcpt.Hash.Hex(), rec.Hash))
			}
			res.Records++
			res.LastSeq = rcpt.Seq
			res.LastHash = rec.Hash
		}
		from = res.LastSeq + 1
	}

	logger.InfoContext(ctx, "replay complete",
		slog.Int("records", res.Records),
		slog.Uint64("last_seq", res.LastSeq),
	)
	return res, nil
}
