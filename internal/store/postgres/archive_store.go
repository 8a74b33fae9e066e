package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// ArchiveStore implements domain.ArchiveLog using PostgreSQL.
type ArchiveStore struct {
	pool *pgxpool.Pool
}

// NewArchiveStore creates a new ArchiveStore backed by the given connection pool.
func NewArchiveStore(pool *pgxpool.Pool) *ArchiveStore {
	return &ArchiveStore{pool: pool}
}

// RecordRun stores a completed archive run.
func (s *ArchiveStore) RecordRun(ctx context.Context, res domain.ArchiveResult) error {
	const query = `
		INSERT INTO archive_runs (from_seq, to_seq, records, journal_path, state_path)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query,
		int64(res.FromSeq), int64(res.ToSeq), res.Records, res.JournalPath, res.StatePath,
	); err != nil {
		return fmt.Errorf("postgres: record archive run %d-%d: %w", res.FromSeq, res.ToSeq, err)
	}
	return nil
}

// LastRun returns the run that reached the highest sequence, if any.
func (s *ArchiveStore) LastRun(ctx context.Context) (domain.ArchiveResult, bool, error) {
	const query = `
		SELECT from_seq, to_seq, records, journal_path, state_path, created_at
		FROM archive_runs ORDER BY to_seq DESC LIMIT 1`

	var (
		res      domain.ArchiveResult
		from, to int64
	)
	err := s.pool.QueryRow(ctx, query).Scan(&from, &to, &res.Records, &res.JournalPath, &res.StatePath, &res.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.ArchiveResult{}, false, nil
	}
	if err != nil {
		return domain.ArchiveResult{}, false, fmt.Errorf("postgres: last archive run: %w", err)
	}
	res.FromSeq, res.ToSeq = uint64(from), uint64(to)
	return res, true, nil
}
