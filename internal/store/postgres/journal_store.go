package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// JournalStore implements domain.Journal using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `seq, hash, op, caller, args, timestamp, events, committed_at`

// Append inserts rec. A record whose sequence is already journaled is
// rejected with domain.ErrAlreadyExists.
func (s *JournalStore) Append(ctx context.Context, rec domain.TxRecord) error {
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("postgres: marshal events for seq %d: %w", rec.Seq, err)
	}
	if rec.Events == nil {
		events = []byte("[]")
	}

	const query = `
		INSERT INTO tx_journal (seq, hash, op, caller, args, timestamp, events, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err = s.pool.Exec(ctx, query,
		int64(rec.Seq), rec.Hash, rec.Op, rec.Caller.Hex(), []byte(rec.Args),
		int64(rec.Timestamp), events, rec.CommittedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrAlreadyExists.With("journal seq %d", rec.Seq)
	}
	if err != nil {
		return fmt.Errorf("postgres: append journal seq %d: %w", rec.Seq, err)
	}
	return nil
}

// Range returns up to limit records with seq >= fromSeq in sequence order.
func (s *JournalStore) Range(ctx context.Context, fromSeq uint64, limit int) ([]domain.TxRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + journalSelectCols + ` FROM tx_journal WHERE seq >= $1 ORDER BY seq LIMIT $2`
	rows, err := s.pool.Query(ctx, query, int64(fromSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: range journal from %d: %w", fromSeq, err)
	}
	recs, err := pgx.CollectRows(rows, scanTxRecord)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal: %w", err)
	}
	return recs, nil
}

// LastSeq returns the highest journaled sequence, or 0 for an empty journal.
func (s *JournalStore) LastSeq(ctx context.Context) (uint64, error) {
	var seq int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM tx_journal`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("postgres: last journal seq: %w", err)
	}
	return uint64(seq), nil
}

// Get returns the record at seq.
func (s *JournalStore) Get(ctx context.Context, seq uint64) (domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+journalSelectCols+` FROM tx_journal WHERE seq = $1`, int64(seq))
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("postgres: get journal seq %d: %w", seq, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanTxRecord)
	if err == pgx.ErrNoRows {
		return domain.TxRecord{}, domain.ErrNotFound.With("journal seq %d", seq)
	}
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("postgres: get journal seq %d: %w", seq, err)
	}
	return rec, nil
}

func scanTxRecord(row pgx.CollectableRow) (domain.TxRecord, error) {
	var (
		rec        domain.TxRecord
		seq, ts    int64
		caller     string
		args, evts []byte
	)
	if err := row.Scan(&seq, &rec.Hash, &rec.Op, &caller, &args, &ts, &evts, &rec.CommittedAt); err != nil {
		return rec, err
	}
	rec.Seq = uint64(seq)
	rec.Timestamp = uint64(ts)
	rec.Caller = common.HexToAddress(caller)
	rec.Args = json.RawMessage(args)
	if len(evts) > 0 {
		if err := json.Unmarshal(evts, &rec.Events); err != nil {
			return rec, fmt.Errorf("unmarshal events for seq %d: %w", rec.Seq, err)
		}
	}
	return rec, nil
}
