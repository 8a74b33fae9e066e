package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TxRecord is one committed transaction as persisted in the journal. Replaying
// records in sequence order at their recorded timestamps reproduces state.
type TxRecord struct {
	Seq         uint64          `json:"seq"`
	Hash        string          `json:"hash"`
	Op          string          `json:"op"`
	Caller      common.Address  `json:"caller"`
	Args        json.RawMessage `json:"args"`
	Timestamp   uint64          `json:"timestamp"`
	Events      []EventEnvelope `json:"events"`
	CommittedAt time.Time       `json:"committed_at"`
}

// JournalReader yields committed transactions in sequence order.
type JournalReader interface {
	Range(ctx context.Context, fromSeq uint64, limit int) ([]TxRecord, error)
}

// Journal is the append-only transaction log.
type Journal interface {
	JournalReader
	Append(ctx context.Context, rec TxRecord) error
	LastSeq(ctx context.Context) (uint64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
