package chain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Tx is the execution context handed to a state transition. Now is read once
// when the transaction opens and never changes while it runs.
type Tx struct {
	Seq    uint64
	Caller common.Address
	Now    uint64
	Op     string

	ctx    context.Context
	parent *Tx
	events []domain.Event
}

// NewTx builds a detached transaction context. Modules under test use it to
// drive state transitions without a Host.
func NewTx(caller common.Address, now uint64) *Tx {
	return &Tx{Caller: caller, Now: now, ctx: context.Background()}
}

// As returns a copy of tx with a different caller that shares the parent's
// event buffer. Cross-module calls use it so the callee sees the calling
// module as the caller.
func (tx *Tx) As(caller common.Address) *Tx {
	return &Tx{Seq: tx.Seq, Caller: caller, Now: tx.Now, Op: tx.Op, ctx: tx.ctx, parent: tx}
}

// Emit buffers an event. Buffered events are published only if the
// transaction commits.
func (tx *Tx) Emit(ev domain.Event) {
	root := tx.root()
	root.events = append(root.events, ev)
}

// Events returns the events buffered so far.
func (tx *Tx) Events() []domain.Event {
	return tx.root().events
}

// Context returns the context the transaction was submitted with.
func (tx *Tx) Context() context.Context {
	if tx.ctx == nil {
		return context.Background()
	}
	return tx.ctx
}

func (tx *Tx) root() *Tx {
	for tx.parent != nil {
		tx = tx.parent
	}
	return tx
}

// Receipt describes a committed transaction.
type Receipt struct {
	Seq       uint64          `json:"seq"`
	Hash      common.Hash     `json:"hash"`
	Op        string          `json:"op"`
	Caller    common.Address  `json:"caller"`
	Timestamp uint64          `json:"timestamp"`
	Args      json.RawMessage `json:"args,omitempty"`
	Events    []domain.Event  `json:"events"`
}

// Envelopes renders the receipt's events for transport.
func (r Receipt) Envelopes() ([]domain.EventEnvelope, error) {
	out := make([]domain.EventEnvelope, 0, len(r.Events))
	for _, ev := range r.Events {
		env, err := domain.NewEnvelope(r.Seq, r.Hash.Hex(), r.Timestamp, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// Record converts the receipt to its journal form.
func (r Receipt) Record() (domain.TxRecord, error) {
	envs, err := r.Envelopes()
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("chain: record %d: %w", r.Seq, err)
	}
	return domain.TxRecord{
		Seq:       r.Seq,
		Hash:      r.Hash.Hex(),
		Op:        r.Op,
		Caller:    r.Caller,
		Args:      r.Args,
		Timestamp: r.Timestamp,
		Events:    envs,
	}, nil
}

// TxHash is keccak256(seq || op || caller || timestamp || args) with both
// integers encoded as 8-byte big-endian.
func TxHash(seq uint64, op string, caller common.Address, ts uint64, args []byte) common.Hash {
	var seqBuf, tsBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	binary.BigEndian.PutUint64(tsBuf[:], ts)
	return crypto.Keccak256Hash(seqBuf[:], []byte(op), caller.Bytes(), tsBuf[:], args)
}
