// Package chain provides the serialized, all-or-nothing execution environment
// the escrow modules run inside.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Journaled is implemented by every module whose state the host must be able
// to roll back. Snapshot must return a value that later mutations of the
// module do not alias.
type Journaled interface {
	Snapshot() any
	Restore(snapshot any)
}

// CommitHook runs after a transaction succeeds and before its state is
// released. Returning an error reverts the transaction.
type CommitHook func(ctx context.Context, rcpt Receipt) error

// Sink receives committed receipts in sequence order, outside the state lock.
type Sink interface {
	Deliver(ctx context.Context, rcpt Receipt)
}

// TxFunc is a state transition.
type TxFunc func(tx *Tx) error

// Host serializes transactions over a fixed set of modules.
type Host struct {
	mu        sync.RWMutex
	deliverMu sync.Mutex

	modules []Journaled
	clock   Clock
	hooks   []CommitHook
	sinks   []Sink
	metrics *Metrics
	logger  *slog.Logger

	seq    uint64
	lastTS uint64
}

// Option configures a Host.
type Option func(*Host)

// WithMetrics attaches prometheus instruments.
func WithMetrics(m *Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// NewHost creates a Host reading time from clock.
func NewHost(clock Clock, opts ...Option) *Host {
	h := &Host{clock: clock, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.With(slog.String("component", "chain"))
	return h
}

// Register adds modules to the snapshot set. It must be called before the
// first transaction.
func (h *Host) Register(modules ...Journaled) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules = append(h.modules, modules...)
}

// OnCommit adds a commit hook.
func (h *Host) OnCommit(hook CommitHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
}

// Subscribe adds a receipt sink.
func (h *Host) Subscribe(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Seq returns the sequence number of the last committed transaction.
func (h *Host) Seq() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// LastTimestamp returns the timestamp of the last committed transaction.
func (h *Host) LastTimestamp() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastTS
}

// Execute runs fn as the next transaction, timestamped from the host clock.
func (h *Host) Execute(ctx context.Context, caller common.Address, op string, args json.RawMessage, fn TxFunc) (Receipt, error) {
	return h.execute(ctx, caller, op, args, 0, fn)
}

// ExecuteAt runs fn as the next transaction at timestamp at. Replay uses it
// to reproduce recorded transactions.
func (h *Host) ExecuteAt(ctx context.Context, caller common.Address, op string, args json.RawMessage, at uint64, fn TxFunc) (Receipt, error) {
	if at == 0 {
		return Receipt{}, domain.ErrInvalidParam.With("timestamp required")
	}
	return h.execute(ctx, caller, op, args, at, fn)
}

// Genesis runs fn at sequence zero without commit hooks or sinks. It is used
// to seed state derived from configuration on every start.
func (h *Host) Genesis(ctx context.Context, caller common.Address, fn TxFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.seq != 0 {
		return domain.ErrAlreadyExecuted.With("genesis after sequence %d", h.seq)
	}
	tx := &Tx{Caller: caller, Now: h.clampedNow(0), Op: "genesis", ctx: ctx}
	snaps := h.snapshot()
	if err := h.run(tx, fn); err != nil {
		h.restore(snaps)
		return fmt.Errorf("chain: genesis: %w", err)
	}
	return nil
}

// View runs fn under the read lock. fn must not mutate module state.
func (h *Host) View(fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn()
}

// ViewAt is View with the sequence and timestamp of the state fn observes.
func (h *Host) ViewAt(fn func(seq, ts uint64) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.seq, h.lastTS)
}

func (h *Host) execute(ctx context.Context, caller common.Address, op string, args json.RawMessage, at uint64, fn TxFunc) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, fmt.Errorf("chain: %s: %w", op, err)
	}
	start := time.Now()

	h.mu.Lock()
	tx := &Tx{
		Seq:    h.seq + 1,
		Caller: caller,
		Now:    h.clampedNow(at),
		Op:     op,
		ctx:    ctx,
	}
	snaps := h.snapshot()

	if err := h.run(tx, fn); err != nil {
		h.restore(snaps)
		h.mu.Unlock()
		h.metrics.observe(op, time.Since(start).Seconds(), 0, string(domain.KindOf(err)))
		return Receipt{}, err
	}

	rcpt := Receipt{
		Seq:       tx.Seq,
		Hash:      TxHash(tx.Seq, op, caller, tx.Now, args),
		Op:        op,
		Caller:    caller,
		Timestamp: tx.Now,
		Args:      args,
		Events:    tx.events,
	}
	for _, hook := range h.hooks {
		if err := hook(ctx, rcpt); err != nil {
			h.restore(snaps)
			h.mu.Unlock()
			h.metrics.observe(op, time.Since(start).Seconds(), 0, string(domain.KindInfrastructure))
			return Receipt{}, fmt.Errorf("chain: commit %s: %w", op, err)
		}
	}
	h.seq = tx.Seq
	h.lastTS = tx.Now
	sinks := h.sinks

	h.deliverMu.Lock()
	h.mu.Unlock()
	h.metrics.observe(op, time.Since(start).Seconds(), rcpt.Seq, "")
	for _, s := range sinks {
		s.Deliver(ctx, rcpt)
	}
	h.deliverMu.Unlock()

	return rcpt, nil
}

// run invokes fn, converting a panic into an error so the caller restores.
func (h *Host) run(tx *Tx, fn TxFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.ErrorContext(tx.Context(), "transaction panicked",
				slog.String("op", tx.Op),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("chain: %s panicked: %v", tx.Op, r)
		}
	}()
	return fn(tx)
}

func (h *Host) clampedNow(at uint64) uint64 {
	now := at
	if now == 0 {
		now = h.clock.Now()
	}
	if now < h.lastTS {
		now = h.lastTS
	}
	return now
}

func (h *Host) snapshot() []any {
	snaps := make([]any, len(h.modules))
	for i, m := range h.modules {
		snaps[i] = m.Snapshot()
	}
	return snaps
}

func (h *Host) restore(snaps []any) {
	for i, m := range h.modules {
		m.Restore(snaps[i])
	}
}
