package chain

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct{ n int }

func (c *counter) Snapshot() any { return c.n }
func (c *counter) Restore(s any) { c.n = s.(int) }

func (c *counter) bump(tx *Tx) error {
	c.n++
	tx.Emit(bumped{N: c.n})
	return nil
}

type bumped struct{ N int }

func (bumped) EventType() string { return "Bumped" }

type recordingSink struct{ got []Receipt }

func (s *recordingSink) Deliver(_ context.Context, r Receipt) { s.got = append(s.got, r) }

var caller = common.HexToAddress("0xc0ffee")

func newTestHost(t *testing.T, now uint64) (*Host, *counter, *ManualClock) {
	t.Helper()
	clock := NewManualClock(now)
	h := NewHost(clock)
	c := &counter{}
	h.Register(c)
	return h, c, clock
}

func TestExecuteCommits(t *testing.T) {
	h, c, _ := newTestHost(t, 1000)
	sink := &recordingSink{}
	h.Subscribe(sink)

	args := json.RawMessage(`{"x":1}`)
	rcpt, err := h.Execute(context.Background(), caller, "bump", args, c.bump)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), rcpt.Seq)
	assert.Equal(t, uint64(1000), rcpt.Timestamp)
	assert.Equal(t, TxHash(1, "bump", caller, 1000, args), rcpt.Hash)
	assert.Equal(t, []domain.Event{bumped{N: 1}}, rcpt.Events)
	assert.Equal(t, 1, c.n)
	assert.Equal(t, uint64(1), h.Seq())
	require.Len(t, sink.got, 1)
}

func TestExecuteRevertsOnError(t *testing.T) {
	h, c, _ := newTestHost(t, 1000)
	sink := &recordingSink{}
	h.Subscribe(sink)

	_, err := h.Execute(context.Background(), caller, "bump", nil, func(tx *Tx) error {
		require.NoError(t, c.bump(tx))
		return domain.ErrTransferFailed
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, 0, c.n)
	assert.Equal(t, uint64(0), h.Seq())
	assert.Empty(t, sink.got)
}

func TestExecuteRevertsOnPanic(t *testing.T) {
	h, c, _ := newTestHost(t, 1000)
	_, err := h.Execute(context.Background(), caller, "bump", nil, func(tx *Tx) error {
		c.n = 99
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 0, c.n)
}

func TestCommitHookVeto(t *testing.T) {
	h, c, _ := newTestHost(t, 1000)
	h.OnCommit(func(context.Context, Receipt) error { return errors.New("disk full") })

	_, err := h.Execute(context.Background(), caller, "bump", nil, c.bump)
	require.Error(t, err)
	assert.Equal(t, 0, c.n)
	assert.Equal(t, uint64(0), h.Seq())
}

func TestClockIsMonotonic(t *testing.T) {
	h, c, clock := newTestHost(t, 2000)
	_, err := h.Execute(context.Background(), caller, "bump", nil, c.bump)
	require.NoError(t, err)

	clock.Set(1500)
	rcpt, err := h.Execute(context.Background(), caller, "bump", nil, c.bump)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), rcpt.Timestamp)

	rcpt, err = h.ExecuteAt(context.Background(), caller, "bump", nil, 2500, c.bump)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), rcpt.Timestamp)
	assert.Equal(t, uint64(3), rcpt.Seq)
}

func TestTxAsSharesEvents(t *testing.T) {
	tx := NewTx(caller, 10)
	inner := tx.As(common.HexToAddress("0x01"))
	inner.Emit(bumped{N: 7})
	assert.Equal(t, common.HexToAddress("0x01"), inner.Caller)
	assert.Equal(t, []domain.Event{bumped{N: 7}}, tx.Events())
}

func TestGenesisDoesNotAdvanceSequence(t *testing.T) {
	h, c, _ := newTestHost(t, 1000)
	require.NoError(t, h.Genesis(context.Background(), caller, c.bump))
	assert.Equal(t, 1, c.n)
	assert.Equal(t, uint64(0), h.Seq())

	_, err := h.Execute(context.Background(), caller, "bump", nil, c.bump)
	require.NoError(t, err)
	require.Error(t, h.Genesis(context.Background(), caller, c.bump))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := NewManualClock(1000)
	h := NewHost(clock, WithMetrics(NewMetrics(reg)))
	c := &counter{}
	h.Register(c)

	_, err := h.Execute(context.Background(), caller, "bump", nil, c.bump)
	require.NoError(t, err)
	_, err = h.Execute(context.Background(), caller, "bump", nil, func(*Tx) error { return domain.ErrNotYetExpired })
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.committed.WithLabelValues("bump")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rejected.WithLabelValues("bump", "state_conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.sequence))
}
