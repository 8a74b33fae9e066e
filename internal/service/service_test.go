package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/escrow"
	"github.com/alanyoungcy/bondescrow/internal/staking"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0xad")
	escrowID = common.HexToAddress("0xe5")
	treasury = common.HexToAddress("0x7e")
	issuer   = common.HexToAddress("0x15")
	poster   = common.HexToAddress("0x90")
	judgeA   = common.HexToAddress("0x0a")
	judgeB   = common.HexToAddress("0x0b")
)

const t0 = 1_700_000_000

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func testGenesis() Genesis {
	return Genesis{
		Balances:     map[common.Address]*big.Int{poster: ether(1_000), issuer: ether(10)},
		Adjudicators: []common.Address{judgeA, judgeB},
	}
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestSystem(t *testing.T) (*System, *chain.ManualClock) {
	t.Helper()
	clock := chain.NewManualClock(t0)
	sys, err := NewSystem(testSystemConfig(), clock, discard())
	require.NoError(t, err)
	require.NoError(t, Bootstrap(context.Background(), sys, testGenesis()))
	return sys, clock
}

func testSystemConfig() SystemConfig {
	return SystemConfig{
		Admin:         admin,
		Escrow:        escrowID,
		Treasury:      treasury,
		RewardRateBps: staking.DefaultRewardRateBps,
		Fees:          domain.FeeRates{GovernanceBps: escrow.DefaultGovernanceFeeBps, AffiliateBps: escrow.DefaultAffiliateFeeBps},
	}
}

func TestNewSystemKeepsZeroRates(t *testing.T) {
	cfg := testSystemConfig()
	cfg.RewardRateBps = 0
	cfg.Fees = domain.FeeRates{}

	sys, err := NewSystem(cfg, chain.NewManualClock(t0), discard())
	require.NoError(t, err)
	params, err := NewQueryService(sys).Params()
	require.NoError(t, err)
	assert.Equal(t, domain.FeeRates{}, params.Fees)
	assert.Zero(t, params.RewardRateBps)
}

type memJournal struct {
	mu   sync.Mutex
	recs []domain.TxRecord
	fail error
}

func (m *memJournal) Append(_ context.Context, rec domain.TxRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memJournal) Range(_ context.Context, from uint64, limit int) ([]domain.TxRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TxRecord
	for _, r := range m.recs {
		if r.Seq >= from && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memJournal) LastSeq(context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recs) == 0 {
		return 0, nil
	}
	return m.recs[len(m.recs)-1].Seq, nil
}

type memAudit struct {
	entries []domain.AuditEntry
}

func (m *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	m.entries = append(m.entries, domain.AuditEntry{ID: int64(len(m.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return m.entries, nil
}

func cmd(op, args string) Command {
	return Command{Op: op, Args: json.RawMessage(args)}
}

// script runs the issue, approve and post flow and returns the posted bond id.
func script(t *testing.T, svc *EscrowService) uint64 {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Submit(ctx, issuer, cmd(OpIssueBond, `{"asset_type":"album","bond_amount":"100000000000000000000","duration":86400,"quantity":5}`))
	require.NoError(t, err)
	_, err = svc.Submit(ctx, poster, cmd(OpApprove, fmt.Sprintf(`{"spender":%q,"amount":"%s"}`, escrowID.Hex(), ether(100))))
	require.NoError(t, err)
	out, err := svc.Submit(ctx, poster, cmd(OpPostBond, `{"bond_id":1}`))
	require.NoError(t, err)
	return out.CreatedID
}

func TestSubmitCommits(t *testing.T) {
	sys, _ := newTestSystem(t)
	svc := NewEscrowService(sys, nil, discard())

	out, err := svc.Submit(context.Background(), issuer, cmd(OpIssueBond,
		`{ "asset_type": "album", "bond_amount": "100", "duration": 60, "quantity": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.CreatedID)
	assert.Equal(t, uint64(1), out.Seq)
	assert.JSONEq(t, `{"asset_type":"album","bond_amount":"100","duration":60,"quantity":1}`, string(out.Args))
	assert.NotContains(t, string(out.Args), " ")
	require.Len(t, out.Events, 1)
	assert.Equal(t, "BondIssued", out.Events[0].EventType())

	b, err := NewQueryService(sys).Bond(1)
	require.NoError(t, err)
	assert.Equal(t, issuer, b.Issuer)
}

func TestSubmitRejections(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want error
	}{
		{"unknown op", cmd("mintEverything", `{}`), domain.ErrUnknownOp},
		{"unknown field", cmd(OpIssueBond, `{"asset_type":"x","colour":"red"}`), domain.ErrInvalidParam},
		{"malformed json", cmd(OpIssueBond, `{"asset_type":`), domain.ErrInvalidParam},
		{"numeric amount", cmd(OpFundRewardPool, `{"amount":5}`), domain.ErrInvalidAmount},
		{"missing amount", cmd(OpFundRewardPool, `{}`), domain.ErrInvalidAmount},
		{"unauthorized", cmd(OpSetFeeRates, `{"governance_bps":100,"affiliate_bps":100}`), domain.ErrUnauthorized},
		{"no such bond", cmd(OpPostBond, `{"bond_id":9}`), domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sys, _ := newTestSystem(t)
			audit := &memAudit{}
			svc := NewEscrowService(sys, audit, discard())

			_, err := svc.Submit(context.Background(), poster, tc.cmd)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, uint64(0), sys.Host.Seq())

			require.Len(t, audit.entries, 1)
			assert.Equal(t, "tx_rejected", audit.entries[0].Event)
			assert.Equal(t, tc.cmd.Op, audit.entries[0].Detail["op"])
			assert.Equal(t, domain.CodeOf(tc.want), audit.entries[0].Detail["code"])
		})
	}
}

func TestCreateProposalRequiresActivePostedBond(t *testing.T) {
	sys, _ := newTestSystem(t)
	svc := NewEscrowService(sys, nil, discard())

	_, err := svc.Submit(context.Background(), judgeA, cmd(OpCreateProposal, `{"posted_bond_id":1,"evidence":"ipfs://x"}`))
	require.ErrorIs(t, err, domain.ErrNotFound)

	id := script(t, svc)
	out, err := svc.Submit(context.Background(), judgeA, cmd(OpCreateProposal, fmt.Sprintf(`{"posted_bond_id":%d,"evidence":"ipfs://x"}`, id)))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.CreatedID)

	q := NewQueryService(sys)
	props, err := q.ProposalsFor(id)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, uint64(1), props[0].ID)
	assert.Equal(t, "open", props[0].Status)

	_, err = q.ProposalsFor(id + 1)
	require.ErrorIs(t, err, domain.ErrPostedBondNotFound)
}

func TestJournalHookRecordsCommits(t *testing.T) {
	sys, _ := newTestSystem(t)
	j := &memJournal{}
	sys.Host.OnCommit(JournalHook(j))
	svc := NewEscrowService(sys, nil, discard())

	script(t, svc)

	require.Len(t, j.recs, 3)
	for i, rec := range j.recs {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.False(t, rec.CommittedAt.IsZero())
		assert.True(t, strings.HasPrefix(rec.Hash, "0x"))
	}
	assert.Equal(t, OpPostBond, j.recs[2].Op)
	assert.Equal(t, poster, j.recs[2].Caller)
	assert.NotEmpty(t, j.recs[2].Events)

	last, err := j.LastSeq(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sys.Host.Seq(), last)
}

func TestJournalFailureRevertsTransaction(t *testing.T) {
	sys, _ := newTestSystem(t)
	sys.Host.OnCommit(JournalHook(&memJournal{fail: errors.New("disk full")}))
	svc := NewEscrowService(sys, nil, discard())

	_, err := svc.Submit(context.Background(), issuer, cmd(OpIssueBond, `{"asset_type":"a","bond_amount":"1","duration":1,"quantity":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, uint64(0), sys.Host.Seq())
	assert.Empty(t, sys.Escrow.UserBonds(issuer))
}

func TestReplayReproducesState(t *testing.T) {
	sys, clock := newTestSystem(t)
	j := &memJournal{}
	sys.Host.OnCommit(JournalHook(j))
	svc := NewEscrowService(sys, nil, discard())

	posted := script(t, svc)
	clock.Advance(3600)
	_, err := svc.Submit(context.Background(), judgeA, cmd(OpCreateProposal, fmt.Sprintf(`{"posted_bond_id":%d,"evidence":"leak"}`, posted)))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), judgeB, cmd(OpVote, `{"proposal_id":1,"support":true}`))
	require.NoError(t, err)

	fresh, _ := newTestSystem(t)
	res, err := Replay(context.Background(), fresh, j, discard())
	require.NoError(t, err)
	assert.Equal(t, len(j.recs), res.Records)
	assert.Equal(t, sys.Host.Seq(), res.LastSeq)
	assert.Equal(t, j.recs[len(j.recs)-1].Hash, res.LastHash)
	assert.Equal(t, sys.Host.LastTimestamp(), fresh.Host.LastTimestamp())

	want, err := NewQueryService(sys).Params()
	require.NoError(t, err)
	got, err := NewQueryService(fresh).Params()
	require.NoError(t, err)
	assert.Equal(t, 0, want.Custody.Cmp(got.Custody))
	assert.Equal(t, 0, want.TotalStaked.Cmp(got.TotalStaked))

	p, err := fresh.Governance.Proposal(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.VotesFor)
	assert.Equal(t, 0, sys.Token.BalanceOf(poster).Cmp(fresh.Token.BalanceOf(poster)))
}

func TestReplayDetectsTampering(t *testing.T) {
	sys, _ := newTestSystem(t)
	j := &memJournal{}
	sys.Host.OnCommit(JournalHook(j))
	script(t, NewEscrowService(sys, nil, discard()))

	t.Run("hash", func(t *testing.T) {
		bad := &memJournal{recs: append([]domain.TxRecord(nil), j.recs...)}
		bad.recs[1].Hash = common.Hash{1}.Hex()
		fresh, _ := newTestSystem(t)
		_, err := Replay(context.Background(), fresh, bad, discard())
		require.ErrorIs(t, err, ErrReplayMismatch)
		assert.Contains(t, err.Error(), "seq 2")
	})

	t.Run("gap", func(t *testing.T) {
		bad := &memJournal{recs: []domain.TxRecord{j.recs[0], j.recs[2]}}
		fresh, _ := newTestSystem(t)
		_, err := Replay(context.Background(), fresh, bad, discard())
		require.ErrorIs(t, err, ErrReplayMismatch)
	})
}

type fakeBus struct {
	published map[string][][]byte
	streamed  [][]byte
}

func (b *fakeBus) Publish(_ context.Context, ch string, payload []byte) error {
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[ch] = append(b.published[ch], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeNotifier struct {
	titles []string
}

func (n *fakeNotifier) Notify(_ context.Context, _, title, _ string) error {
	n.titles = append(n.titles, title)
	return nil
}

func TestSinksFanOutEvents(t *testing.T) {
	sys, _ := newTestSystem(t)
	bus := &fakeBus{}
	notes := &fakeNotifier{}
	sys.Host.Subscribe(NewEventPublisher(bus, discard()))
	sys.Host.Subscribe(NewEventNotifier(notes, discard()))

	_, err := NewEscrowService(sys, nil, discard()).Submit(context.Background(), issuer,
		cmd(OpIssueBond, `{"asset_type":"album","bond_amount":"5","duration":60,"quantity":2}`))
	require.NoError(t, err)

	require.Len(t, bus.published[ChannelEvents], 1)
	require.Len(t, bus.published[EventChannel("BondIssued")], 1)
	require.Len(t, bus.streamed, 1)

	var env domain.EventEnvelope
	require.NoError(t, json.Unmarshal(bus.streamed[0], &env))
	assert.Equal(t, "BondIssued", env.Type)
	assert.Equal(t, uint64(1), env.Seq)

	assert.Equal(t, []string{"Bond issued"}, notes.titles)
}

func TestBootstrapOnlyOnce(t *testing.T) {
	sys, _ := newTestSystem(t)
	assert.Equal(t, 0, ether(1_000).Cmp(sys.Token.BalanceOf(poster)))
	assert.True(t, sys.Governance.IsAdjudicator(judgeA))

	_, err := NewEscrowService(sys, nil, discard()).Submit(context.Background(), issuer,
		cmd(OpIssueBond, `{"asset_type":"a","bond_amount":"1","duration":1,"quantity":1}`))
	require.NoError(t, err)
	require.ErrorIs(t, Bootstrap(context.Background(), sys, testGenesis()), domain.ErrAlreadyExecuted)
}

func TestQueryPostedBondAccruesReward(t *testing.T) {
	sys, clock := newTestSystem(t)
	svc := NewEscrowService(sys, nil, discard())
	id := script(t, svc)
	q := NewQueryService(sys)

	clock.Advance(domain.SecondsPerYear)
	v, err := q.PostedBond(id)
	require.NoError(t, err)
	assert.Equal(t, poster, v.Holder)
	require.NotNil(t, v.Stake)
	// 5% of 100 for one year.
	assert.Equal(t, 0, ether(5).Cmp(v.Stake.PendingReward))

	bal, err := q.Balance(poster)
	require.NoError(t, err)
	assert.Equal(t, 0, ether(900).Cmp(bal.Balance))
	assert.Equal(t, int64(0), bal.EscrowAllowance.Int64())

	_, err = q.PostedBond(42)
	assert.True(t, IsNotFound(err))
}

func TestExportStateCapturesEverything(t *testing.T) {
	sys, _ := newTestSystem(t)
	svc := NewEscrowService(sys, nil, discard())
	posted := script(t, svc)
	_, err := svc.Submit(context.Background(), judgeA, cmd(OpCreateProposal, fmt.Sprintf(`{"posted_bond_id":%d,"evidence":"e"}`, posted)))
	require.NoError(t, err)

	seq, data, err := NewQueryService(sys).ExportState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sys.Host.Seq(), seq)

	var snap StateSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, seq, snap.Seq)
	assert.Len(t, snap.Bonds, 1)
	assert.Len(t, snap.PostedBonds, 1)
	assert.Len(t, snap.Proposals, 1)
	assert.Len(t, snap.Stakes, 1)
	assert.Equal(t, escrowID, snap.Params.Escrow)
	assert.Equal(t, seq, snap.Params.Seq)
}
