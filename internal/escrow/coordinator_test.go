package escrow

import (
	"context"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/certificate"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/governance"
	"github.com/alanyoungcy/bondescrow/internal/staking"
	"github.com/alanyoungcy/bondescrow/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin     = common.HexToAddress("0xad")
	escrowID  = common.HexToAddress("0xe5")
	treasury  = common.HexToAddress("0x7e")
	issuer    = common.HexToAddress("0x15")
	poster    = common.HexToAddress("0x90")
	affiliate = common.HexToAddress("0xaf")
	holder    = common.HexToAddress("0x40")
	funder    = common.HexToAddress("0xf0")
	judgeA    = common.HexToAddress("0x0a")
	judgeB    = common.HexToAddress("0x0b")
)

const t0 = 1_700_000_000

// hookedLedger wraps the real ledger so tests can inject failures and
// callbacks into the external calls the coordinator makes.
type hookedLedger struct {
	*token.Ledger
	failTransferTo *common.Address
	onTransferFrom func(tx *chain.Tx)
}

func (h *hookedLedger) Transfer(tx *chain.Tx, from, to common.Address, amount *big.Int) error {
	if h.failTransferTo != nil && *h.failTransferTo == to {
		return domain.ErrInsufficientFunds.With("injected")
	}
	return h.Ledger.Transfer(tx, from, to, amount)
}

func (h *hookedLedger) TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error {
	if h.onTransferFrom != nil {
		h.onTransferFrom(tx)
	}
	return h.Ledger.TransferFrom(tx, spender, from, to, amount)
}

type fixture struct {
	host  *chain.Host
	clock *chain.ManualClock
	acl   *access.Set
	tok   *hookedLedger
	certs *certificate.Registry
	stake *staking.Ledger
	gov   *governance.Registry
	coord *Coordinator
}

var defaultFees = domain.FeeRates{GovernanceBps: DefaultGovernanceFeeBps, AffiliateBps: DefaultAffiliateFeeBps}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithFees(t, defaultFees)
}

func newFixtureWithFees(t *testing.T, fees domain.FeeRates) *fixture {
	t.Helper()
	f := &fixture{clock: chain.NewManualClock(t0)}
	f.acl = access.New(admin)
	f.acl.Grant(escrowID, access.Minter)
	f.tok = &hookedLedger{Ledger: token.NewLedger(f.acl)}
	f.certs = certificate.NewRegistry(f.acl)
	f.stake = staking.NewLedger(f.acl, escrowID, staking.DefaultRewardRateBps)
	f.gov = governance.NewRegistry(f.acl, escrowID)

	var err error
	f.coord, err = NewCoordinator(Config{Address: escrowID, Treasury: treasury, Fees: fees}, f.acl, f.tok, f.certs, f.stake, f.gov)
	require.NoError(t, err)

	f.host = chain.NewHost(f.clock)
	f.host.Register(f.acl, f.tok.Ledger, f.certs, f.stake, f.gov, f.coord)

	require.NoError(t, f.host.Genesis(context.Background(), admin, func(tx *chain.Tx) error {
		for _, a := range []common.Address{poster, funder} {
			if err := f.tok.Mint(tx, a, ether(1_000)); err != nil {
				return err
			}
		}
		for _, j := range []common.Address{judgeA, judgeB} {
			if err := f.gov.GrantAdjudicator(tx, j); err != nil {
				return err
			}
		}
		return nil
	}))
	return f
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func (f *fixture) exec(t *testing.T, caller common.Address, fn chain.TxFunc) error {
	t.Helper()
	_, err := f.host.Execute(context.Background(), caller, "test", nil, fn)
	return err
}

func (f *fixture) issue(t *testing.T, amount *big.Int, duration, quantity uint64) uint64 {
	t.Helper()
	var id uint64
	require.NoError(t, f.exec(t, issuer, func(tx *chain.Tx) error {
		var err error
		id, err = f.coord.IssueBond(tx, IssueParams{AssetType: "album", BondAmount: amount, Duration: duration, Quantity: quantity})
		return err
	}))
	return id
}

func (f *fixture) approve(t *testing.T, owner common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.exec(t, owner, func(tx *chain.Tx) error {
		return f.tok.Approve(tx, escrowID, amount)
	}))
}

func (f *fixture) post(t *testing.T, bondID uint64, aff *common.Address) (uint64, error) {
	t.Helper()
	var id uint64
	err := f.exec(t, poster, func(tx *chain.Tx) error {
		var err error
		id, err = f.coord.PostBond(tx, bondID, aff)
		return err
	})
	return id, err
}

func (f *fixture) fund(t *testing.T, amount *big.Int) {
	t.Helper()
	f.approve(t, funder, amount)
	require.NoError(t, f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.FundRewardPool(tx, amount)
	}))
}

func TestIssueBondValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		params IssueParams
		want   error
	}{
		{"zero amount", IssueParams{BondAmount: big.NewInt(0), Duration: 1, Quantity: 1}, domain.ErrInvalidAmount},
		{"nil amount", IssueParams{Duration: 1, Quantity: 1}, domain.ErrInvalidAmount},
		{"zero duration", IssueParams{BondAmount: big.NewInt(1), Quantity: 1}, domain.ErrInvalidDuration},
		{"zero quantity", IssueParams{BondAmount: big.NewInt(1), Duration: 1}, domain.ErrInvalidQuantity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.exec(t, issuer, func(tx *chain.Tx) error {
				_, err := f.coord.IssueBond(tx, tc.params)
				return err
			})
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
	assert.Empty(t, f.coord.UserBonds(issuer))
}

func TestIssueBond(t *testing.T) {
	f := newFixture(t)
	id := f.issue(t, big.NewInt(100), 86400, 10)
	assert.Equal(t, uint64(1), id)

	b, err := f.coord.Bond(id)
	require.NoError(t, err)
	assert.Equal(t, issuer, b.Issuer)
	assert.Equal(t, uint64(10), b.RemainingQuantity)
	assert.True(t, b.IsActive)
	assert.Equal(t, []uint64{1}, f.coord.UserBonds(issuer))
}

func TestPostBondCreatesPostedBondStakeAndCertificate(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))

	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	b, _ := f.coord.Bond(bondID)
	assert.Equal(t, uint64(9), b.RemainingQuantity)

	pb, err := f.coord.PostedBond(id)
	require.NoError(t, err)
	assert.True(t, pb.IsActive)
	assert.Equal(t, poster, pb.Poster)
	assert.Equal(t, uint64(t0+86400), pb.ExpiryTime)
	assert.Equal(t, int64(100), pb.Amount.Int64())

	owner, err := f.certs.OwnerOf(pb.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, poster, owner)
	cert, _ := f.certs.Certificate(pb.CertificateID)
	assert.Equal(t, "bond://1/1", cert.Meta.URI)

	info, err := f.stake.StakeInfo(id)
	require.NoError(t, err)
	assert.Equal(t, int64(100), info.Principal.Int64())

	assert.Equal(t, int64(100), f.coord.Custody().Int64())
	assert.Equal(t, []uint64{id}, f.coord.PostedByUser(poster))
}

func TestPostBondErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.post(t, 42, nil)
	require.ErrorIs(t, err, domain.ErrBondNotFound)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	bondID := f.issue(t, big.NewInt(100), 86400, 1)
	_, err = f.post(t, bondID, nil)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Equal(t, domain.KindExternalCall, domain.KindOf(err))

	b, _ := f.coord.Bond(bondID)
	assert.Equal(t, uint64(1), b.RemainingQuantity)
	assert.Empty(t, f.coord.PostedByUser(poster))
}

func TestExhaustedBondDeactivates(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 2)
	f.approve(t, poster, big.NewInt(300))

	for i := 0; i < 2; i++ {
		_, err := f.post(t, bondID, nil)
		require.NoError(t, err)
	}
	b, _ := f.coord.Bond(bondID)
	assert.Equal(t, uint64(0), b.RemainingQuantity)
	assert.False(t, b.IsActive)

	_, err := f.post(t, bondID, nil)
	require.ErrorIs(t, err, domain.ErrBondUnavailable)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))
	b, _ = f.coord.Bond(bondID)
	assert.Equal(t, uint64(0), b.RemainingQuantity)
}

func TestAffiliateScenario(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))

	aff := affiliate
	rcptEvents := []domain.Event{}
	_, err := f.host.Execute(context.Background(), poster, "postBond", nil, func(tx *chain.Tx) error {
		_, err := f.coord.PostBond(tx, bondID, &aff)
		rcptEvents = tx.Events()
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.tok.BalanceOf(affiliate).Int64())
	assert.Equal(t, int64(98), f.coord.Custody().Int64())
	assert.Contains(t, rcptEvents, domain.Event(domain.AffiliateRewarded{PostedBondID: 1, Affiliate: affiliate, Amount: big.NewInt(2)}))
}

func TestSelfAffiliateEarnsNothing(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))

	self := poster
	_, err := f.post(t, bondID, &self)
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.coord.Custody().Int64())
}

func TestAffiliateTransferFailureRevertsPosting(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))
	posterBefore := f.tok.BalanceOf(poster)

	aff := affiliate
	f.tok.failTransferTo = &aff
	_, err := f.post(t, bondID, &aff)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	b, _ := f.coord.Bond(bondID)
	assert.Equal(t, uint64(10), b.RemainingQuantity)
	_, err = f.coord.PostedBond(1)
	require.ErrorIs(t, err, domain.ErrPostedBondNotFound)
	assert.False(t, f.stake.HasStake(1))
	_, err = f.certs.CertificateIDFor(1)
	require.ErrorIs(t, err, domain.ErrCertificateNotFound)
	assert.Equal(t, posterBefore, f.tok.BalanceOf(poster))
	assert.Equal(t, int64(100), f.tok.Allowance(poster, escrowID).Int64())
}

func TestExpiryScenario(t *testing.T) {
	f := newFixture(t)
	amount := ether(100)
	bondID := f.issue(t, amount, 86400, 10)
	f.approve(t, poster, amount)
	f.fund(t, ether(10))

	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)
	posterBefore := f.tok.BalanceOf(poster)

	f.clock.Advance(86401)
	reward := domain.PendingReward(amount, staking.DefaultRewardRateBps, t0, t0+86401)
	require.Positive(t, reward.Sign())
	fee := domain.ApplyBps(reward, DefaultGovernanceFeeBps)

	require.NoError(t, f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	}))

	want := new(big.Int).Add(posterBefore, amount)
	want.Add(want, reward).Sub(want, fee)
	assert.Equal(t, want, f.tok.BalanceOf(poster))
	assert.Equal(t, fee, f.tok.BalanceOf(treasury))

	pb, _ := f.coord.PostedBond(id)
	assert.False(t, pb.IsActive)
	assert.Equal(t, domain.OutcomeExpired, pb.Outcome)
	assert.False(t, f.stake.HasStake(id))
	cert, _ := f.certs.Certificate(pb.CertificateID)
	assert.False(t, cert.IsActive)

	err = f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestExpiryScenarioSmallAmount(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)
	before := f.tok.BalanceOf(poster)

	f.clock.Advance(86401)
	require.NoError(t, f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	}))

	// The reward on 100 units over a day truncates to zero.
	assert.Equal(t, new(big.Int).Add(before, big.NewInt(100)), f.tok.BalanceOf(poster))
	assert.Equal(t, int64(0), f.tok.BalanceOf(treasury).Int64())
}

func TestClaimPaysCurrentCertificateHolder(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	pb, _ := f.coord.PostedBond(id)
	require.NoError(t, f.exec(t, poster, func(tx *chain.Tx) error {
		return f.certs.Transfer(tx, pb.CertificateID, holder)
	}))

	f.clock.Advance(86400)
	require.NoError(t, f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	}))
	assert.Equal(t, int64(100), f.tok.BalanceOf(holder).Int64())
}

func TestPrematureClaimMutatesNothing(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	before, _ := f.coord.PostedBond(id)
	seq := f.host.Seq()
	f.clock.Advance(86399)

	err = f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	})
	require.ErrorIs(t, err, domain.ErrNotYetExpired)
	assert.Equal(t, domain.KindStateConflict, domain.KindOf(err))

	after, _ := f.coord.PostedBond(id)
	assert.Equal(t, before, after)
	assert.True(t, f.stake.HasStake(id))
	assert.Equal(t, int64(100), f.coord.Custody().Int64())
	assert.Equal(t, seq, f.host.Seq())
}

func TestClaimExpiryBoundary(t *testing.T) {
	const duration = 86400
	tests := []struct {
		name    string
		advance uint64
		want    error
	}{
		{"one second early", duration - 1, domain.ErrNotYetExpired},
		{"at expiry", duration, nil},
		{"after expiry", duration + 1, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			bondID := f.issue(t, big.NewInt(100), duration, 10)
			f.approve(t, poster, big.NewInt(100))
			id, err := f.post(t, bondID, nil)
			require.NoError(t, err)

			pb, _ := f.coord.PostedBond(id)
			assert.Equal(t, pb.PostedAt+duration, pb.ExpiryTime)

			f.clock.Advance(tc.advance)
			err = f.exec(t, poster, func(tx *chain.Tx) error {
				return f.coord.ClaimExpiredBond(tx, id)
			})
			if tc.want != nil {
				require.ErrorIs(t, err, tc.want)
				return
			}
			require.NoError(t, err)
			pb, _ = f.coord.PostedBond(id)
			assert.Equal(t, domain.OutcomeExpired, pb.Outcome)
		})
	}
}

func TestDurationOverflowRejected(t *testing.T) {
	f := newFixture(t)
	err := f.exec(t, issuer, func(tx *chain.Tx) error {
		_, err := f.coord.IssueBond(tx, IssueParams{AssetType: "album", BondAmount: big.NewInt(100), Duration: math.MaxUint64, Quantity: 1})
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidDuration)
	assert.Empty(t, f.coord.UserBonds(issuer))

	// Fits at issue time, wraps once the clock has moved.
	bondID := f.issue(t, big.NewInt(100), math.MaxUint64-t0, 1)
	f.approve(t, poster, big.NewInt(100))
	f.clock.Advance(1)
	_, err = f.post(t, bondID, nil)
	require.ErrorIs(t, err, domain.ErrInvalidDuration)
	assert.Equal(t, int64(0), f.coord.Custody().Int64())
	assert.Empty(t, f.coord.PostedByUser(poster))
}

func TestPayoutFailureRevertsClaim(t *testing.T) {
	f := newFixture(t)
	amount := ether(100)
	bondID := f.issue(t, amount, 86400, 10)
	f.approve(t, poster, amount)
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	// Custody only holds the principal, so the reward cannot be paid.
	f.clock.Advance(86400 * 30)
	err = f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	})
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	pb, _ := f.coord.PostedBond(id)
	assert.True(t, pb.IsActive)
	assert.True(t, f.stake.HasStake(id))
}

func (f *fixture) proposeAndVote(t *testing.T, postedID uint64, votes ...bool) uint64 {
	t.Helper()
	var pid uint64
	require.NoError(t, f.exec(t, judgeA, func(tx *chain.Tx) error {
		var err error
		pid, err = f.gov.CreateProposal(tx, postedID, "leaked master")
		return err
	}))
	judges := []common.Address{judgeA, judgeB}
	for i, support := range votes {
		require.NoError(t, f.exec(t, judges[i], func(tx *chain.Tx) error {
			return f.gov.Vote(tx, pid, support)
		}))
	}
	return pid
}

func TestAdjudicationScenario(t *testing.T) {
	f := newFixture(t)
	amount := ether(100)
	bondID := f.issue(t, amount, 30*86400, 10)
	f.approve(t, poster, amount)
	f.fund(t, ether(10))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)
	posterBefore := f.tok.BalanceOf(poster)

	pid := f.proposeAndVote(t, id, true, true)
	f.clock.Advance(governance.DefaultVotingPeriod + 1)
	reward := domain.PendingReward(amount, staking.DefaultRewardRateBps, t0, f.clock.Now())

	require.NoError(t, f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.AdjudicateLeak(tx, pid)
	}))

	assert.Equal(t, new(big.Int).Add(amount, reward), f.tok.BalanceOf(issuer))
	assert.Equal(t, posterBefore, f.tok.BalanceOf(poster))
	assert.Equal(t, int64(0), f.tok.BalanceOf(treasury).Int64())

	pb, _ := f.coord.PostedBond(id)
	assert.False(t, pb.IsActive)
	assert.Equal(t, domain.OutcomeAdjudicated, pb.Outcome)

	p, _ := f.gov.Proposal(pid)
	assert.True(t, p.Executed)
	assert.True(t, p.Approved)

	// Settlement is exclusive: the expiry path is now closed.
	f.clock.Advance(30 * 86400)
	err = f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.AdjudicateLeak(tx, pid)
	})
	require.ErrorIs(t, err, domain.ErrAlreadyExecuted)
}

func TestRejectedAdjudicationReverts(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 30*86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	pid := f.proposeAndVote(t, id, true, false)
	f.clock.Advance(governance.DefaultVotingPeriod + 1)

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.AdjudicateLeak(tx, pid)
	})
	require.ErrorIs(t, err, domain.ErrProposalRejected)
	p, _ := f.gov.Proposal(pid)
	assert.False(t, p.Executed)

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.DismissProposal(tx, pid)
	})
	require.NoError(t, err)
	p, _ = f.gov.Proposal(pid)
	assert.True(t, p.Executed)
	assert.False(t, p.Approved)

	pb, _ := f.coord.PostedBond(id)
	assert.True(t, pb.IsActive)
}

func TestDismissApprovedProposalFails(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 30*86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	pid := f.proposeAndVote(t, id, true, true)
	f.clock.Advance(governance.DefaultVotingPeriod + 1)

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.DismissProposal(tx, pid)
	})
	require.ErrorIs(t, err, domain.ErrProposalApproved)
	p, _ := f.gov.Proposal(pid)
	assert.False(t, p.Executed)
}

func TestDismissApprovedProposalAfterExpiry(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)

	pid := f.proposeAndVote(t, id, true, true)
	f.clock.Advance(governance.DefaultVotingPeriod + 1)
	require.NoError(t, f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	}))

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.AdjudicateLeak(tx, pid)
	})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)

	var events []domain.Event
	_, err = f.host.Execute(context.Background(), funder, "dismissProposal", nil, func(tx *chain.Tx) error {
		err := f.coord.DismissProposal(tx, pid)
		events = tx.Events()
		return err
	})
	require.NoError(t, err)
	assert.Contains(t, events, domain.Event(domain.ProposalDismissed{ProposalID: pid, PostedBondID: id}))

	p, _ := f.gov.Proposal(pid)
	assert.True(t, p.Executed)
	assert.True(t, p.Approved)
	pb, _ := f.coord.PostedBond(id)
	assert.Equal(t, domain.OutcomeExpired, pb.Outcome)
}

func TestAdjudicateBeforeDeadline(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 30*86400, 10)
	f.approve(t, poster, big.NewInt(100))
	id, err := f.post(t, bondID, nil)
	require.NoError(t, err)
	pid := f.proposeAndVote(t, id, true, true)

	err = f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.AdjudicateLeak(tx, pid)
	})
	require.ErrorIs(t, err, domain.ErrVotingOpen)
}

func TestReentrancyBlocked(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 1, 10)
	f.approve(t, poster, big.NewInt(200))
	first, err := f.post(t, bondID, nil)
	require.NoError(t, err)
	f.clock.Advance(10)

	var nested error
	f.tok.onTransferFrom = func(tx *chain.Tx) {
		nested = f.coord.ClaimExpiredBond(tx, first)
	}
	_, err = f.post(t, bondID, nil)
	require.NoError(t, err)
	require.True(t, errors.Is(nested, domain.ErrReentrancy))

	pb, _ := f.coord.PostedBond(first)
	assert.True(t, pb.IsActive)
}

func TestDeactivateBond(t *testing.T) {
	f := newFixture(t)
	bondID := f.issue(t, big.NewInt(100), 86400, 10)

	err := f.exec(t, poster, func(tx *chain.Tx) error { return f.coord.DeactivateBond(tx, bondID) })
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, f.exec(t, issuer, func(tx *chain.Tx) error { return f.coord.DeactivateBond(tx, bondID) }))
	err = f.exec(t, issuer, func(tx *chain.Tx) error { return f.coord.DeactivateBond(tx, bondID) })
	require.ErrorIs(t, err, domain.ErrBondUnavailable)

	f.approve(t, poster, big.NewInt(100))
	_, err = f.post(t, bondID, nil)
	require.ErrorIs(t, err, domain.ErrBondUnavailable)
}

func TestSetFeeRates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		caller common.Address
		gov    uint64
		aff    uint64
		want   error
	}{
		{"not admin", issuer, 100, 100, domain.ErrUnauthorized},
		{"governance above cap", admin, 1001, 100, domain.ErrFeeAboveCap},
		{"affiliate above cap", admin, 100, 501, domain.ErrFeeAboveCap},
		{"at caps", admin, 1000, 500, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := f.exec(t, tc.caller, func(tx *chain.Tx) error {
				return f.coord.SetFeeRates(tx, tc.gov, tc.aff)
			})
			if tc.want == nil {
				require.NoError(t, err)
				assert.Equal(t, domain.FeeRates{GovernanceBps: tc.gov, AffiliateBps: tc.aff}, f.coord.FeeRates())
				return
			}
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestFundRewardPool(t *testing.T) {
	f := newFixture(t)
	err := f.exec(t, funder, func(tx *chain.Tx) error {
		return f.coord.FundRewardPool(tx, big.NewInt(0))
	})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	f.fund(t, ether(5))
	assert.Equal(t, ether(5), f.coord.Custody())
}

func TestZeroFeesTakeNothing(t *testing.T) {
	f := newFixtureWithFees(t, domain.FeeRates{})
	assert.Equal(t, domain.FeeRates{}, f.coord.FeeRates())

	amount := ether(100)
	bondID := f.issue(t, amount, 86400, 10)
	f.approve(t, poster, amount)
	f.fund(t, ether(10))
	aff := affiliate
	id, err := f.post(t, bondID, &aff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.tok.BalanceOf(affiliate).Int64())

	f.clock.Advance(86400)
	reward := domain.PendingReward(amount, staking.DefaultRewardRateBps, t0, f.clock.Now())
	require.Positive(t, reward.Sign())
	posterBefore := f.tok.BalanceOf(poster)
	require.NoError(t, f.exec(t, poster, func(tx *chain.Tx) error {
		return f.coord.ClaimExpiredBond(tx, id)
	}))

	assert.Equal(t, int64(0), f.tok.BalanceOf(treasury).Int64())
	want := new(big.Int).Add(posterBefore, amount)
	assert.Equal(t, want.Add(want, reward), f.tok.BalanceOf(poster))
}

func TestNewCoordinatorRejectsBadConfig(t *testing.T) {
	acl := access.New(admin)
	_, err := NewCoordinator(Config{Address: escrowID, Fees: domain.FeeRates{GovernanceBps: 2000}}, acl, nil, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrFeeAboveCap)

	_, err = NewCoordinator(Config{}, acl, nil, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidParam)
}
