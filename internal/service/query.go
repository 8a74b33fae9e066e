package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PostedBondView is a posted bond with its certificate holder and, while
// active, its stake.
type PostedBondView struct {
	domain.PostedBond
	Holder common.Address `json:"holder"`
	Stake  *StakeView     `json:"stake,omitempty"`
}

// StakeView is a stake with the reward it would pay out now.
type StakeView struct {
	domain.StakeInfo
	PendingReward *big.Int `json:"pending_reward"`
	AsOf          uint64   `json:"as_of"`
}

// ProposalView is a proposal with its derived status.
type ProposalView struct {
	domain.Proposal
	Status string `json:"status"`
}

// BalanceView is an account's token position relative to the escrow.
type BalanceView struct {
	Address         common.Address `json:"address"`
	Balance         *big.Int       `json:"balance"`
	EscrowAllowance *big.Int       `json:"escrow_allowance"`
}

// ParamsView collects the tunable and derived system parameters.
type ParamsView struct {
	Fees          domain.FeeRates         `json:"fees"`
	Governance    domain.GovernanceParams `json:"governance"`
	RewardRateBps uint64                  `json:"reward_rate_bps"`
	StakingEscrow common.Address          `json:"staking_escrow"`
	Escrow        common.Address          `json:"escrow"`
	Treasury      common.Address          `json:"treasury"`
	Custody       *big.Int                `json:"custody"`
	TotalStaked   *big.Int                `json:"total_staked"`
	Adjudicators  []common.Address        `json:"adjudicators"`
	Seq           uint64                  `json:"seq"`
	Timestamp     uint64                  `json:"timestamp"`
}

// QueryService answers read-only questions under the host's read lock.
type QueryService struct {
	sys *System
}

// NewQueryService creates a QueryService.
func NewQueryService(sys *System) *QueryService {
	return &QueryService{sys: sys}
}

// now is the time reads are evaluated at. It never precedes the last commit.
func (q *QueryService) now() uint64 {
	return max(q.sys.Clock.Now(), q.sys.Host.LastTimestamp())
}

// Bond returns a bond by id.
func (q *QueryService) Bond(id uint64) (b domain.Bond, err error) {
	err = q.sys.Host.View(func() error {
		b, err = q.sys.Escrow.Bond(id)
		return err
	})
	return b, err
}

// PostedBond returns a posted bond by id.
func (q *QueryService) PostedBond(id uint64) (PostedBondView, error) {
	now := q.now()
	var v PostedBondView
	err := q.sys.Host.View(func() error {
		pb, err := q.sys.Escrow.PostedBond(id)
		if err != nil {
			return err
		}
		v.PostedBond = pb
		if v.Holder, err = q.sys.Certificates.OwnerOf(pb.CertificateID); err != nil {
			return err
		}
		if q.sys.Staking.HasStake(id) {
			s, err := q.stake(id, now)
			if err != nil {
				return err
			}
			v.Stake = &s
		}
		return nil
	})
	return v, err
}

// UserBonds lists bonds issued by issuer.
func (q *QueryService) UserBonds(issuer common.Address) ([]domain.Bond, error) {
	var out []domain.Bond
	err := q.sys.Host.View(func() error {
		for _, id := range q.sys.Escrow.UserBonds(issuer) {
			b, err := q.sys.Escrow.Bond(id)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

// PostedByUser lists posted bonds created by poster.
func (q *QueryService) PostedByUser(poster common.Address) ([]domain.PostedBond, error) {
	var out []domain.PostedBond
	err := q.sys.Host.View(func() error {
		for _, id := range q.sys.Escrow.PostedByUser(poster) {
			pb, err := q.sys.Escrow.PostedBond(id)
			if err != nil {
				return err
			}
			out = append(out, pb)
		}
		return nil
	})
	return out, err
}

// Proposal returns a proposal by id.
func (q *QueryService) Proposal(id uint64) (ProposalView, error) {
	now := q.now()
	var v ProposalView
	err := q.sys.Host.View(func() error {
		p, err := q.sys.Governance.Proposal(id)
		if err != nil {
			return err
		}
		v = ProposalView{Proposal: p, Status: p.Status(now)}
		return nil
	})
	return v, err
}

// ProposalsFor lists the proposals raised against a posted bond, oldest
// first.
func (q *QueryService) ProposalsFor(postedBondID uint64) ([]ProposalView, error) {
	now := q.now()
	out := []ProposalView{}
	err := q.sys.Host.View(func() error {
		if _, err := q.sys.Escrow.PostedBond(postedBondID); err != nil {
			return err
		}
		for _, id := range q.sys.Governance.ProposalsFor(postedBondID) {
			p, err := q.sys.Governance.Proposal(id)
			if err != nil {
				return err
			}
			out = append(out, ProposalView{Proposal: p, Status: p.Status(now)})
		}
		return nil
	})
	return out, err
}

// Ballot returns voter's ballot on a proposal.
func (q *QueryService) Ballot(id uint64, voter common.Address) (b domain.Ballot, err error) {
	err = q.sys.Host.View(func() error {
		b, err = q.sys.Governance.BallotOf(id, voter)
		return err
	})
	return b, err
}

// Stake returns the stake for a posted bond.
func (q *QueryService) Stake(postedBondID uint64) (StakeView, error) {
	now := q.now()
	var v StakeView
	err := q.sys.Host.View(func() error {
		var err error
		v, err = q.stake(postedBondID, now)
		return err
	})
	return v, err
}

func (q *QueryService) stake(id, now uint64) (StakeView, error) {
	info, err := q.sys.Staking.StakeInfo(id)
	if err != nil {
		return StakeView{}, err
	}
	pending, err := q.sys.Staking.CalculateReward(id, now)
	if err != nil {
		return StakeView{}, err
	}
	return StakeView{StakeInfo: info, PendingReward: pending, AsOf: now}, nil
}

// Balance returns an account's balance and escrow allowance.
func (q *QueryService) Balance(addr common.Address) (BalanceView, error) {
	var v BalanceView
	err := q.sys.Host.View(func() error {
		v = BalanceView{
			Address:         addr,
			Balance:         q.sys.Token.BalanceOf(addr),
			EscrowAllowance: q.sys.Token.Allowance(addr, q.sys.Escrow.Address()),
		}
		return nil
	})
	return v, err
}

// Params returns the current system parameters.
func (q *QueryService) Params() (ParamsView, error) {
	var v ParamsView
	err := q.sys.Host.ViewAt(func(seq, ts uint64) error {
		v = q.params(seq, ts)
		return nil
	})
	return v, err
}

// params must run under the host's read lock.
func (q *QueryService) params(seq, ts uint64) ParamsView {
	return ParamsView{
		Fees:          q.sys.Escrow.FeeRates(),
		Governance:    q.sys.Governance.Params(),
		RewardRateBps: q.sys.Staking.RateBps(),
		StakingEscrow: q.sys.Staking.Escrow(),
		Escrow:        q.sys.Escrow.Address(),
		Treasury:      q.sys.Escrow.Treasury(),
		Custody:       q.sys.Escrow.Custody(),
		TotalStaked:   q.sys.Staking.TotalStaked(),
		Adjudicators:  q.sys.Governance.Adjudicators(),
		Seq:           seq,
		Timestamp:     ts,
	}
}

// StateSnapshot is the full escrow state at one sequence.
type StateSnapshot struct {
	Seq         uint64              `json:"seq"`
	Timestamp   uint64              `json:"timestamp"`
	Params      ParamsView          `json:"params"`
	Bonds       []domain.Bond       `json:"bonds"`
	PostedBonds []domain.PostedBond `json:"posted_bonds"`
	Proposals   []domain.Proposal   `json:"proposals"`
	Stakes      []domain.StakeInfo  `json:"stakes"`
}

// Snapshot captures every bond, posted bond, proposal and open stake.
// Identifiers are sequential from 1, so each list is read until the first
// miss.
func (q *QueryService) Snapshot() (StateSnapshot, error) {
	var snap StateSnapshot
	err := q.sys.Host.ViewAt(func(seq, ts uint64) error {
		snap.Seq, snap.Timestamp = seq, ts
		snap.Params = q.params(seq, ts)
		for id := uint64(1); ; id++ {
			b, err := q.sys.Escrow.Bond(id)
			if err != nil {
				break
			}
			snap.Bonds = append(snap.Bonds, b)
		}
		for id := uint64(1); ; id++ {
			pb, err := q.sys.Escrow.PostedBond(id)
			if err != nil {
				break
			}
			snap.PostedBonds = append(snap.PostedBonds, pb)
			if info, err := q.sys.Staking.StakeInfo(id); err == nil {
				snap.Stakes = append(snap.Stakes, info)
			}
		}
		for id := uint64(1); ; id++ {
			p, err := q.sys.Governance.Proposal(id)
			if err != nil {
				break
			}
			snap.Proposals = append(snap.Proposals, p)
		}
		return nil
	})
	return snap, err
}

// ExportState renders Snapshot as JSON for the archiver.
func (q *QueryService) ExportState(context.Context) (uint64, []byte, error) {
	snap, err := q.Snapshot()
	if err != nil {
		return 0, nil, err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return 0, nil, fmt.Errorf("service: encode state: %w", err)
	}
	return snap.Seq, data, nil
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return err != nil && (domain.KindOf(err) == domain.KindNotFound || errors.Is(err, domain.ErrNotFound))
}
