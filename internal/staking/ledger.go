// Package staking implements the reward ledger that accrues time-proportional
// yield on escrowed principal, one stake per posted bond.
package staking

import (
	"math/big"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultRewardRateBps is the annual reward rate config.Defaults starts from.
const DefaultRewardRateBps = 500

// Ledger tracks stakes keyed by posted bond id. Stake and Unstake are
// reserved for the trusted escrow caller.
type Ledger struct {
	acl     *access.Set
	escrow  common.Address
	rateBps uint64

	stakes map[uint64]domain.StakeInfo
	total  *big.Int
}

type ledgerState struct {
	escrow common.Address
	stakes map[uint64]domain.StakeInfo
	total  *big.Int
}

// NewLedger creates a reward ledger trusting escrow and accruing at rateBps.
func NewLedger(acl *access.Set, escrow common.Address, rateBps uint64) *Ledger {
	return &Ledger{
		acl:     acl,
		escrow:  escrow,
		rateBps: rateBps,
		stakes:  make(map[uint64]domain.StakeInfo),
		total:   new(big.Int),
	}
}

func (l *Ledger) requireEscrow(tx *chain.Tx) error {
	if tx.Caller != l.escrow {
		return domain.ErrNotTrustedCaller.With("staking: %s is not the escrow", tx.Caller.Hex())
	}
	return nil
}

// Stake opens a stake for key or tops up an existing one. A top-up folds the
// reward accrued so far into the accumulated total before adding principal.
func (l *Ledger) Stake(tx *chain.Tx, key uint64, amount *big.Int) error {
	if err := l.requireEscrow(tx); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount.With("stake amount must be positive")
	}

	s, ok := l.stakes[key]
	if !ok {
		s = domain.StakeInfo{
			Principal:          new(big.Int).Set(amount),
			StartTime:          tx.Now,
			LastRewardTime:     tx.Now,
			AccumulatedRewards: new(big.Int),
		}
	} else {
		s = s.Clone()
		pending := domain.PendingReward(s.Principal, l.rateBps, s.LastRewardTime, tx.Now)
		s.AccumulatedRewards.Add(s.AccumulatedRewards, pending)
		s.Principal.Add(s.Principal, amount)
		s.LastRewardTime = tx.Now
	}
	l.stakes[key] = s
	l.total = new(big.Int).Add(l.total, amount)

	tx.Emit(domain.Staked{PostedBondID: key, Amount: new(big.Int).Set(amount)})
	return nil
}

// Unstake closes the stake for key and returns its principal and the total
// reward accrued up to tx.Now.
func (l *Ledger) Unstake(tx *chain.Tx, key uint64) (principal, reward *big.Int, err error) {
	if err := l.requireEscrow(tx); err != nil {
		return nil, nil, err
	}
	s, ok := l.stakes[key]
	if !ok {
		return nil, nil, domain.ErrNoStakeFound.With("posted bond %d", key)
	}

	principal = new(big.Int).Set(s.Principal)
	reward = new(big.Int).Add(s.AccumulatedRewards,
		domain.PendingReward(s.Principal, l.rateBps, s.LastRewardTime, tx.Now))

	delete(l.stakes, key)
	l.total = new(big.Int).Sub(l.total, principal)

	tx.Emit(domain.Unstaked{PostedBondID: key, Principal: new(big.Int).Set(principal), Reward: new(big.Int).Set(reward)})
	return principal, reward, nil
}

// CalculateReward returns the reward key would receive if unstaked at now.
func (l *Ledger) CalculateReward(key uint64, now uint64) (*big.Int, error) {
	s, ok := l.stakes[key]
	if !ok {
		return nil, domain.ErrNoStakeFound.With("posted bond %d", key)
	}
	pending := domain.PendingReward(s.Principal, l.rateBps, s.LastRewardTime, now)
	return pending.Add(pending, s.AccumulatedRewards), nil
}

// StakeInfo returns a copy of the stake for key.
func (l *Ledger) StakeInfo(key uint64) (domain.StakeInfo, error) {
	s, ok := l.stakes[key]
	if !ok {
		return domain.StakeInfo{}, domain.ErrNoStakeFound.With("posted bond %d", key)
	}
	return s.Clone(), nil
}

// HasStake reports whether key has an open stake.
func (l *Ledger) HasStake(key uint64) bool {
	_, ok := l.stakes[key]
	return ok
}

// TotalStaked is the sum of all open principals.
func (l *Ledger) TotalStaked() *big.Int { return new(big.Int).Set(l.total) }

// RateBps is the annual reward rate.
func (l *Ledger) RateBps() uint64 { return l.rateBps }

// Escrow is the trusted caller.
func (l *Ledger) Escrow() common.Address { return l.escrow }

// SetEscrowContract rebinds the trusted caller. Admin only.
func (l *Ledger) SetEscrowContract(tx *chain.Tx, escrow common.Address) error {
	if err := l.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if escrow == (common.Address{}) {
		return domain.ErrInvalidParam.With("escrow address is zero")
	}
	l.escrow = escrow
	tx.Emit(domain.EscrowContractUpdated{Module: "staking", Escrow: escrow})
	return nil
}

// Snapshot implements chain.Journaled. Stakes are replaced, never mutated in
// place, so the map copy need not clone values.
func (l *Ledger) Snapshot() any {
	cp := make(map[uint64]domain.StakeInfo, len(l.stakes))
	for k, v := range l.stakes {
		cp[k] = v
	}
	return ledgerState{escrow: l.escrow, stakes: cp, total: l.total}
}

// Restore implements chain.Journaled.
func (l *Ledger) Restore(snap any) {
	st := snap.(ledgerState)
	l.escrow = st.escrow
	l.stakes = st.stakes
	l.total = st.total
}
