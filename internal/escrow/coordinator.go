// Package escrow implements the coordinator that owns bonds and posted bonds
// and drives every fund movement between posters, issuers, affiliates and the
// treasury.
package escrow

import (
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// PaymentLedger moves the payment token.
type PaymentLedger interface {
	TransferFrom(tx *chain.Tx, spender, from, to common.Address, amount *big.Int) error
	Transfer(tx *chain.Tx, from, to common.Address, amount *big.Int) error
	BalanceOf(owner common.Address) *big.Int
}

// CertificateRegistry issues and retires posted-bond certificates.
type CertificateRegistry interface {
	Mint(tx *chain.Tx, to common.Address, meta domain.CertificateMeta) (uint64, error)
	Deactivate(tx *chain.Tx, certificateID uint64) error
	OwnerOf(certificateID uint64) (common.Address, error)
	CertificateIDFor(postedBondID uint64) (uint64, error)
}

// RewardLedger holds one stake per active posted bond.
type RewardLedger interface {
	Stake(tx *chain.Tx, key uint64, amount *big.Int) error
	Unstake(tx *chain.Tx, key uint64) (principal, reward *big.Int, err error)
}

// AdjudicationRegistry settles leak proposals.
type AdjudicationRegistry interface {
	ExecuteProposal(tx *chain.Tx, proposalID uint64) (bool, error)
	Proposal(id uint64) (domain.Proposal, error)
}

// Default fee rates in basis points.
const (
	DefaultGovernanceFeeBps = 500
	DefaultAffiliateFeeBps  = 200
)

// Config binds a coordinator to its identities.
type Config struct {
	// Address is the identity under which the coordinator holds custody and
	// calls the other modules.
	Address  common.Address
	Treasury common.Address
	Fees     domain.FeeRates
}

// IssueParams are the terms of a new bond.
type IssueParams struct {
	AssetType   string
	BondAmount  *big.Int
	Duration    uint64
	Quantity    uint64
	MetadataURI string
}

// Coordinator owns the Bond and PostedBond tables.
type Coordinator struct {
	self     common.Address
	treasury common.Address
	acl      *access.Set
	token    PaymentLedger
	certs    CertificateRegistry
	staking  RewardLedger
	gov      AdjudicationRegistry

	fees       domain.FeeRates
	bonds      map[uint64]domain.Bond
	posted     map[uint64]domain.PostedBond
	byIssuer   map[common.Address][]uint64
	byPoster   map[common.Address][]uint64
	nextBond   uint64
	nextPosted uint64

	busy bool
}

type coordinatorState struct {
	fees       domain.FeeRates
	bonds      map[uint64]domain.Bond
	posted     map[uint64]domain.PostedBond
	byIssuer   map[common.Address][]uint64
	byPoster   map[common.Address][]uint64
	nextBond   uint64
	nextPosted uint64
}

// NewCoordinator wires a coordinator to its collaborators. cfg.Fees is used
// as given; zero rates disable the corresponding fee.
func NewCoordinator(cfg Config, acl *access.Set, token PaymentLedger, certs CertificateRegistry, staking RewardLedger, gov AdjudicationRegistry) (*Coordinator, error) {
	if err := cfg.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("escrow: %w", domain.ErrInvalidParam.With("escrow address is zero"))
	}
	return &Coordinator{
		self:       cfg.Address,
		treasury:   cfg.Treasury,
		acl:        acl,
		token:      token,
		certs:      certs,
		staking:    staking,
		gov:        gov,
		fees:       cfg.Fees,
		bonds:      make(map[uint64]domain.Bond),
		posted:     make(map[uint64]domain.PostedBond),
		byIssuer:   make(map[common.Address][]uint64),
		byPoster:   make(map[common.Address][]uint64),
		nextBond:   1,
		nextPosted: 1,
	}, nil
}

// enter sets the reentrancy guard for the duration of an operation that calls
// out to other modules.
func (c *Coordinator) enter() (func(), error) {
	if c.busy {
		return nil, domain.ErrReentrancy
	}
	c.busy = true
	return func() { c.busy = false }, nil
}

// expiryAt returns now+duration, rejecting sums that wrap around.
func expiryAt(now, duration uint64) (uint64, error) {
	end := now + duration
	if end < now {
		return 0, domain.ErrInvalidDuration.With("duration %d overflows the clock at %d", duration, now)
	}
	return end, nil
}

// IssueBond registers bond terms on behalf of the caller.
func (c *Coordinator) IssueBond(tx *chain.Tx, p IssueParams) (uint64, error) {
	if p.BondAmount == nil || p.BondAmount.Sign() <= 0 {
		return 0, domain.ErrInvalidAmount.With("bond amount must be positive")
	}
	if p.Duration == 0 {
		return 0, domain.ErrInvalidDuration.With("duration must be positive")
	}
	if _, err := expiryAt(tx.Now, p.Duration); err != nil {
		return 0, err
	}
	if p.Quantity == 0 {
		return 0, domain.ErrInvalidQuantity.With("quantity must be positive")
	}

	id := c.nextBond
	c.nextBond++
	b := domain.Bond{
		ID:                id,
		Issuer:            tx.Caller,
		AssetType:         p.AssetType,
		BondAmount:        new(big.Int).Set(p.BondAmount),
		Duration:          p.Duration,
		Quantity:          p.Quantity,
		RemainingQuantity: p.Quantity,
		MetadataURI:       p.MetadataURI,
		CreatedAt:         tx.Now,
		IsActive:          true,
	}
	c.bonds[id] = b
	c.byIssuer[tx.Caller] = appendID(c.byIssuer[tx.Caller], id)

	tx.Emit(domain.BondIssued{
		BondID:      id,
		Issuer:      tx.Caller,
		AssetType:   b.AssetType,
		BondAmount:  new(big.Int).Set(b.BondAmount),
		Duration:    b.Duration,
		Quantity:    b.Quantity,
		MetadataURI: b.MetadataURI,
	})
	return id, nil
}

// PostBond locks the bond amount from the caller, mints the certificate and
// opens the stake. affiliate may be nil.
func (c *Coordinator) PostBond(tx *chain.Tx, bondID uint64, affiliate *common.Address) (uint64, error) {
	release, err := c.enter()
	if err != nil {
		return 0, err
	}
	defer release()

	b, ok := c.bonds[bondID]
	if !ok {
		return 0, domain.ErrBondNotFound.With("bond %d", bondID)
	}
	if !b.Available() {
		return 0, domain.ErrBondUnavailable.With("bond %d", bondID)
	}
	expiry, err := expiryAt(tx.Now, b.Duration)
	if err != nil {
		return 0, err
	}

	self := tx.As(c.self)
	amount := new(big.Int).Set(b.BondAmount)
	if err := c.token.TransferFrom(self, c.self, tx.Caller, c.self, amount); err != nil {
		return 0, fmt.Errorf("escrow: post bond %d: %w: %w", bondID, domain.ErrTransferFailed, err)
	}

	b.RemainingQuantity--
	exhausted := b.RemainingQuantity == 0
	if exhausted {
		b.IsActive = false
	}
	c.bonds[bondID] = b

	id := c.nextPosted
	c.nextPosted++
	pb := domain.PostedBond{
		ID:         id,
		BondID:     bondID,
		Poster:     tx.Caller,
		Amount:     amount,
		PostedAt:   tx.Now,
		ExpiryTime: expiry,
		IsActive:   true,
	}
	if affiliate != nil {
		a := *affiliate
		pb.Affiliate = &a
	}

	certID, err := c.certs.Mint(self, tx.Caller, domain.CertificateMeta{
		PostedBondID: id,
		BondID:       bondID,
		Issuer:       b.Issuer,
		Amount:       new(big.Int).Set(amount),
		ExpiryTime:   pb.ExpiryTime,
		AssetType:    b.AssetType,
		URI:          b.MetadataURI,
	})
	if err != nil {
		return 0, fmt.Errorf("escrow: post bond %d: mint certificate: %w", bondID, err)
	}
	pb.CertificateID = certID
	c.posted[id] = pb
	c.byPoster[tx.Caller] = appendID(c.byPoster[tx.Caller], id)

	if err := c.staking.Stake(self, id, amount); err != nil {
		return 0, fmt.Errorf("escrow: post bond %d: stake: %w", bondID, err)
	}

	if pb.Affiliate != nil && *pb.Affiliate != tx.Caller && *pb.Affiliate != (common.Address{}) {
		fee := domain.ApplyBps(amount, c.fees.AffiliateBps)
		if fee.Sign() > 0 {
			if err := c.token.Transfer(self, c.self, *pb.Affiliate, fee); err != nil {
				return 0, fmt.Errorf("escrow: post bond %d: affiliate fee: %w: %w", bondID, domain.ErrTransferFailed, err)
			}
			tx.Emit(domain.AffiliateRewarded{PostedBondID: id, Affiliate: *pb.Affiliate, Amount: fee})
		}
	}

	if exhausted {
		tx.Emit(domain.BondDeactivated{BondID: bondID, Reason: "exhausted"})
	}
	tx.Emit(domain.BondPosted{
		PostedBondID:  id,
		BondID:        bondID,
		Poster:        tx.Caller,
		Amount:        new(big.Int).Set(amount),
		ExpiryTime:    pb.ExpiryTime,
		CertificateID: certID,
		Affiliate:     pb.Affiliate,
	})
	return id, nil
}

// ClaimExpiredBond settles an expired posted bond in favour of the current
// certificate holder, less the governance fee on the reward.
func (c *Coordinator) ClaimExpiredBond(tx *chain.Tx, postedBondID uint64) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	pb, ok := c.posted[postedBondID]
	if !ok {
		return domain.ErrPostedBondNotFound.With("posted bond %d", postedBondID)
	}
	if !pb.IsActive {
		return domain.ErrAlreadySettled.With("posted bond %d", postedBondID)
	}
	if !pb.Expired(tx.Now) {
		return domain.ErrNotYetExpired.With("posted bond %d expires at %d", postedBondID, pb.ExpiryTime)
	}

	holder, err := c.certs.OwnerOf(pb.CertificateID)
	if err != nil {
		return fmt.Errorf("escrow: claim %d: %w", postedBondID, err)
	}

	c.settle(pb, domain.OutcomeExpired, tx.Now)

	self := tx.As(c.self)
	principal, reward, err := c.staking.Unstake(self, postedBondID)
	if err != nil {
		return fmt.Errorf("escrow: claim %d: unstake: %w", postedBondID, err)
	}
	fee := domain.ApplyBps(reward, c.fees.GovernanceBps)
	payout := new(big.Int).Add(principal, reward)
	payout.Sub(payout, fee)

	if err := c.pay(self, holder, payout); err != nil {
		return fmt.Errorf("escrow: claim %d: payout: %w: %w", postedBondID, domain.ErrTransferFailed, err)
	}
	if err := c.pay(self, c.treasury, fee); err != nil {
		return fmt.Errorf("escrow: claim %d: governance fee: %w: %w", postedBondID, domain.ErrTransferFailed, err)
	}
	if err := c.certs.Deactivate(self, pb.CertificateID); err != nil {
		return fmt.Errorf("escrow: claim %d: %w", postedBondID, err)
	}

	tx.Emit(domain.BondExpired{
		PostedBondID: postedBondID,
		Holder:       holder,
		Principal:    principal,
		Reward:       reward,
		Fee:          fee,
		Payout:       payout,
	})
	return nil
}

// AdjudicateLeak executes an approved proposal and pays the bound posted
// bond's principal and reward to the bond issuer. Any identity may call it.
func (c *Coordinator) AdjudicateLeak(tx *chain.Tx, proposalID uint64) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	self := tx.As(c.self)
	approved, err := c.gov.ExecuteProposal(self, proposalID)
	if err != nil {
		return fmt.Errorf("escrow: adjudicate %d: %w", proposalID, err)
	}
	if !approved {
		return domain.ErrProposalRejected.With("proposal %d", proposalID)
	}
	prop, err := c.gov.Proposal(proposalID)
	if err != nil {
		return fmt.Errorf("escrow: adjudicate %d: %w", proposalID, err)
	}

	pb, ok := c.posted[prop.PostedBondID]
	if !ok {
		return domain.ErrPostedBondNotFound.With("posted bond %d", prop.PostedBondID)
	}
	if !pb.IsActive {
		return domain.ErrAlreadySettled.With("posted bond %d", pb.ID)
	}
	issuer := c.bonds[pb.BondID].Issuer

	c.settle(pb, domain.OutcomeAdjudicated, tx.Now)

	principal, reward, err := c.staking.Unstake(self, pb.ID)
	if err != nil {
		return fmt.Errorf("escrow: adjudicate %d: unstake: %w", proposalID, err)
	}
	total := new(big.Int).Add(principal, reward)
	if err := c.pay(self, issuer, total); err != nil {
		return fmt.Errorf("escrow: adjudicate %d: pay issuer: %w: %w", proposalID, domain.ErrTransferFailed, err)
	}
	if err := c.certs.Deactivate(self, pb.CertificateID); err != nil {
		return fmt.Errorf("escrow: adjudicate %d: %w", proposalID, err)
	}

	tx.Emit(domain.LeakAdjudicated{PostedBondID: pb.ID, ProposalID: proposalID, Issuer: issuer, Amount: total})
	return nil
}

// DismissProposal closes a proposal that will never settle its posted bond:
// one voted down, or one approved after the posted bond already settled.
// Approved proposals against an active posted bond go through AdjudicateLeak.
func (c *Coordinator) DismissProposal(tx *chain.Tx, proposalID uint64) error {
	approved, err := c.gov.ExecuteProposal(tx.As(c.self), proposalID)
	if err != nil {
		return fmt.Errorf("escrow: dismiss %d: %w", proposalID, err)
	}
	prop, err := c.gov.Proposal(proposalID)
	if err != nil {
		return fmt.Errorf("escrow: dismiss %d: %w", proposalID, err)
	}
	if approved {
		if pb, ok := c.posted[prop.PostedBondID]; ok && pb.IsActive {
			return domain.ErrProposalApproved.With("approved proposals settle through adjudicateLeak")
		}
	}
	tx.Emit(domain.ProposalDismissed{ProposalID: proposalID, PostedBondID: prop.PostedBondID})
	return nil
}

// DeactivateBond retires the remaining supply of a bond. Issuer only.
func (c *Coordinator) DeactivateBond(tx *chain.Tx, bondID uint64) error {
	b, ok := c.bonds[bondID]
	if !ok {
		return domain.ErrBondNotFound.With("bond %d", bondID)
	}
	if b.Issuer != tx.Caller {
		return domain.ErrUnauthorized.With("%s is not the issuer of bond %d", tx.Caller.Hex(), bondID)
	}
	if !b.IsActive {
		return domain.ErrBondUnavailable.With("bond %d already inactive", bondID)
	}
	b.IsActive = false
	c.bonds[bondID] = b
	tx.Emit(domain.BondDeactivated{BondID: bondID, Reason: "retired"})
	return nil
}

// FundRewardPool moves tokens from the caller into custody to back rewards
// and affiliate fees.
func (c *Coordinator) FundRewardPool(tx *chain.Tx, amount *big.Int) error {
	release, err := c.enter()
	if err != nil {
		return err
	}
	defer release()

	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrInvalidAmount.With("funding amount must be positive")
	}
	if err := c.token.TransferFrom(tx.As(c.self), c.self, tx.Caller, c.self, amount); err != nil {
		return fmt.Errorf("escrow: fund reward pool: %w: %w", domain.ErrTransferFailed, err)
	}
	tx.Emit(domain.RewardPoolFunded{Funder: tx.Caller, Amount: new(big.Int).Set(amount)})
	return nil
}

// settle flips a posted bond to inactive before any value leaves custody.
func (c *Coordinator) settle(pb domain.PostedBond, outcome domain.Outcome, now uint64) {
	pb.IsActive = false
	pb.Outcome = outcome
	pb.SettledAt = now
	c.posted[pb.ID] = pb
}

// pay transfers amount out of custody, skipping zero amounts.
func (c *Coordinator) pay(self *chain.Tx, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	return c.token.Transfer(self, c.self, to, amount)
}

func appendID(ids []uint64, id uint64) []uint64 {
	out := make([]uint64, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, id)
}

// Snapshot implements chain.Journaled. Table values are replaced on every
// write and index slices are copied on append, so shallow clones suffice.
func (c *Coordinator) Snapshot() any {
	return coordinatorState{
		fees:       c.fees,
		bonds:      maps.Clone(c.bonds),
		posted:     maps.Clone(c.posted),
		byIssuer:   maps.Clone(c.byIssuer),
		byPoster:   maps.Clone(c.byPoster),
		nextBond:   c.nextBond,
		nextPosted: c.nextPosted,
	}
}

// Restore implements chain.Journaled.
func (c *Coordinator) Restore(snap any) {
	st := snap.(coordinatorState)
	c.fees = st.fees
	c.bonds = st.bonds
	c.posted = st.posted
	c.byIssuer = st.byIssuer
	c.byPoster = st.byPoster
	c.nextBond = st.nextBond
	c.nextPosted = st.nextPosted
	c.busy = false
}

// Bond returns a copy of a bond.
func (c *Coordinator) Bond(id uint64) (domain.Bond, error) {
	b, ok := c.bonds[id]
	if !ok {
		return domain.Bond{}, domain.ErrBondNotFound.With("bond %d", id)
	}
	return b.Clone(), nil
}

// PostedBond returns a copy of a posted bond.
func (c *Coordinator) PostedBond(id uint64) (domain.PostedBond, error) {
	pb, ok := c.posted[id]
	if !ok {
		return domain.PostedBond{}, domain.ErrPostedBondNotFound.With("posted bond %d", id)
	}
	return pb.Clone(), nil
}

// UserBonds lists the ids of bonds issued by issuer.
func (c *Coordinator) UserBonds(issuer common.Address) []uint64 {
	return slices.Clone(c.byIssuer[issuer])
}

// PostedByUser lists the ids of posted bonds created by poster.
func (c *Coordinator) PostedByUser(poster common.Address) []uint64 {
	return slices.Clone(c.byPoster[poster])
}

// FeeRates returns the current fee rates.
func (c *Coordinator) FeeRates() domain.FeeRates { return c.fees }

// Custody returns the token balance held by the coordinator.
func (c *Coordinator) Custody() *big.Int { return c.token.BalanceOf(c.self) }

// Address is the coordinator's custody identity.
func (c *Coordinator) Address() common.Address { return c.self }

// Treasury is where governance fees are paid.
func (c *Coordinator) Treasury() common.Address { return c.treasury }
