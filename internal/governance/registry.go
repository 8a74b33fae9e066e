// Package governance implements the adjudication registry: proposals to
// redirect a posted bond to its issuer, voted on by adjudicators.
package governance

import (
	"maps"
	"slices"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultVotingPeriod  = 7 * 24 * 60 * 60
	DefaultRequiredVotes = 2
)

// Registry holds adjudication proposals and their ballots.
type Registry struct {
	acl *access.Set

	votingPeriod  uint64
	requiredVotes uint64
	escrow        common.Address

	proposals map[uint64]domain.Proposal
	ballots   map[uint64]map[common.Address]domain.Ballot
	byPosted  map[uint64][]uint64
	nextID    uint64
}

type registryState struct {
	votingPeriod  uint64
	requiredVotes uint64
	escrow        common.Address
	proposals     map[uint64]domain.Proposal
	ballots       map[uint64]map[common.Address]domain.Ballot
	byPosted      map[uint64][]uint64
	nextID        uint64
}

// NewRegistry creates a registry with default voting parameters that only
// lets escrow execute proposals.
func NewRegistry(acl *access.Set, escrow common.Address) *Registry {
	return &Registry{
		acl:           acl,
		votingPeriod:  DefaultVotingPeriod,
		requiredVotes: DefaultRequiredVotes,
		escrow:        escrow,
		proposals:     make(map[uint64]domain.Proposal),
		ballots:       make(map[uint64]map[common.Address]domain.Ballot),
		byPosted:      make(map[uint64][]uint64),
		nextID:        1,
	}
}

// CreateProposal opens a proposal against a posted bond. Adjudicators only.
func (r *Registry) CreateProposal(tx *chain.Tx, postedBondID uint64, evidence string) (uint64, error) {
	if err := r.acl.Require(tx.Caller, access.Adjudicator); err != nil {
		return 0, err
	}
	if postedBondID == 0 {
		return 0, domain.ErrInvalidParam.With("posted bond id is zero")
	}
	deadline := tx.Now + r.votingPeriod
	if deadline < tx.Now {
		return 0, domain.ErrInvalidParam.With("voting period %d overflows the clock at %d", r.votingPeriod, tx.Now)
	}

	id := r.nextID
	r.nextID++
	p := domain.Proposal{
		ID:           id,
		PostedBondID: postedBondID,
		Proposer:     tx.Caller,
		Evidence:     evidence,
		CreatedAt:    tx.Now,
		Deadline:     deadline,
	}
	r.proposals[id] = p
	r.ballots[id] = make(map[common.Address]domain.Ballot)
	r.byPosted[postedBondID] = append(slices.Clone(r.byPosted[postedBondID]), id)

	tx.Emit(domain.ProposalCreated{ProposalID: id, PostedBondID: postedBondID, Proposer: tx.Caller, Deadline: p.Deadline})
	return id, nil
}

// Vote records the caller's ballot. Each adjudicator votes at most once,
// while the proposal is open.
func (r *Registry) Vote(tx *chain.Tx, proposalID uint64, support bool) error {
	if err := r.acl.Require(tx.Caller, access.Adjudicator); err != nil {
		return err
	}
	p, ok := r.proposals[proposalID]
	if !ok {
		return domain.ErrProposalNotFound.With("proposal %d", proposalID)
	}
	if !p.Open(tx.Now) {
		return domain.ErrVotingClosed.With("proposal %d closed at %d", proposalID, p.Deadline)
	}
	if _, voted := r.ballots[proposalID][tx.Caller]; voted {
		return domain.ErrAlreadyVoted.With("%s on proposal %d", tx.Caller.Hex(), proposalID)
	}

	if support {
		p.VotesFor++
	} else {
		p.VotesAgainst++
	}
	r.proposals[proposalID] = p
	bs := maps.Clone(r.ballots[proposalID])
	bs[tx.Caller] = domain.Ballot{Voter: tx.Caller, Support: support, CastAt: tx.Now}
	r.ballots[proposalID] = bs

	tx.Emit(domain.VoteCast{ProposalID: proposalID, Voter: tx.Caller, Support: support})
	return nil
}

// ExecuteProposal closes voting and returns the verdict. Only the trusted
// escrow may execute, once, after the deadline and with quorum reached.
func (r *Registry) ExecuteProposal(tx *chain.Tx, proposalID uint64) (bool, error) {
	if tx.Caller != r.escrow {
		return false, domain.ErrNotTrustedCaller.With("governance: %s is not the escrow", tx.Caller.Hex())
	}
	p, ok := r.proposals[proposalID]
	if !ok {
		return false, domain.ErrProposalNotFound.With("proposal %d", proposalID)
	}
	if p.Executed {
		return false, domain.ErrAlreadyExecuted.With("proposal %d", proposalID)
	}
	if tx.Now <= p.Deadline {
		return false, domain.ErrVotingOpen.With("proposal %d open until %d", proposalID, p.Deadline)
	}
	if p.TotalVotes() < r.requiredVotes {
		return false, domain.ErrInsufficientVotes.With("proposal %d has %d of %d votes", proposalID, p.TotalVotes(), r.requiredVotes)
	}

	p.Executed = true
	p.Approved = p.VotesFor > p.VotesAgainst
	r.proposals[proposalID] = p

	tx.Emit(domain.ProposalExecuted{ProposalID: proposalID, Approved: p.Approved})
	return p.Approved, nil
}

// SetVotingPeriod changes the period applied to proposals created later.
func (r *Registry) SetVotingPeriod(tx *chain.Tx, seconds uint64) error {
	if err := r.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if seconds == 0 {
		return domain.ErrInvalidParam.With("voting period must be positive")
	}
	if tx.Now+seconds < tx.Now {
		return domain.ErrInvalidParam.With("voting period %d overflows the clock at %d", seconds, tx.Now)
	}
	r.votingPeriod = seconds
	tx.Emit(domain.VotingPeriodUpdated{VotingPeriod: seconds})
	return nil
}

// SetRequiredVotes changes the quorum.
func (r *Registry) SetRequiredVotes(tx *chain.Tx, n uint64) error {
	if err := r.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInvalidParam.With("required votes must be at least 1")
	}
	r.requiredVotes = n
	tx.Emit(domain.RequiredVotesUpdated{RequiredVotes: n})
	return nil
}

// GrantAdjudicator gives account the Adjudicator capability.
func (r *Registry) GrantAdjudicator(tx *chain.Tx, account common.Address) error {
	if err := r.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if r.acl.Grant(account, access.Adjudicator) {
		tx.Emit(domain.AdjudicatorGranted{Account: account})
	}
	return nil
}

// RevokeAdjudicator removes the Adjudicator capability. Ballots already cast
// stand.
func (r *Registry) RevokeAdjudicator(tx *chain.Tx, account common.Address) error {
	if err := r.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if r.acl.Revoke(account, access.Adjudicator) {
		tx.Emit(domain.AdjudicatorRevoked{Account: account})
	}
	return nil
}

// SetEscrowContract rebinds the trusted executor.
func (r *Registry) SetEscrowContract(tx *chain.Tx, escrow common.Address) error {
	if err := r.acl.Require(tx.Caller, access.Admin); err != nil {
		return err
	}
	if escrow == (common.Address{}) {
		return domain.ErrInvalidParam.With("escrow address is zero")
	}
	r.escrow = escrow
	tx.Emit(domain.EscrowContractUpdated{Module: "governance", Escrow: escrow})
	return nil
}

// Proposal returns a proposal by id.
func (r *Registry) Proposal(id uint64) (domain.Proposal, error) {
	p, ok := r.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrProposalNotFound.With("proposal %d", id)
	}
	return p, nil
}

// HasVoted reports whether voter has cast a ballot on proposal id.
func (r *Registry) HasVoted(id uint64, voter common.Address) bool {
	_, ok := r.ballots[id][voter]
	return ok
}

// BallotOf returns voter's ballot on proposal id.
func (r *Registry) BallotOf(id uint64, voter common.Address) (domain.Ballot, error) {
	if _, ok := r.proposals[id]; !ok {
		return domain.Ballot{}, domain.ErrProposalNotFound.With("proposal %d", id)
	}
	b, ok := r.ballots[id][voter]
	if !ok {
		return domain.Ballot{}, domain.ErrNotFound.With("no ballot from %s on proposal %d", voter.Hex(), id)
	}
	return b, nil
}

// ProposalsFor lists proposal ids bound to a posted bond, oldest first.
func (r *Registry) ProposalsFor(postedBondID uint64) []uint64 {
	return slices.Clone(r.byPosted[postedBondID])
}

// IsAdjudicator reports whether account may propose and vote.
func (r *Registry) IsAdjudicator(account common.Address) bool {
	return r.acl.Has(account, access.Adjudicator)
}

// Adjudicators lists the current adjudicators.
func (r *Registry) Adjudicators() []common.Address {
	return r.acl.Holders(access.Adjudicator)
}

// Params returns the current voting parameters.
func (r *Registry) Params() domain.GovernanceParams {
	return domain.GovernanceParams{
		VotingPeriod:  r.votingPeriod,
		RequiredVotes: r.requiredVotes,
		Escrow:        r.escrow,
	}
}

// Snapshot implements chain.Journaled. Ballot maps are copied on write in
// Vote, so cloning the outer maps is enough.
func (r *Registry) Snapshot() any {
	return registryState{
		votingPeriod:  r.votingPeriod,
		requiredVotes: r.requiredVotes,
		escrow:        r.escrow,
		proposals:     maps.Clone(r.proposals),
		ballots:       maps.Clone(r.ballots),
		byPosted:      maps.Clone(r.byPosted),
		nextID:        r.nextID,
	}
}

// Restore implements chain.Journaled.
func (r *Registry) Restore(snap any) {
	st := snap.(registryState)
	r.votingPeriod = st.votingPeriod
	r.requiredVotes = st.requiredVotes
	r.escrow = st.escrow
	r.proposals = st.proposals
	r.ballots = st.ballots
	r.byPosted = st.byPosted
	r.nextID = st.nextID
}
