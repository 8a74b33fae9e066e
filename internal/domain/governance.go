package domain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Ballot is a single adjudicator's recorded vote.
type Ballot struct {
	Voter   common.Address `json:"voter"`
	Support bool           `json:"support"`
	CastAt  uint64         `json:"cast_at"`
}

// Proposal is one adjudication request bound to a posted bond.
type Proposal struct {
	ID           uint64         `json:"id"`
	PostedBondID uint64         `json:"posted_bond_id"`
	Proposer     common.Address `json:"proposer"`
	Evidence     string         `json:"evidence"`
	CreatedAt    uint64         `json:"created_at"`
	Deadline     uint64         `json:"deadline"`
	Executed     bool           `json:"executed"`
	Approved     bool           `json:"approved"`
	VotesFor     uint64         `json:"votes_for"`
	VotesAgainst uint64         `json:"votes_against"`
}

// TotalVotes is the number of ballots cast.
func (p Proposal) TotalVotes() uint64 {
	return p.VotesFor + p.VotesAgainst
}

// Open reports whether ballots may still be cast at now.
func (p Proposal) Open(now uint64) bool {
	return !p.Executed && now <= p.Deadline
}

// Status renders the proposal's position in its state machine.
func (p Proposal) Status(now uint64) string {
	switch {
	case p.Executed && p.Approved:
		return "approved"
	case p.Executed:
		return "rejected"
	case now <= p.Deadline:
		return "open"
	default:
		return "awaiting_execution"
	}
}

// GovernanceParams are the admin-tunable voting parameters.
type GovernanceParams struct {
	VotingPeriod  uint64         `json:"voting_period"`
	RequiredVotes uint64         `json:"required_votes"`
	Escrow        common.Address `json:"escrow"`
}
