package domain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event is a typed record emitted by a committed state transition.
type Event interface {
	EventType() string
}

// EventEnvelope is the serialised form of an Event as it travels through the
// journal, the signal bus and notifications.
type EventEnvelope struct {
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	TxHash    string          `json:"tx_hash"`
	Timestamp uint64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope wraps ev for transport.
func NewEnvelope(seq uint64, txHash string, ts uint64, ev Event) (EventEnvelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("domain: marshal event %s: %w", ev.EventType(), err)
	}
	return EventEnvelope{
		Type:      ev.EventType(),
		Seq:       seq,
		TxHash:    txHash,
		Timestamp: ts,
		Data:      data,
	}, nil
}

// Escrow events.

type BondIssued struct {
	BondID      uint64         `json:"bond_id"`
	Issuer      common.Address `json:"issuer"`
	AssetType   string         `json:"asset_type"`
	BondAmount  *big.Int       `json:"bond_amount"`
	Duration    uint64         `json:"duration"`
	Quantity    uint64         `json:"quantity"`
	MetadataURI string         `json:"metadata_uri,omitempty"`
}

type BondPosted struct {
	PostedBondID  uint64          `json:"posted_bond_id"`
	BondID        uint64          `json:"bond_id"`
	Poster        common.Address  `json:"poster"`
	Amount        *big.Int        `json:"amount"`
	ExpiryTime    uint64          `json:"expiry_time"`
	CertificateID uint64          `json:"certificate_id"`
	Affiliate     *common.Address `json:"affiliate,omitempty"`
}

type AffiliateRewarded struct {
	PostedBondID uint64         `json:"posted_bond_id"`
	Affiliate    common.Address `json:"affiliate"`
	Amount       *big.Int       `json:"amount"`
}

type BondExpired struct {
	PostedBondID uint64         `json:"posted_bond_id"`
	Holder       common.Address `json:"holder"`
	Principal    *big.Int       `json:"principal"`
	Reward       *big.Int       `json:"reward"`
	Fee          *big.Int       `json:"fee"`
	Payout       *big.Int       `json:"payout"`
}

type LeakAdjudicated struct {
	PostedBondID uint64         `json:"posted_bond_id"`
	ProposalID   uint64         `json:"proposal_id"`
	Issuer       common.Address `json:"issuer"`
	Amount       *big.Int       `json:"amount"`
}

type BondDeactivated struct {
	BondID uint64 `json:"bond_id"`
	Reason string `json:"reason"`
}

type RewardPoolFunded struct {
	Funder common.Address `json:"funder"`
	Amount *big.Int       `json:"amount"`
}

type ProposalDismissed struct {
	ProposalID   uint64 `json:"proposal_id"`
	PostedBondID uint64 `json:"posted_bond_id"`
}

type FeeRatesUpdated struct {
	GovernanceBps uint64 `json:"governance_bps"`
	AffiliateBps  uint64 `json:"affiliate_bps"`
}

func (BondIssued) EventType() string        { return "BondIssued" }
func (BondPosted) EventType() string        { return "BondPosted" }
func (AffiliateRewarded) EventType() string { return "AffiliateRewarded" }
func (BondExpired) EventType() string       { return "BondExpired" }
func (LeakAdjudicated) EventType() string   { return "LeakAdjudicated" }
func (BondDeactivated) EventType() string   { return "BondDeactivated" }
func (RewardPoolFunded) EventType() string  { return "RewardPoolFunded" }
func (ProposalDismissed) EventType() string { return "ProposalDismissed" }
func (FeeRatesUpdated) EventType() string   { return "FeeRatesUpdated" }

// Staking events.

type Staked struct {
	PostedBondID uint64   `json:"posted_bond_id"`
	Amount       *big.Int `json:"amount"`
}

type Unstaked struct {
	PostedBondID uint64   `json:"posted_bond_id"`
	Principal    *big.Int `json:"principal"`
	Reward       *big.Int `json:"reward"`
}

func (Staked) EventType() string   { return "Staked" }
func (Unstaked) EventType() string { return "Unstaked" }

// Governance events.

type ProposalCreated struct {
	ProposalID   uint64         `json:"proposal_id"`
	PostedBondID uint64         `json:"posted_bond_id"`
	Proposer     common.Address `json:"proposer"`
	Deadline     uint64         `json:"deadline"`
}

type VoteCast struct {
	ProposalID uint64         `json:"proposal_id"`
	Voter      common.Address `json:"voter"`
	Support    bool           `json:"support"`
}

type ProposalExecuted struct {
	ProposalID uint64 `json:"proposal_id"`
	Approved   bool   `json:"approved"`
}

type VotingPeriodUpdated struct {
	VotingPeriod uint64 `json:"voting_period"`
}

type RequiredVotesUpdated struct {
	RequiredVotes uint64 `json:"required_votes"`
}

type AdjudicatorGranted struct {
	Account common.Address `json:"account"`
}

type AdjudicatorRevoked struct {
	Account common.Address `json:"account"`
}

// EscrowContractUpdated is emitted when a module's trusted caller is rebound.
type EscrowContractUpdated struct {
	Module string         `json:"module"`
	Escrow common.Address `json:"escrow"`
}

func (ProposalCreated) EventType() string       { return "ProposalCreated" }
func (VoteCast) EventType() string              { return "VoteCast" }
func (ProposalExecuted) EventType() string      { return "ProposalExecuted" }
func (VotingPeriodUpdated) EventType() string   { return "VotingPeriodUpdated" }
func (RequiredVotesUpdated) EventType() string  { return "RequiredVotesUpdated" }
func (AdjudicatorGranted) EventType() string    { return "AdjudicatorGranted" }
func (AdjudicatorRevoked) EventType() string    { return "AdjudicatorRevoked" }
func (EscrowContractUpdated) EventType() string { return "EscrowContractUpdated" }

// Token and certificate events.

type Transfer struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

type Approval struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

type CertificateMinted struct {
	CertificateID uint64         `json:"certificate_id"`
	PostedBondID  uint64         `json:"posted_bond_id"`
	Owner         common.Address `json:"owner"`
	URI           string         `json:"uri"`
}

type CertificateDeactivated struct {
	CertificateID uint64 `json:"certificate_id"`
}

type CertificateTransferred struct {
	CertificateID uint64         `json:"certificate_id"`
	From          common.Address `json:"from"`
	To            common.Address `json:"to"`
}

func (Transfer) EventType() string               { return "Transfer" }
func (Approval) EventType() string               { return "Approval" }
func (CertificateMinted) EventType() string      { return "CertificateMinted" }
func (CertificateDeactivated) EventType() string { return "CertificateDeactivated" }
func (CertificateTransferred) EventType() string { return "CertificateTransferred" }
