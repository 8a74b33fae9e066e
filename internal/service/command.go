package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"strings"

	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Command is one client request: an operation name and its JSON arguments.
type Command struct {
	Op   string          `json:"op"`
	Args json.RawMessage `json:"args"`
}

// Operation names accepted by Submit.
const (
	OpIssueBond           = "issueBond"
	OpPostBond            = "postBond"
	OpClaimExpiredBond    = "claimExpiredBond"
	OpAdjudicateLeak      = "adjudicateLeak"
	OpDismissProposal     = "dismissProposal"
	OpDeactivateBond      = "deactivateBond"
	OpFundRewardPool      = "fundRewardPool"
	OpCreateProposal      = "createProposal"
	OpVote                = "vote"
	OpSetFeeRates         = "setFeeRates"
	OpSetVotingPeriod     = "setVotingPeriod"
	OpSetRequiredVotes    = "setRequiredVotes"
	OpGrantAdjudicator    = "grantAdjudicator"
	OpRevokeAdjudicator   = "revokeAdjudicator"
	OpSetGovernanceEscrow = "setGovernanceEscrow"
	OpSetStakingEscrow    = "setStakingEscrow"
	OpTransfer            = "transfer"
	OpApprove             = "approve"
	OpTransferCertificate = "transferCertificate"
)

// Amount is a token amount carried as a decimal (or 0x-hex) string.
type Amount struct{ *big.Int }

// UnmarshalJSON accepts "123" or "0x7b".
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.ErrInvalidAmount.With("amount must be a string")
	}
	v, ok := math.ParseBig256(strings.TrimSpace(s))
	if !ok {
		return domain.ErrInvalidAmount.With("cannot parse %q", s)
	}
	a.Int = v
	return nil
}

// MarshalJSON renders the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(a.Int.String())
}

type issueBondArgs struct {
	AssetType   string `json:"asset_type"`
	BondAmount  Amount `json:"bond_amount"`
	Duration    uint64 `json:"duration"`
	Quantity    uint64 `json:"quantity"`
	MetadataURI string `json:"metadata_uri"`
}

type postBondArgs struct {
	BondID    uint64          `json:"bond_id"`
	Affiliate *common.Address `json:"affiliate"`
}

type postedBondArgs struct {
	PostedBondID uint64 `json:"posted_bond_id"`
}

type proposalArgs struct {
	ProposalID uint64 `json:"proposal_id"`
}

type bondArgs struct {
	BondID uint64 `json:"bond_id"`
}

type amountArgs struct {
	Amount Amount `json:"amount"`
}

type createProposalArgs struct {
	PostedBondID uint64 `json:"posted_bond_id"`
	Evidence     string `json:"evidence"`
}

type voteArgs struct {
	ProposalID uint64 `json:"proposal_id"`
	Support    bool   `json:"support"`
}

type feeRatesArgs struct {
	GovernanceBps uint64 `json:"governance_bps"`
	AffiliateBps  uint64 `json:"affiliate_bps"`
}

type votingPeriodArgs struct {
	Seconds uint64 `json:"seconds"`
}

type requiredVotesArgs struct {
	Votes uint64 `json:"votes"`
}

type accountArgs struct {
	Account common.Address `json:"account"`
}

type escrowArgs struct {
	Escrow common.Address `json:"escrow"`
}

type transferArgs struct {
	To     common.Address `json:"to"`
	Amount Amount         `json:"amount"`
}

type approveArgs struct {
	Spender common.Address `json:"spender"`
	Amount  Amount         `json:"amount"`
}

type transferCertificateArgs struct {
	CertificateID uint64         `json:"certificate_id"`
	To            common.Address `json:"to"`
}

// Bound is a decoded command ready to run inside a transaction. It returns
// the id of any entity it created.
type Bound func(tx *chain.Tx) (uint64, error)

// CanonicalArgs compacts JSON arguments so the bytes hashed into a receipt do
// not depend on client whitespace. Empty arguments become {}.
func CanonicalArgs(args json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		return json.RawMessage(`{}`), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, args); err != nil {
		return nil, domain.ErrInvalidParam.With("args: %v", err)
	}
	return buf.Bytes(), nil
}

func decode[T any](args json.RawMessage) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return v, de
		}
		return v, domain.ErrInvalidParam.With("args: %v", err)
	}
	return v, nil
}

func requireAmount(a Amount) (*big.Int, error) {
	if a.Int == nil {
		return nil, domain.ErrInvalidAmount.With("amount is required")
	}
	return a.Int, nil
}

// Bind decodes cmd against sys. Decoding failures are validation errors and
// are reported before any transaction opens.
func Bind(sys *System, cmd Command) (Bound, error) {
	args := cmd.Args
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}

	switch cmd.Op {
	case OpIssueBond:
		a, err := decode[issueBondArgs](args)
		if err != nil {
			return nil, err
		}
		return func(tx *chain.Tx) (uint64, error) {
			return sys.Escrow.IssueBond(tx, escrow.IssueParams{
				AssetType:   a.AssetType,
				BondAmount:  a.BondAmount.Int,
				Duration:    a.Duration,
				Quantity:    a.Quantity,
				MetadataURI: a.MetadataURI,
			})
		}, nil

	case OpPostBond:
		a, err := decode[postBondArgs](args)
		if err != nil {
			return nil, err
		}
		return func(tx *chain.Tx) (uint64, error) {
			return sys.Escrow.PostBond(tx, a.BondID, a.Affiliate)
		}, nil

	case OpClaimExpiredBond:
		a, err := decode[postedBondArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Escrow.ClaimExpiredBond(tx, a.PostedBondID) }), nil

	case OpAdjudicateLeak:
		a, err := decode[proposalArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Escrow.AdjudicateLeak(tx, a.ProposalID) }), nil

	case OpDismissProposal:
		a, err := decode[proposalArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Escrow.DismissProposal(tx, a.ProposalID) }), nil

	case OpDeactivateBond:
		a, err := decode[bondArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Escrow.DeactivateBond(tx, a.BondID) }), nil

	case OpFundRewardPool:
		a, err := decode[amountArgs](args)
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(a.Amount)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Escrow.FundRewardPool(tx, amount) }), nil

	case OpCreateProposal:
		a, err := decode[createProposalArgs](args)
		if err != nil {
			return nil, err
		}
		return func(tx *chain.Tx) (uint64, error) {
			pb, err := sys.Escrow.PostedBond(a.PostedBondID)
			if err != nil {
				return 0, err
			}
			if !pb.IsActive {
				return 0, domain.ErrAlreadySettled.With("posted bond %d", pb.ID)
			}
			return sys.Governance.CreateProposal(tx, a.PostedBondID, a.Evidence)
		}, nil

	case OpVote:
		a, err := decode[voteArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.Vote(tx, a.ProposalID, a.Support) }), nil

	case OpSetFeeRates:
		a, err := decode[feeRatesArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error {
			return sys.Escrow.SetFeeRates(tx, a.GovernanceBps, a.AffiliateBps)
		}), nil

	case OpSetVotingPeriod:
		a, err := decode[votingPeriodArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.SetVotingPeriod(tx, a.Seconds) }), nil

	case OpSetRequiredVotes:
		a, err := decode[requiredVotesArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.SetRequiredVotes(tx, a.Votes) }), nil

	case OpGrantAdjudicator:
		a, err := decode[accountArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.GrantAdjudicator(tx, a.Account) }), nil

	case OpRevokeAdjudicator:
		a, err := decode[accountArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.RevokeAdjudicator(tx, a.Account) }), nil

	case OpSetGovernanceEscrow:
		a, err := decode[escrowArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Governance.SetEscrowContract(tx, a.Escrow) }), nil

	case OpSetStakingEscrow:
		a, err := decode[escrowArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Staking.SetEscrowContract(tx, a.Escrow) }), nil

	case OpTransfer:
		a, err := decode[transferArgs](args)
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(a.Amount)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Token.Transfer(tx, tx.Caller, a.To, amount) }), nil

	case OpApprove:
		a, err := decode[approveArgs](args)
		if err != nil {
			return nil, err
		}
		amount, err := requireAmount(a.Amount)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error { return sys.Token.Approve(tx, a.Spender, amount) }), nil

	case OpTransferCertificate:
		a, err := decode[transferCertificateArgs](args)
		if err != nil {
			return nil, err
		}
		return noID(func(tx *chain.Tx) error {
			return sys.Certificates.Transfer(tx, a.CertificateID, a.To)
		}), nil
	}

	return nil, domain.ErrUnknownOp.With("%q", cmd.Op)
}

func noID(fn func(tx *chain.Tx) error) Bound {
	return func(tx *chain.Tx) (uint64, error) { return 0, fn(tx) }
}

// Ops lists every accepted operation name.
func Ops() []string {
	return []string{
		OpIssueBond, OpPostBond, OpClaimExpiredBond, OpAdjudicateLeak, OpDismissProposal,
		OpDeactivateBond, OpFundRewardPool, OpCreateProposal, OpVote, OpSetFeeRates,
		OpSetVotingPeriod, OpSetRequiredVotes, OpGrantAdjudicator, OpRevokeAdjudicator,
		OpSetGovernanceEscrow, OpSetStakingEscrow, OpTransfer, OpApprove, OpTransferCertificate,
	}
}
