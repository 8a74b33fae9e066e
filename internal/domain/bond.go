package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// BPSDenominator is the basis-point scale used by every rate in the system.
const BPSDenominator = 10_000

// Bond is the reusable terms template an issuer publishes.
type Bond struct {
	ID                uint64         `json:"id"`
	Issuer            common.Address `json:"issuer"`
	AssetType         string         `json:"asset_type"`
	BondAmount        *big.Int       `json:"bond_amount"`
	Duration          uint64         `json:"duration"`
	Quantity          uint64         `json:"quantity"`
	RemainingQuantity uint64         `json:"remaining_quantity"`
	MetadataURI       string         `json:"metadata_uri,omitempty"`
	CreatedAt         uint64         `json:"created_at"`
	IsActive          bool           `json:"is_active"`
}

// Available reports whether the bond can still be posted.
func (b Bond) Available() bool {
	return b.IsActive && b.RemainingQuantity > 0
}

// Clone returns a deep copy of b.
func (b Bond) Clone() Bond {
	b.BondAmount = cloneInt(b.BondAmount)
	return b
}

// Outcome records how a posted bond was settled.
type Outcome string

const (
	OutcomeNone        Outcome = ""
	OutcomeExpired     Outcome = "expired"
	OutcomeAdjudicated Outcome = "adjudicated"
)

// PostedBond is one instance of a bond being locked by a poster. It carries a
// certificate, a stake and, eventually, exactly one settlement outcome.
type PostedBond struct {
	ID            uint64          `json:"id"`
	BondID        uint64          `json:"bond_id"`
	Poster        common.Address  `json:"poster"`
	Amount        *big.Int        `json:"amount"`
	PostedAt      uint64          `json:"posted_at"`
	ExpiryTime    uint64          `json:"expiry_time"`
	IsActive      bool            `json:"is_active"`
	Affiliate     *common.Address `json:"affiliate,omitempty"`
	CertificateID uint64          `json:"certificate_id"`
	Outcome       Outcome         `json:"outcome,omitempty"`
	SettledAt     uint64          `json:"settled_at,omitempty"`
}

// Expired reports whether now has reached the expiry time.
func (p PostedBond) Expired(now uint64) bool {
	return now >= p.ExpiryTime
}

// Clone returns a deep copy of p.
func (p PostedBond) Clone() PostedBond {
	p.Amount = cloneInt(p.Amount)
	if p.Affiliate != nil {
		a := *p.Affiliate
		p.Affiliate = &a
	}
	return p
}

// CertificateMeta is the payload bound to a certificate at mint time.
type CertificateMeta struct {
	PostedBondID uint64         `json:"posted_bond_id"`
	BondID       uint64         `json:"bond_id"`
	Issuer       common.Address `json:"issuer"`
	Amount       *big.Int       `json:"amount"`
	ExpiryTime   uint64         `json:"expiry_time"`
	AssetType    string         `json:"asset_type"`
	URI          string         `json:"uri"`
}

// Certificate is the non-fungible claim on a posted bond's payout.
type Certificate struct {
	ID       uint64          `json:"id"`
	Owner    common.Address  `json:"owner"`
	Meta     CertificateMeta `json:"meta"`
	IsActive bool            `json:"is_active"`
}

// FeeRates are the protocol fee rates in basis points.
type FeeRates struct {
	GovernanceBps uint64 `json:"governance_bps"`
	AffiliateBps  uint64 `json:"affiliate_bps"`
}

const (
	// MaxGovernanceFeeBps caps the governance cut of staking rewards (10%).
	MaxGovernanceFeeBps = 1_000
	// MaxAffiliateFeeBps caps the affiliate cut of the posted amount (5%).
	MaxAffiliateFeeBps = 500
)

// Validate enforces the hard fee caps.
func (f FeeRates) Validate() error {
	if f.GovernanceBps > MaxGovernanceFeeBps {
		return ErrFeeAboveCap.With("governance fee %d bps exceeds cap %d", f.GovernanceBps, MaxGovernanceFeeBps)
	}
	if f.AffiliateBps > MaxAffiliateFeeBps {
		return ErrFeeAboveCap.With("affiliate fee %d bps exceeds cap %d", f.AffiliateBps, MaxAffiliateFeeBps)
	}
	return nil
}

// ApplyBps returns amount*bps/10000 rounded down.
func ApplyBps(amount *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return out.Quo(out, big.NewInt(BPSDenominator))
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
