// Package certificate implements the non-fungible certificate registry that
// records who may claim a posted bond's payout.
package certificate

import (
	"fmt"
	"maps"
	"math/big"

	"github.com/alanyoungcy/bondescrow/internal/access"
	"github.com/alanyoungcy/bondescrow/internal/chain"
	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Registry holds certificates keyed by sequential id. Mint and Deactivate are
// restricted to holders of the Minter capability.
type Registry struct {
	acl *access.Set

	certs    map[uint64]domain.Certificate
	byPosted map[uint64]uint64
	nextID   uint64
}

type registryState struct {
	certs    map[uint64]domain.Certificate
	byPosted map[uint64]uint64
	nextID   uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(acl *access.Set) *Registry {
	return &Registry{
		acl:      acl,
		certs:    make(map[uint64]domain.Certificate),
		byPosted: make(map[uint64]uint64),
		nextID:   1,
	}
}

// DefaultURI is used when a bond carries no metadata URI.
func DefaultURI(bondID, postedBondID uint64) string {
	return fmt.Sprintf("bond://%d/%d", bondID, postedBondID)
}

// Mint issues a certificate for a posted bond to to.
func (r *Registry) Mint(tx *chain.Tx, to common.Address, meta domain.CertificateMeta) (uint64, error) {
	if err := r.acl.Require(tx.Caller, access.Minter); err != nil {
		return 0, err
	}
	if _, ok := r.byPosted[meta.PostedBondID]; ok {
		return 0, domain.ErrAlreadyExists.With("certificate for posted bond %d", meta.PostedBondID)
	}
	if meta.URI == "" {
		meta.URI = DefaultURI(meta.BondID, meta.PostedBondID)
	}
	if meta.Amount != nil {
		meta.Amount = new(big.Int).Set(meta.Amount)
	}

	id := r.nextID
	r.nextID++
	r.certs[id] = domain.Certificate{ID: id, Owner: to, Meta: meta, IsActive: true}
	r.byPosted[meta.PostedBondID] = id

	tx.Emit(domain.CertificateMinted{CertificateID: id, PostedBondID: meta.PostedBondID, Owner: to, URI: meta.URI})
	return id, nil
}

// Deactivate marks a certificate spent. It fails if already inactive.
func (r *Registry) Deactivate(tx *chain.Tx, id uint64) error {
	if err := r.acl.Require(tx.Caller, access.Minter); err != nil {
		return err
	}
	c, ok := r.certs[id]
	if !ok {
		return domain.ErrCertificateNotFound.With("certificate %d", id)
	}
	if !c.IsActive {
		return domain.ErrCertificateRevoked.With("certificate %d", id)
	}
	c.IsActive = false
	r.certs[id] = c
	tx.Emit(domain.CertificateDeactivated{CertificateID: id})
	return nil
}

// Transfer moves an active certificate from its owner, the caller, to to.
func (r *Registry) Transfer(tx *chain.Tx, id uint64, to common.Address) error {
	c, ok := r.certs[id]
	if !ok {
		return domain.ErrCertificateNotFound.With("certificate %d", id)
	}
	if c.Owner != tx.Caller {
		return domain.ErrUnauthorized.With("%s does not own certificate %d", tx.Caller.Hex(), id)
	}
	if !c.IsActive {
		return domain.ErrCertificateRevoked.With("certificate %d", id)
	}
	from := c.Owner
	c.Owner = to
	r.certs[id] = c
	tx.Emit(domain.CertificateTransferred{CertificateID: id, From: from, To: to})
	return nil
}

// OwnerOf returns the current owner of a certificate.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	c, ok := r.certs[id]
	if !ok {
		return common.Address{}, domain.ErrCertificateNotFound.With("certificate %d", id)
	}
	return c.Owner, nil
}

// CertificateIDFor returns the certificate minted for a posted bond.
func (r *Registry) CertificateIDFor(postedBondID uint64) (uint64, error) {
	id, ok := r.byPosted[postedBondID]
	if !ok {
		return 0, domain.ErrCertificateNotFound.With("posted bond %d", postedBondID)
	}
	return id, nil
}

// Certificate returns a copy of a certificate.
func (r *Registry) Certificate(id uint64) (domain.Certificate, error) {
	c, ok := r.certs[id]
	if !ok {
		return domain.Certificate{}, domain.ErrCertificateNotFound.With("certificate %d", id)
	}
	if c.Meta.Amount != nil {
		c.Meta.Amount = new(big.Int).Set(c.Meta.Amount)
	}
	return c, nil
}

// Snapshot implements chain.Journaled. Certificates are stored by value and
// never mutated in place, so shallow map copies suffice.
func (r *Registry) Snapshot() any {
	return registryState{
		certs:    maps.Clone(r.certs),
		byPosted: maps.Clone(r.byPosted),
		nextID:   r.nextID,
	}
}

// Restore implements chain.Journaled.
func (r *Registry) Restore(snap any) {
	st := snap.(registryState)
	r.certs = st.certs
	r.byPosted = st.byPosted
	r.nextID = st.nextID
}
