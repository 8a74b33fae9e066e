// Package access maps identities to the capabilities they hold.
package access

import (
	"maps"
	"slices"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Capability is a named permission.
type Capability string

const (
	Admin       Capability = "admin"
	Adjudicator Capability = "adjudicator"
	Minter      Capability = "minter"
)

// Set is a journaled capability table. The zero value is not usable; use New.
type Set struct {
	grants map[common.Address]map[Capability]struct{}
}

// New creates a Set in which admin holds the Admin capability.
func New(admin common.Address) *Set {
	s := &Set{grants: make(map[common.Address]map[Capability]struct{})}
	s.Grant(admin, Admin)
	return s
}

// Has reports whether id holds capability c.
func (s *Set) Has(id common.Address, c Capability) bool {
	_, ok := s.grants[id][c]
	return ok
}

// Require returns ErrUnauthorized unless id holds capability c.
func (s *Set) Require(id common.Address, c Capability) error {
	if !s.Has(id, c) {
		return domain.ErrUnauthorized.With("%s lacks %s", id.Hex(), c)
	}
	return nil
}

// Grant gives id capability c. It reports whether the grant was new.
func (s *Set) Grant(id common.Address, c Capability) bool {
	caps, ok := s.grants[id]
	if !ok {
		caps = make(map[Capability]struct{})
		s.grants[id] = caps
	}
	if _, held := caps[c]; held {
		return false
	}
	caps[c] = struct{}{}
	return true
}

// Revoke removes capability c from id. It reports whether anything changed.
func (s *Set) Revoke(id common.Address, c Capability) bool {
	caps, ok := s.grants[id]
	if !ok {
		return false
	}
	if _, held := caps[c]; !held {
		return false
	}
	delete(caps, c)
	if len(caps) == 0 {
		delete(s.grants, id)
	}
	return true
}

// Holders lists every identity holding c, sorted by address.
func (s *Set) Holders(c Capability) []common.Address {
	var out []common.Address
	for id, caps := range s.grants {
		if _, ok := caps[c]; ok {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// Snapshot implements chain.Journaled.
func (s *Set) Snapshot() any {
	cp := make(map[common.Address]map[Capability]struct{}, len(s.grants))
	for id, caps := range s.grants {
		cp[id] = maps.Clone(caps)
	}
	return cp
}

// Restore implements chain.Journaled.
func (s *Set) Restore(snap any) {
	s.grants = snap.(map[common.Address]map[Capability]struct{})
}
