package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// Queries defines the read side the query handlers require.
type Queries interface {
	Bond(id uint64) (domain.Bond, error)
	PostedBond(id uint64) (service.PostedBondView, error)
	UserBonds(issuer common.Address) ([]domain.Bond, error)
	PostedByUser(poster common.Address) ([]domain.PostedBond, error)
	Proposal(id uint64) (service.ProposalView, error)
	ProposalsFor(postedBondID uint64) ([]service.ProposalView, error)
	Ballot(id uint64, voter common.Address) (domain.Ballot, error)
	Stake(postedBondID uint64) (service.StakeView, error)
	Balance(addr common.Address) (service.BalanceView, error)
	Params() (service.ParamsView, error)
}

// BondHandler serves bond and posted-bond endpoints.
type BondHandler struct {
	q      Queries
	logger *slog.Logger
}

// NewBondHandler creates a BondHandler.
func NewBondHandler(q Queries, logger *slog.Logger) *BondHandler {
	return &BondHandler{q: q, logger: logHandler(logger, "bond")}
}

// GetBond returns a bond offering by id.
// GET /api/bonds/{id}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid bond id")
		return
	}
	b, err := h.q.Bond(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetPostedBond returns a posted bond with its holder and stake.
// GET /api/posted-bonds/{id}
func (h *BondHandler) GetPostedBond(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid posted bond id")
		return
	}
	pb, err := h.q.PostedBond(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pb)
}

// ListUserBonds returns the bonds issued by an address.
// GET /api/users/{address}/bonds
func (h *BondHandler) ListUserBonds(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	bonds, err := h.q.UserBonds(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bonds == nil {
		bonds = []domain.Bond{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bonds": bonds,
		"count": len(bonds),
	})
}

// ListPostedByUser returns the bonds posted by an address.
// GET /api/users/{address}/posted-bonds
func (h *BondHandler) ListPostedByUser(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	posted, err := h.q.PostedByUser(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if posted == nil {
		posted = []domain.PostedBond{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"posted_bonds": posted,
		"count":        len(posted),
	})
}

// GetStake returns the stake behind a posted bond with its pending reward.
// GET /api/stakes/{id}
func (h *BondHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid posted bond id")
		return
	}
	s, err := h.q.Stake(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
