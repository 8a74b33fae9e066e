package handler

import (
	"log/slog"
	"net/http"
)

// ProposalHandler serves adjudication proposal endpoints.
type ProposalHandler struct {
	q      Queries
	logger *slog.Logger
}

// NewProposalHandler creates a ProposalHandler.
func NewProposalHandler(q Queries, logger *slog.Logger) *ProposalHandler {
	return &ProposalHandler{q: q, logger: logHandler(logger, "proposal")}
}

// GetProposal returns a proposal with its derived status.
// GET /api/proposals/{id}
func (h *ProposalHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	p, err := h.q.Proposal(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetBallot returns one adjudicator's ballot on a proposal.
// GET /api/proposals/{id}/ballots/{voter}
func (h *ProposalHandler) GetBallot(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	voter, ok := addressParam(r, "voter")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid voter address")
		return
	}
	b, err := h.q.Ballot(id, voter)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ListForPostedBond returns the proposals raised against a posted bond.
// GET /api/posted-bonds/{id}/proposals
func (h *ProposalHandler) ListForPostedBond(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid posted bond id")
		return
	}
	props, err := h.q.ProposalsFor(id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}
