package handler

import (
	"log/slog"
	"net/http"
)

// AccountHandler serves balance and system parameter endpoints.
type AccountHandler struct {
	q      Queries
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(q Queries, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{q: q, logger: logHandler(logger, "account")}
}

// GetBalance returns an address's token balance and escrow allowance.
// GET /api/balances/{address}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(r, "address")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	b, err := h.q.Balance(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetParams returns fee rates, governance parameters and pool totals.
// GET /api/params
func (h *AccountHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	p, err := h.q.Params()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
