package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/server/middleware"
	"github.com/alanyoungcy/bondescrow/internal/service"
	"github.com/ethereum/go-ethereum/common"
)

// maxTxBody bounds the size of a submitted command.
const maxTxBody = 64 << 10

// Submitter defines the write side the transaction handler requires.
type Submitter interface {
	Submit(ctx context.Context, caller common.Address, cmd service.Command) (service.Outcome, error)
}

// TxHandler accepts signed commands and runs them as transactions.
type TxHandler struct {
	svc    Submitter
	logger *slog.Logger
}

// NewTxHandler creates a TxHandler.
func NewTxHandler(svc Submitter, logger *slog.Logger) *TxHandler {
	return &TxHandler{svc: svc, logger: logHandler(logger, "tx")}
}

type txResponse struct {
	Seq       uint64                 `json:"seq"`
	Hash      common.Hash            `json:"hash"`
	Op        string                 `json:"op"`
	Caller    common.Address         `json:"caller"`
	Timestamp uint64                 `json:"timestamp"`
	CreatedID uint64                 `json:"created_id,omitempty"`
	Events    []domain.EventEnvelope `json:"events"`
}

// Submit decodes a command and executes it on behalf of the authenticated
// caller.
// POST /api/tx
func (h *TxHandler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unsigned request")
		return
	}

	var cmd service.Command
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid command body: "+err.Error())
		return
	}
	if cmd.Op == "" {
		writeError(w, http.StatusBadRequest, "missing op")
		return
	}

	out, err := h.svc.Submit(r.Context(), caller, cmd)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	envs, err := out.Envelopes()
	if err != nil {
		// Committed; the events are still in the journal.
		h.logger.ErrorContext(r.Context(), "handler: encode events failed",
			slog.Uint64("seq", out.Seq),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, txResponse{
		Seq:       out.Seq,
		Hash:      out.Hash,
		Op:        out.Op,
		Caller:    out.Caller,
		Timestamp: out.Timestamp,
		CreatedID: out.CreatedID,
		Events:    envs,
	})
}
