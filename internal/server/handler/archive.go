package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bondescrow/internal/domain"
)

// ArchiveHandler triggers journal exports on demand.
type ArchiveHandler struct {
	archiver domain.Archiver
	logger   *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(archiver domain.Archiver, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver, logger: logHandler(logger, "archive")}
}

// Trigger runs one archive pass. The optional from_seq query parameter
// re-exports from that sequence instead of resuming after the last run.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if v := r.URL.Query().Get("from_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from_seq")
			return
		}
		from = n
	}

	res, err := h.archiver.ArchiveJournal(r.Context(), from)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive failed",
			slog.Uint64("from_seq", from),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive failed")
		return
	}
	h.logger.InfoContext(r.Context(), "archive triggered",
		slog.Uint64("from_seq", res.FromSeq),
		slog.Uint64("to_seq", res.ToSeq),
		slog.Int64("records", res.Records),
	)
	writeJSON(w, http.StatusOK, res)
}
