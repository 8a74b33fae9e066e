package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves the node status (mode, sequence, uptime).
type StatusHandler struct {
	Mode      string
	Seq       func() uint64
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler. seq reports the last committed
// sequence.
func NewStatusHandler(mode string, seq func() uint64) *StatusHandler {
	return &StatusHandler{Mode: mode, Seq: seq, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the current mode and chain position.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"seq":            h.Seq(),
		"started_at":     h.StartedAt.Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
