package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how this instance is wired: run mode, backing
// store, treasury backend, and uptime.
type StatusHandler struct {
	Mode            string
	StoreBackend    string
	TreasuryBackend string
	StartedAt       time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, storeBackend, treasuryBackend string, startedAt time.Time) *StatusHandler {
	return &StatusHandler{
		Mode:            mode,
		StoreBackend:    storeBackend,
		TreasuryBackend: treasuryBackend,
		StartedAt:       startedAt,
	}
}

// GetStatus returns the instance wiring snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"store":          h.StoreBackend,
		"treasury":       h.TreasuryBackend,
		"started_at":     h.StartedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
