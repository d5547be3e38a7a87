package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/matchbook/internal/domain"
)

// Replay page bounds. A caller asking for more than maxEventCount is capped,
// not rejected.
const (
	defaultEventCount = 100
	maxEventCount     = 1000
)

// EventSource defines the slice of the signal bus the events handler needs:
// cursor reads over the durable settlement log.
type EventSource interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventsHandler serves replay reads over the settlement event log. Pub/Sub
// delivery is fire-and-forget; this endpoint is how a consumer that missed
// events catches back up.
type EventsHandler struct {
	events EventSource
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler.
func NewEventsHandler(events EventSource, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{events: events, logger: logger}
}

// eventView is one replayed log entry: the stream cursor and the settlement
// event exactly as it was published.
type eventView struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// List returns a page of settlement events appended after the given cursor.
// The returned next_after feeds the next request; a page with count zero
// means the caller is caught up.
// GET /api/events?after=<id>&count=<n>
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}

	count := defaultEventCount
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, maxEventCount)
	}

	messages, err := h.events.StreamRead(r.Context(), domain.StreamSettlements, after, count)
	if err != nil {
		respondError(w, r, h.logger, "read event log", err)
		return
	}

	events := make([]eventView, 0, len(messages))
	nextAfter := after
	for _, msg := range messages {
		nextAfter = msg.ID
		if !json.Valid(msg.Payload) {
			h.logger.WarnContext(r.Context(), "handler: skipping malformed log entry",
				slog.String("stream_id", msg.ID),
			)
			continue
		}
		events = append(events, eventView{ID: msg.ID, Event: msg.Payload})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":     events,
		"count":      len(events),
		"next_after": nextAfter,
	})
}
