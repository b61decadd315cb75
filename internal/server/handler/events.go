package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// StreamReader reads a durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves cycle events from the event stream.
type EventHandler struct {
	events StreamReader
	stream string
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler reading stream.
func NewEventHandler(events StreamReader, stream string, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, stream: stream, logger: logger}
}

type eventResponse struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// ListEvents returns up to count events after the given stream ID. Pass the
// last returned id as after to page forward.
// GET /api/events?after=0&count=20
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	count := 20
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid count parameter")
			return
		}
		count = min(n, 500)
	}

	msgs, err := h.events.StreamRead(r.Context(), h.stream, r.URL.Query().Get("after"), count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}

	out := make([]eventResponse, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, eventResponse{ID: m.ID, Event: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
