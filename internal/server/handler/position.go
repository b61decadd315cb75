package handler

import (
	"cmp"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// PositionHandler serves the position ledger.
type PositionHandler struct {
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the persisted ledger sorted by instrument. It reads
// the store, so it shows the state as of the last committed cycle.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.LoadPositions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	out := slices.SortedFunc(maps.Values(positions), func(a, b domain.Position) int {
		return cmp.Compare(a.Instrument, b.Instrument)
	})
	if out == nil {
		out = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}
