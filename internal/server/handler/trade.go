package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// TradeHandler serves the closed-trade log.
type TradeHandler struct {
	trades domain.TradeLog
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades domain.TradeLog, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type listTradesResponse struct {
	Trades     []domain.ClosedTrade `json:"trades"`
	ProfitLoss string               `json:"profit_loss"`
}

// ListTrades returns the most recent closed trades, oldest first, with
// their summed P&L.
// GET /api/trades?limit=50&since=2026-10-01&until=2026-11-01
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	trades, err := h.trades.ListTrades(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.ClosedTrade{}
	}

	writeJSON(w, http.StatusOK, listTradesResponse{
		Trades:     trades,
		ProfitLoss: domain.ProfitLossSum(trades).StringFixed(2),
	})
}
