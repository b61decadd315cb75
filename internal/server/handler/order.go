package handler

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// OrderCanceler cancels an order at the broker.
type OrderCanceler interface {
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// OrderHandler serves the pending order tracker and manual cancels.
type OrderHandler struct {
	orders domain.PendingOrderStore
	broker OrderCanceler
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.PendingOrderStore, broker OrderCanceler, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		broker: broker,
		logger: logger,
	}
}

type listOrdersResponse struct {
	Orders []domain.PendingOrder `json:"orders"`
}

// ListOrders returns the tracked pending orders, oldest first.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.LoadPendingOrders(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	out := slices.SortedFunc(maps.Values(orders), func(a, b domain.PendingOrder) int {
		if c := a.PlacedAt.Compare(b.PlacedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.OrderID, b.OrderID)
	})
	if out == nil {
		out = []domain.PendingOrder{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: out})
}

// CancelOrder asks the broker to cancel an order. The tracker is left alone;
// the next reconcile sees the terminal status and untracks it.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	ok, err := h.broker.CancelOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to cancel order")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "order could not be canceled")
		return
	}

	h.logger.InfoContext(r.Context(), "handler: order canceled", slog.String("order_id", id))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "canceled",
		"order_id": id,
	})
}
