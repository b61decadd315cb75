package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit int
	Since *time.Time
	Until *time.Time
}

// PositionStore persists the position ledger as a whole.
type PositionStore interface {
	LoadPositions(ctx context.Context) (map[string]Position, error)
	SavePositions(ctx context.Context, positions map[string]Position) error
}

// PendingOrderStore persists the pending order tracker as a whole.
type PendingOrderStore interface {
	LoadPendingOrders(ctx context.Context) (map[string]PendingOrder, error)
	SavePendingOrders(ctx context.Context, orders map[string]PendingOrder) error
}

// TradeLog is the append-only closed-trade history.
type TradeLog interface {
	AppendTrades(ctx context.Context, trades []ClosedTrade) error
	ListTrades(ctx context.Context, opts ListOpts) ([]ClosedTrade, error)
}

// CycleState is everything a cycle persists at its end.
type CycleState struct {
	Positions map[string]Position
	Orders    map[string]PendingOrder
	NewTrades []ClosedTrade
}

// StateStore combines the three stores and commits a cycle's result as one
// unit where the backend supports it.
type StateStore interface {
	PositionStore
	PendingOrderStore
	TradeLog
	Commit(ctx context.Context, state CycleState) error
	Close() error
}
