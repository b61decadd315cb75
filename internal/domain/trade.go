package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClosedTrade is an append-only record of a completed round trip.
type ClosedTrade struct {
	Instrument  string          `json:"instrument"`
	Side        PositionSide    `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
	ExitReason  ExitReason      `json:"exit_reason"`
	ExitOrderID string          `json:"exit_order_id,omitempty"`
}

// ProfitLoss computes realized P&L: (exit-entry)*qty for longs and
// (entry-exit)*qty for shorts.
func ProfitLoss(side PositionSide, qty, entry, exit decimal.Decimal) decimal.Decimal {
	if side == PositionSideShort {
		return entry.Sub(exit).Mul(qty)
	}
	return exit.Sub(entry).Mul(qty)
}

// ProfitLossSum totals the realized P&L of trades.
func ProfitLossSum(trades []ClosedTrade) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.ProfitLoss)
	}
	return total
}
