package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a holding.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// ParsePositionSide validates a broker-supplied side.
func ParsePositionSide(s string) (PositionSide, error) {
	switch PositionSide(s) {
	case PositionSideLong, PositionSideShort:
		return PositionSide(s), nil
	}
	return "", fmt.Errorf("unknown position side %q", s)
}

// ClosingSide is the order side that flattens a position of this side.
func (s PositionSide) ClosingSide() OrderSide {
	if s == PositionSideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// PositionStatus tracks whether an exit order is in flight.
type PositionStatus string

const (
	PositionStatusOpen        PositionStatus = "open"
	PositionStatusPendingExit PositionStatus = "pending_exit"
)

// ExitReason explains why an exit order was placed.
type ExitReason string

const (
	ExitReasonMaxHold       ExitReason = "max_hold"
	ExitReasonExitLong      ExitReason = "exit_long_signal"
	ExitReasonExitShort     ExitReason = "exit_short_signal"
	ExitReasonStopLossLong  ExitReason = "stop_loss_long_signal"
	ExitReasonStopLossShort ExitReason = "stop_loss_short_signal"
	// ExitReasonFilled is recorded when an exit fill is observed for a
	// position whose reason was never persisted.
	ExitReasonFilled ExitReason = "exit_filled"
)

// Position is one open holding. At most one exists per instrument.
type Position struct {
	Instrument          string          `json:"instrument"`
	Quantity            decimal.Decimal `json:"quantity"`
	Side                PositionSide    `json:"side"`
	EntryPrice          decimal.Decimal `json:"entry_price"`
	EntryTimestamp      time.Time       `json:"entry_timestamp"`
	Status              PositionStatus  `json:"status"`
	EntryOrderID        string          `json:"entry_order_id,omitempty"`
	PendingExitOrderID  string          `json:"pending_exit_order_id,omitempty"`
	PendingExitPlacedAt *time.Time      `json:"pending_exit_placed_at,omitempty"`
	ExitReason          ExitReason      `json:"exit_reason,omitempty"`
}

// PendingExitValid reports whether the pending-exit bookkeeping is
// structurally complete.
func (p Position) PendingExitValid() bool {
	return p.Status == PositionStatusPendingExit && p.PendingExitOrderID != "" && p.PendingExitPlacedAt != nil
}

// RevertToOpen clears the pending-exit bookkeeping.
func (p Position) RevertToOpen() Position {
	p.Status = PositionStatusOpen
	p.PendingExitOrderID = ""
	p.PendingExitPlacedAt = nil
	p.ExitReason = ""
	return p
}

// MarkPendingExit records an in-flight exit order.
func (p Position) MarkPendingExit(orderID string, placedAt time.Time, reason ExitReason) Position {
	placedAt = placedAt.UTC()
	p.Status = PositionStatusPendingExit
	p.PendingExitOrderID = orderID
	p.PendingExitPlacedAt = &placedAt
	p.ExitReason = reason
	return p
}

// HoldingDays is the number of whole calendar days between entry and now.
func (p Position) HoldingDays(now time.Time) int {
	d := now.UTC().Sub(p.EntryTimestamp.UTC())
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// BrokerPosition is the broker's authoritative view of a holding.
type BrokerPosition struct {
	Instrument    string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	Side          PositionSide
}
