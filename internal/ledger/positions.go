// Package ledger holds the local position ledger and pending order tracker.
// Both are plain maps transformed copy-on-write; nothing here talks to the
// broker, and persistence happens once per batch through the store.
package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Positions is the position ledger keyed by instrument.
type Positions map[string]domain.Position

// Load reads the ledger from store. A store with no saved ledger yields an
// empty one.
func Load(ctx context.Context, store domain.PositionStore) (Positions, error) {
	m, err := store.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load positions: %w", err)
	}
	if m == nil {
		m = map[string]domain.Position{}
	}
	return Positions(m), nil
}

// Save writes the whole ledger to store.
func Save(ctx context.Context, store domain.PositionStore, p Positions) error {
	if err := store.SavePositions(ctx, p); err != nil {
		return fmt.Errorf("ledger: save positions: %w", err)
	}
	return nil
}

// Clone returns a shallow copy of p.
func (p Positions) Clone() Positions {
	if p == nil {
		return Positions{}
	}
	return maps.Clone(p)
}

// Instruments returns the ledger's instruments in sorted order.
func (p Positions) Instruments() []string {
	return slices.Sorted(maps.Keys(p))
}

// Put returns a copy of p with pos stored under its instrument.
func (p Positions) Put(pos domain.Position) Positions {
	out := p.Clone()
	out[pos.Instrument] = pos
	return out
}

// Add returns a copy of p with a new open position, replacing any existing
// entry for the instrument.
func (p Positions) Add(instrument string, qty, price decimal.Decimal, side domain.PositionSide, entryOrderID string, ts time.Time) Positions {
	return p.Put(domain.Position{
		Instrument:     instrument,
		Quantity:       qty,
		Side:           side,
		EntryPrice:     price,
		EntryTimestamp: ts.UTC(),
		Status:         domain.PositionStatusOpen,
		EntryOrderID:   entryOrderID,
	})
}

// Remove closes the position for instrument at exitPrice and returns the
// ledger without it plus the resulting trade. ok is false when there is no
// such position, in which case p is returned unchanged.
func (p Positions) Remove(instrument string, exitPrice decimal.Decimal, reason domain.ExitReason, exitOrderID string, exitTime time.Time) (Positions, domain.ClosedTrade, bool) {
	pos, ok := p[instrument]
	if !ok {
		return p, domain.ClosedTrade{}, false
	}
	if reason == "" {
		reason = domain.ExitReasonFilled
	}
	trade := domain.ClosedTrade{
		Instrument:  instrument,
		Side:        pos.Side,
		Quantity:    pos.Quantity,
		EntryTime:   pos.EntryTimestamp,
		ExitTime:    exitTime.UTC(),
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		ProfitLoss:  domain.ProfitLoss(pos.Side, pos.Quantity, pos.EntryPrice, exitPrice),
		ExitReason:  reason,
		ExitOrderID: exitOrderID,
	}
	out := p.Clone()
	delete(out, instrument)
	return out, trade, true
}

// ByExitOrder returns the position whose pending exit is orderID.
func (p Positions) ByExitOrder(orderID string) (domain.Position, bool) {
	if orderID == "" {
		return domain.Position{}, false
	}
	for _, pos := range p {
		if pos.PendingExitOrderID == orderID {
			return pos, true
		}
	}
	return domain.Position{}, false
}
