package ledger

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Orders is the pending order tracker keyed by broker order ID.
type Orders map[string]domain.PendingOrder

// LoadOrders reads the tracker from store.
func LoadOrders(ctx context.Context, store domain.PendingOrderStore) (Orders, error) {
	m, err := store.LoadPendingOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load pending orders: %w", err)
	}
	if m == nil {
		m = map[string]domain.PendingOrder{}
	}
	return Orders(m), nil
}

// SaveOrders writes the whole tracker to store.
func SaveOrders(ctx context.Context, store domain.PendingOrderStore, o Orders) error {
	if err := store.SavePendingOrders(ctx, o); err != nil {
		return fmt.Errorf("ledger: save pending orders: %w", err)
	}
	return nil
}

// Clone returns a shallow copy of o.
func (o Orders) Clone() Orders {
	if o == nil {
		return Orders{}
	}
	return maps.Clone(o)
}

// IDs returns the tracked order IDs in sorted order.
func (o Orders) IDs() []string {
	return slices.Sorted(maps.Keys(o))
}

// Track returns a copy of o with order stored under its ID.
func (o Orders) Track(order domain.PendingOrder) Orders {
	out := o.Clone()
	out[order.OrderID] = order
	return out
}

// Untrack returns a copy of o without orderID.
func (o Orders) Untrack(orderID string) Orders {
	if _, ok := o[orderID]; !ok {
		return o
	}
	out := o.Clone()
	delete(out, orderID)
	return out
}

// HasInstrument reports whether any tracked order is for instrument.
func (o Orders) HasInstrument(instrument string) bool {
	for _, po := range o {
		if po.Instrument == instrument {
			return true
		}
	}
	return false
}
