// Package testutil holds in-memory fakes of the broker and market data
// source for package tests.
package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Broker is an in-memory domain.Broker. Exported fields may be set directly
// before the code under test runs.
type Broker struct {
	mu sync.Mutex

	Account   domain.Account
	Positions map[string]domain.BrokerPosition
	Orders    map[string]domain.BrokerOrder

	AccountErr    error
	PositionsErr  error
	OpenOrdersErr error
	SubmitErr     map[string]error
	GetOrderErr   map[string]error

	Submitted []domain.OrderRequest
	Canceled  []string
	Calls     []string

	// AutoFill fills every submitted order at its limit price and applies
	// it to Positions, like a marketable limit order.
	AutoFill bool

	Now    func() time.Time
	nextID int
}

var _ domain.Broker = (*Broker)(nil)

// NewBroker returns an empty account holding cash.
func NewBroker(cash int64) *Broker {
	return &Broker{
		Account:     domain.Account{ID: "acct", Status: "ACTIVE", Cash: decimal.NewFromInt(cash), BuyingPower: decimal.NewFromInt(cash)},
		Positions:   map[string]domain.BrokerPosition{},
		Orders:      map[string]domain.BrokerOrder{},
		SubmitErr:   map[string]error{},
		GetOrderErr: map[string]error{},
		Now:         func() time.Time { return time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC) },
	}
}

func (b *Broker) record(call string) {
	b.Calls = append(b.Calls, call)
}

// SetPosition installs a broker position.
func (b *Broker) SetPosition(instr string, qty int64, avg string, side domain.PositionSide) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Positions[instr] = domain.BrokerPosition{
		Instrument:    instr,
		Quantity:      decimal.NewFromInt(qty),
		AvgEntryPrice: decimal.RequireFromString(avg),
		Side:          side,
	}
}

// ClearPosition removes a broker position.
func (b *Broker) ClearPosition(instr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.Positions, instr)
}

// AddOrder installs a broker order as is.
func (b *Broker) AddOrder(o domain.BrokerOrder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Orders[o.ID] = o
}

// Fill marks an order filled at price.
func (b *Broker) Fill(id, price string, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.Orders[id]
	o.Status = domain.OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.FilledAvgPrice = decimal.RequireFromString(price)
	at = at.UTC()
	o.FilledAt = &at
	b.Orders[id] = o
}

// SetStatus changes an order's status.
func (b *Broker) SetStatus(id string, status domain.OrderStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.Orders[id]
	o.Status = status
	b.Orders[id] = o
}

// SubmitCount returns how many orders were submitted.
func (b *Broker) SubmitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Submitted)
}

func (b *Broker) GetAccount(_ context.Context) (domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("GetAccount")
	if b.AccountErr != nil {
		return domain.Account{}, b.AccountErr
	}
	return b.Account, nil
}

func (b *Broker) GetOpenPositions(_ context.Context) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("GetOpenPositions")
	if b.PositionsErr != nil {
		return nil, b.PositionsErr
	}
	out := make([]domain.BrokerPosition, 0, len(b.Positions))
	for _, k := range slices.Sorted(maps.Keys(b.Positions)) {
		out = append(out, b.Positions[k])
	}
	return out, nil
}

func (b *Broker) GetOpenOrders(_ context.Context, instruments []string) ([]domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("GetOpenOrders")
	if b.OpenOrdersErr != nil {
		return nil, b.OpenOrdersErr
	}
	var out []domain.BrokerOrder
	for _, k := range slices.Sorted(maps.Keys(b.Orders)) {
		o := b.Orders[k]
		if o.Status.IsTerminal() {
			continue
		}
		if len(instruments) > 0 && !slices.Contains(instruments, o.Instrument) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (b *Broker) SubmitLimitOrder(_ context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("SubmitLimitOrder " + req.Instrument)
	if err := b.SubmitErr[req.Instrument]; err != nil {
		return domain.BrokerOrder{}, err
	}
	b.nextID++
	o := domain.BrokerOrder{
		ID:            fmt.Sprintf("ord-%d", b.nextID),
		ClientOrderID: req.ClientOrderID,
		Instrument:    req.Instrument,
		Side:          req.Side,
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		Status:        domain.OrderStatusNew,
		SubmittedAt:   b.Now().UTC(),
	}
	if b.AutoFill {
		o = b.fillLocked(o)
	}
	b.Orders[o.ID] = o
	b.Submitted = append(b.Submitted, req)
	return o, nil
}

func (b *Broker) GetOrder(_ context.Context, id string) (domain.BrokerOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("GetOrder " + id)
	if err := b.GetOrderErr[id]; err != nil {
		return domain.BrokerOrder{}, err
	}
	o, ok := b.Orders[id]
	if !ok {
		return domain.BrokerOrder{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (b *Broker) CancelOrder(_ context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("CancelOrder " + id)
	o, ok := b.Orders[id]
	if !ok {
		return false, nil
	}
	if !o.Status.IsTerminal() {
		o.Status = domain.OrderStatusCanceled
		b.Orders[id] = o
	}
	b.Canceled = append(b.Canceled, id)
	return true, nil
}

// fillLocked fills o at its limit and nets it into the held position.
func (b *Broker) fillLocked(o domain.BrokerOrder) domain.BrokerOrder {
	at := b.Now().UTC()
	o.Status = domain.OrderStatusFilled
	o.FilledQuantity = o.Quantity
	o.FilledAvgPrice = o.LimitPrice
	o.FilledAt = &at

	signed := func(p domain.BrokerPosition) decimal.Decimal {
		if p.Side == domain.PositionSideShort {
			return p.Quantity.Neg()
		}
		return p.Quantity
	}
	delta := o.Quantity
	if o.Side == domain.OrderSideSell {
		delta = delta.Neg()
	}
	old, held := b.Positions[o.Instrument]
	next := delta
	if held {
		next = signed(old).Add(delta)
	}
	switch {
	case next.IsZero():
		delete(b.Positions, o.Instrument)
	case held && next.Sign() == signed(old).Sign():
		if next.Abs().GreaterThan(old.Quantity) {
			cost := old.AvgEntryPrice.Mul(old.Quantity).Add(o.LimitPrice.Mul(o.Quantity))
			old.AvgEntryPrice = cost.Div(next.Abs())
		}
		old.Quantity = next.Abs()
		b.Positions[o.Instrument] = old
	default:
		side := domain.PositionSideLong
		if next.IsNegative() {
			side = domain.PositionSideShort
		}
		b.Positions[o.Instrument] = domain.BrokerPosition{
			Instrument: o.Instrument, Quantity: next.Abs(), AvgEntryPrice: o.LimitPrice, Side: side,
		}
	}
	return o
}
