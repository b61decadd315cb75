package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide validates a broker-supplied side.
func ParseOrderSide(s string) (OrderSide, error) {
	switch OrderSide(s) {
	case OrderSideBuy, OrderSideSell:
		return OrderSide(s), nil
	}
	return "", fmt.Errorf("unknown order side %q", s)
}

// TimeInForce is the order duration policy.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
)

// OrderStatus tracks the broker order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusDoneForDay      OrderStatus = "done_for_day"
)

// IsTerminal reports whether the broker will never change the order again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired,
		OrderStatusRejected, OrderStatusDoneForDay:
		return true
	}
	return false
}

// ParseOrderStatus validates a status string against the known set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusNew, OrderStatusAccepted, OrderStatusPartiallyFilled,
		OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired,
		OrderStatusRejected, OrderStatusDoneForDay:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// OrderKind records why a pending order exists.
type OrderKind string

const (
	OrderKindEntryLong    OrderKind = "entry_long"
	OrderKindEntryShort   OrderKind = "entry_short"
	OrderKindExternalSync OrderKind = "external_sync"
)

// OrderRequest is a limit order submission.
type OrderRequest struct {
	Instrument    string
	Quantity      decimal.Decimal
	Side          OrderSide
	LimitPrice    decimal.Decimal
	TimeInForce   TimeInForce
	ClientOrderID string
}

// BrokerOrder is the broker's view of an order, validated at the adapter.
type BrokerOrder struct {
	ID             string
	ClientOrderID  string
	Instrument     string
	Side           OrderSide
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	LimitPrice     decimal.Decimal
	FilledAvgPrice decimal.Decimal
	Status         OrderStatus
	SubmittedAt    time.Time
	FilledAt       *time.Time
}

// PendingOrder is a locally tracked, not yet terminal broker order.
type PendingOrder struct {
	OrderID         string          `json:"order_id"`
	Instrument      string          `json:"instrument"`
	Side            OrderSide       `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	LimitPrice      decimal.Decimal `json:"limit_price"`
	Kind            OrderKind       `json:"kind"`
	PlacedAt        time.Time       `json:"placed_at"`
	SignalValue     *float64        `json:"signal_value_at_placement,omitempty"`
	LastKnownStatus OrderStatus     `json:"last_known_status"`
}

// PositionSide returns the position side an entry order of this kind opens.
// External orders fall back to the order side.
func (o PendingOrder) PositionSide() PositionSide {
	switch o.Kind {
	case OrderKindEntryLong:
		return PositionSideLong
	case OrderKindEntryShort:
		return PositionSideShort
	}
	if o.Side == OrderSideSell {
		return PositionSideShort
	}
	return PositionSideLong
}
