// Package policy decides which positions to close and which to open each
// cycle, and places the resulting limit orders.
package policy

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/zscore"
)

// Config carries the strategy parameters both evaluators need.
type Config struct {
	Universe       []string
	Window         int
	Thresholds     zscore.Thresholds
	PositionSize   decimal.Decimal
	MaxHoldingDays int
	MaxDayTrades   int
}

// Action is one order the evaluators placed or adopted.
type Action struct {
	Instrument string
	OrderID    string
	Side       domain.OrderSide
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	// Reason is set for exits.
	Reason domain.ExitReason
	// Signal is the z-score behind the decision, absent for max-hold exits.
	Signal  *float64
	Adopted bool
}

var errNoPrice = errors.New("no usable current price")

// limitPrice rounds a market price to whole cents.
func limitPrice(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Round(2)
}

func newClientOrderID() string {
	return "revbot-" + uuid.NewString()
}

// placedAt prefers the broker's submission time.
func placedAt(bo domain.BrokerOrder, now time.Time) time.Time {
	if bo.SubmittedAt.IsZero() {
		return now.UTC()
	}
	return bo.SubmittedAt.UTC()
}

func orderStatus(bo domain.BrokerOrder) domain.OrderStatus {
	if bo.Status == "" {
		return domain.OrderStatusNew
	}
	return bo.Status
}
