package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Account is the broker account summary used for sizing and PDT checks.
type Account struct {
	ID          string
	Status      string
	Cash        decimal.Decimal
	// BuyingPower is what entry sizing spends against.
	BuyingPower decimal.Decimal
	// DayTradeCount is nil when the broker did not report it.
	DayTradeCount *int
}

// Broker is the brokerage account the bot trades through. Implementations
// must validate statuses and sides before returning them.
type Broker interface {
	GetAccount(ctx context.Context) (Account, error)
	GetOpenPositions(ctx context.Context) ([]BrokerPosition, error)
	// GetOpenOrders lists non-terminal orders, optionally limited to instruments.
	GetOpenOrders(ctx context.Context, instruments []string) ([]BrokerOrder, error)
	SubmitLimitOrder(ctx context.Context, req OrderRequest) (BrokerOrder, error)
	GetOrder(ctx context.Context, orderID string) (BrokerOrder, error)
	// CancelOrder returns true when the order is canceled or already terminal.
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// MarketData supplies daily closes and latest trade prices.
type MarketData interface {
	// GetHistoricalBars returns up to limit daily bars per instrument ending
	// before today. Instruments without data are absent from the map.
	GetHistoricalBars(ctx context.Context, instruments []string, limit int) (map[string]PriceSeries, error)
	GetLatestPrice(ctx context.Context, instrument string) (float64, error)
}
