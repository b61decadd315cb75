package alpaca

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// accountJSON is GET /v2/account.
type accountJSON struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Cash          decimal.Decimal `json:"cash"`
	BuyingPower   decimal.Decimal `json:"buying_power"`
	DayTradeCount *int            `json:"daytrade_count"`
}

func (a accountJSON) toDomain() domain.Account {
	return domain.Account{
		ID:            a.ID,
		Status:        a.Status,
		Cash:          a.Cash,
		BuyingPower:   a.BuyingPower,
		DayTradeCount: a.DayTradeCount,
	}
}

// positionJSON is one element of GET /v2/positions.
type positionJSON struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Side          string          `json:"side"`
}

func (p positionJSON) toDomain() (domain.BrokerPosition, error) {
	side, err := domain.ParsePositionSide(p.Side)
	if err != nil {
		return domain.BrokerPosition{}, fmt.Errorf("position %s: %w", p.Symbol, err)
	}
	// Short quantities are reported negative.
	return domain.BrokerPosition{
		Instrument:    p.Symbol,
		Quantity:      p.Qty.Abs(),
		AvgEntryPrice: p.AvgEntryPrice,
		Side:          side,
	}, nil
}

// orderJSON is an order object from the /v2/orders endpoints.
type orderJSON struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.NullDecimal `json:"filled_qty"`
	LimitPrice     decimal.NullDecimal `json:"limit_price"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	Status         string              `json:"status"`
	SubmittedAt    *time.Time          `json:"submitted_at"`
	FilledAt       *time.Time          `json:"filled_at"`
}

// statusAliases folds Alpaca's transitional statuses onto the tracked set.
var statusAliases = map[string]domain.OrderStatus{
	"pending_new":          domain.OrderStatusAccepted,
	"accepted_for_bidding": domain.OrderStatusAccepted,
	"pending_cancel":       domain.OrderStatusAccepted,
	"pending_replace":      domain.OrderStatusAccepted,
	"calculated":           domain.OrderStatusAccepted,
	"held":                 domain.OrderStatusAccepted,
	"stopped":              domain.OrderStatusAccepted,
	"suspended":            domain.OrderStatusAccepted,
	"replaced":             domain.OrderStatusCanceled,
}

func parseStatus(s string) (domain.OrderStatus, error) {
	if st, ok := statusAliases[s]; ok {
		return st, nil
	}
	return domain.ParseOrderStatus(s)
}

func (o orderJSON) toDomain() (domain.BrokerOrder, error) {
	side, err := domain.ParseOrderSide(o.Side)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("order %s: %w", o.ID, err)
	}
	status, err := parseStatus(o.Status)
	if err != nil {
		return domain.BrokerOrder{}, fmt.Errorf("order %s: %w", o.ID, err)
	}
	out := domain.BrokerOrder{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Instrument:     o.Symbol,
		Side:           side,
		Quantity:       o.Qty.Decimal,
		FilledQuantity: o.FilledQty.Decimal,
		LimitPrice:     o.LimitPrice.Decimal,
		FilledAvgPrice: o.FilledAvgPrice.Decimal,
		Status:         status,
	}
	if o.SubmittedAt != nil {
		out.SubmittedAt = o.SubmittedAt.UTC()
	}
	if o.FilledAt != nil {
		t := o.FilledAt.UTC()
		out.FilledAt = &t
	}
	return out, nil
}

// orderRequestJSON is the POST /v2/orders body.
type orderRequestJSON struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// barJSON is one daily bar from the market data API.
type barJSON struct {
	T time.Time `json:"t"`
	C float64   `json:"c"`
}

type barsResponse struct {
	Bars          map[string][]barJSON `json:"bars"`
	NextPageToken *string              `json:"next_page_token"`
}

type latestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		T time.Time `json:"t"`
		P float64   `json:"p"`
	} `json:"trade"`
}
