package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// GetAccount returns the account summary. It doubles as the connectivity and
// credential check at the start of a cycle.
func (c *Client) GetAccount(ctx context.Context) (domain.Account, error) {
	var out accountJSON
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/v2/account")
	if err := check("get account", resp, err); err != nil {
		return domain.Account{}, err
	}
	return out.toDomain(), nil
}

// GetOpenPositions lists every open position in the account.
func (c *Client) GetOpenPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	var out []positionJSON
	resp, err := c.trading.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/v2/positions")
	if err := check("list positions", resp, err); err != nil {
		return nil, err
	}

	positions := make([]domain.BrokerPosition, 0, len(out))
	for _, p := range out {
		bp, err := p.toDomain()
		if err != nil {
			return nil, fmt.Errorf("alpaca: list positions: %w", err)
		}
		positions = append(positions, bp)
	}
	return positions, nil
}

// GetOpenOrders lists open orders, optionally restricted to instruments.
func (c *Client) GetOpenOrders(ctx context.Context, instruments []string) ([]domain.BrokerOrder, error) {
	var out []orderJSON
	req := c.trading.R().
		SetContext(ctx).
		SetQueryParam("status", "open").
		SetQueryParam("limit", "500").
		SetQueryParam("direction", "asc").
		SetResult(&out).
		SetError(&APIError{})
	if len(instruments) > 0 {
		req.SetQueryParam("symbols", strings.Join(instruments, ","))
	}
	resp, err := req.Get("/v2/orders")
	if err := check("list open orders", resp, err); err != nil {
		return nil, err
	}

	orders := make([]domain.BrokerOrder, 0, len(out))
	for _, o := range out {
		bo, err := o.toDomain()
		if err != nil {
			return nil, fmt.Errorf("alpaca: list open orders: %w", err)
		}
		orders = append(orders, bo)
	}
	return orders, nil
}

// SubmitLimitOrder places a limit order. Prices are sent with two decimals.
func (c *Client) SubmitLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.BrokerOrder, error) {
	if req.Quantity.Sign() <= 0 || req.LimitPrice.Sign() <= 0 {
		return domain.BrokerOrder{}, fmt.Errorf("alpaca: submit order %s: %w", req.Instrument, domain.ErrInvalidOrder)
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceDay
	}
	body := orderRequestJSON{
		Symbol:        req.Instrument,
		Qty:           req.Quantity.String(),
		Side:          string(req.Side),
		Type:          "limit",
		TimeInForce:   string(tif),
		LimitPrice:    req.LimitPrice.StringFixed(2),
		ClientOrderID: req.ClientOrderID,
	}

	var out orderJSON
	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&APIError{}).
		Post("/v2/orders")
	if err := check("submit order "+req.Instrument, resp, err); err != nil {
		return domain.BrokerOrder{}, err
	}
	return out.toDomain()
}

// GetOrder fetches one order by broker ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.BrokerOrder, error) {
	var out orderJSON
	resp, err := c.trading.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/v2/orders/{id}")
	if err := check("get order "+orderID, resp, err); err != nil {
		return domain.BrokerOrder{}, err
	}
	return out.toDomain()
}

// CancelOrder cancels orderID. Orders that are already terminal count as
// canceled without a cancel request. A 422 from the cancel call means the
// order moved on in the meantime, so its status is read again.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	order, err := c.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if order.Status.IsTerminal() {
		return true, nil
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetPathParam("id", orderID).
		SetError(&APIError{}).
		Delete("/v2/orders/{id}")
	err = check("cancel order "+orderID, resp, err)
	switch {
	case err == nil:
		return true, nil
	case statusOf(err) == http.StatusNotFound:
		return false, nil
	case statusOf(err) == http.StatusUnprocessableEntity:
		order, getErr := c.GetOrder(ctx, orderID)
		if getErr != nil {
			return false, getErr
		}
		return order.Status.IsTerminal(), nil
	default:
		return false, err
	}
}
