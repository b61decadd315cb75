package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:     "key",
		SecretKey:  "secret",
		TradingURL: srv.URL,
		DataURL:    srv.URL,
		Timeout:    5 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetAccount(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" || r.Header.Get("APCA-API-SECRET-KEY") != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 40110000, "message": "request is not authorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": "acc-1", "status": "ACTIVE", "cash": "1000.50", "buying_power": "2001", "daytrade_count": 2,
		})
	}))

	acct, err := c.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.Cash.Equal(decimal.RequireFromString("1000.5")) || !acct.BuyingPower.Equal(decimal.NewFromInt(2001)) {
		t.Fatalf("unexpected balances: %+v", acct)
	}
	if acct.DayTradeCount == nil || *acct.DayTradeCount != 2 {
		t.Fatalf("daytrade_count = %v", acct.DayTradeCount)
	}
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": 40310000, "message": "forbidden"})
	}))
	_, err := c.GetAccount(context.Background())
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "forbidden" {
		t.Fatalf("APIError not decoded: %#v", apiErr)
	}
}

func TestGetOpenPositionsNormalizesShortQty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"symbol": "AAPL", "qty": "10", "avg_entry_price": "100.25", "side": "long"},
			{"symbol": "XOM", "qty": "-5", "avg_entry_price": "50", "side": "short"},
		})
	}))
	got, err := c.GetOpenPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Side != domain.PositionSideShort || !got[1].Quantity.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("positions = %+v", got)
	}
}

func TestGetOpenPositionsRejectsUnknownSide(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"symbol": "AAPL", "qty": "1", "avg_entry_price": "1", "side": "sideways"}})
	}))
	if _, err := c.GetOpenPositions(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetOpenOrdersValidatesStatus(t *testing.T) {
	var query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "o1", "symbol": "AAPL", "side": "buy", "qty": "3", "limit_price": "99.5", "status": "pending_new", "submitted_at": "2026-10-14T14:00:00Z"},
			{"id": "o2", "symbol": "MSFT", "side": "sell", "qty": "1", "limit_price": nil, "status": "partially_filled", "submitted_at": "2026-10-14T15:00:00Z"},
		})
	}))
	orders, err := c.GetOpenOrders(context.Background(), []string{"AAPL", "MSFT"})
	if err != nil {
		t.Fatal(err)
	}
	if orders[0].Status != domain.OrderStatusAccepted || orders[1].Status != domain.OrderStatusPartiallyFilled {
		t.Fatalf("statuses = %s, %s", orders[0].Status, orders[1].Status)
	}
	if !orders[1].LimitPrice.IsZero() {
		t.Fatalf("null limit price decoded as %s", orders[1].LimitPrice)
	}
	if want := "symbols=AAPL%2CMSFT"; !strings.Contains(query, want) {
		t.Fatalf("query %q missing %q", query, want)
	}

	bad := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{"id": "o3", "symbol": "AAPL", "side": "buy", "qty": "1", "status": "vanished"}})
	}))
	if _, err := bad.GetOpenOrders(context.Background(), nil); !errors.Is(err, domain.ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
}

func TestSubmitLimitOrderBodyAndNoRetry(t *testing.T) {
	var calls atomic.Int32
	var body orderRequestJSON
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "boom"})
	}))
	c.trading.SetRetryCount(2)

	_, err := c.SubmitLimitOrder(context.Background(), domain.OrderRequest{
		Instrument:    "AAPL",
		Quantity:      decimal.NewFromInt(3),
		Side:          domain.OrderSideBuy,
		LimitPrice:    decimal.RequireFromString("123.456"),
		ClientOrderID: "cid-1",
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("order submission was retried: %d calls", calls.Load())
	}
	if body.LimitPrice != "123.46" || body.TimeInForce != "day" || body.Type != "limit" || body.Qty != "3" || body.ClientOrderID != "cid-1" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestSubmitLimitOrderRejectsZeroQty(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.SubmitLimitOrder(context.Background(), domain.OrderRequest{Instrument: "AAPL", LimitPrice: decimal.NewFromInt(1)})
	if !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("err = %v, want ErrInvalidOrder", err)
	}
}

func TestGetRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"message": "busy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "o1", "symbol": "AAPL", "side": "buy", "qty": "1", "status": "filled", "filled_avg_price": "10.5"})
	}))
	c.trading.SetRetryCount(1).SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(5 * time.Millisecond)

	o, err := c.GetOrder(context.Background(), "o1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFilled || !o.FilledAvgPrice.Equal(decimal.RequireFromString("10.5")) {
		t.Fatalf("order = %+v", o)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestCancelOrderTerminalPrecheck(t *testing.T) {
	var deletes atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deletes.Add(1)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "o1", "symbol": "AAPL", "side": "buy", "qty": "1", "status": "expired"})
	}))
	ok, err := c.CancelOrder(context.Background(), "o1")
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
	if deletes.Load() != 0 {
		t.Fatal("terminal order should not be canceled again")
	}
}

func TestCancelOrderUnprocessableRereadsStatus(t *testing.T) {
	var gets atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "order is not cancelable"})
			return
		}
		status := "new"
		if gets.Add(1) > 1 {
			status = "filled"
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "o1", "symbol": "AAPL", "side": "buy", "qty": "1", "status": status})
	}))
	ok, err := c.CancelOrder(context.Background(), "o1")
	if err != nil || !ok {
		t.Fatalf("CancelOrder = %v, %v", ok, err)
	}
}

func TestGetHistoricalBarsPaginatesAndTrims(t *testing.T) {
	var pages atomic.Int32
	var start, end string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, end = r.URL.Query().Get("start"), r.URL.Query().Get("end")
		if pages.Add(1) == 1 {
			next := "p2"
			writeJSON(w, http.StatusOK, barsResponse{
				Bars: map[string][]barJSON{"AAPL": {
					{T: time.Date(2026, 10, 12, 4, 0, 0, 0, time.UTC), C: 1},
					{T: time.Date(2026, 10, 13, 4, 0, 0, 0, time.UTC), C: 2},
				}},
				NextPageToken: &next,
			})
			return
		}
		if r.URL.Query().Get("page_token") != "p2" {
			t.Errorf("page_token = %q", r.URL.Query().Get("page_token"))
		}
		writeJSON(w, http.StatusOK, barsResponse{Bars: map[string][]barJSON{"AAPL": {
			{T: time.Date(2026, 10, 14, 4, 0, 0, 0, time.UTC), C: 3},
		}}})
	}))
	c.now = func() time.Time { return time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC) }

	got, err := c.GetHistoricalBars(context.Background(), []string{"AAPL"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	closes := got["AAPL"].Closes()
	if len(closes) != 2 || closes[0] != 2 || closes[1] != 3 {
		t.Fatalf("closes = %v, want [2 3]", closes)
	}
	if end != "2026-10-14T23:59:59Z" {
		t.Fatalf("end = %q", end)
	}
	if start != "2026-10-03T00:00:00Z" {
		t.Fatalf("start = %q", start)
	}
}

func TestGetLatestPrice(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/trades/latest" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"symbol": "AAPL", "trade": map[string]any{"t": "2026-10-15T14:00:00Z", "p": 187.12}})
	}))
	p, err := c.GetLatestPrice(context.Background(), "AAPL")
	if err != nil || p != 187.12 {
		t.Fatalf("GetLatestPrice = %v, %v", p, err)
	}
	if _, err := c.GetLatestPrice(context.Background(), "MSFT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
