package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/server/handler"
	"github.com/alanyoungcy/revbot/internal/store/file"
	"github.com/alanyoungcy/revbot/internal/testutil"
)

const testKey = "s3cret"

type lastReport struct{ rep *domain.CycleReport }

func (l lastReport) LastReport() (domain.CycleReport, bool) {
	if l.rep == nil {
		return domain.CycleReport{}, false
	}
	return *l.rep, true
}

type fakeStream struct {
	msgs   []domain.StreamMessage
	lastID string
	count  int
	err    error
}

func (f *fakeStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.lastID, f.count = lastID, count
	return f.msgs, f.err
}

type testServer struct {
	srv    *httptest.Server
	store  *file.Store
	broker *testutil.Broker
	stream *fakeStream
}

func newTestServer(t *testing.T, rep *domain.CycleReport) *testServer {
	t.Helper()
	store, err := file.New(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{store: store, broker: testutil.NewBroker(1000), stream: &fakeStream{}}

	s := NewServer(Config{APIKey: testKey}, Handlers{
		Health:    handler.NewHealthHandler(lastReport{rep}, true),
		Positions: handler.NewPositionHandler(store, logger),
		Orders:    handler.NewOrderHandler(store, ts.broker, logger),
		Trades:    handler.NewTradeHandler(store, logger),
		Events:    handler.NewEventHandler(ts.stream, "cycles", logger),
	}, logger)
	ts.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, auth bool) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestHealthIsOpenAndShowsLastCycle(t *testing.T) {
	rep := &domain.CycleReport{RunID: "run-9", EntriesPlaced: 2}
	ts := newTestServer(t, rep)

	status, body := ts.do(t, http.MethodGet, "/api/health", false)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	got := decode[struct {
		Status    string             `json:"status"`
		Paper     bool               `json:"paper"`
		LastCycle domain.CycleReport `json:"last_cycle"`
	}](t, body)
	if got.Status != "ok" || !got.Paper || got.LastCycle.RunID != "run-9" || got.LastCycle.EntriesPlaced != 2 {
		t.Fatalf("health = %+v", got)
	}
}

func TestHealthWithoutCycle(t *testing.T) {
	ts := newTestServer(t, nil)
	_, body := ts.do(t, http.MethodGet, "/api/health", false)
	if strings.Contains(string(body), "last_cycle") {
		t.Fatalf("body = %s", body)
	}
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/positions", "/api/orders", "/api/trades", "/api/events"} {
		status, _ := ts.do(t, http.MethodGet, path, false)
		if status != http.StatusUnauthorized {
			t.Errorf("%s: status = %d", path, status)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, ts.srv.URL+"/api/positions", nil)
	req.Header.Set("X-API-Key", testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("X-API-Key: status = %d", resp.StatusCode)
	}
}

func TestListPositionsSorted(t *testing.T) {
	ts := newTestServer(t, nil)
	at := time.Date(2026, 10, 14, 20, 0, 0, 0, time.UTC)
	err := ts.store.SavePositions(context.Background(), map[string]domain.Position{
		"XOM":  {Instrument: "XOM", Quantity: decimal.NewFromInt(3), Side: domain.PositionSideShort, EntryPrice: decimal.NewFromInt(110), EntryTimestamp: at, Status: domain.PositionStatusOpen},
		"AAPL": {Instrument: "AAPL", Quantity: decimal.NewFromInt(5), Side: domain.PositionSideLong, EntryPrice: decimal.NewFromInt(200), EntryTimestamp: at, Status: domain.PositionStatusOpen},
	})
	if err != nil {
		t.Fatal(err)
	}

	status, body := ts.do(t, http.MethodGet, "/api/positions", true)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	got := decode[struct {
		Positions []domain.Position `json:"positions"`
	}](t, body)
	if len(got.Positions) != 2 || got.Positions[0].Instrument != "AAPL" || got.Positions[1].Side != domain.PositionSideShort {
		t.Fatalf("positions = %+v", got.Positions)
	}
}

func TestListOrdersEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	status, body := ts.do(t, http.MethodGet, "/api/orders", true)
	if status != http.StatusOK || strings.TrimSpace(string(body)) != `{"orders":[]}` {
		t.Fatalf("status = %d body = %s", status, body)
	}
}

func TestCancelOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.broker.AddOrder(domain.BrokerOrder{ID: "ord-7", Instrument: "AAPL", Status: domain.OrderStatusNew})

	status, body := ts.do(t, http.MethodDelete, "/api/orders/ord-7", true)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if got := decode[map[string]string](t, body); got["status"] != "canceled" || got["order_id"] != "ord-7" {
		t.Fatalf("body = %s", body)
	}
	if len(ts.broker.Canceled) != 1 || ts.broker.Canceled[0] != "ord-7" {
		t.Fatalf("canceled = %v", ts.broker.Canceled)
	}

	status, _ = ts.do(t, http.MethodDelete, "/api/orders/unknown", true)
	if status != http.StatusConflict {
		t.Fatalf("unknown order: status = %d", status)
	}
}

type notFoundCanceler struct{}

func (notFoundCanceler) CancelOrder(context.Context, string) (bool, error) {
	return false, domain.ErrNotFound
}

type brokenCanceler struct{}

func (brokenCanceler) CancelOrder(context.Context, string) (bool, error) {
	return false, errors.New("502 bad gateway")
}

func TestCancelOrderErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name     string
		canceler handler.OrderCanceler
		want     int
	}{
		{"not found", notFoundCanceler{}, http.StatusNotFound},
		{"broker error", brokenCanceler{}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(Config{}, Handlers{
				Health:    handler.NewHealthHandler(nil, false),
				Positions: handler.NewPositionHandler(store, logger),
				Orders:    handler.NewOrderHandler(store, tc.canceler, logger),
				Trades:    handler.NewTradeHandler(store, logger),
			}, logger)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/orders/x", nil))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestListTradesFiltersAndSums(t *testing.T) {
	ts := newTestServer(t, nil)
	day := func(d int) time.Time { return time.Date(2026, 10, d, 20, 0, 0, 0, time.UTC) }
	mk := func(instr string, exit time.Time, pl int64) domain.ClosedTrade {
		return domain.ClosedTrade{
			Instrument: instr, Side: domain.PositionSideLong, Quantity: decimal.NewFromInt(1),
			EntryTime: exit.AddDate(0, 0, -1), ExitTime: exit,
			EntryPrice: decimal.NewFromInt(100), ExitPrice: decimal.NewFromInt(100 + pl),
			ProfitLoss: decimal.NewFromInt(pl), ExitReason: domain.ExitReasonExitLong,
		}
	}
	err := ts.store.AppendTrades(context.Background(), []domain.ClosedTrade{
		mk("AAPL", day(1), 5), mk("MSFT", day(5), -2), mk("XOM", day(9), 4),
	})
	if err != nil {
		t.Fatal(err)
	}

	status, body := ts.do(t, http.MethodGet, "/api/trades?since=2026-10-02", true)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	got := decode[struct {
		Trades     []domain.ClosedTrade `json:"trades"`
		ProfitLoss string               `json:"profit_loss"`
	}](t, body)
	if len(got.Trades) != 2 || got.Trades[0].Instrument != "MSFT" || got.ProfitLoss != "2.00" {
		t.Fatalf("got = %+v", got)
	}

	_, body = ts.do(t, http.MethodGet, "/api/trades?limit=1", true)
	got = decode[struct {
		Trades     []domain.ClosedTrade `json:"trades"`
		ProfitLoss string               `json:"profit_loss"`
	}](t, body)
	if len(got.Trades) != 1 || got.Trades[0].Instrument != "XOM" {
		t.Fatalf("limit: got = %+v", got)
	}

	for _, q := range []string{"limit=0", "limit=abc", "since=yesterday", "until=2026-13-01"} {
		status, _ := ts.do(t, http.MethodGet, "/api/trades?"+q, true)
		if status != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, status)
		}
	}
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.stream.msgs = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"type":"cycle_finished","outcome":"ok"}`)},
		{ID: "2-0", Payload: []byte(`not json`)},
	}

	status, body := ts.do(t, http.MethodGet, "/api/events?after=0-0&count=1000", true)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %s", status, body)
	}
	if ts.stream.lastID != "0-0" || ts.stream.count != 500 {
		t.Fatalf("read after=%q count=%d", ts.stream.lastID, ts.stream.count)
	}
	got := decode[struct {
		Events []struct {
			ID    string `json:"id"`
			Event struct {
				Outcome string `json:"outcome"`
			} `json:"event"`
		} `json:"events"`
	}](t, body)
	if len(got.Events) != 1 || got.Events[0].ID != "1-0" || got.Events[0].Event.Outcome != "ok" {
		t.Fatalf("events = %+v", got.Events)
	}

	ts.stream.err = errors.New("redis down")
	if status, _ := ts.do(t, http.MethodGet, "/api/events", true); status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
}

func TestEventsRouteAbsentWithoutStream(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := NewServer(Config{}, Handlers{
		Health:    handler.NewHealthHandler(nil, false),
		Positions: handler.NewPositionHandler(store, logger),
		Orders:    handler.NewOrderHandler(store, testutil.NewBroker(0), logger),
		Trades:    handler.NewTradeHandler(store, logger),
	}, logger)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodGet, "/api/health", false)

	status, body := ts.do(t, http.MethodGet, "/metrics", false)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if !strings.Contains(string(body), `revbot_http_requests_total{method="GET",path="/api/health",status="200"}`) {
		t.Fatalf("metrics missing request counter:\n%s", body)
	}
}
