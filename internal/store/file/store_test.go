package file

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

var now = time.Date(2026, 10, 15, 20, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func samplePositions() map[string]domain.Position {
	placed := now.Add(-time.Hour)
	return map[string]domain.Position{
		"AAPL": {
			Instrument: "AAPL", Quantity: decimal.NewFromInt(10), Side: domain.PositionSideLong,
			EntryPrice: decimal.RequireFromString("100.50"), EntryTimestamp: now.AddDate(0, 0, -2),
			Status: domain.PositionStatusOpen, EntryOrderID: "e-1",
		},
		"XOM": {
			Instrument: "XOM", Quantity: decimal.NewFromInt(5), Side: domain.PositionSideShort,
			EntryPrice: decimal.NewFromInt(50), EntryTimestamp: now.AddDate(0, 0, -1),
			Status: domain.PositionStatusPendingExit, PendingExitOrderID: "x-1",
			PendingExitPlacedAt: &placed, ExitReason: domain.ExitReasonExitShort,
		},
	}
}

func TestLoadMissingIsEmpty(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	p, err := s.LoadPositions(ctx)
	if err != nil || len(p) != 0 || p == nil {
		t.Fatalf("LoadPositions = %v, %v", p, err)
	}
	o, err := s.LoadPendingOrders(ctx)
	if err != nil || len(o) != 0 {
		t.Fatalf("LoadPendingOrders = %v, %v", o, err)
	}
	trades, err := s.ListTrades(ctx, domain.ListOpts{})
	if err != nil || len(trades) != 0 {
		t.Fatalf("ListTrades = %v, %v", trades, err)
	}
}

func TestPositionsRoundTripAndStableBytes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.SavePositions(ctx, samplePositions()); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(filepath.Join(s.Dir(), positionsFile))
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := s.LoadPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	x := loaded["XOM"]
	if !x.PendingExitValid() || x.ExitReason != domain.ExitReasonExitShort {
		t.Fatalf("pending exit lost: %+v", x)
	}
	if !loaded["AAPL"].EntryPrice.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("entry price = %s", loaded["AAPL"].EntryPrice)
	}

	if err := s.SavePositions(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(filepath.Join(s.Dir(), positionsFile))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("save(load(x)) changed bytes:\n%s\n---\n%s", first, second)
	}

	entries, _ := os.ReadDir(s.Dir())
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCommitWritesEverything(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sig := -1.8
	state := domain.CycleState{
		Positions: samplePositions(),
		Orders: map[string]domain.PendingOrder{
			"o-1": {OrderID: "o-1", Instrument: "MSFT", Side: domain.OrderSideBuy, Quantity: decimal.NewFromInt(2),
				LimitPrice: decimal.RequireFromString("410.12"), Kind: domain.OrderKindEntryLong, PlacedAt: now,
				SignalValue: &sig, LastKnownStatus: domain.OrderStatusNew},
		},
		NewTrades: []domain.ClosedTrade{{
			Instrument: "TSLA", Side: domain.PositionSideLong, Quantity: decimal.NewFromInt(10),
			EntryTime: now.AddDate(0, 0, -3), ExitTime: now, EntryPrice: decimal.NewFromInt(100),
			ExitPrice: decimal.NewFromInt(110), ProfitLoss: decimal.NewFromInt(100), ExitReason: domain.ExitReasonExitLong,
			ExitOrderID: "x-9",
		}},
	}
	if err := s.Commit(ctx, state); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	orders, err := s.LoadPendingOrders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if o := orders["o-1"]; o.SignalValue == nil || *o.SignalValue != sig || o.Kind != domain.OrderKindEntryLong {
		t.Fatalf("order = %+v", o)
	}

	// A second commit appends without repeating the header.
	if err := s.Commit(ctx, state); err != nil {
		t.Fatal(err)
	}
	trades, err := s.ListTrades(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if !trades[0].ProfitLoss.Equal(decimal.NewFromInt(100)) || trades[0].ExitReason != domain.ExitReasonExitLong {
		t.Fatalf("trade = %+v", trades[0])
	}

	since := now.Add(time.Minute)
	later, err := s.ListTrades(ctx, domain.ListOpts{Since: &since})
	if err != nil || len(later) != 0 {
		t.Fatalf("ListTrades since = %v, %v", later, err)
	}
}

func TestArchiveRun(t *testing.T) {
	s := newStore(t)
	path, err := s.ArchiveRun(context.Background(), domain.RunSnapshot{
		Report:    domain.CycleReport{RunID: "run-1", StartedAt: now},
		Positions: samplePositions(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
}
