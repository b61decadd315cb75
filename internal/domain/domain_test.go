package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestProfitLoss(t *testing.T) {
	tests := []struct {
		name  string
		side  PositionSide
		qty   int64
		entry string
		exit  string
		want  string
	}{
		{"long gain", PositionSideLong, 10, "100", "110", "100"},
		{"long loss", PositionSideLong, 10, "100", "95", "-50"},
		{"short gain", PositionSideShort, 5, "50", "45", "25"},
		{"short loss", PositionSideShort, 5, "50", "52.5", "-12.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProfitLoss(tt.side, decimal.NewFromInt(tt.qty),
				decimal.RequireFromString(tt.entry), decimal.RequireFromString(tt.exit))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("ProfitLoss = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected, OrderStatusDoneForDay}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusAccepted, OrderStatusPartiallyFilled} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseOrderStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseOrderStatus("filled"); err != nil {
		t.Fatalf("ParseOrderStatus(filled): %v", err)
	}
	_, err := ParseOrderStatus("teleported")
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("err = %v, want ErrUnknownStatus", err)
	}
}

func TestHoldingDaysCountsWholeDays(t *testing.T) {
	entry := time.Date(2026, 10, 1, 15, 0, 0, 0, time.UTC)
	p := Position{EntryTimestamp: entry}
	cases := map[time.Time]int{
		entry.Add(23 * time.Hour):               0,
		entry.Add(24 * time.Hour):               1,
		entry.Add(5*24*time.Hour - time.Second): 4,
		entry.Add(5 * 24 * time.Hour):           5,
		entry.Add(-time.Hour):                   -1,
	}
	for now, want := range cases {
		if got := p.HoldingDays(now); got != want {
			t.Errorf("HoldingDays(%s) = %d, want %d", now, got, want)
		}
	}
}

func TestPendingExitTransitions(t *testing.T) {
	now := time.Date(2026, 10, 15, 14, 30, 0, 0, time.UTC)
	p := Position{Instrument: "AAPL", Status: PositionStatusOpen}
	p = p.MarkPendingExit("ord-1", now, ExitReasonMaxHold)
	if !p.PendingExitValid() {
		t.Fatalf("position should be a valid pending exit: %+v", p)
	}
	p = p.RevertToOpen()
	if p.Status != PositionStatusOpen || p.PendingExitOrderID != "" || p.PendingExitPlacedAt != nil || p.ExitReason != "" {
		t.Fatalf("revert left bookkeeping behind: %+v", p)
	}
}

func TestErrorKind(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := fmt.Errorf("engine: %w", NewError(KindConnectivity, "get_account", "", base))
	if KindOf(err) != KindConnectivity {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
	if !errors.Is(err, &Error{Kind: KindConnectivity}) {
		t.Fatal("errors.Is by kind failed")
	}
	if !errors.Is(err, base) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if KindOf(base) != "" {
		t.Fatal("plain error should have no kind")
	}
}

func TestPendingOrderPositionSide(t *testing.T) {
	cases := []struct {
		o    PendingOrder
		want PositionSide
	}{
		{PendingOrder{Kind: OrderKindEntryLong, Side: OrderSideBuy}, PositionSideLong},
		{PendingOrder{Kind: OrderKindEntryShort, Side: OrderSideSell}, PositionSideShort},
		{PendingOrder{Kind: OrderKindExternalSync, Side: OrderSideSell}, PositionSideShort},
		{PendingOrder{Kind: OrderKindExternalSync, Side: OrderSideBuy}, PositionSideLong},
	}
	for _, c := range cases {
		if got := c.o.PositionSide(); got != c.want {
			t.Errorf("%+v: got %s want %s", c.o, got, c.want)
		}
	}
}
