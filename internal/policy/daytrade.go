package policy

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// dayTradeLookback is the rolling window the PDT rule counts over.
const dayTradeLookback = 5 * 24 * time.Hour

var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("policy: load location %s: %v", name, err))
	}
	return loc
}

// DayTradeCounter counts round trips opened and closed on the same New York
// calendar day, for brokers that do not report a day-trade count. It is an
// approximation: only trades this bot closed are visible.
type DayTradeCounter struct {
	trades domain.TradeLog
}

// NewDayTradeCounter creates a counter over trades.
func NewDayTradeCounter(trades domain.TradeLog) *DayTradeCounter {
	return &DayTradeCounter{trades: trades}
}

// Count returns the day trades closed in the five days before now.
func (c *DayTradeCounter) Count(ctx context.Context, now time.Time) (int, error) {
	since := now.Add(-dayTradeLookback)
	trades, err := c.trades.ListTrades(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		return 0, fmt.Errorf("policy: count day trades: %w", err)
	}
	n := 0
	for _, t := range trades {
		if sameSession(t.EntryTime, t.ExitTime) {
			n++
		}
	}
	return n, nil
}

func sameSession(a, b time.Time) bool {
	ay, am, ad := a.In(newYork).Date()
	by, bm, bd := b.In(newYork).Date()
	return ay == by && am == bm && ad == bd
}
