package domain

import (
	"maps"
	"time"
)

// Signal is the discrete output of classifying a z-score.
type Signal string

const (
	SignalBuy           Signal = "buy"
	SignalSellShort     Signal = "sell_short"
	SignalExitLong      Signal = "exit_long"
	SignalExitShort     Signal = "exit_short"
	SignalStopLossLong  Signal = "stop_loss_long"
	SignalStopLossShort Signal = "stop_loss_short"
	SignalNone          Signal = "no_signal"
)

// Bar is one daily close.
type Bar struct {
	Time  time.Time `json:"t"`
	Close float64   `json:"c"`
}

// PriceSeries is a time-ascending list of bars for one instrument.
type PriceSeries []Bar

// Closes returns the close prices in order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// MarketSnapshot is the market data gathered once per cycle.
type MarketSnapshot struct {
	History map[string]PriceSeries
	Prices  map[string]float64
}

// Price returns the latest price for instrument if it is usable.
func (m MarketSnapshot) Price(instrument string) (float64, bool) {
	p, ok := m.Prices[instrument]
	return p, ok && p > 0
}

// Merge returns a snapshot holding m's data overlaid with other's.
func (m MarketSnapshot) Merge(other MarketSnapshot) MarketSnapshot {
	out := MarketSnapshot{
		History: make(map[string]PriceSeries, len(m.History)+len(other.History)),
		Prices:  make(map[string]float64, len(m.Prices)+len(other.Prices)),
	}
	maps.Copy(out.History, m.History)
	maps.Copy(out.History, other.History)
	maps.Copy(out.Prices, m.Prices)
	maps.Copy(out.Prices, other.Prices)
	return out
}
