package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// MarketData is an in-memory domain.MarketData.
type MarketData struct {
	mu sync.Mutex

	History  map[string]domain.PriceSeries
	Prices   map[string]float64
	PriceErr map[string]error
	BarsErr  error
}

var _ domain.MarketData = (*MarketData)(nil)

// NewMarketData returns an empty source.
func NewMarketData() *MarketData {
	return &MarketData{
		History:  map[string]domain.PriceSeries{},
		Prices:   map[string]float64{},
		PriceErr: map[string]error{},
	}
}

// SetHistory installs daily closes ending the day before 2026-10-15.
func (m *MarketData) SetHistory(instr string, closes ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	series := make(domain.PriceSeries, len(closes))
	for i, c := range closes {
		series[i] = domain.Bar{Time: end.AddDate(0, 0, i-len(closes)+1), Close: c}
	}
	m.History[instr] = series
}

// SetPrice installs a latest price.
func (m *MarketData) SetPrice(instr string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prices[instr] = price
}

func (m *MarketData) GetHistoricalBars(_ context.Context, instruments []string, limit int) (map[string]domain.PriceSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BarsErr != nil {
		return nil, m.BarsErr
	}
	out := map[string]domain.PriceSeries{}
	for _, instr := range instruments {
		s, ok := m.History[instr]
		if !ok {
			continue
		}
		if limit > 0 && len(s) > limit {
			s = s[len(s)-limit:]
		}
		out[instr] = append(domain.PriceSeries(nil), s...)
	}
	return out, nil
}

func (m *MarketData) GetLatestPrice(_ context.Context, instr string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.PriceErr[instr]; err != nil {
		return 0, err
	}
	p, ok := m.Prices[instr]
	if !ok {
		return 0, fmt.Errorf("latest price %s: %w", instr, domain.ErrNotFound)
	}
	return p, nil
}
