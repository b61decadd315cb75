package marketdata

import (
	"context"
	"errors"
	"math"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Gather fetches bars and latest prices for instruments, one call at a
// time. Failures never abort the cycle: each is returned as a data-quality
// error and the instrument is simply absent from the snapshot.
func Gather(ctx context.Context, md domain.MarketData, instruments []string, bars int) (domain.MarketSnapshot, []error) {
	snap := domain.MarketSnapshot{
		History: map[string]domain.PriceSeries{},
		Prices:  map[string]float64{},
	}
	var errs []error

	history, err := md.GetHistoricalBars(ctx, instruments, bars)
	if err != nil {
		errs = append(errs, domain.NewError(domain.KindDataQuality, "historical_bars", "", err))
	}
	for instr, series := range history {
		snap.History[instr] = series
	}

	for _, instr := range instruments {
		if ctx.Err() != nil {
			errs = append(errs, domain.NewError(domain.KindDataQuality, "latest_price", instr, ctx.Err()))
			break
		}
		price, err := md.GetLatestPrice(ctx, instr)
		switch {
		case err != nil:
			errs = append(errs, domain.NewError(domain.KindDataQuality, "latest_price", instr, err))
		case price <= 0 || math.IsNaN(price) || math.IsInf(price, 0):
			errs = append(errs, domain.NewError(domain.KindDataQuality, "latest_price", instr,
				errors.New("non-positive price")))
		default:
			snap.Prices[instr] = price
		}
	}
	return snap, errs
}
