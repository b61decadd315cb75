package alpaca

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// GetHistoricalBars returns the last limit daily closes per instrument,
// ending yesterday (UTC). Calendar lookback is sized so weekends and
// holidays still leave limit trading days.
func (c *Client) GetHistoricalBars(ctx context.Context, instruments []string, limit int) (map[string]domain.PriceSeries, error) {
	out := make(map[string]domain.PriceSeries, len(instruments))
	if len(instruments) == 0 || limit <= 0 {
		return out, nil
	}

	today := c.now().UTC().Truncate(24 * time.Hour)
	end := today.Add(-time.Second)
	start := today.AddDate(0, 0, -(limit*7/5 + 10))

	pageToken := ""
	for {
		var page barsResponse
		req := c.data.R().
			SetContext(ctx).
			SetQueryParam("symbols", strings.Join(instruments, ",")).
			SetQueryParam("timeframe", "1Day").
			SetQueryParam("start", start.Format(time.RFC3339)).
			SetQueryParam("end", end.Format(time.RFC3339)).
			SetQueryParam("limit", "10000").
			SetQueryParam("adjustment", "raw").
			SetQueryParam("feed", c.feed).
			SetResult(&page).
			SetError(&APIError{})
		if pageToken != "" {
			req.SetQueryParam("page_token", pageToken)
		}
		resp, err := req.Get("/v2/stocks/bars")
		if err := check("get bars", resp, err); err != nil {
			return nil, err
		}

		for sym, bars := range page.Bars {
			series := out[sym]
			for _, b := range bars {
				series = append(series, domain.Bar{Time: b.T.UTC(), Close: b.C})
			}
			out[sym] = series
		}

		if page.NextPageToken == nil || *page.NextPageToken == "" {
			break
		}
		pageToken = *page.NextPageToken
	}

	for sym, series := range out {
		if len(series) > limit {
			out[sym] = series[len(series)-limit:]
		}
	}
	return out, nil
}

// GetLatestPrice returns the price of the most recent trade.
func (c *Client) GetLatestPrice(ctx context.Context, instrument string) (float64, error) {
	var out latestTradeResponse
	resp, err := c.data.R().
		SetContext(ctx).
		SetPathParam("symbol", instrument).
		SetQueryParam("feed", c.feed).
		SetResult(&out).
		SetError(&APIError{}).
		Get("/v2/stocks/{symbol}/trades/latest")
	if err := check("latest trade "+instrument, resp, err); err != nil {
		return 0, err
	}
	if out.Trade.P <= 0 {
		return 0, fmt.Errorf("alpaca: latest trade %s: no price: %w", instrument, domain.ErrInsufficientData)
	}
	return out.Trade.P, nil
}
