package file

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

var tradeHeader = []string{
	"Ticker", "Side", "Quantity", "EntryDate", "ExitDate",
	"EntryPrice", "ExitPrice", "ProfitLoss", "ExitReason", "ExitOrderID",
}

// AppendTrades appends rows to trades.csv, writing the header on first use.
func (s *Store) AppendTrades(_ context.Context, trades []domain.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendTrades(trades)
}

func (s *Store) appendTrades(trades []domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	path := filepath.Join(s.dir, tradesFile)
	info, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("file store: open %s: %w", tradesFile, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if fresh {
		if err := w.Write(tradeHeader); err != nil {
			return fmt.Errorf("file store: write header: %w", err)
		}
	}
	for _, t := range trades {
		row := []string{
			t.Instrument,
			string(t.Side),
			t.Quantity.String(),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			t.EntryPrice.StringFixed(2),
			t.ExitPrice.StringFixed(2),
			t.ProfitLoss.StringFixed(2),
			string(t.ExitReason),
			t.ExitOrderID,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("file store: write trade %s: %w", t.Instrument, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("file store: flush trades: %w", err)
	}
	return f.Sync()
}

// ListTrades reads trades.csv oldest first, filtered by exit time.
func (s *Store) ListTrades(_ context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, tradesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file store: open %s: %w", tradesFile, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(tradeHeader)
	var out []domain.ClosedTrade
	for line := 1; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("file store: read %s: %w", tradesFile, err)
		}
		if line == 1 && rec[0] == tradeHeader[0] {
			continue
		}
		t, err := parseTrade(rec)
		if err != nil {
			return nil, fmt.Errorf("file store: %s line %d: %w", tradesFile, line, err)
		}
		if opts.Since != nil && t.ExitTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !t.ExitTime.Before(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[len(out)-opts.Limit:]
	}
	return out, nil
}

func parseTrade(rec []string) (domain.ClosedTrade, error) {
	var (
		t   domain.ClosedTrade
		err error
	)
	t.Instrument = rec[0]
	if t.Side, err = domain.ParsePositionSide(rec[1]); err != nil {
		return t, err
	}
	if t.Quantity, err = decimal.NewFromString(rec[2]); err != nil {
		return t, fmt.Errorf("quantity: %w", err)
	}
	if t.EntryTime, err = time.Parse(time.RFC3339, rec[3]); err != nil {
		return t, fmt.Errorf("entry date: %w", err)
	}
	if t.ExitTime, err = time.Parse(time.RFC3339, rec[4]); err != nil {
		return t, fmt.Errorf("exit date: %w", err)
	}
	if t.EntryPrice, err = decimal.NewFromString(rec[5]); err != nil {
		return t, fmt.Errorf("entry price: %w", err)
	}
	if t.ExitPrice, err = decimal.NewFromString(rec[6]); err != nil {
		return t, fmt.Errorf("exit price: %w", err)
	}
	if t.ProfitLoss, err = decimal.NewFromString(rec[7]); err != nil {
		return t, fmt.Errorf("profit/loss: %w", err)
	}
	t.ExitReason = domain.ExitReason(rec[8])
	t.ExitOrderID = rec[9]
	return t, nil
}
