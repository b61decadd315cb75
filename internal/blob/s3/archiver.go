package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// objectWriter is the part of Writer the archiver needs.
type objectWriter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
	URI(path string) string
}

// Archiver stores one JSON snapshot per cycle and keeps a monthly JSONL
// export of the closed-trade log next to them.
//
//	<prefix>/2026/10/15/<run_id>.json
//	<prefix>/trades/2026-10.jsonl
type Archiver struct {
	writer objectWriter
	trades domain.TradeLog
	prefix string
}

var _ domain.SnapshotArchiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. trades may be nil, which disables the
// monthly trade export.
func NewArchiver(w objectWriter, trades domain.TradeLog, prefix string) *Archiver {
	return &Archiver{writer: w, trades: trades, prefix: prefix}
}

// ArchiveRun uploads snap and, when the run closed trades, refreshes the
// export for the run's month. It returns the snapshot location.
func (a *Archiver) ArchiveRun(ctx context.Context, snap domain.RunSnapshot) (string, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: encode snapshot: %w", err)
	}
	key := snapshotKey(a.prefix, snap.Report.StartedAt, snap.Report.RunID)
	if err := a.writer.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", err
	}

	if len(snap.ClosedTrades) > 0 && a.trades != nil {
		if _, err := a.ArchiveTrades(ctx, snap.Report.StartedAt); err != nil {
			return a.writer.URI(key), err
		}
	}
	return a.writer.URI(key), nil
}

// ArchiveTrades rewrites the JSONL export of every trade closed in the
// calendar month (UTC) containing month. It returns the number exported.
func (a *Archiver) ArchiveTrades(ctx context.Context, month time.Time) (int, error) {
	from := time.Date(month.UTC().Year(), month.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	trades, err := a.trades.ListTrades(ctx, domain.ListOpts{Since: &from, Until: &to})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	key := tradesKey(a.prefix, from)
	if err := a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), "application/x-ndjson", 0); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return len(trades), nil
}

func snapshotKey(prefix string, at time.Time, runID string) string {
	return path.Join(prefix, at.UTC().Format("2006/01/02"), runID+".json")
}

func tradesKey(prefix string, month time.Time) string {
	return path.Join(prefix, "trades", month.Format("2006-01")+".jsonl")
}

// marshalJSONL encodes records one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
