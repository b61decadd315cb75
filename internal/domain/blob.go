package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// CycleReport summarizes what one cycle did.
type CycleReport struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at"`
	Cash            decimal.Decimal `json:"cash"`
	ExitsPlaced     int             `json:"exits_placed"`
	ExitsAdopted    int             `json:"exits_adopted"`
	EntriesPlaced   int             `json:"entries_placed"`
	TradesClosed    int             `json:"trades_closed"`
	SkippedEntries  int             `json:"skipped_entries"`
	Discrepancies   int             `json:"discrepancies"`
	StatusLookups   int             `json:"status_lookup_failures"`
	OrderFailures   int             `json:"order_failures"`
	ReconcileFailed bool            `json:"reconcile_failed,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
}

// RunSnapshot is the per-cycle record written to the snapshot archive.
type RunSnapshot struct {
	Report        CycleReport             `json:"report"`
	Positions     map[string]Position     `json:"positions"`
	PendingOrders map[string]PendingOrder `json:"pending_orders"`
	ClosedTrades  []ClosedTrade           `json:"closed_trades"`
}

// SnapshotArchiver stores run snapshots.
type SnapshotArchiver interface {
	ArchiveRun(ctx context.Context, snap RunSnapshot) (string, error)
}
