package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// StateStore implements domain.StateStore using PostgreSQL. Decimal columns
// travel as text and are cast server side.
type StateStore struct {
	client *Client
	pool   *pgxpool.Pool
}

var _ domain.StateStore = (*StateStore)(nil)

// NewStateStore creates a StateStore on client's pool. Close closes client.
func NewStateStore(client *Client) *StateStore {
	return &StateStore{client: client, pool: client.Pool()}
}

// Close releases the connection pool.
func (s *StateStore) Close() error {
	s.client.Close()
	return nil
}

const positionCols = `instrument, quantity::text, side, entry_price::text, entry_timestamp,
	status, entry_order_id, pending_exit_order_id, pending_exit_placed_at, exit_reason`

// LoadPositions reads the whole ledger.
func (s *StateStore) LoadPositions(ctx context.Context) (map[string]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+positionCols+` FROM positions ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.Position{}
	for rows.Next() {
		var (
			p                 domain.Position
			qty, price        string
			side, status, why string
		)
		if err := rows.Scan(&p.Instrument, &qty, &side, &price, &p.EntryTimestamp,
			&status, &p.EntryOrderID, &p.PendingExitOrderID, &p.PendingExitPlacedAt, &why); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		if p.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("postgres: position %s quantity: %w", p.Instrument, err)
		}
		if p.EntryPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: position %s entry price: %w", p.Instrument, err)
		}
		p.Side = domain.PositionSide(side)
		p.Status = domain.PositionStatus(status)
		p.ExitReason = domain.ExitReason(why)
		p.EntryTimestamp = p.EntryTimestamp.UTC()
		if p.PendingExitPlacedAt != nil {
			t := p.PendingExitPlacedAt.UTC()
			p.PendingExitPlacedAt = &t
		}
		out[p.Instrument] = p
	}
	return out, rows.Err()
}

// SavePositions replaces the ledger.
func (s *StateStore) SavePositions(ctx context.Context, positions map[string]domain.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return replacePositions(ctx, tx, positions)
	})
}

const orderCols = `order_id, instrument, side, quantity::text, limit_price::text, kind,
	placed_at, signal_value, last_known_status`

// LoadPendingOrders reads every tracked order.
func (s *StateStore) LoadPendingOrders(ctx context.Context) (map[string]domain.PendingOrder, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderCols+` FROM pending_orders ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load pending orders: %w", err)
	}
	defer rows.Close()

	out := map[string]domain.PendingOrder{}
	for rows.Next() {
		var (
			o                  domain.PendingOrder
			qty, limit         string
			side, kind, status string
		)
		if err := rows.Scan(&o.OrderID, &o.Instrument, &side, &qty, &limit, &kind,
			&o.PlacedAt, &o.SignalValue, &status); err != nil {
			return nil, fmt.Errorf("postgres: scan pending order: %w", err)
		}
		if o.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("postgres: order %s quantity: %w", o.OrderID, err)
		}
		if o.LimitPrice, err = decimal.NewFromString(limit); err != nil {
			return nil, fmt.Errorf("postgres: order %s limit price: %w", o.OrderID, err)
		}
		o.Side = domain.OrderSide(side)
		o.Kind = domain.OrderKind(kind)
		o.LastKnownStatus = domain.OrderStatus(status)
		o.PlacedAt = o.PlacedAt.UTC()
		out[o.OrderID] = o
	}
	return out, rows.Err()
}

// SavePendingOrders replaces the tracker.
func (s *StateStore) SavePendingOrders(ctx context.Context, orders map[string]domain.PendingOrder) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return replaceOrders(ctx, tx, orders)
	})
}

// AppendTrades inserts trades into the log.
func (s *StateStore) AppendTrades(ctx context.Context, trades []domain.ClosedTrade) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertTrades(ctx, tx, trades)
	})
}

// ListTrades returns trades oldest first. Limit keeps the most recent rows.
func (s *StateStore) ListTrades(ctx context.Context, opts domain.ListOpts) ([]domain.ClosedTrade, error) {
	query := `SELECT id, instrument, side, quantity::text, entry_time, exit_time,
		entry_price::text, exit_price::text, profit_loss::text, exit_reason, exit_order_id
		FROM closed_trades WHERE TRUE`
	var args []any
	argIdx := 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND exit_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND exit_time < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTrade
	for rows.Next() {
		var (
			id                    int64
			t                     domain.ClosedTrade
			side, reason          string
			qty, entry, exit, pnl string
		)
		if err := rows.Scan(&id, &t.Instrument, &side, &qty, &t.EntryTime, &t.ExitTime,
			&entry, &exit, &pnl, &reason, &t.ExitOrderID); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("postgres: trade %d quantity: %w", id, err)
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("postgres: trade %d entry price: %w", id, err)
		}
		if t.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("postgres: trade %d exit price: %w", id, err)
		}
		if t.ProfitLoss, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("postgres: trade %d profit/loss: %w", id, err)
		}
		t.Side = domain.PositionSide(side)
		t.ExitReason = domain.ExitReason(reason)
		t.EntryTime = t.EntryTime.UTC()
		t.ExitTime = t.ExitTime.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// Commit writes the whole cycle result in one transaction.
func (s *StateStore) Commit(ctx context.Context, state domain.CycleState) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := insertTrades(ctx, tx, state.NewTrades); err != nil {
			return err
		}
		if err := replacePositions(ctx, tx, state.Positions); err != nil {
			return err
		}
		return replaceOrders(ctx, tx, state.Orders)
	})
	if err != nil {
		return fmt.Errorf("postgres: commit cycle: %w", err)
	}
	return nil
}

func replacePositions(ctx context.Context, tx pgx.Tx, positions map[string]domain.Position) error {
	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("postgres: clear positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}
	const insert = `
		INSERT INTO positions (
			instrument, quantity, side, entry_price, entry_timestamp, status,
			entry_order_id, pending_exit_order_id, pending_exit_placed_at, exit_reason, updated_at
		) VALUES ($1, $2::text::numeric, $3, $4::text::numeric, $5, $6, $7, $8, $9, $10, NOW())`

	b := &pgx.Batch{}
	for _, p := range positions {
		b.Queue(insert,
			p.Instrument, p.Quantity.String(), string(p.Side), p.EntryPrice.String(), truncate(p.EntryTimestamp),
			string(p.Status), p.EntryOrderID, p.PendingExitOrderID, p.PendingExitPlacedAt, string(p.ExitReason),
		)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: insert positions: %w", err)
	}
	return nil
}

func replaceOrders(ctx context.Context, tx pgx.Tx, orders map[string]domain.PendingOrder) error {
	if _, err := tx.Exec(ctx, `DELETE FROM pending_orders`); err != nil {
		return fmt.Errorf("postgres: clear pending orders: %w", err)
	}
	if len(orders) == 0 {
		return nil
	}
	const insert = `
		INSERT INTO pending_orders (
			order_id, instrument, side, quantity, limit_price, kind,
			placed_at, signal_value, last_known_status, updated_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9, NOW())`

	b := &pgx.Batch{}
	for _, o := range orders {
		b.Queue(insert,
			o.OrderID, o.Instrument, string(o.Side), o.Quantity.String(), o.LimitPrice.String(),
			string(o.Kind), truncate(o.PlacedAt), o.SignalValue, string(o.LastKnownStatus),
		)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: insert pending orders: %w", err)
	}
	return nil
}

func insertTrades(ctx context.Context, tx pgx.Tx, trades []domain.ClosedTrade) error {
	if len(trades) == 0 {
		return nil
	}
	const insert = `
		INSERT INTO closed_trades (
			instrument, side, quantity, entry_time, exit_time,
			entry_price, exit_price, profit_loss, exit_reason, exit_order_id
		) VALUES ($1, $2, $3::text::numeric, $4, $5, $6::text::numeric, $7::text::numeric,
			$8::text::numeric, $9, $10)`

	b := &pgx.Batch{}
	for _, t := range trades {
		b.Queue(insert,
			t.Instrument, string(t.Side), t.Quantity.String(), truncate(t.EntryTime), truncate(t.ExitTime),
			t.EntryPrice.String(), t.ExitPrice.String(), t.ProfitLoss.String(),
			string(t.ExitReason), t.ExitOrderID,
		)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: insert trades: %w", err)
	}
	return nil
}

// truncate matches the microsecond precision of TIMESTAMPTZ.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
