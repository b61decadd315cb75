// Package reconcile merges the local position ledger and order tracker with
// the broker's view. The broker always wins on quantity, price and side;
// local state only contributes metadata the broker does not keep.
package reconcile

import (
	"cmp"
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/ledger"
)

// Report counts what a reconcile pass changed.
type Report struct {
	ExternalTracked int
	Refreshed       int
	Untracked       int
	Reverted        int
	Closed          int
	Created         int
	Dropped         int
	Discrepancies   int
	StatusLookups   int
}

// Result is the merged state after a pass.
type Result struct {
	Positions    ledger.Positions
	Orders       ledger.Orders
	ClosedTrades []domain.ClosedTrade
	// OpenOrders is the broker's open-order snapshot taken at the start of
	// the pass, sorted by order ID.
	OpenOrders []domain.BrokerOrder
	// NewInstruments lists positions that did not exist locally before.
	NewInstruments []string
	Report         Report
	// Errors holds non-fatal problems: status lookups and discrepancies.
	Errors []error
}

// Engine runs reconcile passes against a broker.
type Engine struct {
	broker domain.Broker
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine.
func New(broker domain.Broker, logger *slog.Logger) *Engine {
	return &Engine{
		broker: broker,
		logger: logger.With(slog.String("component", "reconcile")),
		now:    time.Now,
	}
}

// WithClock replaces the time source used for newly discovered positions.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type fillMeta struct {
	orderID string
	at      time.Time
	side    domain.PositionSide
}

type pass struct {
	e         *Engine
	positions ledger.Positions
	orders    ledger.Orders
	res       Result
	fills     map[string]fillMeta
	open      map[string]domain.BrokerOrder
}

// Reconcile runs one pass. On a broker read failure the inputs are returned
// unchanged together with a reconciliation error.
func (e *Engine) Reconcile(ctx context.Context, positions ledger.Positions, orders ledger.Orders) (Result, error) {
	unchanged := Result{Positions: positions.Clone(), Orders: orders.Clone()}

	// Orders before positions: an exit that fills between the two reads
	// shows up as an open order plus a missing position, which step five
	// resolves, rather than as a position with no explanation.
	open, err := e.broker.GetOpenOrders(ctx, nil)
	if err != nil {
		return unchanged, domain.NewError(domain.KindReconciliation, "open_orders", "", err)
	}
	held, err := e.broker.GetOpenPositions(ctx)
	if err != nil {
		return unchanged, domain.NewError(domain.KindReconciliation, "open_positions", "", err)
	}
	slices.SortFunc(open, func(a, b domain.BrokerOrder) int { return cmp.Compare(a.ID, b.ID) })

	p := &pass{
		e:         e,
		positions: positions.Clone(),
		orders:    orders.Clone(),
		fills:     map[string]fillMeta{},
	}
	p.res.OpenOrders = open

	p.open = make(map[string]domain.BrokerOrder, len(open))
	for _, o := range open {
		p.open[o.ID] = o
	}

	p.syncOpenOrders(open)
	p.resolveMissing(ctx)
	p.mergePositions(held)
	p.dropAbsent(ctx, held)

	p.res.Positions = p.positions
	p.res.Orders = p.orders
	e.logger.Info("reconcile: pass complete",
		slog.Int("positions", len(p.positions)),
		slog.Int("pending_orders", len(p.orders)),
		slog.Int("broker_open_orders", len(open)),
		slog.Int("closed", p.res.Report.Closed),
		slog.Int("created", p.res.Report.Created),
		slog.Int("dropped", p.res.Report.Dropped),
		slog.Int("reverted", p.res.Report.Reverted),
		slog.Int("discrepancies", p.res.Report.Discrepancies),
	)
	return p.res, nil
}

// syncOpenOrders refreshes tracked orders from the broker and starts
// tracking open orders the bot did not place. Exit orders stay on their
// position and are never tracked here.
func (p *pass) syncOpenOrders(open []domain.BrokerOrder) {
	for _, bo := range open {
		if po, ok := p.orders[bo.ID]; ok {
			if po.LastKnownStatus != bo.Status || !po.Quantity.Equal(bo.Quantity) || !po.LimitPrice.Equal(bo.LimitPrice) {
				p.res.Report.Refreshed++
			}
			po.LastKnownStatus = bo.Status
			po.Quantity = bo.Quantity
			po.LimitPrice = bo.LimitPrice
			p.orders[bo.ID] = po
			continue
		}
		if _, isExit := p.positions.ByExitOrder(bo.ID); isExit {
			continue
		}
		p.trackExternal(bo)
	}
}

// trackExternal starts tracking an open order the bot did not place, or one
// that no longer belongs to a pending exit.
func (p *pass) trackExternal(bo domain.BrokerOrder) {
	p.orders[bo.ID] = domain.PendingOrder{
		OrderID:         bo.ID,
		Instrument:      bo.Instrument,
		Side:            bo.Side,
		Quantity:        bo.Quantity,
		LimitPrice:      bo.LimitPrice,
		Kind:            domain.OrderKindExternalSync,
		PlacedAt:        bo.SubmittedAt.UTC(),
		LastKnownStatus: bo.Status,
	}
	p.res.Report.ExternalTracked++
	p.e.logger.Info("reconcile: tracking external order",
		slog.String("order_id", bo.ID),
		slog.String("instrument", bo.Instrument),
		slog.String("side", string(bo.Side)),
		slog.String("status", string(bo.Status)),
	)
}

// resolveMissing looks up, once each, every order we care about that the
// broker no longer lists as open.
func (p *pass) resolveMissing(ctx context.Context) {
	candidates := map[string]struct{}{}
	for id := range p.orders {
		if _, ok := p.open[id]; !ok {
			candidates[id] = struct{}{}
		}
	}
	for _, pos := range p.positions {
		if pos.Status != domain.PositionStatusPendingExit || pos.PendingExitOrderID == "" {
			continue
		}
		if _, ok := p.open[pos.PendingExitOrderID]; !ok {
			candidates[pos.PendingExitOrderID] = struct{}{}
		}
	}

	for _, id := range slices.Sorted(maps.Keys(candidates)) {
		p.resolve(ctx, id)
	}
}

func (p *pass) resolve(ctx context.Context, id string) {
	exitPos, isExit := p.positions.ByExitOrder(id)
	tracked, isTracked := p.orders[id]

	bo, err := p.e.broker.GetOrder(ctx, id)
	if err != nil {
		p.orders = p.orders.Untrack(id)
		p.res.Report.StatusLookups++
		p.res.Errors = append(p.res.Errors, domain.NewError(domain.KindStatusLookup, "get_order", instrumentOf(exitPos, tracked), err))
		p.e.logger.Warn("reconcile: order status unavailable, untracking",
			slog.String("order_id", id),
			slog.String("instrument", instrumentOf(exitPos, tracked)),
			slog.String("error", err.Error()),
		)
		if isExit {
			p.revert(exitPos, "status lookup failed")
		}
		return
	}

	switch {
	case !bo.Status.IsTerminal():
		if isTracked {
			tracked.LastKnownStatus = bo.Status
			p.orders[id] = tracked
		}

	case bo.Status == domain.OrderStatusFilled && isExit:
		p.orders = p.orders.Untrack(id)
		p.closeOnFill(exitPos, bo)

	case bo.Status == domain.OrderStatusFilled:
		p.orders = p.orders.Untrack(id)
		at := bo.SubmittedAt
		if bo.FilledAt != nil {
			at = *bo.FilledAt
		}
		side := domain.PositionSideLong
		if isTracked {
			side = tracked.PositionSide()
		} else if bo.Side == domain.OrderSideSell {
			side = domain.PositionSideShort
		}
		p.fills[bo.Instrument] = fillMeta{orderID: id, at: at.UTC(), side: side}
		p.res.Report.Untracked++
		p.e.logger.Info("reconcile: entry filled",
			slog.String("order_id", id),
			slog.String("instrument", bo.Instrument),
			slog.String("fill_price", bo.FilledAvgPrice.String()),
		)

	default:
		p.orders = p.orders.Untrack(id)
		p.res.Report.Untracked++
		p.e.logger.Info("reconcile: order ended without fill",
			slog.String("order_id", id),
			slog.String("instrument", bo.Instrument),
			slog.String("status", string(bo.Status)),
		)
		if isExit {
			p.revert(exitPos, "exit order "+string(bo.Status))
		}
	}
}

func (p *pass) closeOnFill(pos domain.Position, bo domain.BrokerOrder) {
	price := bo.FilledAvgPrice
	if price.IsZero() {
		price = bo.LimitPrice
	}
	at := p.e.now()
	if bo.FilledAt != nil {
		at = *bo.FilledAt
	}
	var (
		trade domain.ClosedTrade
		ok    bool
	)
	p.positions, trade, ok = p.positions.Remove(pos.Instrument, price, pos.ExitReason, bo.ID, at)
	if !ok {
		return
	}
	p.res.ClosedTrades = append(p.res.ClosedTrades, trade)
	p.res.Report.Closed++
	p.e.logger.Info("reconcile: position closed",
		slog.String("instrument", trade.Instrument),
		slog.String("side", string(trade.Side)),
		slog.String("exit_reason", string(trade.ExitReason)),
		slog.String("exit_price", trade.ExitPrice.String()),
		slog.String("profit_loss", trade.ProfitLoss.String()),
	)
}

func (p *pass) revert(pos domain.Position, why string) {
	p.positions = p.positions.Put(pos.RevertToOpen())
	p.res.Report.Reverted++
	p.e.logger.Info("reconcile: pending exit reverted to open",
		slog.String("instrument", pos.Instrument),
		slog.String("order_id", pos.PendingExitOrderID),
		slog.String("reason", why),
	)
}

// mergePositions rebuilds the ledger from the broker's holdings.
func (p *pass) mergePositions(held []domain.BrokerPosition) {
	slices.SortFunc(held, func(a, b domain.BrokerPosition) int { return cmp.Compare(a.Instrument, b.Instrument) })

	for _, bp := range held {
		if !bp.Quantity.IsPositive() {
			p.discrepancy(bp.Instrument, "broker position with non-positive quantity ignored")
			continue
		}
		fill, hasFill := p.fills[bp.Instrument]
		if hasFill && fill.side != bp.Side {
			hasFill = false
		}

		local, ok := p.positions[bp.Instrument]
		if ok && local.Side != bp.Side {
			p.discrepancy(bp.Instrument, "local side "+string(local.Side)+" replaced by broker side "+string(bp.Side))
			p.releaseExitOrder(local)
			ok = false
		}
		if !ok {
			pos := domain.Position{
				Instrument:     bp.Instrument,
				Quantity:       bp.Quantity,
				Side:           bp.Side,
				EntryPrice:     bp.AvgEntryPrice,
				EntryTimestamp: p.e.now().UTC(),
				Status:         domain.PositionStatusOpen,
			}
			if hasFill {
				pos.EntryTimestamp = fill.at
				pos.EntryOrderID = fill.orderID
			}
			p.positions = p.positions.Put(pos)
			p.res.NewInstruments = append(p.res.NewInstruments, bp.Instrument)
			p.res.Report.Created++
			p.e.logger.Info("reconcile: position discovered at broker",
				slog.String("instrument", bp.Instrument),
				slog.String("side", string(bp.Side)),
				slog.String("quantity", bp.Quantity.String()),
				slog.String("avg_entry_price", bp.AvgEntryPrice.String()),
				slog.Bool("matched_fill", hasFill),
			)
			continue
		}

		if !local.Quantity.Equal(bp.Quantity) {
			p.discrepancy(bp.Instrument, "quantity "+local.Quantity.String()+" -> "+bp.Quantity.String())
		}
		if !local.EntryPrice.Equal(bp.AvgEntryPrice) {
			p.discrepancy(bp.Instrument, "entry price "+local.EntryPrice.String()+" -> "+bp.AvgEntryPrice.String())
		}
		local.Quantity = bp.Quantity
		local.EntryPrice = bp.AvgEntryPrice
		if local.Status == domain.PositionStatusPendingExit && !local.PendingExitValid() {
			local = p.repairPendingExit(local)
		}
		if hasFill && local.EntryOrderID == "" {
			local.EntryOrderID = fill.orderID
			local.EntryTimestamp = fill.at
		}
		p.positions[bp.Instrument] = local
	}
}

// repairPendingExit completes a pending exit whose order is still open at the
// broker on the closing side, taking the placement time from the broker.
// Anything else reverts to open, and a live order it referenced is tracked
// as external so the next pass sees the same state.
func (p *pass) repairPendingExit(pos domain.Position) domain.Position {
	bo, live := p.open[pos.PendingExitOrderID]
	if live && pos.PendingExitOrderID != "" && bo.Instrument == pos.Instrument && bo.Side == pos.Side.ClosingSide() {
		placed := bo.SubmittedAt.UTC()
		if placed.IsZero() {
			placed = p.e.now().UTC()
		}
		pos.PendingExitPlacedAt = &placed
		p.discrepancy(pos.Instrument, "pending exit placement time restored from broker order "+bo.ID)
		return pos
	}
	p.discrepancy(pos.Instrument, "incomplete pending exit reverted")
	p.releaseExitOrder(pos)
	return pos.RevertToOpen()
}

// releaseExitOrder tracks pos's still-open exit order as external once the
// position no longer refers to it.
func (p *pass) releaseExitOrder(pos domain.Position) {
	if pos.Status != domain.PositionStatusPendingExit || pos.PendingExitOrderID == "" {
		return
	}
	bo, live := p.open[pos.PendingExitOrderID]
	if !live {
		return
	}
	if _, tracked := p.orders[bo.ID]; tracked {
		return
	}
	p.trackExternal(bo)
}

// dropAbsent removes local positions the broker no longer holds. A pending
// exit whose order filled after the open-order read still books its trade.
func (p *pass) dropAbsent(ctx context.Context, held []domain.BrokerPosition) {
	present := make(map[string]struct{}, len(held))
	for _, bp := range held {
		present[bp.Instrument] = struct{}{}
	}
	for _, instr := range p.positions.Instruments() {
		if _, ok := present[instr]; ok {
			continue
		}
		pos := p.positions[instr]
		if pos.Status == domain.PositionStatusPendingExit && pos.PendingExitOrderID != "" {
			bo, err := p.e.broker.GetOrder(ctx, pos.PendingExitOrderID)
			if err == nil && bo.Status == domain.OrderStatusFilled {
				p.closeOnFill(pos, bo)
				continue
			}
		}
		p.releaseExitOrder(pos)
		p.positions = p.positions.Clone()
		delete(p.positions, instr)
		p.res.Report.Dropped++
		p.discrepancy(instr, "position absent at broker, dropped")
	}
}

func (p *pass) discrepancy(instrument, msg string) {
	p.res.Report.Discrepancies++
	p.res.Errors = append(p.res.Errors, domain.NewError(domain.KindReconciliation, msg, instrument, nil))
	p.e.logger.Warn("reconcile: discrepancy",
		slog.String("instrument", instrument),
		slog.String("detail", msg),
	)
}

func instrumentOf(pos domain.Position, po domain.PendingOrder) string {
	if pos.Instrument != "" {
		return pos.Instrument
	}
	return po.Instrument
}
