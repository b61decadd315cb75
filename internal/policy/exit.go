package policy

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/ledger"
	"github.com/alanyoungcy/revbot/internal/zscore"
)

// ExitEvaluator closes open positions on age or signal.
type ExitEvaluator struct {
	broker domain.Broker
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewExitEvaluator creates an ExitEvaluator.
func NewExitEvaluator(broker domain.Broker, cfg Config, logger *slog.Logger) *ExitEvaluator {
	return &ExitEvaluator{
		broker: broker,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "exit_policy")),
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (e *ExitEvaluator) WithClock(now func() time.Time) *ExitEvaluator {
	e.now = now
	return e
}

// ExitOutcome is the ledger after exit evaluation.
type ExitOutcome struct {
	Positions ledger.Positions
	Orders    ledger.Orders
	Actions   []Action
	Errors    []error
}

// Evaluate runs every open position through the exit rules. When only is
// non-empty, positions outside it are left alone. An open broker order on
// the closing side with the position's quantity is adopted instead of
// submitting a second one.
func (e *ExitEvaluator) Evaluate(
	ctx context.Context,
	positions ledger.Positions,
	orders ledger.Orders,
	market domain.MarketSnapshot,
	openOrders []domain.BrokerOrder,
	only []string,
) ExitOutcome {
	out := ExitOutcome{Positions: positions.Clone(), Orders: orders.Clone()}
	adoptedIDs := map[string]struct{}{}

	for _, instr := range positions.Instruments() {
		if len(only) > 0 && !slices.Contains(only, instr) {
			continue
		}
		pos := out.Positions[instr]
		if pos.Status != domain.PositionStatusOpen {
			continue
		}

		price, ok := market.Price(instr)
		if !ok {
			out.Errors = append(out.Errors, domain.NewError(domain.KindDataQuality, "exit_price", instr, errNoPrice))
			continue
		}
		reason, z, err := e.exitReason(pos, market.History[instr], price)
		if err != nil {
			out.Errors = append(out.Errors, domain.NewError(domain.KindDataQuality, "exit_signal", instr, err))
			continue
		}
		if reason == "" {
			continue
		}

		if bo, found := matchingExitOrder(pos, openOrders, adoptedIDs); found {
			adoptedIDs[bo.ID] = struct{}{}
			out.Positions = out.Positions.Put(pos.MarkPendingExit(bo.ID, placedAt(bo, e.now()), reason))
			out.Orders = out.Orders.Untrack(bo.ID)
			out.Actions = append(out.Actions, Action{
				Instrument: instr, OrderID: bo.ID, Side: bo.Side, Quantity: bo.Quantity,
				LimitPrice: bo.LimitPrice, Reason: reason, Signal: z, Adopted: true,
			})
			e.logger.Info("exit: adopted existing broker order",
				slog.String("instrument", instr),
				slog.String("order_id", bo.ID),
				slog.String("reason", string(reason)),
			)
			continue
		}

		req := domain.OrderRequest{
			Instrument:    instr,
			Quantity:      pos.Quantity,
			Side:          pos.Side.ClosingSide(),
			LimitPrice:    limitPrice(price),
			TimeInForce:   domain.TimeInForceDay,
			ClientOrderID: newClientOrderID(),
		}
		bo, err := e.broker.SubmitLimitOrder(ctx, req)
		if err != nil {
			out.Errors = append(out.Errors, domain.NewError(domain.KindOrderPlacement, "submit_exit", instr, err))
			e.logger.Error("exit: order rejected, position stays open",
				slog.String("instrument", instr),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			continue
		}
		out.Positions = out.Positions.Put(pos.MarkPendingExit(bo.ID, placedAt(bo, e.now()), reason))
		out.Actions = append(out.Actions, Action{
			Instrument: instr, OrderID: bo.ID, Side: req.Side, Quantity: req.Quantity,
			LimitPrice: req.LimitPrice, Reason: reason, Signal: z,
		})
		e.logger.Info("exit: order placed",
			slog.String("instrument", instr),
			slog.String("order_id", bo.ID),
			slog.String("side", string(req.Side)),
			slog.String("quantity", req.Quantity.String()),
			slog.String("limit_price", req.LimitPrice.String()),
			slog.String("reason", string(reason)),
		)
	}
	return out
}

// exitReason returns "" when the position should stay open.
func (e *ExitEvaluator) exitReason(pos domain.Position, history domain.PriceSeries, price float64) (domain.ExitReason, *float64, error) {
	if pos.HoldingDays(e.now()) >= e.cfg.MaxHoldingDays {
		return domain.ExitReasonMaxHold, nil, nil
	}

	closes := append(history.Closes(), price)
	score, err := zscore.Latest(closes, e.cfg.Window)
	if err != nil {
		return "", nil, err
	}
	if !score.Defined() {
		return "", nil, nil
	}
	z := score.Value

	switch sig := zscore.Classify(z, e.cfg.Thresholds); {
	case pos.Side == domain.PositionSideLong && sig == domain.SignalExitLong:
		return domain.ExitReasonExitLong, &z, nil
	case pos.Side == domain.PositionSideLong && sig == domain.SignalStopLossLong:
		return domain.ExitReasonStopLossLong, &z, nil
	case pos.Side == domain.PositionSideShort && sig == domain.SignalExitShort:
		return domain.ExitReasonExitShort, &z, nil
	case pos.Side == domain.PositionSideShort && sig == domain.SignalStopLossShort:
		return domain.ExitReasonStopLossShort, &z, nil
	}
	return "", nil, nil
}

func matchingExitOrder(pos domain.Position, open []domain.BrokerOrder, taken map[string]struct{}) (domain.BrokerOrder, bool) {
	side := pos.Side.ClosingSide()
	for _, bo := range open {
		if _, used := taken[bo.ID]; used {
			continue
		}
		if bo.Instrument == pos.Instrument && bo.Side == side && bo.Quantity.Equal(pos.Quantity) && !bo.Status.IsTerminal() {
			return bo, true
		}
	}
	return domain.BrokerOrder{}, false
}
