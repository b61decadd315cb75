package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/ledger"
	"github.com/alanyoungcy/revbot/internal/zscore"
)

// EntryEvaluator opens positions on entry signals.
type EntryEvaluator struct {
	broker  domain.Broker
	counter *DayTradeCounter
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewEntryEvaluator creates an EntryEvaluator. counter may be nil, in which
// case an unreported broker day-trade count is treated as zero.
func NewEntryEvaluator(broker domain.Broker, counter *DayTradeCounter, cfg Config, logger *slog.Logger) *EntryEvaluator {
	return &EntryEvaluator{
		broker:  broker,
		counter: counter,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "entry_policy")),
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (e *EntryEvaluator) WithClock(now func() time.Time) *EntryEvaluator {
	e.now = now
	return e
}

// EntryOutcome is the tracker after entry evaluation.
type EntryOutcome struct {
	Orders  ledger.Orders
	Actions []Action
	// Cash starts from the account's buying power and is decremented
	// optimistically for the orders placed. It is never confirmed by the
	// broker.
	Cash    decimal.Decimal
	Skipped map[string]string
	Errors  []error
}

// Evaluate walks the universe in order and submits entry orders.
func (e *EntryEvaluator) Evaluate(
	ctx context.Context,
	positions ledger.Positions,
	orders ledger.Orders,
	market domain.MarketSnapshot,
	openOrders []domain.BrokerOrder,
	account domain.Account,
) EntryOutcome {
	out := EntryOutcome{Orders: orders.Clone(), Cash: account.BuyingPower, Skipped: map[string]string{}}

	brokerBusy := make(map[string]struct{}, len(openOrders))
	for _, bo := range openOrders {
		brokerBusy[bo.Instrument] = struct{}{}
	}
	dayTrades, dtErr := e.dayTrades(ctx, account)
	if dtErr != nil {
		out.Errors = append(out.Errors, domain.NewError(domain.KindDataQuality, "day_trade_count", "", dtErr))
	}

	skip := func(instr, why string) {
		out.Skipped[instr] = why
		e.logger.Debug("entry: skipped", slog.String("instrument", instr), slog.String("reason", why))
	}

	for _, instr := range e.cfg.Universe {
		if _, ok := positions[instr]; ok {
			continue
		}
		if _, ok := brokerBusy[instr]; ok {
			skip(instr, "broker open order")
			continue
		}
		if out.Orders.HasInstrument(instr) {
			skip(instr, "pending order")
			continue
		}

		price, ok := market.Price(instr)
		if !ok {
			out.Errors = append(out.Errors, domain.NewError(domain.KindDataQuality, "entry_price", instr, errNoPrice))
			skip(instr, "no price")
			continue
		}
		score, err := zscore.Latest(market.History[instr].Closes(), e.cfg.Window)
		if err != nil {
			out.Errors = append(out.Errors, domain.NewError(domain.KindDataQuality, "entry_signal", instr, err))
			skip(instr, "insufficient history")
			continue
		}

		var (
			side domain.OrderSide
			kind domain.OrderKind
		)
		switch zscore.ClassifyScore(score, e.cfg.Thresholds) {
		case domain.SignalBuy:
			side, kind = domain.OrderSideBuy, domain.OrderKindEntryLong
		case domain.SignalSellShort:
			side, kind = domain.OrderSideSell, domain.OrderKindEntryShort
		default:
			continue
		}

		if dtErr != nil || dayTrades >= e.cfg.MaxDayTrades {
			skip(instr, fmt.Sprintf("day trade cap (%d/%d)", dayTrades, e.cfg.MaxDayTrades))
			continue
		}

		limit := limitPrice(price)
		if !limit.IsPositive() {
			skip(instr, "price rounds to zero")
			continue
		}
		qty := e.cfg.PositionSize.Div(limit).Floor()
		if !qty.IsPositive() {
			skip(instr, "notional below one share")
			continue
		}
		cost := qty.Mul(limit)
		if cost.GreaterThan(out.Cash) {
			skip(instr, "insufficient cash")
			continue
		}

		req := domain.OrderRequest{
			Instrument:    instr,
			Quantity:      qty,
			Side:          side,
			LimitPrice:    limit,
			TimeInForce:   domain.TimeInForceDay,
			ClientOrderID: newClientOrderID(),
		}
		bo, err := e.broker.SubmitLimitOrder(ctx, req)
		if err != nil {
			out.Errors = append(out.Errors, domain.NewError(domain.KindOrderPlacement, "submit_entry", instr, err))
			e.logger.Error("entry: order rejected",
				slog.String("instrument", instr),
				slog.String("side", string(side)),
				slog.String("error", err.Error()),
			)
			if errors.Is(err, domain.ErrUnauthorized) {
				break
			}
			continue
		}

		z := score.Value
		out.Orders = out.Orders.Track(domain.PendingOrder{
			OrderID:         bo.ID,
			Instrument:      instr,
			Side:            side,
			Quantity:        qty,
			LimitPrice:      limit,
			Kind:            kind,
			PlacedAt:        placedAt(bo, e.now()),
			SignalValue:     &z,
			LastKnownStatus: orderStatus(bo),
		})
		out.Cash = out.Cash.Sub(cost)
		out.Actions = append(out.Actions, Action{
			Instrument: instr, OrderID: bo.ID, Side: side, Quantity: qty, LimitPrice: limit, Signal: &z,
		})
		e.logger.Info("entry: order placed",
			slog.String("instrument", instr),
			slog.String("order_id", bo.ID),
			slog.String("side", string(side)),
			slog.String("quantity", qty.String()),
			slog.String("limit_price", limit.String()),
			slog.Float64("zscore", z),
			slog.String("cash_remaining", out.Cash.StringFixed(2)),
		)
	}
	return out
}

// dayTrades prefers the broker's count and falls back to the trade log.
func (e *EntryEvaluator) dayTrades(ctx context.Context, account domain.Account) (int, error) {
	if account.DayTradeCount != nil {
		return *account.DayTradeCount, nil
	}
	if e.counter == nil {
		return 0, nil
	}
	return e.counter.Count(ctx, e.now())
}
