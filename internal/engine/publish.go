package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/metrics"
	"github.com/alanyoungcy/revbot/internal/notify"
	"github.com/alanyoungcy/revbot/internal/policy"
)

// Event is the JSON document published for every cycle.
type Event struct {
	Type    string               `json:"type"`
	Outcome string               `json:"outcome"`
	At      time.Time            `json:"at"`
	Report  domain.CycleReport   `json:"report"`
	Trades  []domain.ClosedTrade `json:"trades,omitempty"`
	Error   string               `json:"error,omitempty"`
}

const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// summarize copies the collected errors into the report.
func (r *Runner) summarize(c *cycle) {
	c.report.Errors = c.report.Errors[:0]
	c.report.OrderFailures = 0
	for _, err := range c.errs {
		c.report.Errors = append(c.report.Errors, err.Error())
		if domain.KindOf(err) == domain.KindOrderPlacement {
			c.report.OrderFailures++
		}
	}
}

// observe records metrics and logs, archives the snapshot, and sends
// notifications and events. None of it can fail the cycle.
func (r *Runner) observe(ctx context.Context, c *cycle, err error) {
	outcome := outcomeOK
	switch {
	case IsLockHeld(err):
		outcome = outcomeSkipped
	case err != nil:
		outcome = outcomeFailed
	}
	r.record(c, outcome, err)

	rep := c.report
	switch outcome {
	case outcomeOK:
		c.logger.InfoContext(ctx, "engine: cycle complete",
			slog.Int("exits_placed", rep.ExitsPlaced),
			slog.Int("exits_adopted", rep.ExitsAdopted),
			slog.Int("entries_placed", rep.EntriesPlaced),
			slog.Int("trades_closed", rep.TradesClosed),
			slog.Int("discrepancies", rep.Discrepancies),
			slog.Int("errors", len(rep.Errors)),
			slog.String("cash", rep.Cash.StringFixed(2)),
			slog.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
		)
		r.archive(ctx, c)
	case outcomeSkipped:
		c.logger.WarnContext(ctx, "engine: another cycle holds the lock, skipped")
	default:
		c.logger.ErrorContext(ctx, "engine: cycle failed", slog.String("error", err.Error()))
	}

	r.notify(ctx, c, err, outcome)
	r.publish(ctx, c, err, outcome)
}

func (r *Runner) record(c *cycle, outcome string, err error) {
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	metrics.CycleDuration.Observe(c.report.FinishedAt.Sub(c.report.StartedAt).Seconds())
	metrics.ReconcileDiscrepancies.Add(float64(c.report.Discrepancies))
	metrics.OrderFailures.Add(float64(c.report.OrderFailures))
	for _, e := range c.errs {
		kind := string(domain.KindOf(e))
		if kind == "" {
			kind = "other"
		}
		metrics.CycleErrors.WithLabelValues(kind).Inc()
	}
	for _, a := range c.actions {
		if !a.Adopted {
			metrics.OrdersPlaced.WithLabelValues(actionKind(a)).Inc()
		}
	}
	if err != nil {
		return
	}
	for _, t := range c.closed {
		metrics.TradesClosed.WithLabelValues(string(t.ExitReason)).Inc()
		metrics.RealizedPnL.Add(t.ProfitLoss.InexactFloat64())
	}
	metrics.OpenPositions.Set(float64(len(c.positions)))
	metrics.PendingOrders.Set(float64(len(c.orders)))
}

func (r *Runner) archive(ctx context.Context, c *cycle) {
	if len(r.deps.Archivers) == 0 {
		return
	}
	snap := domain.RunSnapshot{
		Report:        c.report,
		Positions:     c.positions,
		PendingOrders: c.orders,
		ClosedTrades:  c.closed,
	}
	for _, a := range r.deps.Archivers {
		where, err := a.ArchiveRun(ctx, snap)
		if err != nil {
			c.logger.WarnContext(ctx, "engine: archive snapshot failed", slog.String("error", err.Error()))
			continue
		}
		c.logger.DebugContext(ctx, "engine: snapshot archived", slog.String("location", where))
	}
}

func (r *Runner) notify(ctx context.Context, c *cycle, err error, outcome string) {
	n := r.deps.Notifier
	if !n.Enabled() {
		return
	}
	send := func(ev notify.Event) {
		// Sender failures are already logged by the notifier.
		_ = n.Notify(ctx, ev)
	}

	if outcome == outcomeFailed {
		send(notify.Event{
			Type:    notify.EventCycleFailed,
			Title:   "Cycle failed",
			Message: fmt.Sprintf("run %s: %v", c.report.RunID, err),
		})
	}
	for _, a := range c.actions {
		if a.Adopted {
			continue
		}
		send(notify.Event{
			Type:    notify.EventOrderPlaced,
			Title:   "Order placed: " + a.Instrument,
			Message: describeAction(a),
		})
	}
	if err != nil {
		return
	}
	for _, t := range c.closed {
		send(notify.Event{
			Type:  notify.EventPositionClosed,
			Title: "Position closed: " + t.Instrument,
			Message: fmt.Sprintf("%s %s %s -> %s, P&L %s (%s)",
				t.Side, t.Quantity, t.EntryPrice.StringFixed(2), t.ExitPrice.StringFixed(2),
				t.ProfitLoss.StringFixed(2), t.ExitReason),
		})
	}
}

func (r *Runner) publish(ctx context.Context, c *cycle, err error, outcome string) {
	bus := r.deps.Events
	if bus == nil {
		return
	}
	ev := Event{Type: "cycle_finished", Outcome: outcome, At: c.report.FinishedAt, Report: c.report}
	if err == nil {
		ev.Trades = c.closed
	} else {
		ev.Error = err.Error()
	}
	payload, mErr := json.Marshal(ev)
	if mErr != nil {
		c.logger.WarnContext(ctx, "engine: encode event", slog.String("error", mErr.Error()))
		return
	}
	if pErr := bus.Publish(ctx, EventChannel, payload); pErr != nil {
		c.logger.WarnContext(ctx, "engine: publish event", slog.String("error", pErr.Error()))
	}
	if sErr := bus.StreamAppend(ctx, EventStream, payload); sErr != nil {
		c.logger.WarnContext(ctx, "engine: append event", slog.String("error", sErr.Error()))
	}
}

func actionKind(a policy.Action) string {
	switch {
	case a.Reason != "":
		return "exit"
	case a.Side == domain.OrderSideSell:
		return string(domain.OrderKindEntryShort)
	default:
		return string(domain.OrderKindEntryLong)
	}
}

func describeAction(a policy.Action) string {
	msg := fmt.Sprintf("%s %s @ %s", a.Side, a.Quantity, a.LimitPrice.StringFixed(2))
	switch {
	case a.Reason != "":
		msg += " (" + string(a.Reason) + ")"
	case a.Signal != nil:
		msg += fmt.Sprintf(" (z=%.2f)", *a.Signal)
	}
	return msg
}
