// Package engine runs one trading cycle end to end: connectivity check,
// reconcile, exits, entries, a second reconcile and the final commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/revbot/internal/domain"
	"github.com/alanyoungcy/revbot/internal/ledger"
	"github.com/alanyoungcy/revbot/internal/marketdata"
	"github.com/alanyoungcy/revbot/internal/notify"
	"github.com/alanyoungcy/revbot/internal/policy"
	"github.com/alanyoungcy/revbot/internal/reconcile"
)

const (
	// LockKey guards against two cycles running at once.
	LockKey = "cycle"
	// EventChannel is the pub/sub channel cycle events are published on.
	EventChannel = "cycle"
	// EventStream is the stream cycle events are appended to.
	EventStream = "cycles"
)

// Config holds the cycle parameters that are not owned by a component.
type Config struct {
	Universe        []string
	Window          int
	HistoryBuffer   int
	RecheckNewFills bool
	LockTTL         time.Duration
}

// Deps are the collaborators of a Runner. Lock, Archivers, Notifier and
// Events are optional.
type Deps struct {
	Broker     domain.Broker
	Market     domain.MarketData
	Store      domain.StateStore
	Reconciler *reconcile.Engine
	Exits      *policy.ExitEvaluator
	Entries    *policy.EntryEvaluator

	Lock      domain.LockManager
	Archivers []domain.SnapshotArchiver
	Notifier  *notify.Notifier
	Events    domain.EventBus
}

// Runner executes cycles. Cycles are sequential; RunCycle must not be
// called concurrently.
type Runner struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last *domain.CycleReport
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
	}
}

// WithClock replaces the time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// LastReport returns the report of the most recent cycle, if any.
func (r *Runner) LastReport() (domain.CycleReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return domain.CycleReport{}, false
	}
	return *r.last, true
}

// cycle is the working state of one RunCycle call.
type cycle struct {
	report    domain.CycleReport
	positions ledger.Positions
	orders    ledger.Orders
	closed    []domain.ClosedTrade
	actions   []policy.Action
	errs      []error
	logger    *slog.Logger
}

func (c *cycle) fail(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// RunCycle runs one full pass. Only a connectivity failure, a held or
// unavailable cycle lock, a state load failure or a failed commit return an
// error; everything else is recorded in the report and the cycle carries on.
func (r *Runner) RunCycle(ctx context.Context) (domain.CycleReport, error) {
	start := r.now().UTC()
	c := &cycle{report: domain.CycleReport{RunID: uuid.NewString(), StartedAt: start}}
	c.logger = r.logger.With(slog.String("run_id", c.report.RunID))
	c.logger.InfoContext(ctx, "engine: cycle started")

	err := r.run(ctx, c)
	c.report.FinishedAt = r.now().UTC()
	r.summarize(c)

	report := c.report
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()

	r.observe(ctx, c, err)
	return report, err
}

func (r *Runner) run(ctx context.Context, c *cycle) error {
	account, err := r.deps.Broker.GetAccount(ctx)
	if err != nil {
		return domain.NewError(domain.KindConnectivity, "get_account", "", err)
	}
	c.report.Cash = account.BuyingPower

	if r.deps.Lock != nil {
		unlock, err := r.deps.Lock.Acquire(ctx, LockKey, r.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("engine: acquire cycle lock: %w", err)
		}
		defer unlock()
	}

	if c.positions, err = ledger.Load(ctx, r.deps.Store); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.orders, err = ledger.LoadOrders(ctx, r.deps.Store); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	first, err := r.deps.Reconciler.Reconcile(ctx, c.positions, c.orders)
	if err != nil {
		// Trading on an unreconciled ledger could double an exit or an
		// entry, so this cycle only persists what it loaded.
		c.report.ReconcileFailed = true
		c.fail(err)
		c.logger.ErrorContext(ctx, "engine: reconcile failed, skipping exits and entries",
			slog.String("error", err.Error()))
	} else {
		r.applyReconcile(c, first)
		r.trade(ctx, c, first, account)
	}

	c.report.TradesClosed = len(c.closed)
	if err := r.deps.Store.Commit(ctx, domain.CycleState{
		Positions: c.positions,
		Orders:    c.orders,
		NewTrades: c.closed,
	}); err != nil {
		return fmt.Errorf("engine: commit state: %w", err)
	}
	return nil
}

// trade runs market data, exits, entries, the second reconcile and the
// optional exit re-check on positions that first appeared in it.
func (r *Runner) trade(ctx context.Context, c *cycle, first reconcile.Result, account domain.Account) {
	instruments := r.instruments(c.positions)
	snap, mdErrs := marketdata.Gather(ctx, r.deps.Market, instruments, r.cfg.Window+r.cfg.HistoryBuffer)
	c.errs = append(c.errs, mdErrs...)

	exits := r.deps.Exits.Evaluate(ctx, c.positions, c.orders, snap, first.OpenOrders, nil)
	c.positions, c.orders = exits.Positions, exits.Orders
	c.errs = append(c.errs, exits.Errors...)
	r.countExits(c, exits.Actions)

	entries := r.deps.Entries.Evaluate(ctx, c.positions, c.orders, snap, first.OpenOrders, account)
	c.orders = entries.Orders
	c.errs = append(c.errs, entries.Errors...)
	c.actions = append(c.actions, entries.Actions...)
	c.report.EntriesPlaced = len(entries.Actions)
	c.report.SkippedEntries = len(entries.Skipped)
	c.report.Cash = entries.Cash

	second, err := r.deps.Reconciler.Reconcile(ctx, c.positions, c.orders)
	if err != nil {
		c.fail(err)
		c.logger.WarnContext(ctx, "engine: final reconcile failed, next cycle will repeat it",
			slog.String("error", err.Error()))
		return
	}
	r.applyReconcile(c, second)

	if !r.cfg.RecheckNewFills || len(second.NewInstruments) == 0 {
		return
	}
	var missing []string
	for _, instr := range second.NewInstruments {
		if _, ok := snap.Prices[instr]; !ok && !slices.Contains(instruments, instr) {
			missing = append(missing, instr)
		}
	}
	if len(missing) > 0 {
		extra, errs := marketdata.Gather(ctx, r.deps.Market, missing, r.cfg.Window+r.cfg.HistoryBuffer)
		c.errs = append(c.errs, errs...)
		snap = snap.Merge(extra)
	}
	c.logger.InfoContext(ctx, "engine: re-checking exits on new fills",
		slog.Any("instruments", second.NewInstruments))
	recheck := r.deps.Exits.Evaluate(ctx, c.positions, c.orders, snap, second.OpenOrders, second.NewInstruments)
	c.positions, c.orders = recheck.Positions, recheck.Orders
	c.errs = append(c.errs, recheck.Errors...)
	r.countExits(c, recheck.Actions)
}

func (r *Runner) applyReconcile(c *cycle, res reconcile.Result) {
	c.positions, c.orders = res.Positions, res.Orders
	c.closed = append(c.closed, res.ClosedTrades...)
	c.errs = append(c.errs, res.Errors...)
	c.report.Discrepancies += res.Report.Discrepancies
	c.report.StatusLookups += res.Report.StatusLookups
}

func (r *Runner) countExits(c *cycle, actions []policy.Action) {
	for _, a := range actions {
		if a.Adopted {
			c.report.ExitsAdopted++
		} else {
			c.report.ExitsPlaced++
		}
	}
	c.actions = append(c.actions, actions...)
}

// instruments is the universe followed by any held instrument outside it.
func (r *Runner) instruments(positions ledger.Positions) []string {
	out := slices.Clone(r.cfg.Universe)
	for _, instr := range positions.Instruments() {
		if !slices.Contains(out, instr) {
			out = append(out, instr)
		}
	}
	return out
}

// IsLockHeld reports whether err means another cycle was running.
func IsLockHeld(err error) bool {
	return errors.Is(err, domain.ErrLockHeld)
}
