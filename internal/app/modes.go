package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/revbot/internal/engine"
	"github.com/alanyoungcy/revbot/internal/policy"
	"github.com/alanyoungcy/revbot/internal/reconcile"
	"github.com/alanyoungcy/revbot/internal/server"
	"github.com/alanyoungcy/revbot/internal/server/handler"
	"github.com/alanyoungcy/revbot/internal/zscore"
)

const shutdownTimeout = 10 * time.Second

// OnceMode runs a single cycle and returns. A cycle skipped because another
// process holds the lock is not an error.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	runner := a.buildRunner(deps)
	if _, err := runner.RunCycle(ctx); err != nil {
		if engine.IsLockHeld(err) {
			return nil
		}
		return err
	}
	return nil
}

// ScheduleMode runs a cycle every schedule.interval, plus the status server
// when enabled. A failed cycle is logged and the next tick runs as normal.
func (a *App) ScheduleMode(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Schedule.Interval.Duration
	a.logger.InfoContext(ctx, "starting schedule mode",
		slog.Duration("interval", interval),
		slog.Bool("run_on_start", a.cfg.Schedule.RunOnStart),
	)

	runner := a.buildRunner(deps)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runOnce := func() {
			// RunCycle logs, records and notifies its own outcome.
			_, _ = runner.RunCycle(ctx)
		}
		if a.cfg.Schedule.RunOnStart {
			runOnce()
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runOnce()
			}
		}
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, runner)
	}
	return g.Wait()
}

// ServerMode serves the status API over the persisted state without trading.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

func (a *App) buildRunner(deps *Dependencies) *engine.Runner {
	s := a.cfg.Strategy
	pcfg := policy.Config{
		Universe:       s.Universe,
		Window:         s.Window,
		Thresholds:     zscore.Thresholds(s.Thresholds),
		PositionSize:   decimal.NewFromFloat(s.PositionSizeUSD),
		MaxHoldingDays: s.MaxHoldingDays,
		MaxDayTrades:   s.MaxDayTrades,
	}

	d := engine.Deps{
		Broker:     deps.Broker,
		Market:     deps.Market,
		Store:      deps.Store,
		Reconciler: reconcile.New(deps.Broker, a.logger),
		Exits:      policy.NewExitEvaluator(deps.Broker, pcfg, a.logger),
		Entries:    policy.NewEntryEvaluator(deps.Broker, policy.NewDayTradeCounter(deps.Store), pcfg, a.logger),
		Lock:       deps.Lock,
		Archivers:  deps.Archivers,
		Notifier:   deps.Notifier,
	}
	// A nil *EventBus in the interface would not compare equal to nil.
	if deps.Events != nil {
		d.Events = deps.Events
	}

	return engine.NewRunner(engine.Config{
		Universe:        s.Universe,
		Window:          s.Window,
		HistoryBuffer:   s.HistoryBuffer,
		RecheckNewFills: s.RecheckNewFills,
		LockTTL:         a.cfg.Redis.LockTTL.Duration,
	}, d, a.logger)
}

// startHTTPServer adds the status server and its shutdown watcher to g.
// runner may be nil when no cycles run in this process.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, runner *engine.Runner) {
	var reports handler.ReportSource
	if runner != nil {
		reports = runner
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(reports, a.cfg.Broker.Paper),
		Positions: handler.NewPositionHandler(deps.Store, a.logger),
		Orders:    handler.NewOrderHandler(deps.Store, deps.Broker, a.logger),
		Trades:    handler.NewTradeHandler(deps.Store, a.logger),
	}
	if deps.Events != nil {
		handlers.Events = handler.NewEventHandler(deps.Events, engine.EventStream, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:   a.cfg.Server.Port,
		APIKey: a.cfg.Server.APIKey,
	}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
