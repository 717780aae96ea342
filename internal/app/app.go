// Package app assembles the bot from configuration and runs it.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/sipbot/config"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/events"
	"github.com/vadiminshakov/sipbot/internal/metrics"
	"github.com/vadiminshakov/sipbot/internal/services/broker"
	"github.com/vadiminshakov/sipbot/internal/services/executor"
	"github.com/vadiminshakov/sipbot/internal/services/gate"
	"github.com/vadiminshakov/sipbot/internal/services/marketdata"
	"github.com/vadiminshakov/sipbot/internal/services/notify"
	"github.com/vadiminshakov/sipbot/internal/services/oracle"
	"github.com/vadiminshakov/sipbot/internal/services/orchestrator"
	"github.com/vadiminshakov/sipbot/internal/services/scheduler"
	"github.com/vadiminshakov/sipbot/internal/storage/audit"
	"github.com/vadiminshakov/sipbot/internal/storage/instruments"
	"github.com/vadiminshakov/sipbot/internal/web"
	"github.com/vadiminshakov/sipbot/pkg/circuit"
)

const drainTimeout = 5 * time.Minute

// App is the fully wired bot.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	broker       broker.Broker
	instruments  *instruments.Store
	audit        *audit.WALStore
	orchestrator *orchestrator.Orchestrator
	scheduler    *scheduler.Scheduler
	server       *web.Server
}

// New builds every component. Instruments from the config are seeded into the
// store unless already tracked.
func New(ctx context.Context, cfg *config.Config, version string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.RequireSecrets(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error
	if a.instruments, err = instruments.NewStore(cfg.Storage.DBPath); err != nil {
		return nil, err
	}
	if a.audit, err = audit.NewWALStore(cfg.Storage.WALDir); err != nil {
		return nil, err
	}
	seeded, err := a.instruments.Seed(ctx, cfg.Instruments)
	if err != nil {
		return nil, errors.Wrap(err, "seed instruments")
	}
	if seeded > 0 {
		logger.Info("instruments seeded from config", zap.Int("count", seeded))
	}

	if a.broker, err = newBroker(cfg, logger); err != nil {
		return nil, err
	}

	nse := marketdata.NewNSE("", logger.Named("nse"))
	venue, err := newVenue(cfg, nse)
	if err != nil {
		return nil, err
	}

	completer, err := newOracle(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	adapter := oracle.NewAdapter(completer, logger.Named("oracle"),
		oracle.WithMarketContext(newMarketContext(cfg, nse, logger.Named("marketdata"))),
		oracle.WithRecorder(a.audit),
		oracle.WithBreaker(circuit.NewBreaker("oracle", cfg.Oracle.FailureThreshold, cfg.Oracle.Cooldown, logger)),
		oracle.WithModel(cfg.Oracle.Model),
		oracle.WithCurrency(cfg.Currency),
		oracle.WithTimeout(cfg.Oracle.Timeout),
	)

	var (
		telegram *notify.Telegram
		notifier orchestrator.Notifier
	)
	if cfg.Notify.Enabled {
		if telegram, err = notify.NewTelegram(cfg.Notify.APIURL, cfg.Secrets.TelegramToken, cfg.Notify.ChatIDs, logger.Named("telegram")); err != nil {
			return nil, err
		}
		notifier = notify.NewAsync(telegram, logger)
	}

	rec := metrics.New()
	bus := events.NewBroadcaster(64)

	a.orchestrator = orchestrator.New(orchestrator.Deps{
		Gate:        gate.New(venue, a.audit, logger.Named("gate")),
		Broker:      a.broker,
		Instruments: a.instruments,
		Oracle:      adapter,
		Executor:    executor.NewDriver(a.broker, a.instruments, a.audit, cfg.AutoExecute, logger.Named("executor")),
		Reports:     a.audit,
		Notifier:    notifier,
		Metrics:     rec,
		Events:      bus,
	}, orchestrator.Settings{
		Active:       cfg.Active,
		MinBalance:   cfg.MinBalance,
		HistoryDays:  cfg.Market.HistoryDays,
		Currency:     cfg.Currency,
		NotifyCycles: cfg.Notify.CycleSummary,
	}, logger.Named("cycle"))

	if a.scheduler, err = newScheduler(cfg.Schedule, logger.Named("scheduler")); err != nil {
		return nil, err
	}

	opts := web.Options{
		Addr:  cfg.Web.Addr,
		Token: cfg.Secrets.WebToken,
		Info: web.Info{
			Version:     version,
			Broker:      a.broker.Name(),
			Schedule:    a.scheduler.String(),
			Active:      cfg.Active,
			AutoExecute: cfg.AutoExecute,
		},
		Cycler:      a.orchestrator,
		Instruments: a.instruments,
		Audit:       a.audit,
		Events:      bus,
		Metrics:     rec.Handler(),
		IsNotFound:  func(err error) bool { return errors.Is(err, instruments.ErrNotFound) },
		IsConflict:  func(err error) bool { return errors.Is(err, instruments.ErrExists) },
		IsBusy:      func(err error) bool { return errors.Is(err, orchestrator.ErrCycleInProgress) },
		Logger:      logger.Named("web"),
	}
	// a typed nil would make the test endpoint call into a nil client
	if telegram != nil {
		opts.Notifier = telegram
	}
	a.server = web.NewServer(opts)

	ok = true
	return a, nil
}

func newScheduler(s config.Schedule, logger *zap.Logger) (*scheduler.Scheduler, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %s", s.Timezone)
	}
	return scheduler.New(scheduler.Config{
		Mode:           scheduler.Mode(s.Mode),
		Interval:       s.Interval,
		DailyAt:        s.DailyAt,
		Minute:         s.Minute,
		Location:       loc,
		Weekdays:       s.Weekdays,
		RunImmediately: s.RunImmediately,
	}, logger)
}

// Run serves the control API and fires scheduled cycles until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("sipbot started",
		zap.String("broker", a.broker.Name()),
		zap.String("schedule", a.scheduler.String()),
		zap.Bool("active", a.cfg.Active),
		zap.Bool("auto_execute", a.cfg.AutoExecute),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.scheduler.Run(ctx, a.scheduled)
		return nil
	})

	g.Go(func() error {
		if len(a.cfg.Web.TLSDomains) > 0 {
			return a.server.StartWithAutoTLS(ctx, a.cfg.Web.TLSDomains, a.cfg.Web.CertCache)
		}
		return a.server.Start(ctx)
	})

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if derr := a.orchestrator.Drain(drainCtx); derr != nil {
		a.logger.Warn("in-flight cycle did not finish before shutdown", zap.Error(derr))
	}

	return err
}

func (a *App) scheduled(ctx context.Context) {
	_, err := a.orchestrator.RunCycle(ctx, false)
	if errors.Is(err, orchestrator.ErrCycleInProgress) {
		a.logger.Info("scheduled cycle skipped, previous cycle still running")
		return
	}
	if err != nil {
		a.logger.Error("scheduled cycle failed", zap.Error(err))
	}
}

// RunOnce executes a single manual cycle.
func (a *App) RunOnce(ctx context.Context) (domain.CycleReport, error) {
	return a.orchestrator.RunCycle(ctx, true)
}

// Close releases the stores.
func (a *App) Close() error {
	var err error
	if a.audit != nil {
		err = multierr.Append(err, a.audit.Close())
	}
	if a.instruments != nil {
		err = multierr.Append(err, a.instruments.Close())
	}
	return err
}
