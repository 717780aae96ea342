// Package orchestrator runs the trading cycle: gate, load, iterate, report.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/events"
	"github.com/vadiminshakov/sipbot/internal/metrics"
	"github.com/vadiminshakov/sipbot/internal/services/executor"
	"github.com/vadiminshakov/sipbot/internal/services/ledger"
	"github.com/vadiminshakov/sipbot/internal/services/notify"
	"github.com/vadiminshakov/sipbot/internal/services/oracle"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrCycleInProgress is returned when a cycle is requested while another one runs.
var ErrCycleInProgress = errors.New("cycle already in progress")

const (
	AbortInactive = "inactive"

	defaultHistoryDays = 90
)

type Gate interface {
	ShouldRun(ctx context.Context, manual bool) (bool, string)
}

// Broker is the read side of the trading venue.
type Broker interface {
	Funds(ctx context.Context) (domain.Funds, error)
	LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error)
	DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error)
}

type InstrumentLister interface {
	List(ctx context.Context) ([]domain.Instrument, error)
}

type Decider interface {
	Decide(ctx context.Context, req oracle.Request, pool oracle.Pool) domain.Decision
}

// Executor applies decisions and writes audit records.
type Executor interface {
	Apply(ctx context.Context, cycle executor.Cycle, inst domain.Instrument, decision domain.Decision, price decimal.Decimal, pool *ledger.PoolView) domain.Outcome
	Record(cycle executor.Cycle, inst domain.Instrument, price decimal.Decimal, decision *domain.Decision, outcome domain.Outcome)
}

type ReportSink interface {
	SaveCycleReport(rep domain.CycleReport) error
}

type Notifier interface {
	Notify(text string)
}

// Settings are the runtime switches of the orchestrator.
type Settings struct {
	Active      bool
	MinBalance  decimal.Decimal
	HistoryDays int
	Currency    string
	// NotifyCycles sends a summary after every non-aborted cycle.
	NotifyCycles bool
}

// Deps bundles the collaborators. Reports, Notifier, Metrics and Events are optional.
type Deps struct {
	Gate        Gate
	Broker      Broker
	Instruments InstrumentLister
	Oracle      Decider
	Executor    Executor
	Reports     ReportSink
	Notifier    Notifier
	Metrics     *metrics.Recorder
	Events      *events.Broadcaster
}

// Orchestrator owns the cycle lifecycle. Cycles never overlap.
type Orchestrator struct {
	deps     Deps
	settings Settings
	logger   *zap.Logger
	sem      *semaphore.Weighted

	mu    sync.RWMutex
	phase domain.CyclePhase
	last  *domain.CycleReport

	now   func() time.Time
	newID func() string
}

func New(deps Deps, settings Settings, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.HistoryDays <= 0 {
		settings.HistoryDays = defaultHistoryDays
	}

	return &Orchestrator{
		deps:     deps,
		settings: settings,
		logger:   logger,
		sem:      semaphore.NewWeighted(1),
		phase:    domain.PhaseIdle,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Phase returns the state of the running cycle, IDLE between cycles.
func (o *Orchestrator) Phase() domain.CyclePhase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// LastReport returns the report of the most recent cycle, if any.
func (o *Orchestrator) LastReport() *domain.CycleReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

// Drain blocks until the running cycle, if any, has finished or ctx ends.
func (o *Orchestrator) Drain(ctx context.Context) error {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	o.sem.Release(1)
	return nil
}

// Hold takes the cycle slot so no cycle can start until release is called.
// It reports false while a cycle is running.
func (o *Orchestrator) Hold() (release func(), ok bool) {
	if !o.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { o.sem.Release(1) }) }, true
}

// RunCycle executes one cycle. Cancelling ctx after the cycle started has no effect.
// Aborted cycles are not errors; they carry AbortReason in the report.
func (o *Orchestrator) RunCycle(ctx context.Context, manual bool) (domain.CycleReport, error) {
	if !o.sem.TryAcquire(1) {
		return domain.CycleReport{}, ErrCycleInProgress
	}
	defer o.sem.Release(1)

	ctx = context.WithoutCancel(ctx)

	r := &run{
		o: o,
		report: domain.CycleReport{
			CycleID:   o.newID(),
			Trigger:   domain.TriggerFor(manual),
			StartedAt: o.now(),
			Phase:     domain.PhaseIdle,
		},
	}
	r.logger = o.logger.With(zap.String("cycle_id", r.report.CycleID), zap.String("trigger", string(r.report.Trigger)))

	r.execute(ctx, manual)

	r.report.Duration = o.now().Sub(r.report.StartedAt)
	o.finish(r)

	return r.report, nil
}

func (o *Orchestrator) setPhase(cycleID string, phase domain.CyclePhase) {
	o.mu.Lock()
	o.phase = phase
	o.mu.Unlock()
	o.deps.Events.Publish(events.CycleEvent{Timestamp: o.now(), Type: events.TypePhase, CycleID: cycleID, Phase: phase})
}

func (o *Orchestrator) finish(r *run) {
	rep := r.report

	if o.deps.Reports != nil {
		if err := o.deps.Reports.SaveCycleReport(rep); err != nil {
			r.logger.Error("failed to save cycle report", zap.Error(err))
		}
	}
	o.deps.Metrics.ObserveCycle(rep)
	o.deps.Events.Publish(events.CycleEvent{Timestamp: o.now(), Type: events.TypeReport, CycleID: rep.CycleID, Report: &rep})

	if o.settings.NotifyCycles && !rep.Aborted() && o.deps.Notifier != nil {
		o.deps.Notifier.Notify(notify.FormatCycle(rep))
	}

	o.mu.Lock()
	o.last = &rep
	o.phase = domain.PhaseIdle
	o.mu.Unlock()

	if rep.Aborted() {
		r.logger.Info("cycle aborted", zap.String("reason", rep.AbortReason), zap.String("phase", string(rep.Phase)))
		return
	}
	r.logger.Info("cycle done",
		zap.Int("processed", rep.Processed),
		zap.Int("executed", rep.Executed),
		zap.Int("failed", rep.Failed),
		zap.Int("skipped", rep.Skipped),
		zap.String("spent", rep.Spent.StringFixed(2)),
		zap.Duration("duration", rep.Duration))
}

// run is the state of one cycle.
type run struct {
	o      *Orchestrator
	report domain.CycleReport
	logger *zap.Logger

	funds domain.Funds
	pool  *ledger.PoolView
}

func (r *run) enter(phase domain.CyclePhase) {
	r.report.Phase = phase
	r.o.setPhase(r.report.CycleID, phase)
}

func (r *run) abort(reason string) {
	r.report.AbortReason = reason
}

func (r *run) cycle() executor.Cycle {
	return executor.Cycle{ID: r.report.CycleID, Trigger: r.report.Trigger}
}

func (r *run) execute(ctx context.Context, manual bool) {
	if !r.o.settings.Active {
		r.abort(AbortInactive)
		return
	}

	r.enter(domain.PhaseGating)
	proceed, label := r.o.deps.Gate.ShouldRun(ctx, manual)
	r.report.GateLabel = label
	if !proceed {
		r.abort(label)
		return
	}

	r.enter(domain.PhaseLoading)
	instruments, err := r.load(ctx)
	if err != nil {
		r.logger.Warn("cycle load failed", zap.Error(err))
		r.abort(err.Error())
		return
	}

	r.enter(domain.PhaseIterating)
	for _, inst := range instruments {
		r.turn(ctx, inst)
	}

	r.report.Spent = r.pool.Spent()
	r.report.Available = r.pool.Available()
	r.enter(domain.PhaseDone)
}

func (r *run) load(ctx context.Context) ([]domain.Instrument, error) {
	funds, err := r.o.deps.Broker.Funds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "broker funds")
	}
	r.funds = funds
	r.report.BrokerCash = funds.Cash

	instruments, err := r.o.deps.Instruments.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list instruments")
	}

	pool, err := ledger.Compute(funds.Cash, instruments, r.o.settings.MinBalance)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	r.report.Available = pool.Available()

	r.logger.Info("cycle loaded",
		zap.String("broker_cash", funds.Cash.StringFixed(2)),
		zap.String("reserved", pool.Reserved().StringFixed(2)),
		zap.String("available", pool.Available().StringFixed(2)),
		zap.Int("instruments", len(instruments)))

	return instruments, nil
}

// turn processes one instrument. A panic fails only this instrument.
func (r *run) turn(ctx context.Context, inst domain.Instrument) {
	logger := r.logger.With(zap.String("symbol", inst.Symbol), zap.String("mode", string(inst.Mode)))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("instrument turn panicked", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			out := domain.Outcome{Status: domain.OutcomeFailed, Error: fmt.Sprintf("internal error: %v", rec)}
			r.o.deps.Executor.Record(r.cycle(), inst, decimal.Zero, nil, out)
			r.count(inst, nil, out)
		}
	}()

	if status, skip := r.eligibility(inst); skip {
		out := domain.Skipped(status, "")
		r.o.deps.Executor.Record(r.cycle(), inst, decimal.Zero, nil, out)
		r.count(inst, nil, out)
		return
	}

	r.checkHoldings(logger, inst)

	quote, err := r.quote(ctx, inst)
	if err != nil {
		logger.Warn("price fetch failed", zap.Error(err))
		out := domain.Skipped(domain.SkippedNoPrice, err.Error())
		r.o.deps.Executor.Record(r.cycle(), inst, decimal.Zero, nil, out)
		r.count(inst, nil, out)
		return
	}

	decision := r.o.deps.Oracle.Decide(ctx, oracle.Request{CycleID: r.report.CycleID, Instrument: inst, Quote: quote}, r.pool)
	r.o.deps.Metrics.ObserveDecision(decision)
	logger.Info("oracle decision",
		zap.String("kind", string(decision.Kind)),
		zap.String("amount", decision.Amount.String()),
		zap.String("flow", string(decision.Flow)))

	out := r.o.deps.Executor.Apply(ctx, r.cycle(), inst, decision, quote.Price, r.pool)
	if out.Status == domain.OutcomeFailed {
		logger.Error("order failed", zap.String("error", out.Error))
	} else if out.Status == domain.OutcomeExecuted {
		logger.Info("order executed",
			zap.String("side", string(out.Side)),
			zap.String("quantity", out.Quantity.String()),
			zap.String("price", out.Price.String()),
			zap.String("order_id", out.OrderID))
	}

	r.count(inst, &decision, out)
	r.notify(inst, decision, out, quote.Price)
}

// eligibility filters instruments that are not evaluated this cycle.
// Pending re-entries are always evaluated.
func (r *run) eligibility(inst domain.Instrument) (domain.OutcomeStatus, bool) {
	if inst.AwaitingReentry() {
		return "", false
	}

	switch inst.Mode {
	case domain.ModeHold:
		return domain.SkippedHold, true
	case domain.ModeSIP:
		if inst.ExecutedOn(r.report.StartedAt) {
			return domain.SkippedAlreadyExecuted, true
		}
		if !inst.DueOn(r.report.StartedAt) {
			return domain.SkippedNotDue, true
		}
	}

	return "", false
}

func (r *run) quote(ctx context.Context, inst domain.Instrument) (domain.Quote, error) {
	price, err := r.o.deps.Broker.LastPrice(ctx, inst)
	if err != nil {
		return domain.Quote{}, err
	}
	if !price.IsPositive() {
		return domain.Quote{}, errors.Errorf("non-positive price %s", price)
	}

	candles, err := r.o.deps.Broker.DailyCandles(ctx, inst, r.o.settings.HistoryDays)
	if err != nil {
		// candles only enrich the prompt
		r.logger.Debug("candles unavailable", zap.String("symbol", inst.Symbol), zap.Error(err))
	}

	return domain.Quote{Price: price, Candles: candles}, nil
}

// checkHoldings logs when the broker disagrees with the tracked position.
func (r *run) checkHoldings(logger *zap.Logger, inst domain.Instrument) {
	h, ok := r.funds.HoldingFor(inst.Symbol)
	if !ok {
		if inst.HasPosition() && len(r.funds.Holdings) > 0 {
			logger.Warn("tracked position missing at broker", zap.String("tracked_qty", inst.Quantity.String()))
		}
		return
	}
	if !h.Quantity.Equal(inst.Quantity) {
		logger.Warn("holdings diverge from tracked position",
			zap.String("tracked_qty", inst.Quantity.String()),
			zap.String("broker_qty", h.Quantity.String()))
	}
}

func (r *run) count(inst domain.Instrument, decision *domain.Decision, out domain.Outcome) {
	r.report.Processed++
	switch {
	case out.Status == domain.OutcomeExecuted:
		r.report.Executed++
	case out.Status == domain.OutcomeFailed:
		r.report.Failed++
	default:
		r.report.Skipped++
	}

	r.o.deps.Metrics.ObserveOutcome(out)
	r.o.deps.Events.Publish(events.CycleEvent{
		Timestamp: r.o.now(),
		Type:      events.TypeOutcome,
		CycleID:   r.report.CycleID,
		Symbol:    inst.Symbol,
		Decision:  decision,
		Outcome:   &out,
	})
}

func (r *run) notify(inst domain.Instrument, decision domain.Decision, out domain.Outcome, price decimal.Decimal) {
	if r.o.deps.Notifier == nil || !decision.Kind.IsExecution() {
		return
	}

	text := notify.Format(notify.Event{
		Instrument: inst,
		Decision:   decision,
		Outcome:    out,
		Price:      price,
		Available:  r.pool.Available(),
		Currency:   r.o.settings.Currency,
		At:         r.o.now(),
	})
	if text != "" {
		r.o.deps.Notifier.Notify(text)
	}
}
