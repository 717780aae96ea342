// Package oracle turns instrument context into prompts and free-text
// oracle replies into normalized decisions.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

// Oracle is a text completion backend.
type Oracle interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// MarketContext enriches prompts. Every method may fail; failed sections are omitted.
type MarketContext interface {
	Technicals(candles []domain.Candle) (*domain.Technicals, error)
	Fundamentals(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error)
	IndexValuation(ctx context.Context) (*domain.IndexValuation, error)
}

// CallRecorder persists every oracle invocation.
type CallRecorder interface {
	SaveOracleCall(call domain.OracleCall) error
}

// Breaker guards the oracle against repeated failures.
type Breaker interface {
	Allow() bool
	RecordSuccess()
	RecordFailure()
}

// Pool is the read-only view of the cycle cash pool shown to the oracle.
type Pool interface {
	Available() decimal.Decimal
	Reserved() decimal.Decimal
	FairShare() decimal.Decimal
	SIPCount() int
}

// Request is one instrument to decide on.
type Request struct {
	CycleID    string
	Instrument domain.Instrument
	Quote      domain.Quote
}

// Option configures an Adapter.
type Option func(*Adapter)

func WithMarketContext(mc MarketContext) Option { return func(a *Adapter) { a.market = mc } }

func WithRecorder(r CallRecorder) Option { return func(a *Adapter) { a.recorder = r } }

func WithBreaker(b Breaker) Option { return func(a *Adapter) { a.breaker = b } }

// WithModel sets the model name stored with recorded calls.
func WithModel(model string) Option { return func(a *Adapter) { a.model = model } }

// WithCurrency sets the currency symbol used in prompts.
func WithCurrency(symbol string) Option { return func(a *Adapter) { a.currency = symbol } }

// WithTimeout bounds a single oracle call.
func WithTimeout(d time.Duration) Option { return func(a *Adapter) { a.timeout = d } }

// Adapter is the decision oracle adapter. It never returns an error:
// every failure collapses into a SKIP decision.
type Adapter struct {
	oracle   Oracle
	market   MarketContext
	recorder CallRecorder
	breaker  Breaker
	logger   *zap.Logger
	model    string
	currency string
	timeout  time.Duration
	now      func() time.Time
}

func NewAdapter(o Oracle, logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		oracle:   o,
		logger:   logger,
		currency: "₹",
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Decide asks the oracle what to do with one instrument.
func (a *Adapter) Decide(ctx context.Context, req Request, pool Pool) domain.Decision {
	inst := req.Instrument
	pc := a.buildContext(ctx, req, pool)

	if inst.AwaitingReentry() {
		return a.decideReentry(ctx, req, pc)
	}

	switch inst.Mode {
	case domain.ModeSIP:
		return a.decideSIP(ctx, req, pc)
	case domain.ModeBuy:
		return a.decideBuy(ctx, req, pc)
	case domain.ModeSell:
		return a.decideSell(ctx, req, pc)
	default:
		return domain.SkipDecision("", fmt.Sprintf("mode %q has no decision flow", inst.Mode))
	}
}

// decideSIP runs the exit check first when a position exists, then sizes the investment.
func (a *Adapter) decideSIP(ctx context.Context, req Request, pc promptContext) domain.Decision {
	if req.Instrument.HasPosition() {
		ex, ok := a.ask(ctx, req, domain.FlowSIPExit, buildSIPExitPrompt(pc))
		if !ok {
			return domain.SkipDecision(domain.FlowSIPExit, ex.rationale)
		}

		reply := ParseReply(ex.response)
		exit := (reply.HasExit && reply.Exit) || (!reply.HasExit && reply.Action == "EXIT")
		d := domain.Decision{Kind: domain.KindWait, Rationale: ex.response, Flow: domain.FlowSIPExit}
		if exit {
			d.Kind = domain.KindExit
		}
		a.record(req, domain.FlowSIPExit, ex, d)
		if exit {
			return d
		}
	}

	ex, ok := a.ask(ctx, req, domain.FlowSIPAmount, buildSIPAmountPrompt(pc))
	if !ok {
		return domain.SkipDecision(domain.FlowSIPAmount, ex.rationale)
	}

	reply := ParseReply(ex.response)
	d := domain.Decision{Rationale: ex.response, Flow: domain.FlowSIPAmount}
	switch reply.Action {
	case "EXECUTE", "BUY":
		d.Kind = domain.KindExecute
	case "WAIT":
		d.Kind = domain.KindWait
	default:
		d.Kind = domain.KindSkip
	}

	d.Amount = req.Instrument.SIPAmount
	if reply.HasAmount && reply.Amount.GreaterThan(decimal.Zero) {
		d.Amount = reply.Amount
	}

	a.record(req, domain.FlowSIPAmount, ex, d)
	return d
}

func (a *Adapter) decideBuy(ctx context.Context, req Request, pc promptContext) domain.Decision {
	ex, ok := a.ask(ctx, req, domain.FlowBuy, buildBuyPrompt(pc))
	if !ok {
		return domain.SkipDecision(domain.FlowBuy, ex.rationale)
	}

	reply := ParseReply(ex.response)
	d := domain.Decision{Kind: domain.KindSkip, Rationale: ex.response, Flow: domain.FlowBuy}
	switch reply.Action {
	case "EXECUTE", "BUY":
		d.Kind = domain.KindExecute
	case "WAIT":
		d.Kind = domain.KindWait
	}

	a.record(req, domain.FlowBuy, ex, d)
	return d
}

func (a *Adapter) decideSell(ctx context.Context, req Request, pc promptContext) domain.Decision {
	ex, ok := a.ask(ctx, req, domain.FlowSell, buildSellPrompt(pc))
	if !ok {
		return domain.SkipDecision(domain.FlowSell, ex.rationale)
	}

	reply := ParseReply(ex.response)
	d := domain.Decision{Kind: domain.KindSkip, Rationale: ex.response, Flow: domain.FlowSell}
	switch reply.Action {
	case "SELL", "EXECUTE", "EXIT":
		d.Kind = domain.KindSell
	case "EXIT_AND_REENTER":
		d.Kind = domain.KindExitAndReenter
		if reply.HasPrice {
			d.Amount = reply.Price
		}
	case "WAIT":
		d.Kind = domain.KindWait
	}

	a.record(req, domain.FlowSell, ex, d)
	return d
}

func (a *Adapter) decideReentry(ctx context.Context, req Request, pc promptContext) domain.Decision {
	ex, ok := a.ask(ctx, req, domain.FlowReentry, buildReentryPrompt(pc))
	if !ok {
		return domain.SkipDecision(domain.FlowReentry, ex.rationale)
	}

	reply := ParseReply(ex.response)
	d := domain.Decision{Kind: domain.KindSkip, Rationale: ex.response, Flow: domain.FlowReentry}
	switch reply.Action {
	case "EXECUTE", "BUY":
		d.Kind = domain.KindExecute
		d.Amount = req.Instrument.Reentry.ExitAmount
	case "WAIT":
		d.Kind = domain.KindWait
	}

	a.record(req, domain.FlowReentry, ex, d)
	return d
}

// exchange is one prompt/response round trip.
type exchange struct {
	prompt    string
	response  string
	rationale string
	latency   time.Duration
	err       error
}

// ask sends a prompt. A failed call is recorded here and its rationale is
// meant for the resulting SKIP decision.
func (a *Adapter) ask(ctx context.Context, req Request, flow domain.Flow, prompt string) (exchange, bool) {
	ex := exchange{prompt: prompt}

	switch {
	case a.oracle == nil:
		ex.err = errors.New("no oracle configured")
	case a.breaker != nil && !a.breaker.Allow():
		ex.err = errors.New("oracle circuit open")
	default:
		callCtx := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		start := a.now()
		text, err := a.oracle.Complete(callCtx, SystemPrompt, prompt)
		ex.latency = a.now().Sub(start)
		ex.response = strings.TrimSpace(text)

		if err == nil && ex.response == "" {
			err = errors.New("empty oracle response")
		}
		if a.breaker != nil {
			if err != nil {
				a.breaker.RecordFailure()
			} else {
				a.breaker.RecordSuccess()
			}
		}
		ex.err = err
	}

	if ex.err != nil {
		ex.rationale = "Error: " + ex.err.Error()
		a.logger.Warn("oracle call failed",
			zap.String("symbol", req.Instrument.Symbol),
			zap.String("flow", string(flow)),
			zap.Error(ex.err),
		)
		a.record(req, flow, ex, domain.SkipDecision(flow, ex.rationale))
		return ex, false
	}

	return ex, true
}

func (a *Adapter) record(req Request, flow domain.Flow, ex exchange, d domain.Decision) {
	if a.recorder == nil {
		return
	}

	call := domain.OracleCall{
		Timestamp: a.now(),
		CycleID:   req.CycleID,
		Symbol:    req.Instrument.Symbol,
		Flow:      flow,
		Model:     a.model,
		Prompt:    ex.prompt,
		Response:  ex.response,
		Decision:  d,
		Latency:   ex.latency,
	}
	if ex.err != nil {
		call.Error = ex.err.Error()
	}

	if err := a.recorder.SaveOracleCall(call); err != nil {
		a.logger.Error("failed to record oracle call", zap.String("symbol", call.Symbol), zap.Error(err))
	}
}

func (a *Adapter) buildContext(ctx context.Context, req Request, pool Pool) promptContext {
	pc := promptContext{
		inst:     req.Instrument,
		price:    req.Quote.Price,
		candles:  req.Quote.Candles,
		currency: a.currency,
	}
	if pool != nil {
		pc.available = pool.Available()
		pc.reserved = pool.Reserved()
		pc.fairShare = pool.FairShare()
		pc.sipCount = pool.SIPCount()
	}

	if a.market == nil {
		return pc
	}

	log := a.logger.With(zap.String("symbol", req.Instrument.Symbol))

	if len(req.Quote.Candles) > 0 {
		t, err := a.market.Technicals(req.Quote.Candles)
		if err != nil {
			log.Debug("technicals unavailable", zap.Error(err))
		} else {
			pc.technicals = t
		}
	}

	if f, err := a.market.Fundamentals(ctx, req.Instrument); err != nil {
		log.Debug("fundamentals unavailable", zap.Error(err))
	} else {
		pc.fundamentals = f
	}

	if iv, err := a.market.IndexValuation(ctx); err != nil {
		log.Debug("index valuation unavailable", zap.Error(err))
	} else {
		pc.index = iv
	}

	return pc
}
