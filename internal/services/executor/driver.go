// Package executor turns oracle decisions into broker orders and applies
// confirmed fills to the cash pool and the instrument state.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/services/ledger"
	"go.uber.org/zap"
)

// OrderPlacer is the part of the broker the driver needs.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	QuantityPrecision() int32
}

// InstrumentStore persists instrument state after a confirmed fill.
type InstrumentStore interface {
	Save(ctx context.Context, inst domain.Instrument) error
	Delete(ctx context.Context, symbol string) error
}

// AuditSink appends audit records.
type AuditSink interface {
	SaveAuditRecord(rec domain.AuditRecord) error
}

// Cycle identifies the cycle an outcome belongs to.
type Cycle struct {
	ID      string
	Trigger domain.Trigger
}

// Driver executes at most one order per instrument turn.
type Driver struct {
	broker      OrderPlacer
	store       InstrumentStore
	audit       AuditSink
	autoExecute bool
	logger      *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewDriver(broker OrderPlacer, store InstrumentStore, audit AuditSink, autoExecute bool, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Driver{
		broker:      broker,
		store:       store,
		audit:       audit,
		autoExecute: autoExecute,
		logger:      logger,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// AutoExecute reports whether the driver places orders.
func (d *Driver) AutoExecute() bool { return d.autoExecute }

// order is a sized broker order derived from a decision.
type order struct {
	side     domain.Side
	quantity decimal.Decimal
	// budget is the cash the buy is allowed to consume, zero for sells.
	budget decimal.Decimal
}

// Apply executes decision for inst at price. The passed instrument is never
// modified; on success a mutated copy is persisted. Exactly one audit record
// is written per call.
func (d *Driver) Apply(ctx context.Context, cycle Cycle, inst domain.Instrument, decision domain.Decision, price decimal.Decimal, pool *ledger.PoolView) domain.Outcome {
	outcome := d.apply(ctx, inst, decision, price, pool)
	d.Record(cycle, inst, price, &decision, outcome)

	return outcome
}

// Record writes an audit record for an instrument turn that never reached the driver.
func (d *Driver) Record(cycle Cycle, inst domain.Instrument, price decimal.Decimal, decision *domain.Decision, outcome domain.Outcome) {
	if d.audit == nil {
		return
	}

	rec := domain.AuditRecord{
		Timestamp: d.now(),
		CycleID:   cycle.ID,
		Trigger:   cycle.Trigger,
		Symbol:    inst.Symbol,
		Input:     domain.SnapshotOf(inst, price),
		Decision:  decision,
		Outcome:   outcome,
	}
	if err := d.audit.SaveAuditRecord(rec); err != nil {
		d.logger.Error("failed to save audit record",
			zap.String("cycle_id", cycle.ID),
			zap.String("symbol", inst.Symbol),
			zap.Error(err))
	}
}

func (d *Driver) apply(ctx context.Context, inst domain.Instrument, decision domain.Decision, price decimal.Decimal, pool *ledger.PoolView) domain.Outcome {
	if !d.autoExecute {
		return domain.Skipped(domain.SkippedAutoExecuteDisabled, "")
	}
	if !decision.Kind.IsExecution() {
		return domain.Skipped(domain.SkippedLLMDecision, decision.Excerpt(200))
	}
	if !price.IsPositive() {
		return domain.Skipped(domain.SkippedNoPrice, "no positive price")
	}

	o, skip := d.size(inst, decision, price, pool)
	if skip != nil {
		return *skip
	}

	logger := d.logger.With(
		zap.String("symbol", inst.Symbol),
		zap.String("decision", string(decision.Kind)),
		zap.String("side", string(o.side)),
		zap.String("qty", o.quantity.String()))

	req := domain.OrderRequest{
		ClientOrderID: d.newID(),
		Symbol:        inst.Symbol,
		Exchange:      inst.Exchange,
		BrokerToken:   inst.BrokerToken,
		Side:          o.side,
		Quantity:      o.quantity,
		Price:         price,
	}

	res, err := d.broker.PlaceOrder(ctx, req)
	if err != nil {
		logger.Error("order failed", zap.String("client_order_id", req.ClientOrderID), zap.Error(err))
		return domain.Outcome{
			Status:   domain.OutcomeFailed,
			Side:     o.side,
			Quantity: o.quantity,
			Price:    price,
			Value:    o.quantity.Mul(price),
			Error:    err.Error(),
		}
	}

	fillQty := o.quantity
	if res.FilledQuantity.IsPositive() {
		fillQty = res.FilledQuantity
	}
	fillPrice := price
	if res.AvgPrice.IsPositive() {
		fillPrice = res.AvgPrice
	}

	outcome := domain.Outcome{
		Status:   domain.OutcomeExecuted,
		Side:     o.side,
		Quantity: fillQty,
		Price:    fillPrice,
		Value:    fillQty.Mul(fillPrice),
		OrderID:  res.OrderID,
	}

	logger.Info("order executed",
		zap.String("order_id", res.OrderID),
		zap.String("fill_qty", fillQty.String()),
		zap.String("fill_price", fillPrice.String()))

	if err := d.settle(ctx, inst, decision, o, &outcome, pool); err != nil {
		// the broker already holds the fill; the next cycle sees it in holdings
		logger.Error("failed to apply fill to local state", zap.String("order_id", res.OrderID), zap.Error(err))
		outcome.Error = err.Error()
	}

	return outcome
}

// size turns a decision into a broker order or an early skip outcome.
func (d *Driver) size(inst domain.Instrument, decision domain.Decision, price decimal.Decimal, pool *ledger.PoolView) (order, *domain.Outcome) {
	skip := func(status domain.OutcomeStatus, reason string) (order, *domain.Outcome) {
		o := domain.Skipped(status, reason)
		return order{}, &o
	}
	precision := d.broker.QuantityPrecision()

	switch decision.Kind {
	case domain.KindExit, domain.KindExitAndReenter, domain.KindSell:
		if !inst.HasPosition() {
			return skip(domain.SkippedNoPosition, "nothing to sell")
		}
		return order{side: domain.SideSell, quantity: inst.Quantity}, nil

	case domain.KindExecute:
		var budget decimal.Decimal
		var qty decimal.Decimal

		switch {
		case inst.AwaitingReentry():
			budget = inst.Reentry.ExitAmount
			qty = budget.Div(price).RoundFloor(precision)
		case inst.Mode == domain.ModeSIP:
			budget = decision.Amount
			if !budget.IsPositive() {
				budget = inst.SIPAmount
			}
			if !budget.IsPositive() {
				return skip(domain.SkippedZeroQuantity, "no SIP amount")
			}
			if !pool.Covers(budget) {
				return skip(domain.SkippedInsufficientBalance, "need "+budget.StringFixed(2)+", available "+pool.Available().StringFixed(2))
			}
			qty = budget.Div(price).RoundFloor(precision)
		case inst.Mode == domain.ModeBuy:
			qty = inst.OrderQuantity
			if !qty.IsPositive() {
				qty = decimal.NewFromInt(1)
			}
			qty = qty.RoundFloor(precision)
			budget = qty.Mul(price)
			if !pool.Covers(budget) {
				return skip(domain.SkippedInsufficientBalance, "need "+budget.StringFixed(2)+", available "+pool.Available().StringFixed(2))
			}
		default:
			return skip(domain.SkippedUnsupported, "EXECUTE in "+string(inst.Mode)+" mode")
		}

		if !qty.IsPositive() {
			return skip(domain.SkippedZeroQuantity, "amount "+budget.StringFixed(2)+" below one unit at "+price.String())
		}
		return order{side: domain.SideBuy, quantity: qty, budget: budget}, nil
	}

	return skip(domain.SkippedUnsupported, string(decision.Kind))
}

// settle applies a confirmed fill to the pool and a copy of the instrument, then persists it.
func (d *Driver) settle(ctx context.Context, inst domain.Instrument, decision domain.Decision, o order, outcome *domain.Outcome, pool *ledger.PoolView) error {
	now := d.now()
	next := inst.Clone()

	switch o.side {
	case domain.SideBuy:
		if next.AwaitingReentry() {
			if err := pool.SpendReserved(next.Reentry.ExitAmount, outcome.Value); err != nil {
				return errors.Wrap(err, "consume re-entry reservation")
			}
			if err := next.ApplyReentry(outcome.Quantity, outcome.Price); err != nil {
				return err
			}
		} else {
			if err := pool.Debit(outcome.Value); err != nil {
				return err
			}
			if err := next.ApplyBuy(outcome.Quantity, outcome.Price); err != nil {
				return err
			}
		}

		switch next.Mode {
		case domain.ModeSIP:
			next.MarkSIPExecuted(now)
		case domain.ModeBuy:
			next.Mode = domain.ModeHold
		}

	case domain.SideSell:
		if outcome.Quantity.LessThan(inst.Quantity) {
			// the unsold remainder stays held; the next cycle decides on it again
			d.logger.Warn("partial sell fill, position kept",
				zap.String("symbol", inst.Symbol),
				zap.String("decision", string(decision.Kind)),
				zap.String("filled", outcome.Quantity.String()),
				zap.String("held", inst.Quantity.String()))
			if err := next.ApplyPartialSell(outcome.Quantity); err != nil {
				return err
			}
			break
		}

		if decision.Kind == domain.KindSell && inst.Mode == domain.ModeSell {
			if d.store != nil {
				if err := d.store.Delete(ctx, inst.Symbol); err != nil {
					return errors.Wrap(err, "remove sold instrument")
				}
			}
			outcome.Removed = true
			return nil
		}

		target := decimal.Zero
		if decision.Kind == domain.KindExitAndReenter {
			target = decision.Amount
		}
		if err := next.ApplyExit(outcome.Price, now, target); err != nil {
			return err
		}
	}

	if err := next.CheckInvariant(); err != nil {
		return err
	}
	if d.store == nil {
		return nil
	}

	return errors.Wrap(d.store.Save(ctx, next), "persist instrument")
}
