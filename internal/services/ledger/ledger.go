// Package ledger computes the cycle-scoped cash pool.
package ledger

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// ErrBelowMinBalance aborts the whole cycle before any instrument is processed.
var ErrBelowMinBalance = errors.New("available balance below minimum")

// PoolView is the in-memory cash pool of one cycle. It is never persisted and
// is not safe for concurrent use; cycles are serialized by the orchestrator.
type PoolView struct {
	brokerCash decimal.Decimal
	reserved   decimal.Decimal
	available  decimal.Decimal
	spent      decimal.Decimal
	sipCount   int
}

// Compute builds the pool from broker cash minus pending re-entry reservations.
func Compute(brokerCash decimal.Decimal, instruments []domain.Instrument, minBalance decimal.Decimal) (*PoolView, error) {
	reserved := decimal.Zero
	sipCount := 0
	for _, inst := range instruments {
		if inst.Reentry != nil {
			reserved = reserved.Add(inst.Reentry.ExitAmount)
		}
		if inst.Mode == domain.ModeSIP {
			sipCount++
		}
	}

	p := &PoolView{
		brokerCash: brokerCash,
		reserved:   reserved,
		available:  brokerCash.Sub(reserved),
		spent:      decimal.Zero,
		sipCount:   sipCount,
	}

	if p.available.LessThan(minBalance) {
		return p, errors.Wrapf(ErrBelowMinBalance, "available %s < minimum %s", p.available.StringFixed(2), minBalance.StringFixed(2))
	}

	return p, nil
}

// BrokerCash returns the cash reported by the broker at cycle start.
func (p *PoolView) BrokerCash() decimal.Decimal { return p.brokerCash }

// Reserved returns the cash still held for pending re-entries.
func (p *PoolView) Reserved() decimal.Decimal { return p.reserved }

// Available returns the spendable cash left in this cycle.
func (p *PoolView) Available() decimal.Decimal { return p.available }

// Spent returns the sum of all debits applied in this cycle.
func (p *PoolView) Spent() decimal.Decimal { return p.spent }

// SIPCount returns the number of SIP instruments competing for the pool.
func (p *PoolView) SIPCount() int { return p.sipCount }

// Covers reports whether amount fits into the available cash.
func (p *PoolView) Covers(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(p.available)
}

// FairShare is the advisory per-instrument slice of the pool; allocation stays first-come.
func (p *PoolView) FairShare() decimal.Decimal {
	if p.sipCount <= 0 || p.available.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return p.available.Div(decimal.NewFromInt(int64(p.sipCount))).Round(2)
}

// Debit spends amount from the available cash.
func (p *PoolView) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("negative debit %s", amount)
	}
	p.available = p.available.Sub(amount)
	p.spent = p.spent.Add(amount)
	return nil
}

// SpendReserved consumes a re-entry reservation. Whatever the repurchase did not
// use is released into the available cash.
func (p *PoolView) SpendReserved(reservation, amount decimal.Decimal) error {
	if amount.IsNegative() || reservation.IsNegative() {
		return fmt.Errorf("negative reserved spend %s of %s", amount, reservation)
	}
	if reservation.GreaterThan(p.reserved) {
		return fmt.Errorf("reservation %s exceeds reserved %s", reservation, p.reserved)
	}
	p.reserved = p.reserved.Sub(reservation)
	p.available = p.available.Add(reservation.Sub(amount))
	p.spent = p.spent.Add(amount)
	return nil
}
