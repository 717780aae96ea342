// Package broker adapts trading venues to the order, funds and quote
// operations used by the trading cycle.
package broker

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// ErrUnknownInstrument is returned when the venue does not list the instrument.
var ErrUnknownInstrument = errors.New("unknown instrument")

// Broker is one trading venue account.
type Broker interface {
	// Name identifies the venue in logs and metrics.
	Name() string
	// Funds returns spendable cash in the quote currency plus holdings.
	Funds(ctx context.Context) (domain.Funds, error)
	// LastPrice returns the last traded price.
	LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error)
	// DailyCandles returns up to days daily bars, oldest first.
	DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error)
	// PlaceOrder submits a market order. A nil error means the venue accepted it.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	// QuantityPrecision is the number of decimal places an order quantity may carry.
	QuantityPrecision() int32
}

// avgFillPrice derives the average price from cumulative quote and executed base amounts.
func avgFillPrice(quote, executed string) (decimal.Decimal, decimal.Decimal) {
	q, err := decimal.NewFromString(quote)
	if err != nil {
		return decimal.Zero, decimal.Zero
	}
	e, err := decimal.NewFromString(executed)
	if err != nil || e.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	return q.Div(e), e
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func validateOrder(req domain.OrderRequest) error {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.Errorf("order quantity must be positive, got %s", req.Quantity)
	}
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return errors.Errorf("unknown order side %q", req.Side)
	}
	return nil
}
