package broker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/clients/angelone"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const angelCandleTime = "2006-01-02T15:04:05-07:00"

// AngelOne trades NSE/BSE delivery equity through SmartAPI. Quantities are whole shares.
type AngelOne struct {
	client *angelone.Client
	now    func() time.Time
}

func NewAngelOne(client *angelone.Client) *AngelOne {
	return &AngelOne{client: client, now: time.Now}
}

func (a *AngelOne) Name() string { return "angelone" }

func (a *AngelOne) QuantityPrecision() int32 { return 0 }

func (a *AngelOne) Funds(ctx context.Context) (domain.Funds, error) {
	cash, err := a.client.AvailableCash(ctx)
	if err != nil {
		return domain.Funds{}, errors.Wrap(err, "get available cash")
	}

	holdings, err := a.client.Holdings(ctx)
	if err != nil {
		return domain.Funds{}, errors.Wrap(err, "get holdings")
	}

	funds := domain.Funds{Cash: parseDecimal(cash)}
	for _, h := range holdings {
		funds.Holdings = append(funds.Holdings, domain.Holding{
			Symbol:   h.TradingSymbol,
			Exchange: h.Exchange,
			Quantity: parseDecimal(h.Quantity),
			AvgPrice: parseDecimal(h.AveragePrice),
		})
	}

	return funds, nil
}

func (a *AngelOne) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	if inst.BrokerToken == "" {
		return decimal.Zero, errors.Wrapf(ErrUnknownInstrument, "%s has no symbol token", inst.Symbol)
	}

	ltp, err := a.client.LTP(ctx, exchangeOf(inst), inst.Symbol, inst.BrokerToken)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromString(ltp)
}

func (a *AngelOne) DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	if inst.BrokerToken == "" {
		return nil, errors.Wrapf(ErrUnknownInstrument, "%s has no symbol token", inst.Symbol)
	}

	to := a.now()
	rows, err := a.client.DailyCandles(ctx, exchangeOf(inst), inst.BrokerToken, to.AddDate(0, 0, -days), to)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(angelCandleTime, r.Time)
		if err != nil {
			return nil, errors.Wrapf(err, "parse candle time %q", r.Time)
		}
		out = append(out, domain.Candle{
			Time:   ts,
			Open:   parseDecimal(r.Open),
			High:   parseDecimal(r.High),
			Low:    parseDecimal(r.Low),
			Close:  parseDecimal(r.Close),
			Volume: parseDecimal(r.Volume),
		})
	}

	return out, nil
}

func (a *AngelOne) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return domain.OrderResult{}, err
	}
	if !req.Quantity.Equal(req.Quantity.Truncate(0)) {
		return domain.OrderResult{}, errors.Errorf("fractional share quantity %s", req.Quantity)
	}

	exchange := req.Exchange
	if exchange == "" {
		exchange = "NSE"
	}

	id, err := a.client.PlaceOrder(ctx, angelone.Order{
		Symbol:          req.Symbol,
		Token:           req.BrokerToken,
		Exchange:        exchange,
		TransactionType: string(req.Side),
		Quantity:        req.Quantity.String(),
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "place angel one order")
	}

	return domain.OrderResult{OrderID: id}, nil
}

func exchangeOf(inst domain.Instrument) string {
	if inst.Exchange == "" {
		return "NSE"
	}
	return inst.Exchange
}
