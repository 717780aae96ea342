package broker

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// Binance trades spot pairs of Instrument.Symbol against the quote asset.
type Binance struct {
	client    *binance.Client
	quote     string
	precision int32
}

func NewBinance(client *binance.Client, quoteAsset string, precision int32) *Binance {
	return &Binance{client: client, quote: strings.ToUpper(quoteAsset), precision: precision}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) QuantityPrecision() int32 { return b.precision }

func (b *Binance) pair(inst domain.Instrument) string {
	return strings.ToUpper(inst.Symbol) + b.quote
}

func (b *Binance) Funds(ctx context.Context) (domain.Funds, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.Funds{}, errors.Wrap(err, "get binance account")
	}

	funds := domain.Funds{Cash: decimal.Zero}
	for _, bal := range account.Balances {
		free := parseDecimal(bal.Free)
		if strings.EqualFold(bal.Asset, b.quote) {
			funds.Cash = free
			continue
		}
		if free.IsPositive() {
			funds.Holdings = append(funds.Holdings, domain.Holding{Symbol: bal.Asset, Exchange: b.Name(), Quantity: free})
		}
	}

	return funds, nil
}

func (b *Binance) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	prices, err := b.client.NewListPricesService().Symbol(b.pair(inst)).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "get binance price for %s", b.pair(inst))
	}
	if len(prices) == 0 {
		return decimal.Zero, errors.Wrap(ErrUnknownInstrument, b.pair(inst))
	}

	return decimal.NewFromString(prices[0].Price)
}

func (b *Binance) DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	klines, err := b.client.NewKlinesService().Symbol(b.pair(inst)).Interval("1d").Limit(days).Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "get binance klines for %s", b.pair(inst))
	}

	out := make([]domain.Candle, 0, len(klines))
	for i, k := range klines {
		c := domain.Candle{Time: time.UnixMilli(k.OpenTime).UTC()}
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume}} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, errors.Wrapf(err, "parse kline %d", i)
			}
		}
		out = append(out, c)
	}

	return out, nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return domain.OrderResult{}, err
	}

	side := binance.SideTypeBuy
	if req.Side == domain.SideSell {
		side = binance.SideTypeSell
	}

	resp, err := b.client.NewCreateOrderService().Symbol(b.pair(domain.Instrument{Symbol: req.Symbol})).
		Side(side).Type(binance.OrderTypeMarket).
		Quantity(req.Quantity.RoundFloor(b.precision).String()).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "create binance order")
	}

	avg, executed := avgFillPrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity)

	return domain.OrderResult{
		OrderID:        strconv.FormatInt(resp.OrderID, 10),
		FilledQuantity: executed,
		AvgPrice:       avg,
	}, nil
}
