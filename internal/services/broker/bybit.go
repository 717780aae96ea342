package broker

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const bybitMaxKlines = 200

// Bybit trades spot pairs on a unified trading account.
type Bybit struct {
	client    *bybit.Client
	quote     string
	precision int32
}

func NewBybit(client *bybit.Client, quoteAsset string, precision int32) *Bybit {
	return &Bybit{client: client, quote: strings.ToUpper(quoteAsset), precision: precision}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) QuantityPrecision() int32 { return b.precision }

func (b *Bybit) symbol(s string) bybit.SymbolV5 {
	return bybit.SymbolV5(strings.ToUpper(s) + b.quote)
}

func (b *Bybit) Funds(_ context.Context) (domain.Funds, error) {
	res, err := b.client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
	if err != nil {
		return domain.Funds{}, errors.Wrap(err, "get bybit wallet balance")
	}
	if len(res.Result.List) == 0 {
		return domain.Funds{}, errors.New("bybit returned no wallet")
	}

	funds := domain.Funds{Cash: decimal.Zero}
	for _, coin := range res.Result.List[0].Coin {
		bal := parseDecimal(coin.WalletBalance)
		if strings.EqualFold(string(coin.Coin), b.quote) {
			funds.Cash = bal
			continue
		}
		if bal.IsPositive() {
			funds.Holdings = append(funds.Holdings, domain.Holding{Symbol: string(coin.Coin), Exchange: b.Name(), Quantity: bal})
		}
	}

	return funds, nil
}

func (b *Bybit) LastPrice(_ context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	symbol := b.symbol(inst.Symbol)
	res, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "get bybit ticker for %s", symbol)
	}
	if len(res.Result.Spot.List) == 0 {
		return decimal.Zero, errors.Wrap(ErrUnknownInstrument, string(symbol))
	}

	return decimal.NewFromString(res.Result.Spot.List[0].LastPrice)
}

func (b *Bybit) DailyCandles(_ context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	if days <= 0 || days > bybitMaxKlines {
		days = bybitMaxKlines
	}

	res, err := b.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   b.symbol(inst.Symbol),
		Interval: bybit.Interval("D"),
		Limit:    &days,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get bybit klines for %s", inst.Symbol)
	}
	if res == nil {
		return nil, errors.Errorf("empty bybit kline result for %s", inst.Symbol)
	}

	out := make([]domain.Candle, 0, len(res.Result.List))
	for i, k := range res.Result.List {
		ms, err := strconv.ParseInt(k.StartTime, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parse start time at %d", i)
		}
		out = append(out, domain.Candle{
			Time:   time.UnixMilli(ms).UTC(),
			Open:   parseDecimal(k.Open),
			High:   parseDecimal(k.High),
			Low:    parseDecimal(k.Low),
			Close:  parseDecimal(k.Close),
			Volume: parseDecimal(k.Volume),
		})
	}

	// bybit lists newest first
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	return out, nil
}

func (b *Bybit) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return domain.OrderResult{}, err
	}

	side := bybit.SideBuy
	if req.Side == domain.SideSell {
		side = bybit.SideSell
	}

	linkID := req.ClientOrderID
	res, err := b.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    "spot",
		Symbol:      b.symbol(req.Symbol),
		Side:        side,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         req.Quantity.RoundFloor(b.precision).String(),
		OrderLinkID: &linkID,
	})
	if err != nil {
		return domain.OrderResult{}, errors.Wrapf(err, "create bybit %s order", strings.ToLower(string(req.Side)))
	}

	// bybit acknowledges market orders before the fill is known
	return domain.OrderResult{OrderID: res.Result.OrderID}, nil
}
