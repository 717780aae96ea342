package marketdata

import (
	"context"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/equity"
	"github.com/piquette/finance-go/quote"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const (
	DefaultYahooSuffix = ".NS"
	// DefaultYahooIndex is the benchmark whose market state stands in for the venue.
	DefaultYahooIndex = "^NSEI"

	yahooRegularSession = "REGULAR"
)

// Yahoo reads quotes, daily bars and valuation ratios from Yahoo Finance.
type Yahoo struct {
	suffix string
	index  string

	quoteFn  func(symbol string) (*finance.Quote, error)
	equityFn func(symbol string) (*finance.Equity, error)
	chartFn  func(params *chart.Params) ([]domain.Candle, error)
	now      func() time.Time
}

func NewYahoo(suffix, index string) *Yahoo {
	if suffix == "" {
		suffix = DefaultYahooSuffix
	}
	if index == "" {
		index = DefaultYahooIndex
	}

	return &Yahoo{
		suffix:   suffix,
		index:    index,
		quoteFn:  quote.Get,
		equityFn: equity.Get,
		chartFn:  fetchChart,
		now:      time.Now,
	}
}

// Symbol maps a broker trading symbol to the Yahoo ticker.
func (y *Yahoo) Symbol(inst domain.Instrument) string {
	s := strings.ToUpper(strings.TrimSpace(inst.Symbol))
	s = strings.TrimSuffix(s, "-EQ")
	if strings.ContainsAny(s, ".^=") {
		return s
	}
	if strings.EqualFold(inst.Exchange, "BSE") && y.suffix == DefaultYahooSuffix {
		return s + ".BO"
	}
	return s + y.suffix
}

// IsMarketOpen reports whether the benchmark index trades in its regular session.
func (y *Yahoo) IsMarketOpen(_ context.Context) (bool, error) {
	q, err := y.quoteFn(y.index)
	if err != nil {
		return false, errors.Wrapf(err, "yahoo quote %s", y.index)
	}
	if q == nil || q.MarketState == "" {
		return false, errors.Errorf("yahoo returned no market state for %s", y.index)
	}

	return q.MarketState == yahooRegularSession, nil
}

func (y *Yahoo) LastPrice(_ context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	symbol := y.Symbol(inst)
	q, err := y.quoteFn(symbol)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "yahoo quote %s", symbol)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return decimal.Zero, errors.Errorf("yahoo returned no price for %s", symbol)
	}

	return decimal.NewFromFloat(q.RegularMarketPrice), nil
}

func (y *Yahoo) DailyCandles(_ context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	end := y.now()
	start := end.AddDate(0, 0, -days)

	candles, err := y.chartFn(&chart.Params{
		Symbol:   y.Symbol(inst),
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "yahoo chart %s", y.Symbol(inst))
	}

	return candles, nil
}

// Fundamentals returns valuation ratios and the 52 week range.
func (y *Yahoo) Fundamentals(_ context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	symbol := y.Symbol(inst)
	e, err := y.equityFn(symbol)
	if err != nil {
		return nil, errors.Wrapf(err, "yahoo equity %s", symbol)
	}
	if e == nil {
		return nil, errors.Errorf("yahoo returned no equity data for %s", symbol)
	}

	return &domain.Fundamentals{
		TrailingPE:       decimal.NewFromFloat(e.TrailingPE),
		PriceToBook:      decimal.NewFromFloat(e.PriceToBook),
		DividendYield:    decimal.NewFromFloat(e.TrailingAnnualDividendYield * 100),
		FiftyTwoWeekHigh: decimal.NewFromFloat(e.FiftyTwoWeekHigh),
		FiftyTwoWeekLow:  decimal.NewFromFloat(e.FiftyTwoWeekLow),
		MarketCap:        decimal.NewFromInt(e.MarketCap),
	}, nil
}

func fetchChart(params *chart.Params) ([]domain.Candle, error) {
	iter := chart.Get(params)

	var out []domain.Candle
	for iter.Next() {
		bar := iter.Bar()
		if bar.Close.IsZero() {
			continue
		}
		out = append(out, domain.Candle{
			Time:   time.Unix(int64(bar.Timestamp), 0),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: decimal.NewFromInt(int64(bar.Volume)),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return out, nil
}
