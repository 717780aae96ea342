// Package indicators provides technical analysis indicators (EMA, MACD, RSI, ATR).
package indicators

import (
	"fmt"
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// MinCandles is the history needed for the slowest indicator (EMA50).
const MinCandles = 50

// CalculateEMA calculates the Exponential Moving Average for the given period.
func CalculateEMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period {
		return nil, fmt.Errorf("not enough data points: need %d, got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := ema.Compute(helper.SliceToChan(decimalsToFloat64(closes)))

	return float64ToDecimals(helper.ChanToSlice(out)), nil
}

// CalculateMACD calculates the MACD line and its signal line.
func CalculateMACD(closes []decimal.Decimal) ([]decimal.Decimal, []decimal.Decimal, error) {
	if len(closes) < 35 {
		return nil, nil, fmt.Errorf("not enough data points for MACD: need at least 35, got %d", len(closes))
	}

	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(helper.SliceToChan(decimalsToFloat64(closes)))

	// both outputs must be drained together or the indicator blocks
	var signal []float64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		signal = helper.ChanToSlice(signalChan)
	}()
	line := helper.ChanToSlice(macdChan)
	wg.Wait()

	return float64ToDecimals(line), float64ToDecimals(signal), nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(closes) < period+1 {
		return nil, fmt.Errorf("not enough data points for RSI: need %d, got %d", period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes)))

	return float64ToDecimals(helper.ChanToSlice(out)), nil
}

// CalculateATR calculates the Average True Range for the given period.
func CalculateATR(candles []domain.Candle, period int) ([]decimal.Decimal, error) {
	if len(candles) < period+1 {
		return nil, fmt.Errorf("not enough data points for ATR: need %d, got %d", period+1, len(candles))
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))

	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}

	atr := volatility.NewAtrWithPeriod[float64](period)
	out := atr.Compute(helper.SliceToChan(highs), helper.SliceToChan(lows), helper.SliceToChan(closes))

	return float64ToDecimals(helper.ChanToSlice(out)), nil
}

// Latest computes the most recent value of every indicator from daily candles, oldest first.
func Latest(candles []domain.Candle) (*domain.Technicals, error) {
	if len(candles) < MinCandles {
		return nil, fmt.Errorf("not enough data points: need at least %d, got %d", MinCandles, len(candles))
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	ema20, err := CalculateEMA(closes, 20)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate EMA20: %w", err)
	}
	ema50, err := CalculateEMA(closes, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate EMA50: %w", err)
	}
	macd, signal, err := CalculateMACD(closes)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate MACD: %w", err)
	}
	rsi14, err := CalculateRSI(closes, 14)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate RSI14: %w", err)
	}
	atr14, err := CalculateATR(candles, 14)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate ATR14: %w", err)
	}

	return &domain.Technicals{
		RSI14:      last(rsi14),
		MACD:       last(macd),
		MACDSignal: last(signal),
		EMA20:      last(ema20),
		EMA50:      last(ema50),
		ATR14:      last(atr14),
	}, nil
}

func last(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return values[len(values)-1]
}

func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	result := make([]float64, len(decimals))
	for i, d := range decimals {
		result[i], _ = d.Float64()
	}
	return result
}

func float64ToDecimals(floats []float64) []decimal.Decimal {
	result := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		result[i] = decimal.NewFromFloat(f)
	}
	return result
}
