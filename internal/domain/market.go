package domain

import (
	"github.com/shopspring/decimal"
)

// Quote is the price context fetched for an instrument before asking the oracle.
type Quote struct {
	Price   decimal.Decimal
	Candles []Candle
}

// Technicals is the latest technical indicator snapshot.
type Technicals struct {
	RSI14      decimal.Decimal `json:"rsi14"`
	MACD       decimal.Decimal `json:"macd"`
	MACDSignal decimal.Decimal `json:"macd_signal"`
	EMA20      decimal.Decimal `json:"ema20"`
	EMA50      decimal.Decimal `json:"ema50"`
	ATR14      decimal.Decimal `json:"atr14"`
}

// Fundamentals is the valuation snapshot of an instrument.
type Fundamentals struct {
	TrailingPE       decimal.Decimal `json:"trailing_pe"`
	PriceToBook      decimal.Decimal `json:"price_to_book"`
	DividendYield    decimal.Decimal `json:"dividend_yield"`
	FiftyTwoWeekHigh decimal.Decimal `json:"fifty_two_week_high"`
	FiftyTwoWeekLow  decimal.Decimal `json:"fifty_two_week_low"`
	MarketCap        decimal.Decimal `json:"market_cap"`
}

// IndexValuation is the valuation of a broad market index.
type IndexValuation struct {
	Index         string          `json:"index"`
	Last          decimal.Decimal `json:"last"`
	PE            decimal.Decimal `json:"pe"`
	PB            decimal.Decimal `json:"pb"`
	DividendYield decimal.Decimal `json:"div_yield"`
}
