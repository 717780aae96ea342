package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is a single market order sent to the broker.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Exchange      string
	BrokerToken   string
	Side          Side
	Quantity      decimal.Decimal
	// Price is the last traded price used for sizing, informational for market orders.
	Price decimal.Decimal
}

// OrderResult is the broker acknowledgement. Zero fill fields mean the broker did not report them.
type OrderResult struct {
	OrderID        string
	FilledQuantity decimal.Decimal
	AvgPrice       decimal.Decimal
}

// Holding is a broker reported position.
type Holding struct {
	Symbol   string          `json:"symbol"`
	Exchange string          `json:"exchange"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Funds is the broker cash balance plus holdings.
type Funds struct {
	Cash     decimal.Decimal `json:"cash"`
	Holdings []Holding       `json:"holdings"`
}

// HoldingFor returns the holding for symbol, if any.
func (f Funds) HoldingFor(symbol string) (Holding, bool) {
	for _, h := range f.Holdings {
		if h.Symbol == symbol {
			return h, true
		}
	}
	return Holding{}, false
}

// Candle is a daily OHLCV bar.
type Candle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}
