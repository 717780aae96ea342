package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const hyperliquidSlippage = 0.005

// Hyperliquid trades spot coins with IOC limit orders priced at a small slippage.
type Hyperliquid struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
	quote       string
	precision   int32
}

func NewHyperliquid(ex *hyperliquid.Exchange, accountAddr, quoteAsset string, precision int32) (*Hyperliquid, error) {
	if ex == nil {
		return nil, errors.New("hyperliquid exchange is nil")
	}
	return &Hyperliquid{
		ex:          ex,
		info:        ex.Info(),
		accountAddr: accountAddr,
		quote:       strings.ToUpper(quoteAsset),
		precision:   precision,
	}, nil
}

func (h *Hyperliquid) Name() string { return "hyperliquid" }

func (h *Hyperliquid) QuantityPrecision() int32 { return h.precision }

// cloid converts a client order id into a hyperliquid cloid (0x + 32 hex chars).
func cloid(id string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(id)))
	return "0x" + hex.EncodeToString(sum[:16])
}

func (h *Hyperliquid) Funds(ctx context.Context) (domain.Funds, error) {
	st, err := h.info.SpotUserState(ctx, h.accountAddr)
	if err != nil {
		return domain.Funds{}, errors.Wrap(err, "get spot user state")
	}

	funds := domain.Funds{Cash: decimal.Zero}
	for _, b := range st.Balances {
		total := parseDecimal(b.Total)
		if strings.EqualFold(b.Coin, h.quote) {
			funds.Cash = total
			continue
		}
		if total.IsPositive() {
			funds.Holdings = append(funds.Holdings, domain.Holding{Symbol: b.Coin, Exchange: h.Name(), Quantity: total})
		}
	}

	return funds, nil
}

func (h *Hyperliquid) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get hyperliquid mids")
	}

	mid, ok := mids[strings.ToUpper(inst.Symbol)]
	if !ok || mid == "" {
		return decimal.Zero, errors.Wrap(ErrUnknownInstrument, inst.Symbol)
	}

	return decimal.NewFromString(mid)
}

func (h *Hyperliquid) DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -(days + 2))

	candles, err := h.info.CandlesSnapshot(ctx, strings.ToUpper(inst.Symbol), "1d", start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, errors.Wrapf(err, "get hyperliquid candles for %s", inst.Symbol)
	}
	if len(candles) > days {
		candles = candles[len(candles)-days:]
	}

	out := make([]domain.Candle, 0, len(candles))
	for _, c := range candles {
		out = append(out, domain.Candle{
			Time:   time.UnixMilli(c.TimeOpen).UTC(),
			Open:   parseDecimal(c.Open),
			High:   parseDecimal(c.High),
			Low:    parseDecimal(c.Low),
			Close:  parseDecimal(c.Close),
			Volume: parseDecimal(c.Volume),
		})
	}

	return out, nil
}

func (h *Hyperliquid) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return domain.OrderResult{}, err
	}

	coin := strings.ToUpper(req.Symbol)
	isBuy := req.Side == domain.SideBuy

	px, err := h.ex.SlippagePrice(ctx, coin, isBuy, hyperliquidSlippage, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "slippage price")
	}

	size, _ := req.Quantity.RoundFloor(h.precision).Float64()
	id := cloid(req.ClientOrderID)

	_, err = h.ex.Order(ctx, hyperliquid.CreateOrderRequest{
		Coin:          coin,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &id,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}, nil)
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "place hyperliquid order")
	}

	return domain.OrderResult{OrderID: id}, nil
}
