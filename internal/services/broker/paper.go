package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/storage/paperstate"
	"go.uber.org/zap"
)

// Quotes supplies market prices to the paper broker.
type Quotes interface {
	LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error)
	DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error)
}

// StateStore persists the paper account.
type StateStore interface {
	Load() (*paperstate.State, error)
	Save(st paperstate.State) error
}

// Paper fills market orders at the current quote against a simulated cash account.
type Paper struct {
	mu        sync.Mutex
	quotes    Quotes
	store     StateStore
	logger    *zap.Logger
	precision int32
	state     paperstate.State
	seq       int
	now       func() time.Time
}

// NewPaper restores the account from store or opens it with initialCash.
func NewPaper(quotes Quotes, store StateStore, initialCash decimal.Decimal, precision int32, logger *zap.Logger) (*Paper, error) {
	if quotes == nil {
		return nil, errors.New("quotes source is required for paper trading")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Paper{
		quotes:    quotes,
		store:     store,
		logger:    logger,
		precision: precision,
		state:     paperstate.State{Cash: initialCash, Positions: map[string]paperstate.Position{}},
		now:       time.Now,
	}

	if store != nil {
		st, err := store.Load()
		if err != nil {
			logger.Warn("failed to restore paper account, starting fresh", zap.Error(err))
		} else if st != nil {
			p.state = *st
			p.seq = len(st.Fills)
		}
	}

	logger.Info("paper account ready",
		zap.String("cash", p.state.Cash.String()),
		zap.Int("positions", len(p.state.Positions)))

	return p, nil
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) QuantityPrecision() int32 { return p.precision }

func (p *Paper) Funds(_ context.Context) (domain.Funds, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	funds := domain.Funds{Cash: p.state.Cash}
	for symbol, pos := range p.state.Positions {
		funds.Holdings = append(funds.Holdings, domain.Holding{
			Symbol:   symbol,
			Exchange: p.Name(),
			Quantity: pos.Quantity,
			AvgPrice: pos.AvgPrice,
		})
	}
	sort.Slice(funds.Holdings, func(i, j int) bool { return funds.Holdings[i].Symbol < funds.Holdings[j].Symbol })

	return funds, nil
}

func (p *Paper) LastPrice(ctx context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	return p.quotes.LastPrice(ctx, inst)
}

func (p *Paper) DailyCandles(ctx context.Context, inst domain.Instrument, days int) ([]domain.Candle, error) {
	return p.quotes.DailyCandles(ctx, inst, days)
}

func (p *Paper) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return domain.OrderResult{}, err
	}

	price, err := p.quotes.LastPrice(ctx, domain.Instrument{Symbol: req.Symbol, Exchange: req.Exchange, BrokerToken: req.BrokerToken})
	if err != nil {
		return domain.OrderResult{}, errors.Wrap(err, "paper fill price")
	}
	if !price.IsPositive() {
		return domain.OrderResult{}, errors.Errorf("invalid paper fill price %s", price)
	}

	qty := req.Quantity.RoundFloor(p.precision)
	value := qty.Mul(price)

	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.state
	next.Positions = make(map[string]paperstate.Position, len(p.state.Positions))
	for k, v := range p.state.Positions {
		next.Positions[k] = v
	}
	pos := next.Positions[req.Symbol]

	switch req.Side {
	case domain.SideBuy:
		if value.GreaterThan(next.Cash) {
			return domain.OrderResult{}, errors.Errorf("insufficient paper cash: need %s, have %s", value.StringFixed(2), next.Cash.StringFixed(2))
		}
		total := pos.Quantity.Add(qty)
		pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(value).Div(total)
		pos.Quantity = total
		next.Cash = next.Cash.Sub(value)
		next.Positions[req.Symbol] = pos
	case domain.SideSell:
		if qty.GreaterThan(pos.Quantity) {
			return domain.OrderResult{}, errors.Errorf("insufficient paper position: sell %s, have %s", qty, pos.Quantity)
		}
		pos.Quantity = pos.Quantity.Sub(qty)
		next.Cash = next.Cash.Add(value)
		if pos.Quantity.IsZero() {
			delete(next.Positions, req.Symbol)
		} else {
			next.Positions[req.Symbol] = pos
		}
	}

	orderID := fmt.Sprintf("paper-%d", p.seq+1)
	next.Fills = append(append([]paperstate.Fill(nil), p.state.Fills...), paperstate.Fill{
		OrderID:  orderID,
		ClientID: req.ClientOrderID,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Quantity: qty,
		Price:    price,
		At:       p.now(),
	})

	if p.store != nil {
		if err := p.store.Save(next); err != nil {
			return domain.OrderResult{}, errors.Wrap(err, "persist paper fill")
		}
	}

	p.state = next
	p.seq++

	p.logger.Info("paper order filled",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("qty", qty.String()),
		zap.String("price", price.String()),
		zap.String("cash", next.Cash.String()))

	return domain.OrderResult{OrderID: orderID, FilledQuantity: qty, AvgPrice: price}, nil
}
