package broker

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/internal/storage/paperstate"
	"go.uber.org/zap"
)

type fixedQuotes map[string]decimal.Decimal

func (q fixedQuotes) LastPrice(_ context.Context, inst domain.Instrument) (decimal.Decimal, error) {
	p, ok := q[inst.Symbol]
	if !ok {
		return decimal.Zero, ErrUnknownInstrument
	}
	return p, nil
}

func (q fixedQuotes) DailyCandles(context.Context, domain.Instrument, int) ([]domain.Candle, error) {
	return nil, nil
}

func newPaper(t *testing.T, cash int64) (*Paper, *paperstate.Store) {
	store, err := paperstate.NewStore(t.TempDir())
	require.NoError(t, err)

	p, err := NewPaper(fixedQuotes{"NIFTYBEES": decimal.NewFromInt(250)}, store, decimal.NewFromInt(cash), 0, zap.NewNop())
	require.NoError(t, err)
	return p, store
}

func order(side domain.Side, qty int64) domain.OrderRequest {
	return domain.OrderRequest{ClientOrderID: "c", Symbol: "NIFTYBEES", Side: side, Quantity: decimal.NewFromInt(qty)}
}

func TestPaper_BuyThenSell(t *testing.T) {
	p, store := newPaper(t, 10000)
	ctx := context.Background()

	res, err := p.PlaceOrder(ctx, order(domain.SideBuy, 10))
	require.NoError(t, err)
	assert.Equal(t, "paper-1", res.OrderID)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(250)))

	funds, err := p.Funds(ctx)
	require.NoError(t, err)
	assert.True(t, funds.Cash.Equal(decimal.NewFromInt(7500)))
	h, ok := funds.HoldingFor("NIFTYBEES")
	require.True(t, ok)
	assert.True(t, h.Quantity.Equal(decimal.NewFromInt(10)))

	_, err = p.PlaceOrder(ctx, order(domain.SideSell, 10))
	require.NoError(t, err)

	funds, err = p.Funds(ctx)
	require.NoError(t, err)
	assert.True(t, funds.Cash.Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, funds.Holdings)

	st, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, st.Fills, 2)
}

func TestPaper_RejectsOverspendWithoutStateChange(t *testing.T) {
	p, _ := newPaper(t, 1000)

	_, err := p.PlaceOrder(context.Background(), order(domain.SideBuy, 5))
	require.Error(t, err)

	funds, err := p.Funds(context.Background())
	require.NoError(t, err)
	assert.True(t, funds.Cash.Equal(decimal.NewFromInt(1000)))
}

func TestPaper_RejectsOversell(t *testing.T) {
	p, _ := newPaper(t, 1000)

	_, err := p.PlaceOrder(context.Background(), order(domain.SideSell, 1))
	require.Error(t, err)
}

func TestPaper_RestoresFromStore(t *testing.T) {
	p, store := newPaper(t, 10000)
	_, err := p.PlaceOrder(context.Background(), order(domain.SideBuy, 4))
	require.NoError(t, err)

	restored, err := NewPaper(fixedQuotes{"NIFTYBEES": decimal.NewFromInt(250)}, store, decimal.NewFromInt(1), 0, nil)
	require.NoError(t, err)

	funds, err := restored.Funds(context.Background())
	require.NoError(t, err)
	assert.True(t, funds.Cash.Equal(decimal.NewFromInt(9000)))

	res, err := restored.PlaceOrder(context.Background(), order(domain.SideBuy, 1))
	require.NoError(t, err)
	assert.Equal(t, "paper-2", res.OrderID)
}
