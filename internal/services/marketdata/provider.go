package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"github.com/vadiminshakov/sipbot/pkg/indicators"
	"go.uber.org/zap"
)

const defaultValuationTTL = time.Hour

// FundamentalsSource returns per-instrument valuation.
type FundamentalsSource interface {
	Fundamentals(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error)
}

// IndexSource returns a broad index valuation.
type IndexSource interface {
	IndexValuation(ctx context.Context, index string) (*domain.IndexValuation, error)
}

// Provider assembles the market context of an oracle prompt. Every source is
// optional; a missing source yields an error the prompt renders as unavailable.
type Provider struct {
	fundamentals FundamentalsSource
	index        IndexSource
	indexName    string
	ttl          time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu        sync.Mutex
	cached    *domain.IndexValuation
	cachedAt  time.Time
	fundCache map[string]fundEntry
}

type fundEntry struct {
	value *domain.Fundamentals
	at    time.Time
}

func NewProvider(fundamentals FundamentalsSource, index IndexSource, indexName string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if indexName == "" {
		indexName = DefaultIndex
	}

	return &Provider{
		fundamentals: fundamentals,
		index:        index,
		indexName:    indexName,
		ttl:          defaultValuationTTL,
		logger:       logger,
		now:          time.Now,
		fundCache:    make(map[string]fundEntry),
	}
}

// Technicals computes RSI/MACD/EMA/ATR from daily candles.
func (p *Provider) Technicals(candles []domain.Candle) (*domain.Technicals, error) {
	return indicators.Latest(candles)
}

// Fundamentals returns the instrument valuation, cached for an hour.
func (p *Provider) Fundamentals(ctx context.Context, inst domain.Instrument) (*domain.Fundamentals, error) {
	if p.fundamentals == nil {
		return nil, errors.New("no fundamentals source configured")
	}

	p.mu.Lock()
	if e, ok := p.fundCache[inst.Symbol]; ok && p.now().Sub(e.at) < p.ttl {
		p.mu.Unlock()
		return e.value, nil
	}
	p.mu.Unlock()

	f, err := p.fundamentals.Fundamentals(ctx, inst)
	if err != nil {
		p.logger.Debug("fundamentals unavailable", zap.String("symbol", inst.Symbol), zap.Error(err))
		return nil, err
	}

	p.mu.Lock()
	p.fundCache[inst.Symbol] = fundEntry{value: f, at: p.now()}
	p.mu.Unlock()

	return f, nil
}

// IndexValuation returns the configured index valuation, cached for an hour.
func (p *Provider) IndexValuation(ctx context.Context) (*domain.IndexValuation, error) {
	if p.index == nil {
		return nil, errors.New("no index source configured")
	}

	p.mu.Lock()
	if p.cached != nil && p.now().Sub(p.cachedAt) < p.ttl {
		v := p.cached
		p.mu.Unlock()
		return v, nil
	}
	p.mu.Unlock()

	v, err := p.index.IndexValuation(ctx, p.indexName)
	if err != nil {
		p.logger.Debug("index valuation unavailable", zap.String("index", p.indexName), zap.Error(err))
		return nil, err
	}

	p.mu.Lock()
	p.cached = v
	p.cachedAt = p.now()
	p.mu.Unlock()

	return v, nil
}
