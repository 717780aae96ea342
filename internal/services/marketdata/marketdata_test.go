package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

const marketStatusOpen = `{"marketState":[
 {"market":"Currency","marketStatus":"Close"},
 {"market":"Capital Market","marketStatus":"Open","tradeDate":"02-Mar-2026"}
]}`

const allIndices = `{"data":[
 {"index":"NIFTY 50","last":22450.35,"pe":"21.84","pb":"3.71","dyield":"1.32"},
 {"index":"NIFTY 500","last":20510.1,"pe":"24.1","pb":"4.2","dyield":"1.1"}
]}`

func nseStub(t *testing.T, status string, rejectFirst bool) (*httptest.Server, *int32) {
	t.Helper()
	var homepageHits int32
	var rejected int32

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&homepageHits, 1)
		http.SetCookie(w, &http.Cookie{Name: "nsit", Value: "abc", Path: "/"})
		_, _ = w.Write([]byte("<html></html>"))
	})
	serveJSON := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if _, err := r.Cookie("nsit"); err != nil {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if rejectFirst && atomic.CompareAndSwapInt32(&rejected, 0, 1) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/api/marketStatus", serveJSON(status))
	mux.HandleFunc("/api/allIndices", serveJSON(allIndices))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &homepageHits
}

func TestNSE_IsMarketOpen(t *testing.T) {
	srv, hits := nseStub(t, marketStatusOpen, false)
	nse := NewNSE(srv.URL, zap.NewNop())

	open, err := nse.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)

	_, err = nse.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "cookies are fetched once")
}

func TestNSE_RefreshesCookiesOnReject(t *testing.T) {
	srv, hits := nseStub(t, marketStatusOpen, true)
	nse := NewNSE(srv.URL, zap.NewNop())

	open, err := nse.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestNSE_MissingSegmentIsError(t *testing.T) {
	srv, _ := nseStub(t, `{"marketState":[{"market":"Currency","marketStatus":"Open"}]}`, false)
	nse := NewNSE(srv.URL, zap.NewNop())

	_, err := nse.IsMarketOpen(context.Background())
	require.Error(t, err)
}

func TestNSE_IndexValuation(t *testing.T) {
	srv, _ := nseStub(t, marketStatusOpen, false)
	nse := NewNSE(srv.URL, zap.NewNop())

	v, err := nse.IndexValuation(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "NIFTY 50", v.Index)
	assert.True(t, v.PE.Equal(decimal.RequireFromString("21.84")))
	assert.True(t, v.DividendYield.Equal(decimal.RequireFromString("1.32")))
	assert.True(t, v.Last.Equal(decimal.RequireFromString("22450.35")))

	_, err = nse.IndexValuation(context.Background(), "NIFTY BANK")
	require.Error(t, err)
}

func TestHours_OpenAt(t *testing.T) {
	h, err := NSEHours()
	require.NoError(t, err)
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 2, 9, 14, 0, 0, ist), false},
		{"at open", time.Date(2026, 3, 2, 9, 15, 0, 0, ist), true},
		{"midday utc input", time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), true},
		{"at close", time.Date(2026, 3, 2, 15, 30, 0, 0, ist), false},
		{"saturday", time.Date(2026, 3, 7, 11, 0, 0, 0, ist), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.OpenAt(tt.at))
		})
	}
}

type venueStub struct {
	open  bool
	err   error
	calls int
}

func (v *venueStub) IsMarketOpen(context.Context) (bool, error) {
	v.calls++
	return v.open, v.err
}

func TestGuarded_SkipsPrimaryOutsideSession(t *testing.T) {
	h, err := NSEHours()
	require.NoError(t, err)
	h.now = func() time.Time { return time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC) }

	primary := &venueStub{open: true}
	open, err := NewGuarded(primary, h).IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.False(t, open)
	assert.Zero(t, primary.calls)

	h.now = func() time.Time { return time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC) }
	primary.err = errors.New("timeout")
	_, err = NewGuarded(primary, h).IsMarketOpen(context.Background())
	require.Error(t, err)
}

func TestYahoo_SymbolAndFundamentals(t *testing.T) {
	y := NewYahoo("", "")
	assert.Equal(t, "NIFTYBEES.NS", y.Symbol(domain.Instrument{Symbol: "NIFTYBEES-EQ"}))
	assert.Equal(t, "TCS.BO", y.Symbol(domain.Instrument{Symbol: "tcs", Exchange: "BSE"}))
	assert.Equal(t, "^NSEI", y.Symbol(domain.Instrument{Symbol: "^NSEI"}))

	y.equityFn = func(symbol string) (*finance.Equity, error) {
		require.Equal(t, "INFY.NS", symbol)
		e := &finance.Equity{TrailingPE: 24.5, PriceToBook: 7.1, TrailingAnnualDividendYield: 0.025, MarketCap: 6000000000000}
		e.FiftyTwoWeekHigh = 2000
		e.FiftyTwoWeekLow = 1350
		return e, nil
	}

	f, err := y.Fundamentals(context.Background(), domain.Instrument{Symbol: "INFY"})
	require.NoError(t, err)
	assert.True(t, f.TrailingPE.Equal(decimal.RequireFromString("24.5")))
	assert.True(t, f.DividendYield.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, f.FiftyTwoWeekLow.Equal(decimal.NewFromInt(1350)))
}

func TestYahoo_MarketState(t *testing.T) {
	y := NewYahoo("", "")
	y.quoteFn = func(string) (*finance.Quote, error) {
		return &finance.Quote{MarketState: "REGULAR", RegularMarketPrice: 22000}, nil
	}
	open, err := y.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.True(t, open)

	y.quoteFn = func(string) (*finance.Quote, error) { return &finance.Quote{MarketState: "CLOSED"}, nil }
	open, err = y.IsMarketOpen(context.Background())
	require.NoError(t, err)
	assert.False(t, open)

	y.quoteFn = func(string) (*finance.Quote, error) { return &finance.Quote{}, nil }
	_, err = y.IsMarketOpen(context.Background())
	require.Error(t, err)

	_, err = y.LastPrice(context.Background(), domain.Instrument{Symbol: "TCS"})
	require.Error(t, err)
}

type indexStub struct {
	calls int
}

func (s *indexStub) IndexValuation(_ context.Context, index string) (*domain.IndexValuation, error) {
	s.calls++
	return &domain.IndexValuation{Index: index, PE: decimal.NewFromInt(22)}, nil
}

func TestProvider_CachesIndexValuation(t *testing.T) {
	idx := &indexStub{}
	p := NewProvider(nil, idx, "", zap.NewNop())
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := p.IndexValuation(context.Background())
		require.NoError(t, err)
		assert.Equal(t, DefaultIndex, v.Index)
	}
	assert.Equal(t, 1, idx.calls)

	now = now.Add(2 * time.Hour)
	_, err := p.IndexValuation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx.calls)

	_, err = p.Fundamentals(context.Background(), domain.Instrument{Symbol: "TCS"})
	assert.Error(t, err)

	_, err = p.Technicals(nil)
	assert.Error(t, err)
}
