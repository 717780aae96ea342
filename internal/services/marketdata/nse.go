// Package marketdata supplies market status, valuation and indicator context
// for the trading cycle.
package marketdata

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	NSEBaseURL = "https://www.nseindia.com"

	nseMarketStatusPath = "/api/marketStatus"
	nseAllIndicesPath   = "/api/allIndices"
	nseCapitalMarket    = "Capital Market"
	nseUserAgent        = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// DefaultIndex is the index whose valuation is added to every prompt.
	DefaultIndex = "NIFTY 50"
)

// NSE reads market status and index valuation from the public NSE endpoints.
// The site rejects API calls without the cookies set by its homepage, so the
// client warms up the cookie jar before the first call and after a 401/403.
type NSE struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	warmed bool
}

func NewNSE(baseURL string, logger *zap.Logger) *NSE {
	if baseURL == "" {
		baseURL = NSEBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10*time.Second).
		SetHeader("User-Agent", nseUserAgent).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Referer", strings.TrimRight(baseURL, "/")+"/")

	return &NSE{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
		logger:  logger,
	}
}

// IsMarketOpen reports whether the equity (Capital Market) segment is open.
func (n *NSE) IsMarketOpen(ctx context.Context) (bool, error) {
	body, err := n.get(ctx, nseMarketStatusPath)
	if err != nil {
		return false, err
	}

	var status string
	gjson.GetBytes(body, "marketState").ForEach(func(_, v gjson.Result) bool {
		if v.Get("market").String() == nseCapitalMarket {
			status = v.Get("marketStatus").String()
			return false
		}
		return true
	})
	if status == "" {
		return false, errors.New("capital market segment missing from NSE market status")
	}

	return strings.EqualFold(status, "Open"), nil
}

// IndexValuation returns PE/PB/dividend yield of the named index.
func (n *NSE) IndexValuation(ctx context.Context, index string) (*domain.IndexValuation, error) {
	if index == "" {
		index = DefaultIndex
	}

	body, err := n.get(ctx, nseAllIndicesPath)
	if err != nil {
		return nil, err
	}

	var found *domain.IndexValuation
	gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
		if !strings.EqualFold(v.Get("index").String(), index) {
			return true
		}
		found = &domain.IndexValuation{
			Index:         v.Get("index").String(),
			Last:          jsonDecimal(v.Get("last")),
			PE:            jsonDecimal(v.Get("pe")),
			PB:            jsonDecimal(v.Get("pb")),
			DividendYield: jsonDecimal(v.Get("dyield")),
		}
		return false
	})
	if found == nil {
		return nil, errors.Errorf("index %q not found in NSE allIndices", index)
	}

	return found, nil
}

func (n *NSE) get(ctx context.Context, path string) ([]byte, error) {
	if err := n.warmUp(ctx, false); err != nil {
		return nil, err
	}

	body, status, err := n.fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == 401 || status == 403 {
		n.logger.Debug("NSE rejected request, refreshing cookies", zap.String("path", path), zap.Int("status", status))
		if err := n.warmUp(ctx, true); err != nil {
			return nil, err
		}
		if body, status, err = n.fetch(ctx, path); err != nil {
			return nil, err
		}
	}
	if status != 200 {
		return nil, errors.Errorf("NSE %s returned status %d", path, status)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.Errorf("NSE %s returned invalid JSON", path)
	}

	return body, nil
}

func (n *NSE) fetch(ctx context.Context, path string) ([]byte, int, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	resp, err := n.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "NSE %s", path)
	}

	return resp.Body(), resp.StatusCode(), nil
}

func (n *NSE) warmUp(ctx context.Context, force bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.warmed && !force {
		return nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := n.client.R().SetContext(ctx).SetHeader("Accept", "text/html").Get("/")
	if err != nil {
		return errors.Wrap(err, "NSE cookie warm-up")
	}
	if resp.IsError() {
		return errors.Errorf("NSE cookie warm-up returned status %d", resp.StatusCode())
	}
	n.warmed = true

	return nil
}

// jsonDecimal reads numbers NSE sends either as JSON numbers or as strings with separators.
func jsonDecimal(v gjson.Result) decimal.Decimal {
	raw := strings.ReplaceAll(strings.TrimSpace(v.String()), ",", "")
	if raw == "" || raw == "-" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}
