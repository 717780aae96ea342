// Package angelone is a minimal Angel One SmartAPI REST client.
package angelone

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/sipbot/pkg/retrier"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://apiconnect.angelone.in"

	loginPath    = "/rest/auth/angelbroking/user/v1/loginByPassword"
	holdingPath  = "/rest/secure/angelbroking/portfolio/v1/getHolding"
	rmsPath      = "/rest/secure/angelbroking/user/v1/getRMS"
	orderPath    = "/rest/secure/angelbroking/order/v1/placeOrder"
	ltpPath      = "/rest/secure/angelbroking/order/v1/getLtpData"
	candlesPath  = "/rest/secure/angelbroking/historical/v1/getCandleData"
	candleLayout = "2006-01-02 15:04"
)

// ErrSessionExpired is returned when the JWT is rejected.
var ErrSessionExpired = errors.New("angel one session expired")

// Credentials are the SmartAPI login secrets.
type Credentials struct {
	APIKey     string
	ClientCode string
	Password   string
	TOTPSecret string
}

// Client talks to SmartAPI. It logs in lazily and logs in again once when the
// session token is rejected.
type Client struct {
	http   *resty.Client
	creds  Credentials
	reads  *retrier.Retrier
	writes *retrier.Retrier
	logger *zap.Logger
	now    func() time.Time

	mu  sync.Mutex
	jwt string
}

func New(baseURL string, creds Credentials, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(20*time.Second).
		SetHeaders(map[string]string{
			"Content-Type":     "application/json",
			"Accept":           "application/json",
			"X-UserType":       "USER",
			"X-SourceID":       "WEB",
			"X-ClientLocalIP":  "127.0.0.1",
			"X-ClientPublicIP": "127.0.0.1",
			"X-MACAddress":     "00:00:00:00:00:00",
			"X-PrivateKey":     creds.APIKey,
		})

	return &Client{
		http:   client,
		creds:  creds,
		logger: logger,
		now:    time.Now,
		reads: retrier.New(
			retrier.WithMaxRetries(2),
			retrier.WithInitialInterval(time.Second),
			retrier.WithRetryIf(func(err error) bool { return !errors.Is(err, ErrSessionExpired) }),
		),
		// orders are never resent on transport errors
		writes: retrier.New(retrier.WithMaxRetries(0)),
	}
}

// Login opens a new session.
func (c *Client) Login(ctx context.Context) error {
	code, err := TOTP(c.creds.TOTPSecret, c.now())
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientcode": c.creds.ClientCode,
			"password":   c.creds.Password,
			"totp":       code,
		}).
		Post(loginPath)
	if err != nil {
		return errors.Wrap(err, "angel one login request")
	}

	data, err := envelope(resp)
	if err != nil {
		return errors.Wrap(err, "angel one login")
	}

	jwt := data.Get("jwtToken").String()
	if jwt == "" {
		return errors.New("angel one login returned no token")
	}

	c.mu.Lock()
	c.jwt = jwt
	c.mu.Unlock()

	c.logger.Info("angel one login successful", zap.String("client", c.creds.ClientCode))
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jwt
}

// call runs an authenticated request, logging in first when needed and once more on session expiry.
func (c *Client) call(ctx context.Context, method, path string, body interface{}) (gjson.Result, error) {
	if c.token() == "" {
		if err := c.Login(ctx); err != nil {
			return gjson.Result{}, err
		}
	}

	data, err := c.do(ctx, method, path, body)
	if errors.Is(err, ErrSessionExpired) {
		c.logger.Warn("angel one session expired, logging in again")
		if err := c.Login(ctx); err != nil {
			return gjson.Result{}, err
		}
		data, err = c.do(ctx, method, path, body)
	}

	return data, err
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (gjson.Result, error) {
	r := c.reads
	if path == orderPath {
		r = c.writes
	}

	return retrier.DoWithData(r, ctx, func(ctx context.Context) (gjson.Result, error) {
		req := c.http.R().SetContext(ctx).SetAuthToken(c.token())
		if body != nil {
			req.SetBody(body)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return gjson.Result{}, errors.Wrapf(err, "%s %s", method, path)
		}

		return envelope(resp)
	})
}

// envelope unwraps the {status, message, errorcode, data} response.
func envelope(resp *resty.Response) (gjson.Result, error) {
	body := resp.Body()
	code := gjson.GetBytes(body, "errorcode").String()

	if resp.StatusCode() == http.StatusUnauthorized || code == "AG8001" || code == "AG8002" {
		return gjson.Result{}, ErrSessionExpired
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return gjson.Result{}, errors.Errorf("angel one status %d", resp.StatusCode())
	}
	if !gjson.GetBytes(body, "status").Bool() {
		return gjson.Result{}, retrier.Permanent(errors.Errorf("angel one error %s: %s",
			code, gjson.GetBytes(body, "message").String()))
	}

	return gjson.GetBytes(body, "data"), nil
}

// Holding is one demat holding.
type Holding struct {
	TradingSymbol string
	Exchange      string
	SymbolToken   string
	Quantity      string
	AveragePrice  string
}

func (c *Client) Holdings(ctx context.Context) ([]Holding, error) {
	data, err := c.call(ctx, http.MethodGet, holdingPath, nil)
	if err != nil {
		return nil, err
	}

	var out []Holding
	data.ForEach(func(_, h gjson.Result) bool {
		out = append(out, Holding{
			TradingSymbol: h.Get("tradingsymbol").String(),
			Exchange:      h.Get("exchange").String(),
			SymbolToken:   h.Get("symboltoken").String(),
			Quantity:      h.Get("quantity").String(),
			AveragePrice:  h.Get("averageprice").String(),
		})
		return true
	})

	return out, nil
}

// AvailableCash returns the RMS available cash as a decimal string.
func (c *Client) AvailableCash(ctx context.Context) (string, error) {
	data, err := c.call(ctx, http.MethodGet, rmsPath, nil)
	if err != nil {
		return "", err
	}
	return data.Get("availablecash").String(), nil
}

// LTP returns the last traded price of an instrument as a decimal string.
func (c *Client) LTP(ctx context.Context, exchange, symbol, token string) (string, error) {
	data, err := c.call(ctx, http.MethodPost, ltpPath, map[string]string{
		"exchange":      exchange,
		"tradingsymbol": symbol,
		"symboltoken":   token,
	})
	if err != nil {
		return "", err
	}

	ltp := data.Get("ltp")
	if !ltp.Exists() {
		return "", errors.Errorf("no ltp for %s", symbol)
	}
	return ltp.String(), nil
}

// Candle is a raw [time, open, high, low, close, volume] row.
type Candle struct {
	Time                           string
	Open, High, Low, Close, Volume string
}

func (c *Client) DailyCandles(ctx context.Context, exchange, token string, from, to time.Time) ([]Candle, error) {
	data, err := c.call(ctx, http.MethodPost, candlesPath, map[string]string{
		"exchange":    exchange,
		"symboltoken": token,
		"interval":    "ONE_DAY",
		"fromdate":    from.Format(candleLayout),
		"todate":      to.Format(candleLayout),
	})
	if err != nil {
		return nil, err
	}

	var out []Candle
	data.ForEach(func(_, row gjson.Result) bool {
		r := row.Array()
		if len(r) < 6 {
			return true
		}
		out = append(out, Candle{
			Time:   r[0].String(),
			Open:   r[1].String(),
			High:   r[2].String(),
			Low:    r[3].String(),
			Close:  r[4].String(),
			Volume: r[5].String(),
		})
		return true
	})

	return out, nil
}

// Order is a delivery market order.
type Order struct {
	Symbol          string
	Token           string
	Exchange        string
	TransactionType string
	Quantity        string
}

// PlaceOrder submits the order and returns the broker order id.
func (c *Client) PlaceOrder(ctx context.Context, o Order) (string, error) {
	data, err := c.call(ctx, http.MethodPost, orderPath, map[string]string{
		"variety":         "NORMAL",
		"tradingsymbol":   o.Symbol,
		"symboltoken":     o.Token,
		"transactiontype": o.TransactionType,
		"exchange":        o.Exchange,
		"ordertype":       "MARKET",
		"producttype":     "DELIVERY",
		"duration":        "DAY",
		"quantity":        o.Quantity,
		"price":           "0",
	})
	if err != nil {
		return "", err
	}

	id := data.Get("orderid").String()
	if id == "" {
		return "", errors.New("angel one accepted order without id")
	}
	return id, nil
}
