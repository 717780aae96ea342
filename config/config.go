// Package config loads the bot configuration from YAML and secrets from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	PlatformAngelOne    = "angelone"
	PlatformPaper       = "paper"
	PlatformBinance     = "binance"
	PlatformBybit       = "bybit"
	PlatformHyperliquid = "hyperliquid"

	ProviderOpenAI = "openai"
	ProviderEino   = "eino"

	VenueNSE      = "nse"
	VenueYahoo    = "yahoo"
	VenueCalendar = "calendar"
	VenueNone     = "none"
)

type Config struct {
	Active      bool
	AutoExecute bool
	MinBalance  decimal.Decimal
	Currency    string

	Broker   Broker
	Oracle   Oracle
	Market   Market
	Schedule Schedule
	Storage  Storage
	Notify   Notify
	Web      Web

	Instruments []domain.Instrument
	Secrets     Secrets
}

type Broker struct {
	Platform          string
	BaseURL           string
	QuoteAsset        string
	QuantityPrecision int32
	Paper             Paper
}

type Paper struct {
	InitialCash decimal.Decimal
	StateDir    string
	// Quotes is the price source of the paper broker: yahoo or binance.
	Quotes string
}

type Oracle struct {
	Provider         string
	APIURL           string
	Model            string
	MaxTokens        int
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type Market struct {
	Venue       string
	YahooSuffix string
	Index       string
	HistoryDays int
}

type Schedule struct {
	Mode           string
	Interval       time.Duration
	DailyAt        string
	Minute         int
	Timezone       string
	Weekdays       bool
	RunImmediately bool
}

type Storage struct {
	DBPath string
	WALDir string
}

type Notify struct {
	Enabled      bool
	APIURL       string
	ChatIDs      []string
	CycleSummary bool
}

type Web struct {
	Addr       string
	TLSDomains []string
	CertCache  string
}

// Secrets never live in the YAML file.
type Secrets struct {
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	LLMAPIKey     string
	TelegramToken string
	WebToken      string

	BinanceAPIKey    string
	BinanceAPISecret string
	BybitAPIKey      string
	BybitAPISecret   string
	HyperliquidKey   string
}

type ConfigTmp struct {
	Active      *bool           `yaml:"active,omitempty"`
	AutoExecute bool            `yaml:"auto_execute"`
	MinBalance  string          `yaml:"min_balance,omitempty"`
	Currency    string          `yaml:"currency,omitempty"`
	Broker      BrokerTmp       `yaml:"broker"`
	Oracle      OracleTmp       `yaml:"oracle"`
	Market      MarketTmp       `yaml:"market,omitempty"`
	Schedule    ScheduleTmp     `yaml:"schedule,omitempty"`
	Storage     StorageTmp      `yaml:"storage,omitempty"`
	Notify      NotifyTmp       `yaml:"notify,omitempty"`
	Web         WebTmp          `yaml:"web,omitempty"`
	Instruments []InstrumentTmp `yaml:"instruments,omitempty"`
}

type BrokerTmp struct {
	Platform          string   `yaml:"platform"`
	BaseURL           string   `yaml:"base_url,omitempty"`
	QuoteAsset        string   `yaml:"quote_asset,omitempty"`
	QuantityPrecision *int32   `yaml:"quantity_precision,omitempty"`
	Paper             PaperTmp `yaml:"paper,omitempty"`
}

type PaperTmp struct {
	InitialCash string `yaml:"initial_cash,omitempty"`
	StateDir    string `yaml:"state_dir,omitempty"`
	Quotes      string `yaml:"quotes,omitempty"`
}

type OracleTmp struct {
	Provider         string        `yaml:"provider,omitempty"`
	APIURL           string        `yaml:"api_url,omitempty"`
	Model            string        `yaml:"model,omitempty"`
	MaxTokens        int           `yaml:"max_tokens,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
	Cooldown         time.Duration `yaml:"cooldown,omitempty"`
}

type MarketTmp struct {
	Venue       string `yaml:"venue,omitempty"`
	YahooSuffix string `yaml:"yahoo_suffix,omitempty"`
	Index       string `yaml:"index,omitempty"`
	HistoryDays int    `yaml:"history_days,omitempty"`
}

type ScheduleTmp struct {
	Mode           string        `yaml:"mode,omitempty"`
	Interval       time.Duration `yaml:"interval,omitempty"`
	DailyAt        string        `yaml:"daily_at,omitempty"`
	Minute         int           `yaml:"minute,omitempty"`
	Timezone       string        `yaml:"timezone,omitempty"`
	Weekdays       bool          `yaml:"weekdays,omitempty"`
	RunImmediately bool          `yaml:"run_immediately,omitempty"`
}

type StorageTmp struct {
	DBPath string `yaml:"db_path,omitempty"`
	WALDir string `yaml:"wal_dir,omitempty"`
}

type NotifyTmp struct {
	Enabled      bool     `yaml:"enabled,omitempty"`
	APIURL       string   `yaml:"api_url,omitempty"`
	ChatIDs      []string `yaml:"chat_ids,omitempty"`
	CycleSummary bool     `yaml:"cycle_summary,omitempty"`
}

type WebTmp struct {
	Addr       string   `yaml:"addr,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
}

type InstrumentTmp struct {
	Symbol           string `yaml:"symbol"`
	Exchange         string `yaml:"exchange,omitempty"`
	Token            string `yaml:"token,omitempty"`
	Mode             string `yaml:"mode,omitempty"`
	Quantity         string `yaml:"quantity,omitempty"`
	AvgPrice         string `yaml:"avg_price,omitempty"`
	SIPAmount        string `yaml:"sip_amount,omitempty"`
	SIPFrequencyDays int    `yaml:"sip_frequency_days,omitempty"`
	OrderQuantity    string `yaml:"order_quantity,omitempty"`
	Notes            string `yaml:"notes,omitempty"`
}

// Load reads the YAML file at path and the secrets from the environment.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.Secrets = SecretsFromEnv()

	return cfg, nil
}

// Parse converts YAML into a validated Config with defaults applied. Secrets are left empty.
func Parse(data []byte) (*Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return nil, errors.Wrap(err, "parse yaml config")
	}
	return tmp.Build()
}

// Build validates the raw config and fills defaults.
func (c ConfigTmp) Build() (*Config, error) {
	cfg := &Config{
		Active:      true,
		AutoExecute: c.AutoExecute,
		Currency:    orDefault(c.Currency, "₹"),
	}
	if c.Active != nil {
		cfg.Active = *c.Active
	}

	var err error
	if cfg.MinBalance, err = parseDecimal(c.MinBalance, "min_balance", decimal.Zero); err != nil {
		return nil, err
	}
	if cfg.MinBalance.IsNegative() {
		return nil, errors.New("incorrect 'min_balance' param in yaml config: must not be negative")
	}

	if cfg.Broker, err = c.Broker.build(); err != nil {
		return nil, err
	}
	if cfg.Oracle, err = c.Oracle.build(); err != nil {
		return nil, err
	}
	if cfg.Market, err = c.Market.build(cfg.Broker.Platform); err != nil {
		return nil, err
	}
	if cfg.Schedule, err = c.Schedule.build(); err != nil {
		return nil, err
	}

	cfg.Storage = Storage{
		DBPath: orDefault(c.Storage.DBPath, "./data/sipbot.db"),
		WALDir: orDefault(c.Storage.WALDir, "./wal/audit"),
	}

	cfg.Notify = Notify{
		Enabled:      c.Notify.Enabled,
		APIURL:       c.Notify.APIURL,
		ChatIDs:      c.Notify.ChatIDs,
		CycleSummary: c.Notify.CycleSummary,
	}
	if cfg.Notify.Enabled && len(cfg.Notify.ChatIDs) == 0 {
		return nil, errors.New("incorrect 'notify' section in yaml config: chat_ids are required when enabled")
	}

	cfg.Web = Web{
		Addr:       orDefault(c.Web.Addr, ":8080"),
		TLSDomains: c.Web.TLSDomains,
		CertCache:  orDefault(c.Web.CertCache, "./certs"),
	}

	seen := make(map[string]struct{}, len(c.Instruments))
	for i, it := range c.Instruments {
		inst, err := it.build()
		if err != nil {
			return nil, errors.Wrapf(err, "instruments[%d]", i)
		}
		if _, dup := seen[inst.Symbol]; dup {
			return nil, errors.Errorf("instruments[%d]: duplicate symbol %s", i, inst.Symbol)
		}
		seen[inst.Symbol] = struct{}{}
		cfg.Instruments = append(cfg.Instruments, inst)
	}

	return cfg, nil
}

func (b BrokerTmp) build() (Broker, error) {
	out := Broker{
		Platform:   strings.ToLower(orDefault(b.Platform, PlatformPaper)),
		BaseURL:    b.BaseURL,
		QuoteAsset: b.QuoteAsset,
	}

	switch out.Platform {
	case PlatformAngelOne, PlatformPaper:
		out.QuantityPrecision = 0
	case PlatformBinance, PlatformBybit, PlatformHyperliquid:
		out.QuantityPrecision = 5
		out.QuoteAsset = strings.ToUpper(orDefault(out.QuoteAsset, "USDT"))
		if out.Platform == PlatformHyperliquid && b.QuoteAsset == "" {
			out.QuoteAsset = "USDC"
		}
	default:
		return Broker{}, errors.Errorf("incorrect 'broker.platform' param in yaml config: unsupported platform %q", b.Platform)
	}
	if b.QuantityPrecision != nil {
		if *b.QuantityPrecision < 0 || *b.QuantityPrecision > 8 {
			return Broker{}, errors.Errorf("incorrect 'broker.quantity_precision' param in yaml config: %d not in 0..8", *b.QuantityPrecision)
		}
		out.QuantityPrecision = *b.QuantityPrecision
	}

	cash, err := parseDecimal(b.Paper.InitialCash, "broker.paper.initial_cash", decimal.NewFromInt(100000))
	if err != nil {
		return Broker{}, err
	}
	out.Paper = Paper{
		InitialCash: cash,
		StateDir:    orDefault(b.Paper.StateDir, "./data/paper"),
		Quotes:      strings.ToLower(orDefault(b.Paper.Quotes, VenueYahoo)),
	}
	if out.Paper.Quotes != VenueYahoo && out.Paper.Quotes != PlatformBinance {
		return Broker{}, errors.Errorf("incorrect 'broker.paper.quotes' param in yaml config: %q (yahoo or binance)", b.Paper.Quotes)
	}

	return out, nil
}

func (o OracleTmp) build() (Oracle, error) {
	out := Oracle{
		Provider:         strings.ToLower(orDefault(o.Provider, ProviderOpenAI)),
		APIURL:           orDefault(o.APIURL, "https://openrouter.ai/api/v1/chat/completions"),
		Model:            orDefault(o.Model, "deepseek/deepseek-chat"),
		MaxTokens:        o.MaxTokens,
		Timeout:          o.Timeout,
		FailureThreshold: o.FailureThreshold,
		Cooldown:         o.Cooldown,
	}
	if out.Provider != ProviderOpenAI && out.Provider != ProviderEino {
		return Oracle{}, errors.Errorf("incorrect 'oracle.provider' param in yaml config: %q", o.Provider)
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 1024
	}
	if out.Timeout <= 0 {
		out.Timeout = 60 * time.Second
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.Cooldown <= 0 {
		out.Cooldown = 5 * time.Minute
	}
	return out, nil
}

func (m MarketTmp) build(platform string) (Market, error) {
	venue := VenueNSE
	switch platform {
	case PlatformBinance, PlatformBybit, PlatformHyperliquid:
		// crypto venues never close
		venue = VenueNone
	}

	out := Market{
		Venue:       strings.ToLower(orDefault(m.Venue, venue)),
		YahooSuffix: orDefault(m.YahooSuffix, ".NS"),
		Index:       orDefault(m.Index, "NIFTY 50"),
		HistoryDays: m.HistoryDays,
	}
	switch out.Venue {
	case VenueNSE, VenueYahoo, VenueCalendar, VenueNone:
	default:
		return Market{}, errors.Errorf("incorrect 'market.venue' param in yaml config: %q", m.Venue)
	}
	if out.HistoryDays <= 0 {
		out.HistoryDays = 90
	}
	return out, nil
}

func (s ScheduleTmp) build() (Schedule, error) {
	out := Schedule{
		Mode:           strings.ToLower(orDefault(s.Mode, "interval")),
		Interval:       s.Interval,
		DailyAt:        s.DailyAt,
		Minute:         s.Minute,
		Timezone:       orDefault(s.Timezone, "Asia/Kolkata"),
		Weekdays:       s.Weekdays,
		RunImmediately: s.RunImmediately,
	}
	if out.Interval <= 0 {
		out.Interval = 30 * time.Minute
	}
	if out.Mode == "daily" && out.DailyAt == "" {
		return Schedule{}, errors.New("incorrect 'schedule' section in yaml config: daily_at is required for daily mode")
	}
	if _, err := time.LoadLocation(out.Timezone); err != nil {
		return Schedule{}, errors.Wrapf(err, "incorrect 'schedule.timezone' param in yaml config")
	}
	return out, nil
}

func (it InstrumentTmp) build() (domain.Instrument, error) {
	mode, err := domain.ParseMode(it.Mode)
	if err != nil {
		return domain.Instrument{}, err
	}

	inst := domain.Instrument{
		Symbol:           strings.ToUpper(strings.TrimSpace(it.Symbol)),
		Exchange:         strings.ToUpper(orDefault(it.Exchange, "NSE")),
		BrokerToken:      it.Token,
		Mode:             mode,
		SIPFrequencyDays: it.SIPFrequencyDays,
		Notes:            it.Notes,
	}
	if inst.Quantity, err = parseDecimal(it.Quantity, "quantity", decimal.Zero); err != nil {
		return domain.Instrument{}, err
	}
	if inst.AvgPrice, err = parseDecimal(it.AvgPrice, "avg_price", decimal.Zero); err != nil {
		return domain.Instrument{}, err
	}
	if inst.SIPAmount, err = parseDecimal(it.SIPAmount, "sip_amount", decimal.Zero); err != nil {
		return domain.Instrument{}, err
	}
	if inst.OrderQuantity, err = parseDecimal(it.OrderQuantity, "order_quantity", decimal.Zero); err != nil {
		return domain.Instrument{}, err
	}
	if mode == domain.ModeSIP && inst.SIPFrequencyDays <= 0 {
		inst.SIPFrequencyDays = 30
	}
	if mode == domain.ModeBuy && inst.OrderQuantity.IsZero() {
		inst.OrderQuantity = decimal.NewFromInt(1)
	}

	if err := inst.Validate(); err != nil {
		return domain.Instrument{}, err
	}
	return inst, nil
}

// SecretsFromEnv reads credentials from the process environment.
func SecretsFromEnv() Secrets {
	return Secrets{
		AngelAPIKey:      os.Getenv("ANGEL_API_KEY"),
		AngelClientCode:  os.Getenv("ANGEL_CLIENT_CODE"),
		AngelPassword:    os.Getenv("ANGEL_PASSWORD"),
		AngelTOTPSecret:  os.Getenv("ANGEL_TOTP_SECRET"),
		LLMAPIKey:        os.Getenv("LLM_API_KEY"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebToken:         os.Getenv("WEB_API_TOKEN"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BybitAPIKey:      os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:   os.Getenv("BYBIT_API_SECRET"),
		HyperliquidKey:   os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
	}
}

// RequireSecrets checks that the credentials of the configured integrations are present.
func (c *Config) RequireSecrets() error {
	var missing []string
	need := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}

	s := c.Secrets
	switch c.Broker.Platform {
	case PlatformAngelOne:
		need(s.AngelAPIKey, "ANGEL_API_KEY")
		need(s.AngelClientCode, "ANGEL_CLIENT_CODE")
		need(s.AngelPassword, "ANGEL_PASSWORD")
		need(s.AngelTOTPSecret, "ANGEL_TOTP_SECRET")
	case PlatformBinance:
		need(s.BinanceAPIKey, "BINANCE_API_KEY")
		need(s.BinanceAPISecret, "BINANCE_API_SECRET")
	case PlatformBybit:
		need(s.BybitAPIKey, "BYBIT_API_KEY")
		need(s.BybitAPISecret, "BYBIT_API_SECRET")
	case PlatformHyperliquid:
		need(s.HyperliquidKey, "HYPERLIQUID_PRIVATE_KEY")
	}
	need(s.LLMAPIKey, "LLM_API_KEY")
	if c.Notify.Enabled {
		need(s.TelegramToken, "TELEGRAM_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseDecimal(v, field string, def decimal.Decimal) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "incorrect '%s' param in yaml config (must be a decimal)", field)
	}
	return d, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}
