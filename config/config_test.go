package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const fullConfig = `
active: true
auto_execute: true
min_balance: "1000"
broker:
  platform: angelone
oracle:
  provider: eino
  api_url: https://api.deepseek.com/v1
  model: deepseek-chat
  timeout: 45s
market:
  venue: yahoo
schedule:
  mode: daily
  daily_at: "09:30"
  weekdays: true
notify:
  enabled: true
  chat_ids: ["111", "222"]
instruments:
  - symbol: niftybees
    token: "10576"
    mode: sip
    sip_amount: "5000"
  - symbol: TCS
    mode: buy
  - symbol: INFY
    mode: sell
    quantity: "4"
    avg_price: "1500.50"
`

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	assert.True(t, cfg.Active)
	assert.True(t, cfg.AutoExecute)
	assert.Equal(t, "1000", cfg.MinBalance.String())
	assert.Equal(t, PlatformAngelOne, cfg.Broker.Platform)
	assert.Equal(t, int32(0), cfg.Broker.QuantityPrecision)
	assert.Equal(t, ProviderEino, cfg.Oracle.Provider)
	assert.Equal(t, 45*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 5, cfg.Oracle.FailureThreshold)
	assert.Equal(t, VenueYahoo, cfg.Market.Venue)
	assert.Equal(t, "daily", cfg.Schedule.Mode)
	assert.True(t, cfg.Schedule.Weekdays)
	assert.Equal(t, []string{"111", "222"}, cfg.Notify.ChatIDs)

	require.Len(t, cfg.Instruments, 3)
	sip := cfg.Instruments[0]
	assert.Equal(t, "NIFTYBEES", sip.Symbol)
	assert.Equal(t, "NSE", sip.Exchange)
	assert.Equal(t, "10576", sip.BrokerToken)
	assert.Equal(t, domain.ModeSIP, sip.Mode)
	assert.Equal(t, 30, sip.SIPFrequencyDays)
	assert.Equal(t, "5000", sip.SIPAmount.String())

	assert.Equal(t, "1", cfg.Instruments[1].OrderQuantity.String())
	assert.Equal(t, "1500.5", cfg.Instruments[2].AvgPrice.String())
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("broker:\n  platform: binance\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Active)
	assert.False(t, cfg.AutoExecute)
	assert.Equal(t, "USDT", cfg.Broker.QuoteAsset)
	assert.Equal(t, int32(5), cfg.Broker.QuantityPrecision)
	assert.Equal(t, VenueNone, cfg.Market.Venue)
	assert.Equal(t, 90, cfg.Market.HistoryDays)
	assert.Equal(t, ProviderOpenAI, cfg.Oracle.Provider)
	assert.Equal(t, 30*time.Minute, cfg.Schedule.Interval)
	assert.Equal(t, "./data/sipbot.db", cfg.Storage.DBPath)
	assert.Equal(t, ":8080", cfg.Web.Addr)

	cfg, err = Parse([]byte("active: false\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Active)
	assert.Equal(t, PlatformPaper, cfg.Broker.Platform)
	assert.Equal(t, VenueNSE, cfg.Market.Venue)
	assert.Equal(t, "100000", cfg.Broker.Paper.InitialCash.String())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad decimal", "min_balance: abc\n", "min_balance"},
		{"negative balance", "min_balance: \"-5\"\n", "min_balance"},
		{"platform", "broker:\n  platform: ftx\n", "broker.platform"},
		{"provider", "oracle:\n  provider: bard\n", "oracle.provider"},
		{"venue", "market:\n  venue: moon\n", "market.venue"},
		{"daily without time", "schedule:\n  mode: daily\n", "daily_at"},
		{"timezone", "schedule:\n  timezone: Mars/Base\n", "timezone"},
		{"chat ids", "notify:\n  enabled: true\n", "chat_ids"},
		{"mode", "instruments:\n  - symbol: A\n    mode: yolo\n", "instruments[0]"},
		{"duplicate", "instruments:\n  - symbol: A\n  - symbol: a\n", "duplicate"},
		{"empty symbol", "instruments:\n  - mode: sip\n", "symbol is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_ReadsSecretsFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))

	t.Setenv("ANGEL_API_KEY", "k")
	t.Setenv("ANGEL_CLIENT_CODE", "c")
	t.Setenv("ANGEL_PASSWORD", "1234")
	t.Setenv("ANGEL_TOTP_SECRET", "JBSWY3DPEHPK3PXP")
	t.Setenv("LLM_API_KEY", "sk")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Secrets.AngelAPIKey)

	err = cfg.RequireSecrets()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")

	cfg.Secrets.TelegramToken = "t"
	assert.NoError(t, cfg.RequireSecrets())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
