package app

import (
	"context"
	"strings"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/sipbot/config"
	"github.com/vadiminshakov/sipbot/internal/clients"
	"github.com/vadiminshakov/sipbot/internal/clients/angelone"
	"github.com/vadiminshakov/sipbot/internal/services/broker"
	"github.com/vadiminshakov/sipbot/internal/services/gate"
	"github.com/vadiminshakov/sipbot/internal/services/marketdata"
	"github.com/vadiminshakov/sipbot/internal/services/oracle"
	"github.com/vadiminshakov/sipbot/internal/storage/paperstate"
)

// newBroker is the single point of dispatch to platform-specific brokers.
func newBroker(cfg *config.Config, logger *zap.Logger) (broker.Broker, error) {
	b := cfg.Broker
	s := cfg.Secrets

	switch b.Platform {
	case config.PlatformAngelOne:
		client := angelone.New(b.BaseURL, angelone.Credentials{
			APIKey:     s.AngelAPIKey,
			ClientCode: s.AngelClientCode,
			Password:   s.AngelPassword,
			TOTPSecret: s.AngelTOTPSecret,
		}, logger.Named("angelone"))
		return broker.NewAngelOne(client), nil
	case config.PlatformBinance:
		return broker.NewBinance(clients.NewBinanceClient(s.BinanceAPIKey, s.BinanceAPISecret), b.QuoteAsset, b.QuantityPrecision), nil
	case config.PlatformBybit:
		return broker.NewBybit(clients.NewBybitClient(s.BybitAPIKey, s.BybitAPISecret), b.QuoteAsset, b.QuantityPrecision), nil
	case config.PlatformHyperliquid:
		client, err := clients.NewHyperliquidClient(s.HyperliquidKey, b.BaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create hyperliquid client")
		}
		return broker.NewHyperliquid(client.Exchange(), client.AccountAddress(), b.QuoteAsset, b.QuantityPrecision)
	case config.PlatformPaper:
		store, err := paperstate.NewStore(b.Paper.StateDir)
		if err != nil {
			return nil, err
		}
		return broker.NewPaper(paperQuotes(cfg), store, b.Paper.InitialCash, b.QuantityPrecision, logger.Named("paper"))
	default:
		return nil, errors.Errorf("unsupported platform: %s", b.Platform)
	}
}

// paperQuotes picks the price source of the paper broker. Binance public
// endpoints need no credentials.
func paperQuotes(cfg *config.Config) broker.Quotes {
	if cfg.Broker.Paper.Quotes == config.PlatformBinance {
		quote := cfg.Broker.QuoteAsset
		if quote == "" {
			quote = "USDT"
		}
		return broker.NewBinance(binance.NewClient("", ""), quote, cfg.Broker.QuantityPrecision)
	}
	return marketdata.NewYahoo(cfg.Market.YahooSuffix, "")
}

// newOracle builds the completion backend.
func newOracle(ctx context.Context, cfg *config.Config, logger *zap.Logger) (oracle.Oracle, error) {
	o := cfg.Oracle
	switch o.Provider {
	case config.ProviderEino:
		// eino expects the API root rather than the completions endpoint
		base := strings.TrimSuffix(strings.TrimRight(o.APIURL, "/"), "/chat/completions")
		return clients.NewEinoClient(ctx, base, cfg.Secrets.LLMAPIKey, o.Model, o.MaxTokens)
	case config.ProviderOpenAI, "":
		return clients.NewOpenAICompatibleClient(clients.LLMConfig{
			APIURL:    o.APIURL,
			APIKey:    cfg.Secrets.LLMAPIKey,
			Model:     o.Model,
			MaxTokens: o.MaxTokens,
			Timeout:   o.Timeout,
		}, logger.Named("llm")), nil
	default:
		return nil, errors.Errorf("unsupported oracle provider: %s", o.Provider)
	}
}

// newVenue returns the venue status source of the market gate. Exchange and
// Yahoo answers are cross-checked against the NSE session calendar.
func newVenue(cfg *config.Config, nse *marketdata.NSE) (gate.VenueStatus, error) {
	if cfg.Market.Venue == config.VenueNone {
		return marketdata.AlwaysOpen{}, nil
	}

	hours, err := marketdata.NSEHours()
	if err != nil {
		return nil, err
	}

	switch cfg.Market.Venue {
	case config.VenueNSE:
		return marketdata.NewGuarded(nse, hours), nil
	case config.VenueYahoo:
		return marketdata.NewGuarded(marketdata.NewYahoo(cfg.Market.YahooSuffix, ""), hours), nil
	case config.VenueCalendar:
		return hours, nil
	default:
		return nil, errors.Errorf("unsupported market venue: %s", cfg.Market.Venue)
	}
}

// newMarketContext wires fundamentals and index valuation for equity venues.
// Crypto venues only get technicals.
func newMarketContext(cfg *config.Config, nse *marketdata.NSE, logger *zap.Logger) *marketdata.Provider {
	if cfg.Market.Venue == config.VenueNone {
		return marketdata.NewProvider(nil, nil, "", logger)
	}
	return marketdata.NewProvider(marketdata.NewYahoo(cfg.Market.YahooSuffix, ""), nse, cfg.Market.Index, logger)
}
