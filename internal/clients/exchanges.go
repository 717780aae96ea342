package clients

import (
	"context"
	"crypto/ecdsa"
	"strings"

	binance "github.com/adshao/go-binance/v2"
	"github.com/ethereum/go-ethereum/crypto"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

const (
	HyperliquidMainnetURL = "https://api.hyperliquid.xyz"
	HyperliquidTestnetURL = "https://api.hyperliquid-testnet.xyz"
)

// NewBinanceClient returns a spot client. Empty credentials give a client
// limited to public market data.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	return bybit.NewClient().WithAuth(apiKey, apiSecret)
}

// HyperliquidClient holds the signing exchange and the account derived from its key.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient derives the account from a hex private key. baseURL
// accepts a full URL or the aliases "mainnet" and "testnet"; empty means mainnet.
func NewHyperliquidClient(privateKeyHex string, baseURL string) (*HyperliquidClient, error) {
	privateKey, accountAddr, err := hyperliquidAccount(privateKeyHex)
	if err != nil {
		return nil, err
	}

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		hyperliquidURL(baseURL),
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

func (c *HyperliquidClient) Exchange() *hyperliquid.Exchange { return c.exchange }
func (c *HyperliquidClient) AccountAddress() string          { return c.accountAddr }

func hyperliquidAccount(privateKeyHex string) (*ecdsa.PrivateKey, string, error) {
	key := strings.TrimSpace(privateKeyHex)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if key == "" {
		return nil, "", errors.New("hyperliquid private key is empty")
	}

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, "", errors.Wrap(err, "parse hyperliquid private key")
	}
	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, "", errors.New("hyperliquid key has no ECDSA public key")
	}

	return privateKey, crypto.PubkeyToAddress(*pub).Hex(), nil
}

func hyperliquidURL(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "mainnet":
		return HyperliquidMainnetURL
	case "testnet":
		return HyperliquidTestnetURL
	default:
		return strings.TrimRight(v, "/")
	}
}
