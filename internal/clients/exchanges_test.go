package clients

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHyperliquidAccount(t *testing.T) {
	const one = "0000000000000000000000000000000000000000000000000000000000000001"

	for _, key := range []string{one, "0x" + one, " 0X" + one + " "} {
		_, addr, err := hyperliquidAccount(key)
		require.NoError(t, err)
		assert.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", addr)
	}

	_, _, err := hyperliquidAccount("")
	assert.Error(t, err)
	_, _, err = hyperliquidAccount("zz")
	assert.Error(t, err)
}

func TestHyperliquidURL(t *testing.T) {
	assert.Equal(t, HyperliquidMainnetURL, hyperliquidURL(""))
	assert.Equal(t, HyperliquidMainnetURL, hyperliquidURL("Mainnet"))
	assert.Equal(t, HyperliquidTestnetURL, hyperliquidURL("testnet"))
	assert.Equal(t, "http://localhost:3001", hyperliquidURL("http://localhost:3001/"))
}
