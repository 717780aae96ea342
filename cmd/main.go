// Command sipbot runs the LLM-driven SIP trading bot.
//
// Usage:
//
//	sipbot setup                     interactive config wizard
//	sipbot run --config config.yaml  scheduler and control API
//	sipbot cycle --config config.yaml
//
// Secrets are read from the environment or a .env file:
//
//	LLM_API_KEY, TELEGRAM_BOT_TOKEN, WEB_API_TOKEN
//	For Angel One: ANGEL_API_KEY, ANGEL_CLIENT_CODE, ANGEL_PASSWORD, ANGEL_TOTP_SECRET
//	For Binance: BINANCE_API_KEY, BINANCE_API_SECRET
//	For Bybit: BYBIT_API_KEY, BYBIT_API_SECRET
//	For Hyperliquid: HYPERLIQUID_PRIVATE_KEY
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
