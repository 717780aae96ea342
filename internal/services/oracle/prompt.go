package oracle

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// SystemPrompt is sent with every oracle request.
const SystemPrompt = `You are an expert stock market analyst providing actionable trading decisions with specific investment amounts.
Follow the requested response format exactly. Put every KEY: VALUE pair on its own line. Never wrap the answer in code blocks.`

const recentCandles = 5

// promptContext is everything the oracle sees about one instrument.
type promptContext struct {
	inst         domain.Instrument
	price        decimal.Decimal
	candles      []domain.Candle
	technicals   *domain.Technicals
	fundamentals *domain.Fundamentals
	index        *domain.IndexValuation
	available    decimal.Decimal
	reserved     decimal.Decimal
	fairShare    decimal.Decimal
	sipCount     int
	currency     string
}

func (pc promptContext) money(d decimal.Decimal) string {
	return pc.currency + d.StringFixed(2)
}

func (pc promptContext) header() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s (%s)\n\n", pc.inst.Symbol, pc.inst.Exchange))
	sb.WriteString(fmt.Sprintf("**Current Price (LTP):** %s\n", pc.money(pc.price)))
	sb.WriteString(fmt.Sprintf("**Configured Action:** %s\n\n", strings.ToUpper(string(pc.inst.Mode))))

	sb.WriteString(pc.formatRecent())
	sb.WriteString(pc.formatTechnicals())
	sb.WriteString(pc.formatFundamentals())
	sb.WriteString(pc.formatIndex())

	sb.WriteString("## Account\n\n")
	sb.WriteString(fmt.Sprintf("**Available Cash:** %s\n", pc.money(pc.available)))
	if pc.reserved.GreaterThan(decimal.Zero) {
		sb.WriteString(fmt.Sprintf("**Reserved For Pending Re-entries:** %s\n", pc.money(pc.reserved)))
	}
	sb.WriteString("\n")

	if notes := strings.TrimSpace(pc.inst.Notes); notes != "" {
		sb.WriteString("## User Analysis Parameters\n\n")
		sb.WriteString(notes)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func (pc promptContext) formatRecent() string {
	var sb strings.Builder

	sb.WriteString("## Recent Daily Data\n\n")
	if len(pc.candles) == 0 {
		sb.WriteString("Not available\n\n")
		return sb.String()
	}

	start := len(pc.candles) - recentCandles
	if start < 0 {
		start = 0
	}

	closes := make([]string, 0, recentCandles)
	volumes := make([]string, 0, recentCandles)
	for _, c := range pc.candles[start:] {
		closes = append(closes, c.Close.StringFixed(2))
		volumes = append(volumes, c.Volume.StringFixed(0))
	}
	sb.WriteString(fmt.Sprintf("**Last %d Closes:** [%s]\n", len(closes), strings.Join(closes, ", ")))
	sb.WriteString(fmt.Sprintf("**Last %d Volumes:** [%s]\n", len(volumes), strings.Join(volumes, ", ")))

	low, high := pc.candles[0].Low, pc.candles[0].High
	for _, c := range pc.candles[1:] {
		if c.Low.LessThan(low) {
			low = c.Low
		}
		if c.High.GreaterThan(high) {
			high = c.High
		}
	}
	sb.WriteString(fmt.Sprintf("**%d-Day Range:** %s - %s\n\n", len(pc.candles), low.StringFixed(2), high.StringFixed(2)))

	return sb.String()
}

func (pc promptContext) formatTechnicals() string {
	if pc.technicals == nil {
		return "## Technical Indicators\n\nNot available\n\n"
	}
	t := pc.technicals

	var sb strings.Builder
	sb.WriteString("## Technical Indicators\n\n")
	sb.WriteString(fmt.Sprintf("- RSI14: %s\n", t.RSI14.StringFixed(1)))
	sb.WriteString(fmt.Sprintf("- MACD: %s (signal %s)\n", t.MACD.StringFixed(2), t.MACDSignal.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("- EMA20: %s, EMA50: %s\n", t.EMA20.StringFixed(2), t.EMA50.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("- ATR14: %s\n\n", t.ATR14.StringFixed(2)))

	return sb.String()
}

func (pc promptContext) formatFundamentals() string {
	if pc.fundamentals == nil {
		return "## Valuation\n\nNot available\n\n"
	}
	f := pc.fundamentals

	var sb strings.Builder
	sb.WriteString("## Valuation\n\n")
	sb.WriteString(fmt.Sprintf("- Trailing PE: %s\n", f.TrailingPE.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("- Price/Book: %s\n", f.PriceToBook.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("- Dividend Yield: %s%%\n", f.DividendYield.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("- 52W Range: %s - %s\n\n", f.FiftyTwoWeekLow.StringFixed(2), f.FiftyTwoWeekHigh.StringFixed(2)))

	return sb.String()
}

func (pc promptContext) formatIndex() string {
	if pc.index == nil {
		return ""
	}
	i := pc.index

	return fmt.Sprintf("## Market (%s)\n\n- Last: %s\n- PE: %s, PB: %s, Dividend Yield: %s%%\n\n",
		i.Index, i.Last.StringFixed(2), i.PE.StringFixed(2), i.PB.StringFixed(2), i.DividendYield.StringFixed(2))
}

func (pc promptContext) formatPosition() string {
	var sb strings.Builder

	sb.WriteString("## Current Position\n\n")
	if !pc.inst.HasPosition() {
		sb.WriteString("No shares held\n\n")
		return sb.String()
	}

	abs, pct := pc.inst.UnrealizedPnL(pc.price)
	sb.WriteString(fmt.Sprintf("- Quantity: %s\n", pc.inst.Quantity.String()))
	sb.WriteString(fmt.Sprintf("- Average Buy Price: %s\n", pc.money(pc.inst.AvgPrice)))
	sb.WriteString(fmt.Sprintf("- Profit/Loss: %s%% (%s)\n\n", pct.StringFixed(2), pc.money(abs)))

	return sb.String()
}

const decisionCriteria = `
**DECISION CRITERIA**:
- EXECUTE: Strong conviction, good timing, favorable conditions
- WAIT: Neutral, need more confirmation, slightly unfavorable conditions
- SKIP: Poor conditions, high risk, better opportunities elsewhere

Make your decision based on data-driven analysis, not speculation.
`

func buildSIPExitPrompt(pc promptContext) string {
	var sb strings.Builder

	sb.WriteString(pc.header())
	sb.WriteString(pc.formatPosition())
	sb.WriteString(`## Task

This holding is part of a SYSTEMATIC INVESTMENT PLAN. Before any new investment is sized,
decide whether NOW is the time to EXIT the full position to bank profit. Exit proceeds are
reserved and the position is re-entered later when conditions are favorable again.

**RESPOND WITH**:
Line 1: EXIT: YES or EXIT: NO
Lines 2-4: Brief reasoning
`)

	return sb.String()
}

func buildSIPAmountPrompt(pc promptContext) string {
	var sb strings.Builder

	sb.WriteString(pc.header())
	sb.WriteString(pc.formatPosition())
	sb.WriteString("## SIP Configuration\n\n")
	sb.WriteString(fmt.Sprintf("- Suggested SIP Amount: %s\n", pc.money(pc.inst.SIPAmount)))
	if pc.inst.SIPFrequencyDays > 0 {
		sb.WriteString(fmt.Sprintf("- Frequency: every %d days\n", pc.inst.SIPFrequencyDays))
	}
	sb.WriteString(fmt.Sprintf("- SIP Instruments Competing This Cycle: %d\n", pc.sipCount))
	sb.WriteString(fmt.Sprintf("- Fair Share Of Available Cash: %s\n\n", pc.money(pc.fairShare)))

	sb.WriteString(fmt.Sprintf(`## Task

1. Analyze if NOW is a good time to invest in this stock/ETF
2. Consider the available cash: %s and the fair share across SIP instruments
3. Decide the OPTIMAL SIP AMOUNT (it may differ from the suggestion) within available cash

**RESPOND WITH**:
Line 1: EXECUTE or WAIT or SKIP
Line 2: SIP_AMOUNT: <amount>
Lines 3-5: Brief reasoning (why this amount, why now or wait)
`, pc.money(pc.available)))
	sb.WriteString(decisionCriteria)

	return sb.String()
}

func buildBuyPrompt(pc promptContext) string {
	var sb strings.Builder

	qty := pc.inst.OrderQuantity
	if qty.LessThanOrEqual(decimal.Zero) {
		qty = decimal.NewFromInt(1)
	}

	sb.WriteString(pc.header())
	sb.WriteString(pc.formatPosition())
	sb.WriteString("## Buy Order\n\n")
	sb.WriteString(fmt.Sprintf("- Quantity to buy: %s\n", qty.String()))
	sb.WriteString(fmt.Sprintf("- Total cost: %s\n\n", pc.money(qty.Mul(pc.price))))
	sb.WriteString(`## Task

Analyze if NOW is the right time to BUY this stock.
Consider technical indicators, valuation, momentum and risk/reward.

**RESPOND WITH**:
Line 1: EXECUTE or WAIT or SKIP
Lines 2-4: Brief reasoning
`)
	sb.WriteString(decisionCriteria)

	return sb.String()
}

func buildSellPrompt(pc promptContext) string {
	var sb strings.Builder

	sb.WriteString(pc.header())
	sb.WriteString(pc.formatPosition())
	sb.WriteString(`## Task

Analyze if NOW is the right time to EXIT this position.
Consider profit target, stop loss, market conditions and opportunity cost.
Choose SELL to exit for good, EXIT_AND_REENTER to bank profit now and buy back
later at a lower price, or SKIP to keep holding.

**RESPOND WITH**:
Line 1: SELL or EXIT_AND_REENTER or SKIP
Line 2: REENTRY_PRICE: <price> (only for EXIT_AND_REENTER)
Lines 3-5: Brief reasoning
`)

	return sb.String()
}

func buildReentryPrompt(pc promptContext) string {
	var sb strings.Builder
	r := pc.inst.Reentry

	sb.WriteString(pc.header())
	sb.WriteString("## Pending Re-entry\n\n")
	sb.WriteString(fmt.Sprintf("- Exited On: %s\n", r.ExitDate.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("- Exit Price: %s\n", pc.money(r.ExitPrice)))
	sb.WriteString(fmt.Sprintf("- Exit Quantity: %s\n", r.ExitQuantity.String()))
	sb.WriteString(fmt.Sprintf("- Reserved Amount: %s\n", pc.money(r.ExitAmount)))
	if r.TargetPrice.GreaterThan(decimal.Zero) {
		sb.WriteString(fmt.Sprintf("- Planned Re-entry Price: %s\n", pc.money(r.TargetPrice)))
	}
	if r.ExitPrice.GreaterThan(decimal.Zero) {
		change := pc.price.Sub(r.ExitPrice).Div(r.ExitPrice).Mul(decimal.NewFromInt(100))
		sb.WriteString(fmt.Sprintf("- Price Change Since Exit: %s%%\n", change.StringFixed(2)))
	}
	sb.WriteString(`
## Task

The position was sold to bank profit and the proceeds are reserved for buying it back.
Decide whether NOW is a favorable moment to re-enter with the full reserved amount.

**RESPOND WITH**:
Line 1: EXECUTE or WAIT or SKIP
Lines 2-4: Brief reasoning
`)

	return sb.String()
}
