package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

// Event is one instrument turn worth telling the operator about.
type Event struct {
	Instrument domain.Instrument
	Decision   domain.Decision
	Outcome    domain.Outcome
	Price      decimal.Decimal
	// Available is the pool cash after the turn.
	Available decimal.Decimal
	Currency  string
	At        time.Time
}

// Format renders the message for an event, or "" when nothing should be sent.
func Format(e Event) string {
	switch {
	case e.Outcome.Status == domain.OutcomeExecuted && e.Outcome.Side == domain.SideSell:
		return formatSell(e)
	case e.Outcome.Status == domain.OutcomeExecuted:
		return formatBuy(e)
	case e.Outcome.Status == domain.OutcomeFailed:
		return formatFailure(e)
	case e.Outcome.Status == domain.SkippedAutoExecuteDisabled && e.Decision.Kind.IsExecution():
		return formatSignal(e)
	}
	return ""
}

func (e Event) money(d decimal.Decimal) string {
	return e.currency() + d.StringFixed(2)
}

func (e Event) currency() string {
	if e.Currency == "" {
		return "₹"
	}
	return e.Currency
}

func (e Event) action() string {
	if e.Instrument.AwaitingReentry() {
		return "RE-ENTRY"
	}
	switch e.Decision.Kind {
	case domain.KindExit, domain.KindExitAndReenter, domain.KindSell:
		return string(e.Decision.Kind)
	}
	return strings.ToUpper(string(e.Instrument.Mode))
}

func formatBuy(e Event) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🎯 *%s Executed*\n\n", e.action()))
	sb.WriteString(fmt.Sprintf("📈 Symbol: %s\n", e.Instrument.Symbol))
	sb.WriteString(fmt.Sprintf("📊 Quantity: %s\n", e.Outcome.Quantity.String()))
	sb.WriteString(fmt.Sprintf("💰 Price: %s\n", e.money(e.Outcome.Price)))
	sb.WriteString(fmt.Sprintf("💵 Value: %s\n", e.money(e.Outcome.Value)))
	sb.WriteString(fmt.Sprintf("💳 Remaining Balance: %s\n", e.money(e.Available)))
	sb.WriteString(fmt.Sprintf("🆔 Order: %s\n\n", e.Outcome.OrderID))
	sb.WriteString("🤖 AI Reasoning:\n")
	sb.WriteString(e.Decision.Excerpt(250))
	sb.WriteString(fmt.Sprintf("\n\n⏰ %s", e.At.Format("2006-01-02 15:04")))

	return sb.String()
}

func formatSell(e Event) string {
	pnl, pct := e.Instrument.UnrealizedPnL(e.Outcome.Price)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💸 *%s Executed*\n\n", e.action()))
	sb.WriteString(fmt.Sprintf("📉 Symbol: %s\n", e.Instrument.Symbol))
	sb.WriteString(fmt.Sprintf("📊 Quantity: %s\n", e.Outcome.Quantity.String()))
	sb.WriteString(fmt.Sprintf("💰 Sell Price: %s\n", e.money(e.Outcome.Price)))
	sb.WriteString(fmt.Sprintf("📈 Avg Buy: %s\n", e.money(e.Instrument.AvgPrice)))
	sb.WriteString(fmt.Sprintf("💵 P&L: %s (%s%%)\n", e.money(pnl), pct.StringFixed(2)))
	if e.Decision.Kind == domain.KindExitAndReenter && e.Decision.Amount.IsPositive() {
		sb.WriteString(fmt.Sprintf("🎯 Re-entry Target: %s\n", e.money(e.Decision.Amount)))
	}
	if e.Outcome.Removed {
		sb.WriteString("🗑 Removed from tracking\n")
	}
	sb.WriteString(fmt.Sprintf("🆔 Order: %s\n\n", e.Outcome.OrderID))
	sb.WriteString("🤖 AI Reasoning:\n")
	sb.WriteString(e.Decision.Excerpt(250))
	sb.WriteString(fmt.Sprintf("\n\n⏰ %s", e.At.Format("2006-01-02 15:04")))

	return sb.String()
}

func formatSignal(e Event) string {
	var sb strings.Builder
	sb.WriteString("💡 *Trading Signal*\n\n")
	sb.WriteString(fmt.Sprintf("📈 Symbol: %s\n", e.Instrument.Symbol))
	sb.WriteString(fmt.Sprintf("🎯 Action: %s", e.action()))
	if e.Instrument.Mode == domain.ModeSIP && e.Decision.Kind == domain.KindExecute && e.Decision.Amount.IsPositive() {
		sb.WriteString(fmt.Sprintf("\n💰 LLM Suggested Amount: %s", e.money(e.Decision.Amount)))
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("💰 Price: %s\n", e.money(e.Price)))
	sb.WriteString(fmt.Sprintf("💳 Available Cash: %s\n\n", e.money(e.Available)))
	sb.WriteString(fmt.Sprintf("🤖 LLM Recommendation: %s\n", e.Decision.Kind))
	sb.WriteString("⚠️ Auto-execute is OFF\n\n")
	sb.WriteString(e.Decision.Excerpt(200))

	return sb.String()
}

func formatFailure(e Event) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("❌ *%s Order Failed*\n\n", e.action()))
	sb.WriteString(fmt.Sprintf("📈 Symbol: %s\n", e.Instrument.Symbol))
	sb.WriteString(fmt.Sprintf("📊 Quantity: %s\n", e.Outcome.Quantity.String()))
	sb.WriteString(fmt.Sprintf("💰 Price: %s\n", e.money(e.Price)))
	sb.WriteString(fmt.Sprintf("⚠️ Error: %s\n\n", e.Outcome.Error))
	sb.WriteString(fmt.Sprintf("⏰ %s", e.At.Format("2006-01-02 15:04")))

	return sb.String()
}

// FormatCycle renders a short cycle summary.
func FormatCycle(r domain.CycleReport) string {
	if r.Aborted() {
		return fmt.Sprintf("⏸ *Cycle skipped* (%s)\n%s", r.Trigger, r.AbortReason)
	}
	return fmt.Sprintf("✅ *Cycle done* (%s)\nProcessed: %d, executed: %d, failed: %d, skipped: %d\nDuration: %s",
		r.Trigger, r.Processed, r.Executed, r.Failed, r.Skipped, r.Duration.Round(time.Second))
}
