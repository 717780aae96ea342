package domain

import (
	"github.com/shopspring/decimal"
)

// DecisionKind is the normalized verdict of the decision oracle.
type DecisionKind string

const (
	KindExecute        DecisionKind = "EXECUTE"
	KindSkip           DecisionKind = "SKIP"
	KindWait           DecisionKind = "WAIT"
	KindSell           DecisionKind = "SELL"
	KindExit           DecisionKind = "EXIT"
	KindExitAndReenter DecisionKind = "EXIT_AND_REENTER"
)

// IsExecution reports whether the kind asks for a broker order.
func (k DecisionKind) IsExecution() bool {
	switch k {
	case KindExecute, KindSell, KindExit, KindExitAndReenter:
		return true
	}
	return false
}

// Flow names the prompt that produced a decision.
type Flow string

const (
	FlowSIPExit   Flow = "sip_exit"
	FlowSIPAmount Flow = "sip_amount"
	FlowBuy       Flow = "buy"
	FlowSell      Flow = "sell"
	FlowReentry   Flow = "reentry"
)

// Decision is the oracle verdict for one instrument in one cycle.
// Amount is a cash amount for SIP and buy decisions and a re-entry price target for EXIT_AND_REENTER.
type Decision struct {
	Kind      DecisionKind    `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Rationale string          `json:"rationale"`
	Flow      Flow            `json:"flow"`
}

// SkipDecision builds the conservative fallback decision.
func SkipDecision(flow Flow, rationale string) Decision {
	return Decision{Kind: KindSkip, Amount: decimal.Zero, Rationale: rationale, Flow: flow}
}

// Excerpt returns at most n runes of the rationale.
func (d Decision) Excerpt(n int) string {
	r := []rune(d.Rationale)
	if len(r) <= n {
		return d.Rationale
	}
	return string(r[:n])
}
