package domain

import (
	"github.com/shopspring/decimal"
)

// OutcomeStatus is the execution result recorded for an instrument in a cycle.
type OutcomeStatus string

const (
	OutcomeExecuted OutcomeStatus = "EXECUTED"
	OutcomeFailed   OutcomeStatus = "FAILED"

	SkippedAutoExecuteDisabled OutcomeStatus = "SKIPPED_AUTO_EXECUTE_DISABLED"
	SkippedLLMDecision         OutcomeStatus = "SKIPPED_LLM_DECISION"
	SkippedInsufficientBalance OutcomeStatus = "SKIPPED_INSUFFICIENT_BALANCE"
	SkippedZeroQuantity        OutcomeStatus = "SKIPPED_ZERO_QUANTITY"
	SkippedNoPosition          OutcomeStatus = "SKIPPED_NO_POSITION"
	SkippedUnsupported         OutcomeStatus = "SKIPPED_UNSUPPORTED_DECISION"
	SkippedHold                OutcomeStatus = "SKIPPED_HOLD"
	SkippedAlreadyExecuted     OutcomeStatus = "SKIPPED_ALREADY_EXECUTED"
	SkippedNotDue              OutcomeStatus = "SKIPPED_NOT_DUE"
	SkippedNoPrice             OutcomeStatus = "SKIPPED_NO_PRICE"
)

// IsSkipped reports whether no order was attempted.
func (s OutcomeStatus) IsSkipped() bool {
	return s != OutcomeExecuted && s != OutcomeFailed
}

// Side is the broker transaction type.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Outcome describes what the execution driver did with a decision.
type Outcome struct {
	Status   OutcomeStatus   `json:"status"`
	Side     Side            `json:"side,omitempty"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
	OrderID  string          `json:"order_id,omitempty"`
	Error    string          `json:"error,omitempty"`
	// Removed is set when a successful sell dropped the instrument from tracking.
	Removed bool `json:"removed,omitempty"`
}

// Skipped builds an outcome for which no order was placed.
func Skipped(status OutcomeStatus, reason string) Outcome {
	return Outcome{Status: status, Error: reason}
}
