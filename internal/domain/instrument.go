// Package domain defines the core data structures shared by the trading cycle.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Mode selects which decision flow applies to an instrument in a cycle.
type Mode string

const (
	ModeHold Mode = "hold"
	ModeSIP  Mode = "sip"
	ModeBuy  Mode = "buy"
	ModeSell Mode = "sell"
)

// ParseMode converts a user supplied string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeHold, ModeSIP, ModeBuy, ModeSell:
		return m, nil
	case "":
		return ModeHold, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Reentry is the deferred repurchase sub-state entered after a profit-taking exit.
// ExitAmount is cash reserved for the repurchase.
type Reentry struct {
	ExitPrice    decimal.Decimal `json:"exit_price"`
	ExitAmount   decimal.Decimal `json:"exit_amount"`
	ExitQuantity decimal.Decimal `json:"exit_quantity"`
	ExitDate     time.Time       `json:"exit_date"`
	// TargetPrice is the oracle's re-entry price hint, zero when unknown.
	TargetPrice decimal.Decimal `json:"target_price"`
}

// Instrument is one tracked symbol together with its position snapshot and lifecycle state.
type Instrument struct {
	Symbol      string `json:"symbol"`
	Exchange    string `json:"exchange"`
	BrokerToken string `json:"broker_token"`
	Mode        Mode   `json:"mode"`

	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`

	SIPAmount         decimal.Decimal `json:"sip_amount"`
	SIPFrequencyDays  int             `json:"sip_frequency_days"`
	LastExecutionDate *time.Time      `json:"last_execution_date,omitempty"`
	NextActionDate    *time.Time      `json:"next_action_date,omitempty"`

	OrderQuantity decimal.Decimal `json:"order_quantity"`
	Notes         string          `json:"notes,omitempty"`

	Reentry *Reentry `json:"reentry,omitempty"`

	// Position is the insertion order used for deterministic iteration.
	Position int `json:"position"`
}

// AwaitingReentry reports whether the instrument holds reserved exit proceeds.
func (i Instrument) AwaitingReentry() bool {
	return i.Reentry != nil
}

// HasPosition reports whether there is anything to sell.
func (i Instrument) HasPosition() bool {
	return i.Quantity.GreaterThan(decimal.Zero)
}

// Validate checks identity fields and mode-specific configuration.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return errors.New("symbol is required")
	}
	if _, err := ParseMode(string(i.Mode)); err != nil {
		return err
	}
	if i.Quantity.IsNegative() {
		return fmt.Errorf("quantity must not be negative, got %s", i.Quantity)
	}
	if i.AvgPrice.IsNegative() {
		return fmt.Errorf("avg price must not be negative, got %s", i.AvgPrice)
	}
	if i.SIPAmount.IsNegative() {
		return fmt.Errorf("sip amount must not be negative, got %s", i.SIPAmount)
	}
	if i.SIPFrequencyDays < 0 {
		return fmt.Errorf("sip frequency must not be negative, got %d", i.SIPFrequencyDays)
	}

	return i.CheckInvariant()
}

// CheckInvariant verifies that the re-entry sub-state and the position snapshot are mutually exclusive.
func (i Instrument) CheckInvariant() error {
	if i.Reentry == nil {
		return nil
	}
	if !i.Quantity.IsZero() || !i.AvgPrice.IsZero() {
		return fmt.Errorf("%s awaits re-entry but holds quantity %s at %s", i.Symbol, i.Quantity, i.AvgPrice)
	}
	if i.Reentry.ExitAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%s awaits re-entry without reserved amount", i.Symbol)
	}
	if i.Reentry.ExitDate.IsZero() {
		return fmt.Errorf("%s awaits re-entry without exit date", i.Symbol)
	}

	return nil
}

// ExecutedOn reports whether a SIP fill was already recorded for the calendar day of t.
func (i Instrument) ExecutedOn(t time.Time) bool {
	if i.LastExecutionDate == nil {
		return false
	}

	return sameDay(*i.LastExecutionDate, t)
}

// DueOn reports whether a SIP instrument is due for evaluation at t.
func (i Instrument) DueOn(t time.Time) bool {
	if i.NextActionDate == nil {
		return true
	}

	return !truncateDay(*i.NextActionDate).After(truncateDay(t))
}

// UnrealizedPnL returns absolute and percent profit at price.
func (i Instrument) UnrealizedPnL(price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if i.AvgPrice.IsZero() || i.Quantity.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	abs := price.Sub(i.AvgPrice).Mul(i.Quantity)
	pct := price.Sub(i.AvgPrice).Div(i.AvgPrice).Mul(decimal.NewFromInt(100))

	return abs, pct
}

// ApplyBuy adds a fill to the position and recalculates the average price.
func (i *Instrument) ApplyBuy(qty, price decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid fill %s @ %s", qty, price)
	}
	if i.Reentry != nil {
		return errors.New("buy while awaiting re-entry, use ApplyReentry")
	}

	total := i.Quantity.Add(qty)
	weighted := i.AvgPrice.Mul(i.Quantity).Add(price.Mul(qty))
	i.AvgPrice = weighted.Div(total)
	i.Quantity = total

	return nil
}

// ApplyExit moves a position into the awaiting re-entry state after a confirmed full sell.
func (i *Instrument) ApplyExit(fillPrice decimal.Decimal, at time.Time, target decimal.Decimal) error {
	if !i.HasPosition() {
		return errors.New("exit without position")
	}
	if fillPrice.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid exit price %s", fillPrice)
	}

	i.Reentry = &Reentry{
		ExitPrice:    fillPrice,
		ExitAmount:   i.Quantity.Mul(fillPrice),
		ExitQuantity: i.Quantity,
		ExitDate:     at,
		TargetPrice:  target,
	}
	i.Quantity = decimal.Zero
	i.AvgPrice = decimal.Zero

	return nil
}

// ApplyPartialSell takes a partially filled sell off the position. The remainder keeps its average price.
func (i *Instrument) ApplyPartialSell(qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) || qty.GreaterThanOrEqual(i.Quantity) {
		return fmt.Errorf("invalid partial sell %s of %s", qty, i.Quantity)
	}
	i.Quantity = i.Quantity.Sub(qty)
	return nil
}

// ApplyReentry closes the re-entry sub-state with the repurchase fill.
func (i *Instrument) ApplyReentry(qty, price decimal.Decimal) error {
	if i.Reentry == nil {
		return errors.New("not awaiting re-entry")
	}
	if qty.LessThanOrEqual(decimal.Zero) || price.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("invalid fill %s @ %s", qty, price)
	}

	i.Reentry = nil
	i.Quantity = qty
	i.AvgPrice = price

	return nil
}

// MarkSIPExecuted stamps the SIP execution date and schedules the next due date.
func (i *Instrument) MarkSIPExecuted(at time.Time) {
	day := truncateDay(at)
	i.LastExecutionDate = &day
	if i.SIPFrequencyDays > 0 {
		next := day.AddDate(0, 0, i.SIPFrequencyDays)
		i.NextActionDate = &next
	}
}

// Clone returns a deep copy so state transitions can be attempted without touching the original.
func (i Instrument) Clone() Instrument {
	c := i
	if i.Reentry != nil {
		r := *i.Reentry
		c.Reentry = &r
	}
	if i.LastExecutionDate != nil {
		d := *i.LastExecutionDate
		c.LastExecutionDate = &d
	}
	if i.NextActionDate != nil {
		d := *i.NextActionDate
		c.NextActionDate = &d
	}

	return c
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}
