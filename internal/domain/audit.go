package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trigger identifies what started a cycle.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// TriggerFor maps the manual flag to a trigger type.
func TriggerFor(manual bool) Trigger {
	if manual {
		return TriggerManual
	}
	return TriggerScheduled
}

// Snapshot is the instrument state captured as audit input.
type Snapshot struct {
	Mode            Mode            `json:"mode"`
	Quantity        decimal.Decimal `json:"quantity"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	AwaitingReentry bool            `json:"awaiting_reentry"`
	ExitAmount      decimal.Decimal `json:"exit_amount,omitempty"`
	Price           decimal.Decimal `json:"price,omitempty"`
}

// SnapshotOf captures the audit input of an instrument at price.
func SnapshotOf(inst Instrument, price decimal.Decimal) Snapshot {
	s := Snapshot{
		Mode:            inst.Mode,
		Quantity:        inst.Quantity,
		AvgPrice:        inst.AvgPrice,
		AwaitingReentry: inst.AwaitingReentry(),
		Price:           price,
	}
	if inst.Reentry != nil {
		s.ExitAmount = inst.Reentry.ExitAmount
	}
	return s
}

// AuditRecord is the immutable per-instrument per-cycle log entry.
type AuditRecord struct {
	Timestamp time.Time `json:"ts"`
	CycleID   string    `json:"cycle_id"`
	Trigger   Trigger   `json:"trigger"`
	Symbol    string    `json:"symbol"`
	Input     Snapshot  `json:"input"`
	Decision  *Decision `json:"decision,omitempty"`
	Outcome   Outcome   `json:"outcome"`
}

// AuditRecordEntry bundles an audit record with its WAL index.
type AuditRecordEntry struct {
	Index  uint64      `json:"index"`
	Record AuditRecord `json:"record"`
}

// OracleCall captures one oracle invocation.
type OracleCall struct {
	Timestamp time.Time     `json:"ts"`
	CycleID   string        `json:"cycle_id"`
	Symbol    string        `json:"symbol"`
	Flow      Flow          `json:"flow"`
	Model     string        `json:"model,omitempty"`
	Prompt    string        `json:"prompt"`
	Response  string        `json:"response"`
	Decision  Decision      `json:"decision"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
}

// OracleCallEntry bundles an oracle call with its WAL index.
type OracleCallEntry struct {
	Index uint64     `json:"index"`
	Call  OracleCall `json:"call"`
}

// MarketState is the venue state recorded by the gate.
type MarketState string

const (
	MarketOpen   MarketState = "open"
	MarketClosed MarketState = "closed"
	MarketManual MarketState = "manual"
)

// MarketStateRecord is emitted once per gate evaluation.
type MarketStateRecord struct {
	Timestamp time.Time   `json:"ts"`
	CycleDate string      `json:"cycle_date"`
	State     MarketState `json:"state"`
	Label     string      `json:"label"`
}

// CyclePhase is the orchestrator state.
type CyclePhase string

const (
	PhaseIdle      CyclePhase = "IDLE"
	PhaseGating    CyclePhase = "GATING"
	PhaseLoading   CyclePhase = "LOADING"
	PhaseIterating CyclePhase = "ITERATING"
	PhaseDone      CyclePhase = "DONE"
)

// CycleReport aggregates one cycle for observability.
type CycleReport struct {
	CycleID     string          `json:"cycle_id"`
	Trigger     Trigger         `json:"trigger"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Phase       CyclePhase      `json:"phase"`
	GateLabel   string          `json:"gate_label"`
	AbortReason string          `json:"abort_reason,omitempty"`
	BrokerCash  decimal.Decimal `json:"broker_cash"`
	Available   decimal.Decimal `json:"available"`
	Spent       decimal.Decimal `json:"spent"`
	Processed   int             `json:"processed"`
	Skipped     int             `json:"skipped"`
	Executed    int             `json:"executed"`
	Failed      int             `json:"failed"`
}

// Aborted reports whether the cycle stopped before iterating.
func (r CycleReport) Aborted() bool {
	return r.AbortReason != ""
}

// CycleReportEntry bundles a cycle report with its WAL index.
type CycleReportEntry struct {
	Index  uint64      `json:"index"`
	Report CycleReport `json:"report"`
}
