package audit

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

func TestWALStore_AppendAndRead(t *testing.T) {
	s, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveMarketState(domain.MarketStateRecord{Timestamp: now, CycleDate: "2026-03-02", State: domain.MarketOpen, Label: "market open"}))
	require.NoError(t, s.SaveOracleCall(domain.OracleCall{Timestamp: now, CycleID: "c1", Symbol: "TCS", Flow: domain.FlowBuy, Response: "EXECUTE"}))
	require.NoError(t, s.SaveAuditRecord(domain.AuditRecord{
		Timestamp: now,
		CycleID:   "c1",
		Trigger:   domain.TriggerManual,
		Symbol:    "TCS",
		Decision:  &domain.Decision{Kind: domain.KindExecute},
		Outcome:   domain.Outcome{Status: domain.OutcomeExecuted, OrderID: "o-1", Quantity: decimal.NewFromInt(2)},
	}))
	require.NoError(t, s.SaveCycleReport(domain.CycleReport{CycleID: "c1", Trigger: domain.TriggerManual, Phase: domain.PhaseDone, Executed: 1}))

	assert.Equal(t, uint64(4), s.CurrentIndex())

	records, err := s.AuditRecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(3), records[0].Index)
	assert.Equal(t, "o-1", records[0].Record.Outcome.OrderID)
	assert.True(t, records[0].Record.Outcome.Quantity.Equal(decimal.NewFromInt(2)))

	calls, err := s.OracleCallsAfter(0)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "EXECUTE", calls[0].Call.Response)

	reports, err := s.CycleReportsAfter(3)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Report.Executed)

	none, err := s.AuditRecordsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)

	state, err := s.LastMarketState()
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, domain.MarketOpen, state.State)
}

func TestWALStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewWALStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveCycleReport(domain.CycleReport{CycleID: "c1", AbortReason: "market closed"}))
	require.NoError(t, s.Close())

	s, err = NewWALStore(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveCycleReport(domain.CycleReport{CycleID: "c2"}))

	reports, err := s.CycleReportsAfter(0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Report.Aborted())
	assert.Equal(t, uint64(2), reports[1].Index)
}

func TestWALStore_Validation(t *testing.T) {
	s, err := NewWALStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.SaveAuditRecord(domain.AuditRecord{}))
	assert.Error(t, s.SaveOracleCall(domain.OracleCall{}))
	assert.Error(t, s.SaveCycleReport(domain.CycleReport{}))

	var nilStore *WALStore
	assert.Error(t, nilStore.SaveMarketState(domain.MarketStateRecord{}))
	assert.Zero(t, nilStore.CurrentIndex())
}
