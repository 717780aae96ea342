package oracle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

type oracleMock struct {
	mock.Mock
}

func (m *oracleMock) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

type callSink struct {
	calls []domain.OracleCall
}

func (s *callSink) SaveOracleCall(call domain.OracleCall) error {
	s.calls = append(s.calls, call)
	return nil
}

type poolStub struct{}

func (poolStub) Available() decimal.Decimal { return decimal.NewFromInt(10000) }
func (poolStub) Reserved() decimal.Decimal  { return decimal.Zero }
func (poolStub) FairShare() decimal.Decimal { return decimal.NewFromInt(5000) }
func (poolStub) SIPCount() int              { return 2 }

type breakerStub struct {
	allow               bool
	failures, successes int
}

func (b *breakerStub) Allow() bool    { return b.allow }
func (b *breakerStub) RecordSuccess() { b.successes++ }
func (b *breakerStub) RecordFailure() { b.failures++ }

func promptContaining(s string) interface{} {
	return mock.MatchedBy(func(p string) bool { return strings.Contains(p, s) })
}

func sipInstrument(qty int64) domain.Instrument {
	return domain.Instrument{
		Symbol:    "NIFTYBEES",
		Exchange:  "NSE",
		Mode:      domain.ModeSIP,
		Quantity:  decimal.NewFromInt(qty),
		AvgPrice:  decimal.NewFromInt(240),
		SIPAmount: decimal.NewFromInt(2000),
	}
}

func request(inst domain.Instrument) Request {
	return Request{
		CycleID:    "cycle-1",
		Instrument: inst,
		Quote:      domain.Quote{Price: decimal.NewFromInt(250)},
	}
}

func TestDecide_SIPAmountWithoutPositionSkipsExitPhase(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, SystemPrompt, promptContaining("SIP_AMOUNT")).
		Return("EXECUTE\nSIP_AMOUNT: 3000\ncheap vs 52w high", nil).Once()
	sink := &callSink{}

	d := NewAdapter(o, zap.NewNop(), WithRecorder(sink)).Decide(context.Background(), request(sipInstrument(0)), poolStub{})

	assert.Equal(t, domain.KindExecute, d.Kind)
	assert.Equal(t, domain.FlowSIPAmount, d.Flow)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(3000)))
	o.AssertNumberOfCalls(t, "Complete", 1)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "cycle-1", sink.calls[0].CycleID)
	assert.Equal(t, domain.FlowSIPAmount, sink.calls[0].Flow)
}

func TestDecide_SIPAmountFallsBackToConfiguredAmount(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		Return("EXECUTE\nLooks like a good entry.", nil)

	d := NewAdapter(o, nil).Decide(context.Background(), request(sipInstrument(0)), poolStub{})

	assert.Equal(t, domain.KindExecute, d.Kind)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(2000)), d.Amount.String())
}

func TestDecide_SIPExitPhaseWins(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, promptContaining("EXIT: YES or EXIT: NO")).
		Return("EXIT: YES\nup 40%, take profit", nil).Once()
	sink := &callSink{}

	d := NewAdapter(o, nil, WithRecorder(sink)).Decide(context.Background(), request(sipInstrument(10)), poolStub{})

	assert.Equal(t, domain.KindExit, d.Kind)
	assert.Equal(t, domain.FlowSIPExit, d.Flow)
	o.AssertNumberOfCalls(t, "Complete", 1)
	require.Len(t, sink.calls, 1)
}

func TestDecide_SIPExitNoProceedsToAmount(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, promptContaining("EXIT: YES or EXIT: NO")).
		Return("EXIT: NO\nstill undervalued", nil).Once()
	o.On("Complete", mock.Anything, mock.Anything, promptContaining("SIP_AMOUNT")).
		Return("WAIT\nSIP_AMOUNT: 1500\nneeds confirmation", nil).Once()
	sink := &callSink{}

	d := NewAdapter(o, nil, WithRecorder(sink)).Decide(context.Background(), request(sipInstrument(10)), poolStub{})

	assert.Equal(t, domain.KindWait, d.Kind)
	assert.Equal(t, domain.FlowSIPAmount, d.Flow)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(1500)))
	require.Len(t, sink.calls, 2)
	assert.Equal(t, domain.FlowSIPExit, sink.calls[0].Flow)
	assert.Equal(t, domain.FlowSIPAmount, sink.calls[1].Flow)
	o.AssertExpectations(t)
}

func TestDecide_SIPExitNeedsExplicitYes(t *testing.T) {
	for _, reply := range []string{
		"EXIT: Not yet, trend intact",
		"EXIT: maybe later",
		"EXIT: undecided",
		"Exit? No, keep compounding",
	} {
		t.Run(reply, func(t *testing.T) {
			o := new(oracleMock)
			o.On("Complete", mock.Anything, mock.Anything, promptContaining("EXIT: YES or EXIT: NO")).
				Return(reply, nil).Once()
			o.On("Complete", mock.Anything, mock.Anything, promptContaining("SIP_AMOUNT")).
				Return("WAIT\nlet it settle", nil).Once()

			d := NewAdapter(o, nil).Decide(context.Background(), request(sipInstrument(10)), poolStub{})

			assert.Equal(t, domain.KindWait, d.Kind)
			assert.Equal(t, domain.FlowSIPAmount, d.Flow)
			o.AssertExpectations(t)
		})
	}
}

func TestDecide_OracleFailureIsSkip(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))
	sink := &callSink{}
	br := &breakerStub{allow: true}

	inst := sipInstrument(0)
	inst.Mode = domain.ModeBuy
	d := NewAdapter(o, nil, WithRecorder(sink), WithBreaker(br)).Decide(context.Background(), request(inst), poolStub{})

	assert.Equal(t, domain.KindSkip, d.Kind)
	assert.Contains(t, d.Rationale, "quota exceeded")
	require.Len(t, sink.calls, 1)
	assert.Equal(t, "quota exceeded", sink.calls[0].Error)
	assert.Equal(t, 1, br.failures)
}

func TestDecide_OpenBreakerSkipsWithoutCalling(t *testing.T) {
	o := new(oracleMock)

	inst := sipInstrument(0)
	inst.Mode = domain.ModeBuy
	d := NewAdapter(o, nil, WithBreaker(&breakerStub{allow: false})).Decide(context.Background(), request(inst), poolStub{})

	assert.Equal(t, domain.KindSkip, d.Kind)
	assert.Contains(t, d.Rationale, "circuit open")
	o.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecide_EmptyReplyIsFailure(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("   \n", nil)

	inst := sipInstrument(0)
	inst.Mode = domain.ModeBuy
	d := NewAdapter(o, nil).Decide(context.Background(), request(inst), poolStub{})

	assert.Equal(t, domain.KindSkip, d.Kind)
	assert.Contains(t, d.Rationale, "empty")
}

func TestDecide_SellFlow(t *testing.T) {
	tests := []struct {
		reply  string
		kind   domain.DecisionKind
		amount int64
	}{
		{reply: "SELL\ntarget reached", kind: domain.KindSell},
		{reply: "EXIT_AND_REENTER\nREENTRY_PRICE: 230\noverextended", kind: domain.KindExitAndReenter, amount: 230},
		{reply: "SKIP\nhold on", kind: domain.KindSkip},
		{reply: "HOLD\ntrend intact", kind: domain.KindSkip},
		{reply: "Sell? No, hold for now.", kind: domain.KindSkip},
		{reply: "Execute: no", kind: domain.KindSkip},
		{reply: "SELL now to book profit", kind: domain.KindSell},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.reply[:4], func(t *testing.T) {
			o := new(oracleMock)
			o.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(tt.reply, nil)

			inst := sipInstrument(10)
			inst.Mode = domain.ModeSell
			d := NewAdapter(o, nil).Decide(context.Background(), request(inst), poolStub{})

			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, domain.FlowSell, d.Flow)
			assert.True(t, d.Amount.Equal(decimal.NewFromInt(tt.amount)))
		})
	}
}

func TestDecide_ReentryUsesReservedAmount(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, promptContaining("Pending Re-entry")).
		Return("EXECUTE\npullback done", nil)

	inst := sipInstrument(0)
	inst.AvgPrice = decimal.Zero
	inst.Reentry = &domain.Reentry{
		ExitPrice:    decimal.NewFromInt(100),
		ExitAmount:   decimal.NewFromInt(1000),
		ExitQuantity: decimal.NewFromInt(10),
		ExitDate:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	d := NewAdapter(o, nil).Decide(context.Background(), request(inst), poolStub{})

	assert.Equal(t, domain.KindExecute, d.Kind)
	assert.Equal(t, domain.FlowReentry, d.Flow)
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestDecide_HoldHasNoFlow(t *testing.T) {
	o := new(oracleMock)
	inst := sipInstrument(1)
	inst.Mode = domain.ModeHold

	d := NewAdapter(o, nil).Decide(context.Background(), request(inst), poolStub{})

	assert.Equal(t, domain.KindSkip, d.Kind)
	o.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

type marketStub struct{}

func (marketStub) Technicals([]domain.Candle) (*domain.Technicals, error) {
	return &domain.Technicals{RSI14: decimal.NewFromInt(71)}, nil
}

func (marketStub) Fundamentals(context.Context, domain.Instrument) (*domain.Fundamentals, error) {
	return nil, errors.New("not covered")
}

func (marketStub) IndexValuation(context.Context) (*domain.IndexValuation, error) {
	return &domain.IndexValuation{Index: "NIFTY 50", PE: decimal.NewFromFloat(22.5)}, nil
}

func TestDecide_PromptCarriesMarketContext(t *testing.T) {
	o := new(oracleMock)
	o.On("Complete", mock.Anything, mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "RSI14: 71.0") && strings.Contains(p, "NIFTY 50") && strings.Contains(p, "## Valuation\n\nNot available")
	})).Return("SKIP\nexpensive", nil)

	inst := sipInstrument(0)
	inst.Mode = domain.ModeBuy
	req := request(inst)
	req.Quote.Candles = []domain.Candle{{Close: decimal.NewFromInt(250), High: decimal.NewFromInt(251), Low: decimal.NewFromInt(249)}}

	d := NewAdapter(o, nil, WithMarketContext(marketStub{})).Decide(context.Background(), req, poolStub{})

	assert.Equal(t, domain.KindSkip, d.Kind)
	o.AssertExpectations(t)
}
