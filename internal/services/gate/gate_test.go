package gate

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

type venueMock struct {
	mock.Mock
}

func (m *venueMock) IsMarketOpen(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type recorderMock struct {
	records []domain.MarketStateRecord
	err     error
}

func (r *recorderMock) SaveMarketState(rec domain.MarketStateRecord) error {
	r.records = append(r.records, rec)
	return r.err
}

func newGate(venue VenueStatus, rec *recorderMock) *Gate {
	g := New(venue, rec, zap.NewNop())
	g.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }
	return g
}

func TestShouldRun_ManualSkipsVenueCheck(t *testing.T) {
	venue := new(venueMock)
	rec := &recorderMock{}

	proceed, label := newGate(venue, rec).ShouldRun(context.Background(), true)

	require.True(t, proceed)
	require.Equal(t, LabelManual, label)
	venue.AssertNotCalled(t, "IsMarketOpen", mock.Anything)
	require.Len(t, rec.records, 1)
	require.Equal(t, domain.MarketManual, rec.records[0].State)
	require.Equal(t, "2026-03-02", rec.records[0].CycleDate)
}

func TestShouldRun_Open(t *testing.T) {
	venue := new(venueMock)
	venue.On("IsMarketOpen", mock.Anything).Return(true, nil)
	rec := &recorderMock{}

	proceed, label := newGate(venue, rec).ShouldRun(context.Background(), false)

	require.True(t, proceed)
	require.Equal(t, LabelOpen, label)
	require.Equal(t, domain.MarketOpen, rec.records[0].State)
	venue.AssertExpectations(t)
}

func TestShouldRun_Closed(t *testing.T) {
	venue := new(venueMock)
	venue.On("IsMarketOpen", mock.Anything).Return(false, nil)
	rec := &recorderMock{}

	proceed, label := newGate(venue, rec).ShouldRun(context.Background(), false)

	require.False(t, proceed)
	require.Equal(t, LabelClosed, label)
	require.Equal(t, domain.MarketClosed, rec.records[0].State)
}

func TestShouldRun_FailsClosedOnError(t *testing.T) {
	venue := new(venueMock)
	venue.On("IsMarketOpen", mock.Anything).Return(true, errors.New("ambiguous payload"))
	rec := &recorderMock{}

	proceed, label := newGate(venue, rec).ShouldRun(context.Background(), false)

	require.False(t, proceed)
	require.Contains(t, label, "ambiguous payload")
	require.Len(t, rec.records, 1)
	require.Equal(t, domain.MarketClosed, rec.records[0].State)
}

func TestShouldRun_NoVenueFailsClosed(t *testing.T) {
	rec := &recorderMock{}

	proceed, _ := newGate(nil, rec).ShouldRun(context.Background(), false)

	require.False(t, proceed)
	require.Len(t, rec.records, 1)
}

func TestShouldRun_RecorderFailureDoesNotChangeVerdict(t *testing.T) {
	venue := new(venueMock)
	venue.On("IsMarketOpen", mock.Anything).Return(true, nil)
	rec := &recorderMock{err: errors.New("disk full")}

	proceed, _ := newGate(venue, rec).ShouldRun(context.Background(), false)

	require.True(t, proceed)
}
