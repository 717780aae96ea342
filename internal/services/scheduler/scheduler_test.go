package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNext(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// Friday
	now := time.Date(2026, 3, 6, 10, 7, 30, 0, time.UTC)

	tests := []struct {
		name string
		cfg  Config
		want time.Time
	}{
		{
			name: "interval aligns to boundary",
			cfg:  Config{Mode: ModeInterval, Interval: 30 * time.Minute},
			want: time.Date(2026, 3, 6, 10, 30, 0, 0, time.UTC),
		},
		{
			name: "interval with offset",
			cfg:  Config{Mode: ModeInterval, Interval: 15 * time.Minute, Offset: 2 * time.Minute},
			want: time.Date(2026, 3, 6, 10, 17, 0, 0, time.UTC),
		},
		{
			name: "offset slot still ahead in current period",
			cfg:  Config{Mode: ModeInterval, Interval: time.Hour, Offset: 10 * time.Minute},
			want: time.Date(2026, 3, 6, 10, 10, 0, 0, time.UTC),
		},
		{
			name: "hourly later this hour",
			cfg:  Config{Mode: ModeHourly, Minute: 20},
			want: time.Date(2026, 3, 6, 10, 20, 0, 0, time.UTC),
		},
		{
			name: "hourly next hour",
			cfg:  Config{Mode: ModeHourly, Minute: 5},
			want: time.Date(2026, 3, 6, 11, 5, 0, 0, time.UTC),
		},
		{
			name: "daily later today",
			cfg:  Config{Mode: ModeDaily, DailyAt: "15:45", Location: ist},
			want: time.Date(2026, 3, 6, 15, 45, 0, 0, ist),
		},
		{
			name: "daily tomorrow",
			cfg:  Config{Mode: ModeDaily, DailyAt: "09:20", Location: ist},
			want: time.Date(2026, 3, 7, 9, 20, 0, 0, ist),
		},
		{
			name: "daily weekdays skips weekend",
			cfg:  Config{Mode: ModeDaily, DailyAt: "09:20", Location: ist, Weekdays: true},
			want: time.Date(2026, 3, 9, 9, 20, 0, 0, ist),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(s.Next(now)), "got %s", s.Next(now))
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Mode: ModeDaily, DailyAt: "9am"}, nil)
	assert.Error(t, err)

	_, err = New(Config{Mode: ModeHourly, Minute: 60}, nil)
	assert.Error(t, err)

	_, err = New(Config{Mode: "cron"}, nil)
	assert.Error(t, err)

	s, err := New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "every 30m0s", s.String())
}

func TestRun_StopsOnContextDone(t *testing.T) {
	s, err := New(Config{Mode: ModeInterval, Interval: 10 * time.Millisecond, RunImmediately: true}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var calls int32

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, func(context.Context) { atomic.AddInt32(&calls, 1) })
	}()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
