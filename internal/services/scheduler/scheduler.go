// Package scheduler triggers automatic cycles on an interval, an hourly
// minute or a fixed daily time.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mode selects how wake-up times are computed.
type Mode string

const (
	ModeInterval Mode = "interval"
	ModeHourly   Mode = "hourly"
	ModeDaily    Mode = "daily"

	DefaultInterval = 30 * time.Minute
)

// Config describes a schedule.
type Config struct {
	Mode Mode
	// Interval is the cycle period in interval mode. Runs are aligned to
	// multiples of Interval since the Unix epoch.
	Interval time.Duration
	// Offset delays every aligned run in interval mode.
	Offset time.Duration
	// DailyAt is "HH:MM" in Location for daily mode.
	DailyAt string
	// Minute is the minute of the hour for hourly mode.
	Minute int
	// Location is used by hourly and daily modes, UTC when nil.
	Location *time.Location
	// Weekdays restricts daily runs to Monday through Friday.
	Weekdays       bool
	RunImmediately bool
}

// Scheduler calls a task at the configured times until its context ends.
type Scheduler struct {
	cfg    Config
	hour   int
	minute int
	logger *zap.Logger
	nowFn  func() time.Time
}

func New(cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &Scheduler{cfg: cfg, logger: logger, nowFn: time.Now}

	switch cfg.Mode {
	case ModeInterval:
		if s.cfg.Interval <= 0 {
			s.cfg.Interval = DefaultInterval
		}
		if s.cfg.Offset < 0 {
			s.cfg.Offset = 0
		}
	case ModeHourly:
		if cfg.Minute < 0 || cfg.Minute > 59 {
			return nil, errors.Errorf("hourly minute must be within 0..59, got %d", cfg.Minute)
		}
		s.minute = cfg.Minute
	case ModeDaily:
		h, m, err := parseClock(cfg.DailyAt)
		if err != nil {
			return nil, err
		}
		s.hour, s.minute = h, m
	default:
		return nil, errors.Errorf("unknown schedule mode %q", cfg.Mode)
	}

	return s, nil
}

// String describes the schedule for logs and the status endpoint.
func (s *Scheduler) String() string {
	switch s.cfg.Mode {
	case ModeHourly:
		return fmt.Sprintf("hourly at :%02d", s.minute)
	case ModeDaily:
		days := ""
		if s.cfg.Weekdays {
			days = " on weekdays"
		}
		return fmt.Sprintf("daily at %02d:%02d %s%s", s.hour, s.minute, s.cfg.Location, days)
	default:
		return fmt.Sprintf("every %s", s.cfg.Interval)
	}
}

// Next returns the first wake-up time strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	switch s.cfg.Mode {
	case ModeHourly:
		local := now.In(s.cfg.Location)
		next := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), s.minute, 0, 0, s.cfg.Location)
		if !next.After(now) {
			next = next.Add(time.Hour)
		}
		return next
	case ModeDaily:
		local := now.In(s.cfg.Location)
		next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.cfg.Location)
		for !next.After(now) || (s.cfg.Weekdays && isWeekend(next)) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	default:
		next := now.Truncate(s.cfg.Interval).Add(s.cfg.Offset)
		for !next.After(now) {
			next = next.Add(s.cfg.Interval)
		}
		return next
	}
}

// Run blocks, calling task at every wake-up, until ctx is done.
// A task that outlasts a wake-up time delays the next run instead of overlapping.
func (s *Scheduler) Run(ctx context.Context, task func(ctx context.Context)) {
	if task == nil {
		s.logger.Warn("scheduler task is nil, exit")
		return
	}

	s.logger.Info("scheduler started", zap.String("schedule", s.String()), zap.Bool("run_immediately", s.cfg.RunImmediately))

	if s.cfg.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn()
		wakeAt := s.Next(now)
		wait := wakeAt.Sub(now)
		s.logger.Debug("next scheduled cycle", zap.Time("at", wakeAt), zap.Duration("in", wait.Truncate(time.Second)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
		task(ctx)
	}
}

func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "daily time %q must be HH:MM", v)
	}
	return t.Hour(), t.Minute(), nil
}

func isWeekend(t time.Time) bool {
	d := t.Weekday()
	return d == time.Saturday || d == time.Sunday
}
