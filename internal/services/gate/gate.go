// Package gate decides whether an automatic cycle may trade.
package gate

import (
	"context"
	"time"

	"github.com/vadiminshakov/sipbot/internal/domain"
	"go.uber.org/zap"
)

const (
	LabelManual  = "manual override"
	LabelOpen    = "market open"
	LabelClosed  = "market closed"
	labelUnknown = "market status unknown"
)

// VenueStatus reports whether the trading venue is open.
type VenueStatus interface {
	IsMarketOpen(ctx context.Context) (bool, error)
}

// StateRecorder persists market state transitions.
type StateRecorder interface {
	SaveMarketState(rec domain.MarketStateRecord) error
}

// Gate is the market gate. A nil venue is treated as unknown status.
type Gate struct {
	venue    VenueStatus
	recorder StateRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a market gate.
func New(venue VenueStatus, recorder StateRecorder, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{venue: venue, recorder: recorder, logger: logger, now: time.Now}
}

// ShouldRun returns whether the cycle may proceed and a human readable status label.
// Automatic cycles fail closed whenever the venue state cannot be confirmed.
func (g *Gate) ShouldRun(ctx context.Context, manual bool) (bool, string) {
	if manual {
		g.record(domain.MarketManual, LabelManual)
		return true, LabelManual
	}

	if g.venue == nil {
		label := labelUnknown + ": no venue status source"
		g.record(domain.MarketClosed, label)
		return false, label
	}

	open, err := g.venue.IsMarketOpen(ctx)
	if err != nil {
		label := labelUnknown + ": " + err.Error()
		g.logger.Warn("venue status check failed, refusing automatic cycle", zap.Error(err))
		g.record(domain.MarketClosed, label)
		return false, label
	}

	if !open {
		g.record(domain.MarketClosed, LabelClosed)
		return false, LabelClosed
	}

	g.record(domain.MarketOpen, LabelOpen)
	return true, LabelOpen
}

func (g *Gate) record(state domain.MarketState, label string) {
	if g.recorder == nil {
		return
	}
	now := g.now()
	rec := domain.MarketStateRecord{
		Timestamp: now,
		CycleDate: now.Format(time.DateOnly),
		State:     state,
		Label:     label,
	}
	if err := g.recorder.SaveMarketState(rec); err != nil {
		g.logger.Error("failed to record market state", zap.String("state", string(state)), zap.Error(err))
	}
}
