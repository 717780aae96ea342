package marketdata

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Hours is a fixed weekly trading session. It knows nothing about holidays.
type Hours struct {
	loc   *time.Location
	open  time.Duration
	close time.Duration
	now   func() time.Time
}

// NSEHours is the NSE equity session, 09:15 to 15:30 IST, Monday to Friday.
func NSEHours() (*Hours, error) {
	return NewHours("Asia/Kolkata", 9*time.Hour+15*time.Minute, 15*time.Hour+30*time.Minute)
}

func NewHours(tz string, open, close time.Duration) (*Hours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %s", tz)
	}
	if close <= open {
		return nil, errors.Errorf("session close %s must be after open %s", close, open)
	}

	return &Hours{loc: loc, open: open, close: close, now: time.Now}, nil
}

func (h *Hours) IsMarketOpen(_ context.Context) (bool, error) {
	return h.OpenAt(h.now()), nil
}

// OpenAt reports whether t falls inside the session.
func (h *Hours) OpenAt(t time.Time) bool {
	local := t.In(h.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, h.loc)
	since := local.Sub(midnight)

	return since >= h.open && since < h.close
}

// Guarded checks a primary venue source and refuses to report open outside the
// calendar session. Errors from the primary source are returned unchanged.
type Guarded struct {
	primary VenueStatus
	hours   *Hours
}

// VenueStatus reports whether the venue is open.
type VenueStatus interface {
	IsMarketOpen(ctx context.Context) (bool, error)
}

func NewGuarded(primary VenueStatus, hours *Hours) *Guarded {
	return &Guarded{primary: primary, hours: hours}
}

func (g *Guarded) IsMarketOpen(ctx context.Context) (bool, error) {
	if g.hours != nil && !g.hours.OpenAt(g.hours.now()) {
		return false, nil
	}
	return g.primary.IsMarketOpen(ctx)
}

// AlwaysOpen is the venue status of markets that trade around the clock.
type AlwaysOpen struct{}

func (AlwaysOpen) IsMarketOpen(_ context.Context) (bool, error) { return true, nil }
