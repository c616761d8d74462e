// Package timespec evaluates declarative rule timings against concrete
// instants. It is pure: no I/O, no clock reads.
package timespec

import (
	"errors"
	"fmt"
	"time"

	"github.com/slotify-app/slotify/internal/model"
)

// Tick is the scheduler's invocation granularity. Relative-offset windows span
// exactly one tick so that each invocation claims one window.
const Tick = time.Minute

var (
	ErrZeroOffset = errors.New("timespec: all offset components are zero")
	ErrWrongKind  = errors.New("timespec: operation does not apply to this kind")
)

// Validate rejects specs that could never fire. Called at rule creation, not
// at evaluation time.
func Validate(ts model.TimeSpec) error {
	switch ts.Kind {
	case model.SpecRelativeOffset:
		if Offset(ts) == 0 {
			return ErrZeroOffset
		}
	case model.SpecFixedTimeOfDay:
		if ts.Hour < 0 || ts.Hour > 23 || ts.Minute < 0 || ts.Minute > 59 {
			return fmt.Errorf("timespec: invalid time of day %02d:%02d", ts.Hour, ts.Minute)
		}
		if ts.Weeks < 0 || ts.Days < 0 {
			return fmt.Errorf("timespec: negative day offset")
		}
	default:
		return fmt.Errorf("timespec: unknown kind %q", ts.Kind)
	}
	switch ts.Direction {
	case model.DirectionBefore, model.DirectionAfter:
	default:
		return fmt.Errorf("timespec: unknown direction %q", ts.Direction)
	}
	return nil
}

// Offset is the total relative offset in absolute time.
func Offset(ts model.TimeSpec) time.Duration {
	return time.Duration(ts.Weeks)*7*24*time.Hour +
		time.Duration(ts.Days)*24*time.Hour +
		time.Duration(ts.Hours)*time.Hour +
		time.Duration(ts.Minutes)*time.Minute
}

// DueWindow returns the window of appointment instants due at now for a
// relative-offset spec: [now ± offset, now ± offset + tick). A before-rule
// looks at appointments offset into the future, an after-rule offset into the
// past. Operates on absolute instants, so DST-agnostic.
func DueWindow(ts model.TimeSpec, now time.Time, tick time.Duration) (model.Period, error) {
	if ts.Kind != model.SpecRelativeOffset {
		return model.Period{}, ErrWrongKind
	}
	if tick <= 0 {
		tick = Tick
	}
	target := now.Add(Offset(ts))
	if ts.Direction == model.DirectionAfter {
		target = now.Add(-Offset(ts))
	}
	return model.Period{Start: target, End: target.Add(tick)}, nil
}

// MatchesNow reports whether a fixed-time-of-day spec fires at now, compared
// on the target zone's wall clock.
func MatchesNow(ts model.TimeSpec, now time.Time, loc *time.Location) bool {
	if ts.Kind != model.SpecFixedTimeOfDay {
		return false
	}
	local := now.In(loc)
	return local.Hour() == ts.Hour && local.Minute() == ts.Minute
}

// TargetDayRange returns the full local day of appointments matched by a
// fixed-time-of-day spec at now: today shifted by weeks+days into the future
// for before-rules and into the past for after-rules. Day arithmetic uses
// wall-clock AddDate so DST transition days keep their local boundaries.
func TargetDayRange(ts model.TimeSpec, now time.Time, loc *time.Location) (model.Period, error) {
	if ts.Kind != model.SpecFixedTimeOfDay {
		return model.Period{}, ErrWrongKind
	}
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	days := ts.Weeks*7 + ts.Days
	if ts.Direction == model.DirectionAfter {
		days = -days
	}
	start := dayStart.AddDate(0, 0, days)
	return model.Period{Start: start, End: start.AddDate(0, 0, 1)}, nil
}
