package model

import (
	"fmt"
	"sort"
	"time"
)

// MinuteOfDay is a time of day expressed as minutes from local midnight.
type MinuteOfDay int

func (m MinuteOfDay) At(day time.Time, loc *time.Location) time.Time {
	y, mo, d := day.In(loc).Date()
	return time.Date(y, mo, d, int(m)/60, int(m)%60, 0, 0, loc)
}

// Shift is one open working-hours interval within a weekday.
type Shift struct {
	Start MinuteOfDay `json:"start"`
	End   MinuteOfDay `json:"end"`
}

// WeekKey identifies an ISO week, e.g. "2026-W07".
type WeekKey string

func WeekKeyFor(t time.Time, loc *time.Location) WeekKey {
	year, week := t.In(loc).ISOWeek()
	return WeekKey(fmt.Sprintf("%04d-W%02d", year, week))
}

// Schedule is the weekly working-hours template. Week is indexed by
// time.Weekday. An override for an ISO week fully replaces that week's shifts.
type Schedule struct {
	Week      [7][]Shift             `json:"week"`
	Overrides map[WeekKey][7][]Shift `json:"overrides,omitempty"`
}

// ShiftsFor returns the shifts applying to the given local day, honoring any
// ISO-week override.
func (s Schedule) ShiftsFor(day time.Time, loc *time.Location) []Shift {
	local := day.In(loc)
	if s.Overrides != nil {
		if week, ok := s.Overrides[WeekKeyFor(local, loc)]; ok {
			return week[local.Weekday()]
		}
	}
	return s.Week[local.Weekday()]
}

// Validate checks that every day's shifts are well-formed: start < end, both
// within the day, and no overlap between shifts of the same day.
func (s Schedule) Validate() error {
	if err := validateWeek(s.Week); err != nil {
		return err
	}
	for key, week := range s.Overrides {
		if err := validateWeek(week); err != nil {
			return fmt.Errorf("override %s: %w", key, err)
		}
	}
	return nil
}

func validateWeek(week [7][]Shift) error {
	for day, shifts := range week {
		sorted := make([]Shift, len(shifts))
		copy(sorted, shifts)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
		for i, sh := range sorted {
			if sh.Start < 0 || sh.End > 24*60 {
				return fmt.Errorf("day %d: shift %d:%d outside the day", day, sh.Start, sh.End)
			}
			if sh.Start >= sh.End {
				return fmt.Errorf("day %d: shift start %d not before end %d", day, sh.Start, sh.End)
			}
			if i > 0 && sh.Start < sorted[i-1].End {
				return fmt.Errorf("day %d: overlapping shifts", day)
			}
		}
	}
	return nil
}
