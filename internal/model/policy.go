package model

import (
	"fmt"
	"time"
)

type GranularityKind string

const (
	GranularityStep   GranularityKind = "step"
	GranularityHour   GranularityKind = "hourStart"
	GranularityCustom GranularityKind = "custom"
)

// Granularity controls where slot-start candidates may fall: a fixed minute
// step anchored at the shift start, the top of every hour, or an explicit list
// of times of day.
type Granularity struct {
	Kind        GranularityKind `json:"kind"`
	StepMinutes int             `json:"step_minutes,omitempty"`
	Times       []MinuteOfDay   `json:"times,omitempty"`
}

// BookingPolicy bounds what is bookable: how far ahead, how soon, and with
// which padding around existing busy time.
type BookingPolicy struct {
	HorizonWeeks int           `json:"horizon_weeks"`
	MinLeadTime  time.Duration `json:"min_lead_time"`
	BufferBefore time.Duration `json:"buffer_before"`
	BufferAfter  time.Duration `json:"buffer_after"`
	Granularity  Granularity   `json:"granularity"`
	AutoConfirm  bool          `json:"auto_confirm"`
}

func (p BookingPolicy) Validate() error {
	if p.HorizonWeeks <= 0 {
		return fmt.Errorf("horizon must be at least one week")
	}
	if p.MinLeadTime < 0 || p.BufferBefore < 0 || p.BufferAfter < 0 {
		return fmt.Errorf("negative durations are not allowed")
	}
	switch p.Granularity.Kind {
	case GranularityStep:
		if p.Granularity.StepMinutes <= 0 {
			return fmt.Errorf("step granularity requires a positive step")
		}
	case GranularityHour:
	case GranularityCustom:
		if len(p.Granularity.Times) == 0 {
			return fmt.Errorf("custom granularity requires at least one time")
		}
	default:
		return fmt.Errorf("unknown granularity kind %q", p.Granularity.Kind)
	}
	return nil
}

// Settings is the process-wide scheduling configuration, loaded on start and
// refreshed on change through a settings provider rather than read ambiently.
type Settings struct {
	Schedule Schedule      `json:"schedule"`
	Policy   BookingPolicy `json:"policy"`
	TimeZone string        `json:"time_zone"`
}
