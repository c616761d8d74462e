// Package availability computes bookable slot starts from the working-hour
// schedule, the booking policy, and every known source of busy time.
package availability

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/slotify-app/slotify/internal/model"
)

// BusyTimeSource reports busy intervals inside a window. Local appointments
// and every installed calendar app are each one source.
type BusyTimeSource interface {
	SourceName() string
	BusyTimes(ctx context.Context, window model.Period) ([]model.Period, error)
}

type Calculator struct {
	sources []BusyTimeSource
	logger  *slog.Logger
}

func NewCalculator(logger *slog.Logger, sources ...BusyTimeSource) *Calculator {
	return &Calculator{sources: sources, logger: logger}
}

// Request carries everything a slot computation depends on. Slots is a pure
// function of the request plus what the busy-time sources report.
type Request struct {
	Schedule model.Schedule
	Policy   model.BookingPolicy
	Location *time.Location
	Duration time.Duration
	Now      time.Time
}

// Slots returns the sorted, deduplicated bookable start instants for the
// requested duration. Safe for concurrent use.
func (c *Calculator) Slots(ctx context.Context, req Request) ([]time.Time, error) {
	if req.Duration <= 0 {
		return nil, nil
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	horizon := model.Period{
		Start: req.Now.Add(req.Policy.MinLeadTime),
		End:   req.Now.Add(time.Duration(req.Policy.HorizonWeeks) * 7 * 24 * time.Hour),
	}
	if !horizon.End.After(horizon.Start) {
		return nil, nil
	}

	busy := c.collectBusy(ctx, model.Period{Start: req.Now, End: horizon.End}, req.Policy)

	var out []time.Time
	for day := req.Now.In(loc); !dayStart(day, loc).After(horizon.End); day = day.AddDate(0, 0, 1) {
		for _, shift := range req.Schedule.ShiftsFor(day, loc) {
			shiftStart := shift.Start.At(day, loc)
			shiftEnd := shift.End.At(day, loc)
			for _, cand := range candidates(shiftStart, shiftEnd, day, loc, req.Policy.Granularity) {
				if cand.Before(horizon.Start) || cand.After(horizon.End) {
					continue
				}
				if cand.Add(req.Duration).After(shiftEnd) {
					continue
				}
				if conflicts(cand, req.Duration, busy) {
					continue
				}
				out = append(out, cand)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedup(out), nil
}

// Available reports whether one specific start/duration would be offered.
func (c *Calculator) Available(ctx context.Context, req Request, start time.Time) (bool, error) {
	slots, err := c.Slots(ctx, req)
	if err != nil {
		return false, err
	}
	for _, s := range slots {
		if s.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

// collectBusy queries every source in parallel. A failing source contributes
// no busy time: availability degrades rather than erroring, at the cost of a
// possibly over-optimistic answer.
func (c *Calculator) collectBusy(ctx context.Context, window model.Period, policy model.BookingPolicy) []model.Period {
	var mu sync.Mutex
	var busy []model.Period

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range c.sources {
		g.Go(func() error {
			periods, err := src.BusyTimes(gctx, window)
			if err != nil {
				c.logger.Warn("busy time source failed, contributing no busy time",
					"source", src.SourceName(), "err", err)
				return nil
			}
			mu.Lock()
			for _, p := range periods {
				busy = append(busy, model.Period{
					Start: p.Start.Add(-policy.BufferBefore),
					End:   p.End.Add(policy.BufferAfter),
				})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return busy
}

// conflicts reports whether a slot starting at cand would collide with any
// busy period. A slot is also refused when it starts at the exact instant a
// busy period ends, so bookings are never offered flush against the end of
// existing busy time.
func conflicts(cand time.Time, duration time.Duration, busy []model.Period) bool {
	end := cand.Add(duration)
	for _, b := range busy {
		if !cand.After(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

func candidates(shiftStart, shiftEnd, day time.Time, loc *time.Location, g model.Granularity) []time.Time {
	var out []time.Time
	switch g.Kind {
	case model.GranularityStep:
		step := time.Duration(g.StepMinutes) * time.Minute
		if step <= 0 {
			return nil
		}
		for t := shiftStart; t.Before(shiftEnd); t = t.Add(step) {
			out = append(out, t)
		}
	case model.GranularityHour:
		local := shiftStart.In(loc)
		t := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		if t.Before(shiftStart) {
			t = t.Add(time.Hour)
		}
		for ; t.Before(shiftEnd); t = t.Add(time.Hour) {
			out = append(out, t)
		}
	case model.GranularityCustom:
		for _, m := range g.Times {
			t := m.At(day, loc)
			if !t.Before(shiftStart) && t.Before(shiftEnd) {
				out = append(out, t)
			}
		}
	}
	return out
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func dedup(in []time.Time) []time.Time {
	if len(in) < 2 {
		return in
	}
	out := in[:1]
	for _, t := range in[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
