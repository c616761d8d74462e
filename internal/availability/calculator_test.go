package availability

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/slotify-app/slotify/internal/model"
)

type stubSource struct {
	name    string
	periods []model.Period
	err     error
}

func (s *stubSource) SourceName() string { return s.name }

func (s *stubSource) BusyTimes(_ context.Context, _ model.Period) ([]model.Period, error) {
	return s.periods, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mondaySchedule(start, end model.MinuteOfDay) model.Schedule {
	var s model.Schedule
	s.Week[time.Monday] = []model.Shift{{Start: start, End: end}}
	return s
}

func stepPolicy(stepMinutes int) model.BookingPolicy {
	return model.BookingPolicy{
		HorizonWeeks: 2,
		Granularity:  model.Granularity{Kind: model.GranularityStep, StepMinutes: stepMinutes},
	}
}

func onDay(slots []time.Time, day time.Time) []time.Time {
	var out []time.Time
	for _, s := range slots {
		if s.Year() == day.Year() && s.YearDay() == day.YearDay() {
			out = append(out, s)
		}
	}
	return out
}

// Sunday 2026-02-01; the following Monday is 2026-02-02.
var (
	sunday = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	monday = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
)

func TestSlots_BookedMorningScenario(t *testing.T) {
	// Monday 09:00-12:00 open, one confirmed appointment 10:00-10:30,
	// 2-week horizon, 1h lead time, 30-minute steps, no buffers.
	booked := &stubSource{name: "appointments", periods: []model.Period{{
		Start: monday.Add(10 * time.Hour),
		End:   monday.Add(10*time.Hour + 30*time.Minute),
	}}}
	calc := NewCalculator(discardLogger(), booked)

	policy := stepPolicy(30)
	policy.MinLeadTime = time.Hour

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 12*60),
		Policy:   policy,
		Location: time.UTC,
		Duration: 30 * time.Minute,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}

	got := onDay(slots, monday)
	want := []time.Time{
		monday.Add(9 * time.Hour),
		monday.Add(9*time.Hour + 30*time.Minute),
		monday.Add(11 * time.Hour),
		monday.Add(11*time.Hour + 30*time.Minute),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d slots %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("slot %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSlots_LeadTimeExcludesNearSlots(t *testing.T) {
	calc := NewCalculator(discardLogger())
	policy := stepPolicy(30)
	policy.MinLeadTime = time.Hour

	now := monday.Add(8*time.Hour + 45*time.Minute)
	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 12*60),
		Policy:   policy,
		Location: time.UTC,
		Duration: 30 * time.Minute,
		Now:      now,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	if len(got) == 0 {
		t.Fatalf("expected slots on Monday")
	}
	// Lead time pushes the horizon start to 09:45; 09:00 and 09:30 are gone.
	if !got[0].Equal(monday.Add(10 * time.Hour)) {
		t.Fatalf("first slot = %v, want 10:00", got[0])
	}
}

func TestSlots_FailingSourceDegradesToNoBusyTime(t *testing.T) {
	failing := &stubSource{name: "vendor-calendar", err: errors.New("upstream 502")}
	booked := &stubSource{name: "appointments", periods: []model.Period{{
		Start: monday.Add(9 * time.Hour),
		End:   monday.Add(10 * time.Hour),
	}}}
	calc := NewCalculator(discardLogger(), failing, booked)

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 12*60),
		Policy:   stepPolicy(60),
		Location: time.UTC,
		Duration: time.Hour,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("a failing source must not fail the computation: %v", err)
	}
	got := onDay(slots, monday)
	// 09:00 blocked by the healthy source, 10:00 refused because it starts
	// at the busy period's end, leaving 11:00.
	if len(got) != 1 || !got[0].Equal(monday.Add(11*time.Hour)) {
		t.Fatalf("got %v, want only 11:00", got)
	}
}

func TestSlots_BuffersGrowBusyPeriods(t *testing.T) {
	booked := &stubSource{name: "appointments", periods: []model.Period{{
		Start: monday.Add(10 * time.Hour),
		End:   monday.Add(10*time.Hour + 30*time.Minute),
	}}}
	calc := NewCalculator(discardLogger(), booked)

	policy := stepPolicy(30)
	policy.BufferBefore = 30 * time.Minute
	policy.BufferAfter = 30 * time.Minute

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 12*60),
		Policy:   policy,
		Location: time.UTC,
		Duration: 30 * time.Minute,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	// Busy grows to 09:30-11:00, so 09:00 and 11:30 survive.
	if len(got) != 2 || !got[0].Equal(monday.Add(9*time.Hour)) || !got[1].Equal(monday.Add(11*time.Hour+30*time.Minute)) {
		t.Fatalf("got %v, want 09:00 and 11:30", got)
	}
}

func TestSlots_TopOfHourGranularity(t *testing.T) {
	calc := NewCalculator(discardLogger())
	policy := model.BookingPolicy{
		HorizonWeeks: 1,
		Granularity:  model.Granularity{Kind: model.GranularityHour},
	}

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60+30, 12*60),
		Policy:   policy,
		Location: time.UTC,
		Duration: 30 * time.Minute,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	// Shift opens 09:30, so hourly candidates are 10:00 and 11:00.
	if len(got) != 2 || !got[0].Equal(monday.Add(10*time.Hour)) || !got[1].Equal(monday.Add(11*time.Hour)) {
		t.Fatalf("got %v, want 10:00 and 11:00", got)
	}
}

func TestSlots_CustomTimes(t *testing.T) {
	calc := NewCalculator(discardLogger())
	policy := model.BookingPolicy{
		HorizonWeeks: 1,
		Granularity: model.Granularity{
			Kind:  model.GranularityCustom,
			Times: []model.MinuteOfDay{9 * 60, 10*60 + 15, 13 * 60},
		},
	}

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 12*60),
		Policy:   policy,
		Location: time.UTC,
		Duration: 45 * time.Minute,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	// 13:00 falls outside the shift.
	if len(got) != 2 || !got[0].Equal(monday.Add(9*time.Hour)) || !got[1].Equal(monday.Add(10*time.Hour+15*time.Minute)) {
		t.Fatalf("got %v, want 09:00 and 10:15", got)
	}
}

func TestSlots_WeekOverrideReplacesShifts(t *testing.T) {
	calc := NewCalculator(discardLogger())
	sched := mondaySchedule(9*60, 12*60)

	var override [7][]model.Shift
	override[time.Monday] = []model.Shift{{Start: 14 * 60, End: 15 * 60}}
	sched.Overrides = map[model.WeekKey][7][]model.Shift{
		model.WeekKeyFor(monday, time.UTC): override,
	}

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: sched,
		Policy:   stepPolicy(60),
		Location: time.UTC,
		Duration: time.Hour,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	if len(got) != 1 || !got[0].Equal(monday.Add(14*time.Hour)) {
		t.Fatalf("override week should only offer 14:00, got %v", got)
	}
}

func TestSlots_SlotMustFitInsideShift(t *testing.T) {
	calc := NewCalculator(discardLogger())

	slots, err := calc.Slots(context.Background(), Request{
		Schedule: mondaySchedule(9*60, 10*60),
		Policy:   stepPolicy(30),
		Location: time.UTC,
		Duration: 45 * time.Minute,
		Now:      sunday,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	got := onDay(slots, monday)
	// 09:30 + 45m overruns the 10:00 close.
	if len(got) != 1 || !got[0].Equal(monday.Add(9*time.Hour)) {
		t.Fatalf("got %v, want only 09:00", got)
	}
}
