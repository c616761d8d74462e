package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/settings"
)

type fakeRules struct {
	rules     []model.Rule
	templates map[string]model.MessageTemplate
}

func (f *fakeRules) List(context.Context) ([]model.Rule, error) { return f.rules, nil }

func (f *fakeRules) Template(_ context.Context, name string) (model.MessageTemplate, error) {
	tpl, ok := f.templates[name]
	if !ok {
		return model.MessageTemplate{}, fmt.Errorf("template %q not found", name)
	}
	return tpl, nil
}

type fakeAppts struct {
	appts []model.Appointment
}

func (f *fakeAppts) StartingBetween(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appts {
		if !a.Start.Before(from) && a.Start.Before(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppts) CountCompletedAtOrBefore(_ context.Context, customerID uuid.UUID, t time.Time) (int, error) {
	n := 0
	for _, a := range f.appts {
		if a.CustomerID == customerID && a.Status == model.StatusConfirmed && !a.End().After(t) {
			n++
		}
	}
	return n, nil
}

type memAppStore struct{}

func (memAppStore) InsertAppInstance(context.Context, model.AppInstance) error { return nil }
func (memAppStore) UpdateAppStatus(context.Context, uuid.UUID, model.AppStatus, string) error {
	return nil
}
func (memAppStore) DeleteAppInstance(context.Context, uuid.UUID) error { return nil }
func (memAppStore) ListAppInstances(context.Context) ([]model.AppInstance, error) {
	return nil, nil
}

type sentMail struct {
	to, subject, body string
}

type recordingMailSender struct {
	id   uuid.UUID
	sent []sentMail
}

func (r *recordingMailSender) InstanceID() uuid.UUID { return r.id }
func (r *recordingMailSender) AppName() string       { return "recording-mail" }

func (r *recordingMailSender) SendMail(_ context.Context, to, subject, body string) error {
	r.sent = append(r.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

type recordingTextSender struct {
	id   uuid.UUID
	sent []string
}

func (r *recordingTextSender) InstanceID() uuid.UUID { return r.id }
func (r *recordingTextSender) AppName() string       { return "recording-text" }

func (r *recordingTextSender) SendTextMessage(_ context.Context, to, body string) error {
	r.sent = append(r.sent, to+": "+body)
	return nil
}

type memSettingsSource struct{ s model.Settings }

func (m *memSettingsSource) Load(context.Context) (model.Settings, error) { return m.s, nil }

func (m *memSettingsSource) Save(_ context.Context, s model.Settings) error {
	m.s = s
	return nil
}

func newTestScheduler(t *testing.T, rules *fakeRules, appts *fakeAppts, senders ...apps.App) *Scheduler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	provider := settings.NewProvider(&memSettingsSource{s: settings.Default()}, logger)
	reg := apps.NewRegistry(logger, memAppStore{})
	for _, s := range senders {
		reg.AddBuiltin(s)
	}
	dispatcher := apps.NewDispatcher(reg, logger)
	return NewScheduler(rules, appts, provider, dispatcher, NewMemoryMarker(), nil, logger)
}

func reminderTemplate() map[string]model.MessageTemplate {
	return map[string]model.MessageTemplate{
		"reminder": {
			Name:    "reminder",
			Channel: model.ChannelEmail,
			Subject: "See you soon, {{.CustomerName}}",
			Body:    "Your visit starts at {{.Start.Format \"15:04\"}}.",
		},
		"thanks": {
			Name:    "thanks",
			Channel: model.ChannelText,
			Body:    "Thanks for coming in, {{.CustomerName}}!",
		},
	}
}

func TestOnTime_RelativeReminderFiresOnce(t *testing.T) {
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		CustomerName:  "Dana",
		CustomerEmail: "dana@example.com",
		Start:         time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:      30 * time.Minute,
		Status:        model.StatusConfirmed,
	}
	rules := &fakeRules{
		rules: []model.Rule{{
			ID:       uuid.New(),
			Kind:     model.RuleReminder,
			Spec:     model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionBefore, Days: 1},
			Channel:  model.ChannelEmail,
			Template: "reminder",
		}},
		templates: reminderTemplate(),
	}
	mail := &recordingMailSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, &fakeAppts{appts: []model.Appointment{appt}}, mail)

	// Exactly one day ahead of the appointment start.
	tick := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := sched.OnTime(context.Background(), tick); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(mail.sent))
	}
	if mail.sent[0].to != "dana@example.com" {
		t.Errorf("to = %q", mail.sent[0].to)
	}
	if mail.sent[0].subject != "See you soon, Dana" {
		t.Errorf("subject = %q", mail.sent[0].subject)
	}
	if mail.sent[0].body != "Your visit starts at 10:00." {
		t.Errorf("body = %q", mail.sent[0].body)
	}

	// Re-running the same tick must not send again.
	if err := sched.OnTime(context.Background(), tick); err != nil {
		t.Fatalf("OnTime rerun: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent after rerun = %d, want 1", len(mail.sent))
	}

	// The next minute's window no longer contains the appointment.
	if err := sched.OnTime(context.Background(), tick.Add(time.Minute)); err != nil {
		t.Fatalf("OnTime next tick: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent after next tick = %d, want 1", len(mail.sent))
	}
}

func TestOnTime_FixedTimeFollowUp(t *testing.T) {
	customer := uuid.New()
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    customer,
		CustomerName:  "Sam",
		CustomerPhone: "+15550100",
		Start:         time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC),
		Duration:      30 * time.Minute,
		Status:        model.StatusConfirmed,
	}
	rules := &fakeRules{
		rules: []model.Rule{{
			ID:       uuid.New(),
			Kind:     model.RuleFollowUp,
			Spec:     model.TimeSpec{Kind: model.SpecFixedTimeOfDay, Direction: model.DirectionAfter, Hour: 20},
			Channel:  model.ChannelText,
			Template: "thanks",
		}},
		templates: reminderTemplate(),
	}
	text := &recordingTextSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, &fakeAppts{appts: []model.Appointment{appt}}, text)

	// 19:59 does not match the rule's time of day.
	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 19, 59, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(text.sent) != 0 {
		t.Fatalf("sent at 19:59 = %d, want 0", len(text.sent))
	}

	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 20, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(text.sent) != 1 {
		t.Fatalf("sent at 20:00 = %d, want 1", len(text.sent))
	}
	if text.sent[0] != "+15550100: Thanks for coming in, Sam!" {
		t.Errorf("sent = %q", text.sent[0])
	}
}

// A "2h after" follow-up fires two hours after the appointment's start, not
// its end.
func TestOnTime_RelativeFollowUpKeysOffStart(t *testing.T) {
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		CustomerName:  "Lee",
		CustomerPhone: "+15550122",
		Start:         time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:      time.Hour,
		Status:        model.StatusConfirmed,
	}
	rules := &fakeRules{
		rules: []model.Rule{{
			ID:       uuid.New(),
			Kind:     model.RuleFollowUp,
			Spec:     model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionAfter, Hours: 2},
			Channel:  model.ChannelText,
			Template: "thanks",
		}},
		templates: reminderTemplate(),
	}
	text := &recordingTextSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, &fakeAppts{appts: []model.Appointment{appt}}, text)

	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(text.sent) != 1 {
		t.Fatalf("sent at start+2h = %d, want 1", len(text.sent))
	}

	// End+2h is not a firing instant for this rule.
	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 13, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(text.sent) != 1 {
		t.Fatalf("sent at end+2h = %d, want still 1", len(text.sent))
	}
}

func TestOnTime_MissingTemplateSkipsOnlyThatRule(t *testing.T) {
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		CustomerName:  "Noor",
		CustomerEmail: "noor@example.com",
		Start:         time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:      30 * time.Minute,
		Status:        model.StatusConfirmed,
	}
	spec := model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionBefore, Hours: 2}
	rules := &fakeRules{
		rules: []model.Rule{
			{
				ID:       uuid.New(),
				Kind:     model.RuleReminder,
				Spec:     spec,
				Channel:  model.ChannelEmail,
				Template: "deleted-template",
			},
			{
				ID:       uuid.New(),
				Kind:     model.RuleReminder,
				Spec:     spec,
				Channel:  model.ChannelEmail,
				Template: "reminder",
			},
		},
		templates: reminderTemplate(),
	}
	mail := &recordingMailSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, &fakeAppts{appts: []model.Appointment{appt}}, mail)

	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("sent = %d, want the rule with an existing template to fire", len(mail.sent))
	}
	if mail.sent[0].subject != "See you soon, Noor" {
		t.Errorf("subject = %q", mail.sent[0].subject)
	}
}

func TestOnTime_AfterCountExactMatch(t *testing.T) {
	third := uuid.New()
	second := uuid.New()
	day := func(d, h int) time.Time { return time.Date(2026, 2, d, h, 0, 0, 0, time.UTC) }
	mk := func(customer uuid.UUID, start time.Time) model.Appointment {
		return model.Appointment{
			ID:            uuid.New(),
			CustomerID:    customer,
			CustomerName:  "repeat",
			CustomerPhone: "+15550111",
			Start:         start,
			Duration:      time.Hour,
			Status:        model.StatusConfirmed,
		}
	}
	appts := &fakeAppts{appts: []model.Appointment{
		// Customer "third": two prior visits plus one starting in the window.
		mk(third, day(1, 9)), mk(third, day(1, 11)), mk(third, day(2, 10)),
		// Customer "second": one prior visit plus one starting in the window.
		mk(second, day(1, 9)), mk(second, day(2, 10)),
	}}

	n := 3
	rules := &fakeRules{
		rules: []model.Rule{{
			ID:         uuid.New(),
			Kind:       model.RuleFollowUp,
			Spec:       model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionAfter, Hours: 1},
			Channel:    model.ChannelText,
			Template:   "thanks",
			AfterCount: &n,
		}},
		templates: reminderTemplate(),
	}
	text := &recordingTextSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, appts, text)

	// Both customers' latest appointments start at 10:00 on day 2; the rule
	// looks one hour back.
	if err := sched.OnTime(context.Background(), day(2, 11)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(text.sent) != 1 {
		t.Fatalf("sent = %d, want exactly the third-visit customer", len(text.sent))
	}
}

func TestOnTime_StatusFilterSkips(t *testing.T) {
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    uuid.New(),
		CustomerName:  "Pat",
		CustomerEmail: "pat@example.com",
		Start:         time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:      30 * time.Minute,
		Status:        model.StatusPending,
	}
	rules := &fakeRules{
		rules: []model.Rule{{
			ID:           uuid.New(),
			Kind:         model.RuleReminder,
			Spec:         model.TimeSpec{Kind: model.SpecRelativeOffset, Direction: model.DirectionBefore, Hours: 2},
			Channel:      model.ChannelEmail,
			Template:     "reminder",
			StatusFilter: model.StatusConfirmed,
		}},
		templates: reminderTemplate(),
	}
	mail := &recordingMailSender{id: uuid.New()}
	sched := newTestScheduler(t, rules, &fakeAppts{appts: []model.Appointment{appt}}, mail)

	if err := sched.OnTime(context.Background(), time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("OnTime: %v", err)
	}
	if len(mail.sent) != 0 {
		t.Fatalf("sent = %d, want 0 for pending appointment", len(mail.sent))
	}
}
