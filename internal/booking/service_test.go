package booking

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
)

type fakeStore struct {
	appts     map[uuid.UUID]model.Appointment
	history   []model.HistoryEntry
	events    []outbox.Event
	payments  map[uuid.UUID]model.Payment
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		appts:    map[uuid.UUID]model.Appointment{},
		payments: map[uuid.UUID]model.Payment{},
	}
}

func (f *fakeStore) Create(_ context.Context, appt model.Appointment, entry model.HistoryEntry, evt outbox.Event) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.appts[appt.ID] = appt
	f.history = append(f.history, entry)
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, pgx.ErrNoRows
	}
	return appt, nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id uuid.UUID, from, to model.AppointmentStatus, entry model.HistoryEntry, evt outbox.Event) error {
	appt := f.appts[id]
	if appt.Status != from {
		return errors.New("stale status")
	}
	appt.Status = to
	f.appts[id] = appt
	f.history = append(f.history, entry)
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) Reschedule(_ context.Context, id uuid.UUID, start time.Time, duration time.Duration, entry model.HistoryEntry, evt outbox.Event) error {
	appt := f.appts[id]
	appt.Start = start
	appt.Duration = duration
	f.appts[id] = appt
	f.history = append(f.history, entry)
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) BusyBetween(_ context.Context, window model.Period, exclude uuid.UUID) ([]model.Period, error) {
	var out []model.Period
	for _, appt := range f.appts {
		if appt.ID == exclude || appt.Status == model.StatusDeclined {
			continue
		}
		p := model.Period{Start: appt.Start, End: appt.End()}
		if p.Overlaps(window) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeStore) History(_ context.Context, apptID uuid.UUID) ([]model.HistoryEntry, error) {
	var out []model.HistoryEntry
	for _, e := range f.history {
		if e.AppointmentID == apptID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) AddPayment(_ context.Context, p model.Payment, entry model.HistoryEntry) error {
	f.payments[p.ID] = p
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) MarkPaymentRefunded(_ context.Context, paymentID uuid.UUID, entry model.HistoryEntry) error {
	p := f.payments[paymentID]
	p.Refunded = true
	f.payments[paymentID] = p
	f.history = append(f.history, entry)
	return nil
}

func (f *fakeStore) Payment(_ context.Context, id uuid.UUID) (model.Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return model.Payment{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) Payments(_ context.Context, apptID uuid.UUID) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range f.payments {
		if p.AppointmentID == apptID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memSettingsSource struct {
	s model.Settings
}

func (m *memSettingsSource) Load(context.Context) (model.Settings, error) { return m.s, nil }

func (m *memSettingsSource) Save(_ context.Context, s model.Settings) error {
	m.s = s
	return nil
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

type recordingHook struct {
	id          uuid.UUID
	created     int
	statusOld   []model.AppointmentStatus
	rescheduled int
}

func (h *recordingHook) InstanceID() uuid.UUID { return h.id }
func (h *recordingHook) AppName() string       { return "recording-hook" }

func (h *recordingHook) OnAppointmentCreated(context.Context, model.Appointment) error {
	h.created++
	return nil
}

func (h *recordingHook) OnAppointmentStatusChanged(_ context.Context, _ model.Appointment, old model.AppointmentStatus) error {
	h.statusOld = append(h.statusOld, old)
	return nil
}

func (h *recordingHook) OnAppointmentRescheduled(context.Context, model.Appointment, time.Time, time.Duration) error {
	h.rescheduled++
	return nil
}

func testSettings() model.Settings {
	var week [7][]model.Shift
	week[time.Monday] = []model.Shift{{Start: 9 * 60, End: 17 * 60}}
	return model.Settings{
		Schedule: model.Schedule{Week: week},
		Policy: model.BookingPolicy{
			HorizonWeeks: 2,
			Granularity:  model.Granularity{Kind: model.GranularityStep, StepMinutes: 30},
		},
		TimeZone: "UTC",
	}
}

// Sunday; the schedule opens Monday 09:00-17:00.
var testNow = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, store *fakeStore, cfg model.Settings, hooks ...apps.App) (*Service, *apps.Dispatcher) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	provider := settings.NewProvider(&memSettingsSource{s: cfg}, logger)
	if err := provider.Update(context.Background(), cfg); err != nil {
		t.Fatalf("settings: %v", err)
	}
	reg := apps.NewRegistry(logger, memAppStore{})
	for _, h := range hooks {
		reg.AddBuiltin(h)
	}
	dispatcher := apps.NewDispatcher(reg, logger)
	svc := NewService(store, provider, dispatcher, logger)
	svc.now = func() time.Time { return testNow }
	return svc, dispatcher
}

func TestCreate_BooksOpenSlot(t *testing.T) {
	store := newFakeStore()
	hook := &recordingHook{id: uuid.New()}
	svc, _ := newTestService(t, store, testSettings(), hook)

	start := time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        start,
		Duration:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", appt.Status)
	}
	if len(store.history) != 1 || store.history[0].Kind != model.HistoryCreated {
		t.Errorf("history = %+v, want one created entry", store.history)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.EventAppointmentCreated {
		t.Errorf("events = %+v, want one created event", store.events)
	}
	if hook.created != 1 {
		t.Errorf("hook.created = %d, want 1", hook.created)
	}
}

func TestCreate_AutoConfirm(t *testing.T) {
	cfg := testSettings()
	cfg.Policy.AutoConfirm = true
	svc, _ := newTestService(t, newFakeStore(), cfg)

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", appt.Status)
	}
}

func TestCreate_TakenSlotRejected(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, testSettings())

	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	if _, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "first",
		Start:        start,
		Duration:     30 * time.Minute,
	}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "second",
		Start:        start,
		Duration:     30 * time.Minute,
	})
	if !errors.Is(err, ErrTimeNotAvailable) {
		t.Fatalf("err = %v, want ErrTimeNotAvailable", err)
	}
}

func TestCreate_ExclusionConstraintBackstop(t *testing.T) {
	store := newFakeStore()
	store.createErr = &pgconn.PgError{Code: "23P01"}
	svc, _ := newTestService(t, store, testSettings())

	_, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "racer",
		Start:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
	})
	if !errors.Is(err, ErrTimeNotAvailable) {
		t.Fatalf("err = %v, want ErrTimeNotAvailable", err)
	}
}

func TestTransitions(t *testing.T) {
	store := newFakeStore()
	hook := &recordingHook{id: uuid.New()}
	svc, _ := newTestService(t, store, testSettings(), hook)

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	confirmed, err := svc.Confirm(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != model.StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}

	// Confirming twice is not a valid transition.
	if _, err := svc.Confirm(context.Background(), appt.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Confirm err = %v, want ErrInvalidTransition", err)
	}

	declined, err := svc.Decline(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if declined.Status != model.StatusDeclined {
		t.Errorf("status = %s, want declined", declined.Status)
	}

	// Declined is terminal.
	if _, err := svc.Confirm(context.Background(), appt.ID); !errors.Is(err, ErrAppointmentDeclined) {
		t.Errorf("Confirm after decline err = %v, want ErrAppointmentDeclined", err)
	}
	if len(hook.statusOld) != 2 {
		t.Errorf("status hooks = %d, want 2", len(hook.statusOld))
	}
}

func TestReschedule_OwnTimeDoesNotBlock(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, testSettings())

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:     time.Hour,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Shift by 30 minutes into a window overlapping the current booking.
	newStart := time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC)
	moved, err := svc.Reschedule(context.Background(), appt.ID, newStart, 0)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !moved.Start.Equal(newStart) {
		t.Errorf("start = %v, want %v", moved.Start, newStart)
	}
	if moved.Duration != time.Hour {
		t.Errorf("duration = %v, want the original hour kept", moved.Duration)
	}
	last := store.history[len(store.history)-1]
	if last.Kind != model.HistoryRescheduled {
		t.Errorf("last history kind = %s, want rescheduled", last.Kind)
	}
}

func TestReschedule_ChangesDuration(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, testSettings())

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newStart := time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)
	moved, err := svc.Reschedule(context.Background(), appt.ID, newStart, time.Hour)
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if moved.Duration != time.Hour {
		t.Errorf("duration = %v, want 1h", moved.Duration)
	}
	if !moved.End().Equal(newStart.Add(time.Hour)) {
		t.Errorf("end = %v, want %v", moved.End(), newStart.Add(time.Hour))
	}
}

func TestReschedule_DeclinedRefused(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, testSettings())

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Decline(context.Background(), appt.ID); err != nil {
		t.Fatalf("Decline: %v", err)
	}
	_, err = svc.Reschedule(context.Background(), appt.ID, time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC), 0)
	if !errors.Is(err, ErrAppointmentDeclined) {
		t.Fatalf("err = %v, want ErrAppointmentDeclined", err)
	}
}

func TestRefundPayment(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(t, store, testSettings())

	appt, err := svc.Create(context.Background(), CreateRequest{
		CustomerName: "Dana",
		Start:        time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		Duration:     30 * time.Minute,
		TotalPrice:   5000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	payment, err := svc.RecordPayment(context.Background(), appt.ID, "stripe-payments", "pi_123", 5000)
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	// No processor installed for the provider.
	if err := svc.RefundPayment(context.Background(), payment.ID); err == nil {
		t.Fatal("RefundPayment succeeded without a processor installed")
	}
}
