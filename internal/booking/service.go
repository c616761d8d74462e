// Package booking is the appointment lifecycle manager. Every state change
// goes through here: it re-checks availability at write time, records an
// append-only history entry with the change, emits the outbox event in the
// same transaction, and notifies connected apps after commit.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/availability"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/internal/storage"
)

var (
	ErrTimeNotAvailable    = errors.New("requested time is not available")
	ErrInvalidTransition   = errors.New("status transition not allowed")
	ErrAppointmentDeclined = errors.New("appointment is declined")
	ErrNotFound            = errors.New("appointment not found")
)

// Store is the persistence contract. Atomicity lives behind it: Create,
// TransitionStatus and Reschedule each commit the row change, history entry
// and outbox event together or not at all.
type Store interface {
	Create(ctx context.Context, appt model.Appointment, entry model.HistoryEntry, evt outbox.Event) error
	Get(ctx context.Context, id uuid.UUID) (model.Appointment, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to model.AppointmentStatus, entry model.HistoryEntry, evt outbox.Event) error
	Reschedule(ctx context.Context, id uuid.UUID, start time.Time, duration time.Duration, entry model.HistoryEntry, evt outbox.Event) error
	BusyBetween(ctx context.Context, window model.Period, exclude uuid.UUID) ([]model.Period, error)
	History(ctx context.Context, apptID uuid.UUID) ([]model.HistoryEntry, error)
	AddPayment(ctx context.Context, p model.Payment, entry model.HistoryEntry) error
	MarkPaymentRefunded(ctx context.Context, paymentID uuid.UUID, entry model.HistoryEntry) error
	Payment(ctx context.Context, id uuid.UUID) (model.Payment, error)
	Payments(ctx context.Context, apptID uuid.UUID) ([]model.Payment, error)
}

type Service struct {
	store      Store
	settings   *settings.Provider
	dispatcher *apps.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(store Store, provider *settings.Provider, dispatcher *apps.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		settings:   provider,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

type CreateRequest struct {
	CustomerID    uuid.UUID
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Start         time.Time
	Duration      time.Duration
	TotalPrice    int64
	Fields        map[string]string
	ServiceOption string
	Addons        []string
	Note          string
}

// Slots lists the bookable start instants for the given duration under the
// current settings.
func (s *Service) Slots(ctx context.Context, duration time.Duration) ([]time.Time, error) {
	calc, req := s.calculator(uuid.Nil, duration)
	return calc.Slots(ctx, req)
}

// Create books an appointment. Availability is checked against live state at
// write time; the database exclusion constraint backstops the check, so two
// concurrent creates for the same slot cannot both succeed.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Appointment, error) {
	if req.Duration <= 0 {
		return model.Appointment{}, fmt.Errorf("duration must be positive")
	}
	if req.CustomerName == "" {
		return model.Appointment{}, fmt.Errorf("customer name is required")
	}

	calc, areq := s.calculator(uuid.Nil, req.Duration)
	ok, err := calc.Available(ctx, areq, req.Start)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, ErrTimeNotAvailable
	}

	cfg, _ := s.settings.Current()
	status := model.StatusPending
	if cfg.Policy.AutoConfirm {
		status = model.StatusConfirmed
	}

	customerID := req.CustomerID
	if customerID == uuid.Nil {
		customerID = uuid.New()
	}
	appt := model.Appointment{
		ID:            uuid.New(),
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Start:         req.Start,
		Duration:      req.Duration,
		TotalPrice:    req.TotalPrice,
		Status:        status,
		Fields:        req.Fields,
		ServiceOption: req.ServiceOption,
		Addons:        req.Addons,
		Note:          req.Note,
		CreatedAt:     s.now().UTC(),
	}

	entry := s.historyEntry(appt.ID, model.HistoryCreated, map[string]any{
		"status":           appt.Status,
		"start":            appt.Start,
		"duration_minutes": int(appt.Duration / time.Minute),
	})
	err = s.store.Create(ctx, appt, entry, outbox.AppointmentCreated(appt))
	if err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, ErrTimeNotAvailable
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment created", "appointment", appt.ID, "start", appt.Start, "status", appt.Status)
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, h apps.AppointmentHook) error {
		return h.OnAppointmentCreated(ctx, appt)
	})
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, w apps.CalendarWriter) error {
		return w.CreateEvent(ctx, appt)
	})
	return appt, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (model.Appointment, error) {
	return s.transition(ctx, id, model.StatusConfirmed)
}

func (s *Service) Decline(ctx context.Context, id uuid.UUID) (model.Appointment, error) {
	return s.transition(ctx, id, model.StatusDeclined)
}

// transition applies a status change. Declined is terminal; confirming is only
// valid from pending.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to model.AppointmentStatus) (model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	old := appt.Status
	if old == model.StatusDeclined {
		return model.Appointment{}, ErrAppointmentDeclined
	}
	if !transitionAllowed(old, to) {
		return model.Appointment{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, old, to)
	}

	appt.Status = to
	entry := s.historyEntry(id, model.HistoryStatusChanged, map[string]any{
		"old": old,
		"new": to,
	})
	err = s.store.TransitionStatus(ctx, id, old, to, entry, outbox.AppointmentStatusChanged(appt, old))
	if err != nil {
		if errors.Is(err, storage.ErrStaleStatus) {
			return model.Appointment{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, old, to)
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment status changed", "appointment", id, "old", old, "new", to)
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, h apps.AppointmentHook) error {
		return h.OnAppointmentStatusChanged(ctx, appt, old)
	})
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, w apps.CalendarWriter) error {
		if to == model.StatusDeclined {
			return w.DeleteEvent(ctx, appt)
		}
		return w.UpdateEvent(ctx, appt)
	})
	return appt, nil
}

func transitionAllowed(from, to model.AppointmentStatus) bool {
	switch from {
	case model.StatusPending:
		return to == model.StatusConfirmed || to == model.StatusDeclined
	case model.StatusConfirmed:
		return to == model.StatusDeclined
	default:
		return false
	}
}

// Reschedule moves an appointment to a new start and, when newDuration is
// positive, a new duration. The appointment's own current time does not count
// against the new slot.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time, newDuration time.Duration) (model.Appointment, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusDeclined {
		return model.Appointment{}, ErrAppointmentDeclined
	}
	if newDuration < 0 {
		return model.Appointment{}, fmt.Errorf("duration must be positive")
	}
	if newDuration == 0 {
		newDuration = appt.Duration
	}

	calc, areq := s.calculator(id, newDuration)
	ok, err := calc.Available(ctx, areq, newStart)
	if err != nil {
		return model.Appointment{}, err
	}
	if !ok {
		return model.Appointment{}, ErrTimeNotAvailable
	}

	oldStart, oldDuration := appt.Start, appt.Duration
	appt.Start = newStart
	appt.Duration = newDuration
	entry := s.historyEntry(id, model.HistoryRescheduled, map[string]any{
		"old_start":            oldStart,
		"new_start":            newStart,
		"old_duration_minutes": int(oldDuration / time.Minute),
		"duration_minutes":     int(newDuration / time.Minute),
	})
	err = s.store.Reschedule(ctx, id, newStart, appt.Duration, entry, outbox.AppointmentRescheduled(appt, oldStart))
	if err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, ErrTimeNotAvailable
		}
		if storage.IsNotFound(err) {
			return model.Appointment{}, ErrNotFound
		}
		return model.Appointment{}, err
	}

	s.logger.Info("appointment rescheduled", "appointment", id, "old_start", oldStart, "new_start", newStart)
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, h apps.AppointmentHook) error {
		return h.OnAppointmentRescheduled(ctx, appt, oldStart, oldDuration)
	})
	apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, w apps.CalendarWriter) error {
		return w.UpdateEvent(ctx, appt)
	})
	return appt, nil
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]model.HistoryEntry, error) {
	return s.store.History(ctx, id)
}

// PaymentForm asks the installed payment processor for what a client needs to
// collect this appointment's payment.
func (s *Service) PaymentForm(ctx context.Context, id uuid.UUID) (apps.PaymentForm, error) {
	appt, err := s.Get(ctx, id)
	if err != nil {
		return apps.PaymentForm{}, err
	}
	processors := apps.Resolve[apps.PaymentProcessor](s.dispatcher)
	if len(processors) == 0 {
		return apps.PaymentForm{}, fmt.Errorf("no payment processor installed")
	}
	return processors[0].FormProps(ctx, appt)
}

// RecordPayment stores a completed payment against the appointment.
func (s *Service) RecordPayment(ctx context.Context, apptID uuid.UUID, provider, providerRef string, amount int64) (model.Payment, error) {
	if _, err := s.Get(ctx, apptID); err != nil {
		return model.Payment{}, err
	}
	p := model.Payment{
		ID:            uuid.New(),
		AppointmentID: apptID,
		Provider:      provider,
		ProviderRef:   providerRef,
		Amount:        amount,
		CreatedAt:     s.now().UTC(),
	}
	entry := s.historyEntry(apptID, model.HistoryPaymentAdded, map[string]any{
		"payment_id": p.ID,
		"provider":   provider,
		"amount":     amount,
	})
	if err := s.store.AddPayment(ctx, p, entry); err != nil {
		return model.Payment{}, err
	}
	s.logger.Info("payment recorded", "appointment", apptID, "payment", p.ID, "amount", amount)
	return p, nil
}

// RefundPayment refunds through the app that took the payment, then marks it
// refunded with a history entry.
func (s *Service) RefundPayment(ctx context.Context, paymentID uuid.UUID) error {
	payment, err := s.store.Payment(ctx, paymentID)
	if err != nil {
		if storage.IsNotFound(err) {
			return fmt.Errorf("payment %s: %w", paymentID, ErrNotFound)
		}
		return err
	}
	if payment.Refunded {
		return fmt.Errorf("payment %s already refunded", paymentID)
	}

	refunded := false
	for _, proc := range apps.Resolve[apps.PaymentProcessor](s.dispatcher) {
		if proc.AppName() != payment.Provider {
			continue
		}
		if err := proc.RefundPayment(ctx, payment); err != nil {
			return err
		}
		refunded = true
		break
	}
	if !refunded {
		return fmt.Errorf("no installed processor for provider %q", payment.Provider)
	}

	entry := s.historyEntry(payment.AppointmentID, model.HistoryPaymentRefunded, map[string]any{
		"payment_id": paymentID,
	})
	return s.store.MarkPaymentRefunded(ctx, paymentID, entry)
}

func (s *Service) Payments(ctx context.Context, apptID uuid.UUID) ([]model.Payment, error) {
	return s.store.Payments(ctx, apptID)
}

// calculator assembles the busy-time sources for one availability question:
// local appointments (minus the excluded one) plus every installed calendar
// app.
func (s *Service) calculator(exclude uuid.UUID, duration time.Duration) (*availability.Calculator, availability.Request) {
	cfg, loc := s.settings.Current()
	sources := []availability.BusyTimeSource{localBusySource{store: s.store, exclude: exclude}}
	for _, p := range apps.Resolve[apps.CalendarBusyTimeProvider](s.dispatcher) {
		sources = append(sources, appBusySource{p})
	}
	calc := availability.NewCalculator(s.logger, sources...)
	return calc, availability.Request{
		Schedule: cfg.Schedule,
		Policy:   cfg.Policy,
		Location: loc,
		Duration: duration,
		Now:      s.now(),
	}
}

func (s *Service) historyEntry(apptID uuid.UUID, kind model.HistoryKind, detail map[string]any) model.HistoryEntry {
	raw, _ := json.Marshal(detail)
	return model.HistoryEntry{
		AppointmentID: apptID,
		Kind:          kind,
		Detail:        raw,
		CreatedAt:     s.now().UTC(),
	}
}

type localBusySource struct {
	store   Store
	exclude uuid.UUID
}

func (l localBusySource) SourceName() string { return "appointments" }

func (l localBusySource) BusyTimes(ctx context.Context, window model.Period) ([]model.Period, error) {
	return l.store.BusyBetween(ctx, window, l.exclude)
}

type appBusySource struct {
	app apps.CalendarBusyTimeProvider
}

func (a appBusySource) SourceName() string { return a.app.AppName() }

func (a appBusySource) BusyTimes(ctx context.Context, window model.Period) ([]model.Period, error) {
	return a.app.BusyTimes(ctx, window)
}
