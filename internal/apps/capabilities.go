// Package apps holds the connected-app registry and the capability
// dispatcher. A connected app is an installed integration instance; which
// capabilities it offers is decided purely by which interfaces its Go type
// implements, checked with explicit type assertions at dispatch time.
package apps

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
)

// App is the base contract every connected app implements.
type App interface {
	InstanceID() uuid.UUID
	AppName() string
}

// CalendarBusyTimeProvider reports externally booked time; consumed by the
// availability calculator.
type CalendarBusyTimeProvider interface {
	App
	BusyTimes(ctx context.Context, window model.Period) ([]model.Period, error)
}

// CalendarWriter mirrors the appointment lifecycle into an external calendar.
type CalendarWriter interface {
	App
	CreateEvent(ctx context.Context, appt model.Appointment) error
	UpdateEvent(ctx context.Context, appt model.Appointment) error
	DeleteEvent(ctx context.Context, appt model.Appointment) error
}

// AppointmentHook receives lifecycle callbacks after each committed
// transition. Results are discarded; failures are isolated per app.
type AppointmentHook interface {
	App
	OnAppointmentCreated(ctx context.Context, appt model.Appointment) error
	OnAppointmentStatusChanged(ctx context.Context, appt model.Appointment, old model.AppointmentStatus) error
	OnAppointmentRescheduled(ctx context.Context, appt model.Appointment, oldStart time.Time, oldDuration time.Duration) error
}

type MailSender interface {
	App
	SendMail(ctx context.Context, to, subject, body string) error
}

type TextMessageSender interface {
	App
	SendTextMessage(ctx context.Context, to, body string) error
}

// TextMessageResponder handles inbound SMS replies and returns the reply to
// send back, or "" for none.
type TextMessageResponder interface {
	App
	Respond(ctx context.Context, from, body string) (string, error)
}

type PaymentForm struct {
	Provider     string `json:"provider"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type PaymentProcessor interface {
	App
	FormProps(ctx context.Context, appt model.Appointment) (PaymentForm, error)
	RefundPayment(ctx context.Context, payment model.Payment) error
}

// Scheduled is invoked once per tick by the external clock.
type Scheduled interface {
	App
	OnTime(ctx context.Context, now time.Time) error
}

// Cleaner is implemented by apps holding externally visible resources (vendor
// webhooks, subscriptions) that must be released on uninstall.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
