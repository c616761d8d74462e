package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusDeclined  AppointmentStatus = "declined"
)

type Appointment struct {
	ID            uuid.UUID
	CustomerID    uuid.UUID
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Start         time.Time
	Duration      time.Duration
	TotalPrice    int64 // cents
	Status        AppointmentStatus
	Fields        map[string]string
	ServiceOption string
	Addons        []string
	Note          string
	CreatedAt     time.Time
}

// End is the completion instant (start + duration).
func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

// Period is a busy time interval [Start, End). Periods are derived from local
// appointments or reported by connected calendar apps and are never persisted.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

type HistoryKind string

const (
	HistoryCreated         HistoryKind = "created"
	HistoryStatusChanged   HistoryKind = "statusChanged"
	HistoryRescheduled     HistoryKind = "rescheduled"
	HistoryPaymentAdded    HistoryKind = "paymentAdded"
	HistoryPaymentRefunded HistoryKind = "paymentRefunded"
)

// HistoryEntry is an append-only record of one lifecycle transition. Detail is
// a JSON blob carrying enough of the old and new values to reconstruct prior
// state. Entries are never mutated or deleted.
type HistoryEntry struct {
	ID            int64
	AppointmentID uuid.UUID
	Kind          HistoryKind
	Detail        []byte
	CreatedAt     time.Time
}

type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Provider      string
	ProviderRef   string
	Amount        int64 // cents
	Refunded      bool
	CreatedAt     time.Time
}
