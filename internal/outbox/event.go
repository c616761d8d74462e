// Package outbox implements the transactional outbox: domain events are
// written in the same transaction as the state change and shipped to Kafka by
// a background publisher.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
)

// Topic per event type; topic name equals EventType.
const (
	EventAppointmentCreated     = "appointment.created.v1"
	EventAppointmentStatus      = "appointment.status_changed.v1"
	EventAppointmentRescheduled = "appointment.rescheduled.v1"
	EventNotificationSent       = "notification.sent.v1"
	EventNotificationFailed     = "notification.failed.v1"
)

// Event is the envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type appointmentPayload struct {
	AppointmentID uuid.UUID               `json:"appointment_id"`
	CustomerID    uuid.UUID               `json:"customer_id"`
	Start         time.Time               `json:"start"`
	End           time.Time               `json:"end"`
	Status        model.AppointmentStatus `json:"status"`
	OldStatus     model.AppointmentStatus `json:"old_status,omitempty"`
	OldStart      *time.Time              `json:"old_start,omitempty"`
}

func AppointmentCreated(appt model.Appointment) Event {
	return appointmentEvent(EventAppointmentCreated, appt, appointmentPayload{
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		Start:         appt.Start,
		End:           appt.End(),
		Status:        appt.Status,
	})
}

func AppointmentStatusChanged(appt model.Appointment, old model.AppointmentStatus) Event {
	return appointmentEvent(EventAppointmentStatus, appt, appointmentPayload{
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		Start:         appt.Start,
		End:           appt.End(),
		Status:        appt.Status,
		OldStatus:     old,
	})
}

func AppointmentRescheduled(appt model.Appointment, oldStart time.Time) Event {
	return appointmentEvent(EventAppointmentRescheduled, appt, appointmentPayload{
		AppointmentID: appt.ID,
		CustomerID:    appt.CustomerID,
		Start:         appt.Start,
		End:           appt.End(),
		Status:        appt.Status,
		OldStart:      &oldStart,
	})
}

type notificationPayload struct {
	AppointmentID uuid.UUID     `json:"appointment_id"`
	RuleID        uuid.UUID     `json:"rule_id"`
	Channel       model.Channel `json:"channel"`
	At            time.Time     `json:"at"`
	Reason        string        `json:"reason,omitempty"`
}

func NotificationSent(apptID, ruleID uuid.UUID, channel model.Channel, sentAt time.Time) Event {
	payload, _ := json.Marshal(notificationPayload{
		AppointmentID: apptID,
		RuleID:        ruleID,
		Channel:       channel,
		At:            sentAt,
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   apptID.String(),
		EventType:     EventNotificationSent,
		Payload:       payload,
	}
}

func NotificationFailed(apptID, ruleID uuid.UUID, channel model.Channel, at time.Time, reason string) Event {
	payload, _ := json.Marshal(notificationPayload{
		AppointmentID: apptID,
		RuleID:        ruleID,
		Channel:       channel,
		At:            at,
		Reason:        reason,
	})
	return Event{
		AggregateType: "appointment",
		AggregateID:   apptID.String(),
		EventType:     EventNotificationFailed,
		Payload:       payload,
	}
}

func appointmentEvent(eventType string, appt model.Appointment, p appointmentPayload) Event {
	payload, _ := json.Marshal(p)
	return Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID.String(),
		EventType:     eventType,
		Payload:       payload,
	}
}
