package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/libs/db"
)

// Recorder folds appointment and notification events into the metric tables.
// Malformed payloads are logged and dropped rather than retried; the inbox has
// already recorded the event id, so a retry would be skipped anyway.
type Recorder struct {
	pool   *db.Pool
	logger *slog.Logger
}

func NewRecorder(pool *db.Pool, logger *slog.Logger) *Recorder {
	return &Recorder{pool: pool, logger: logger}
}

type appointmentEvent struct {
	AppointmentID string                  `json:"appointment_id"`
	Start         time.Time               `json:"start"`
	End           time.Time               `json:"end"`
	Status        model.AppointmentStatus `json:"status"`
	OldStatus     model.AppointmentStatus `json:"old_status"`
}

func (r *Recorder) HandleCreated(ctx context.Context, msg kafka.Message) error {
	evt, ok := r.decodeAppointment(msg)
	if !ok {
		return nil
	}
	return r.bumpDaily(ctx, evt.Start, "booked_count")
}

func (r *Recorder) HandleStatusChanged(ctx context.Context, msg kafka.Message) error {
	evt, ok := r.decodeAppointment(msg)
	if !ok {
		return nil
	}
	switch evt.Status {
	case model.StatusConfirmed:
		return r.bumpDaily(ctx, evt.Start, "confirmed_count")
	case model.StatusDeclined:
		return r.bumpDaily(ctx, evt.Start, "declined_count")
	}
	return nil
}

func (r *Recorder) HandleRescheduled(ctx context.Context, msg kafka.Message) error {
	evt, ok := r.decodeAppointment(msg)
	if !ok {
		return nil
	}
	return r.bumpDaily(ctx, evt.Start, "rescheduled_count")
}

type notificationEvent struct {
	AppointmentID string        `json:"appointment_id"`
	RuleID        string        `json:"rule_id"`
	Channel       model.Channel `json:"channel"`
	At            time.Time     `json:"at"`
	Reason        string        `json:"reason"`
}

func (r *Recorder) HandleNotification(status string) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt notificationEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			r.logger.Error("invalid notification payload", "err", err)
			return nil
		}
		if evt.AppointmentID == "" || evt.Channel == "" || evt.At.IsZero() {
			r.logger.Error("missing notification fields", "topic", msg.Topic)
			return nil
		}

		_, err := r.pool.Exec(ctx, `
			INSERT INTO notification_metrics (appointment_id, rule_id, channel, occurred_at, status, reason)
			VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6)
		`, evt.AppointmentID, evt.RuleID, evt.Channel, evt.At.UTC(), status, evt.Reason)
		if err != nil {
			r.logger.Error("notification metric write failed", "err", err)
			return err
		}
		return nil
	}
}

func (r *Recorder) decodeAppointment(msg kafka.Message) (appointmentEvent, bool) {
	var evt appointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		r.logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
		return evt, false
	}
	if evt.AppointmentID == "" || evt.Start.IsZero() {
		r.logger.Error("missing appointment fields", "topic", msg.Topic)
		return evt, false
	}
	return evt, true
}

var dailyColumns = map[string]string{
	"booked_count":      "booked_count",
	"confirmed_count":   "confirmed_count",
	"declined_count":    "declined_count",
	"rescheduled_count": "rescheduled_count",
}

func (r *Recorder) bumpDaily(ctx context.Context, at time.Time, column string) error {
	col, ok := dailyColumns[column]
	if !ok {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO daily_booking_metrics (day, `+col+`)
		VALUES ($1::date, 1)
		ON CONFLICT (day)
		DO UPDATE SET `+col+` = daily_booking_metrics.`+col+` + 1,
		              updated_at = now()
	`, at.UTC())
	if err != nil {
		r.logger.Error("daily metric write failed", "err", err, "column", col)
	}
	return err
}
