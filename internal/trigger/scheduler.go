// Package trigger fires reminder and follow-up rules. The scheduler is itself
// a connected app with the scheduled capability: an external minute clock
// calls OnTime, and every rule is evaluated against that instant.
package trigger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/outbox"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/internal/timespec"
)

const Name = "trigger-scheduler"

// markerTTL outlives any reasonable tick skew; after it, a missed window is
// simply gone rather than re-fired.
const markerTTL = 48 * time.Hour

type RuleSource interface {
	List(ctx context.Context) ([]model.Rule, error)
	Template(ctx context.Context, name string) (model.MessageTemplate, error)
}

type AppointmentSource interface {
	StartingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	CountCompletedAtOrBefore(ctx context.Context, customerID uuid.UUID, t time.Time) (int, error)
}

// EventSink records sent notifications; nil disables recording.
type EventSink interface {
	Append(ctx context.Context, evt outbox.Event) error
}

type Scheduler struct {
	id         uuid.UUID
	rules      RuleSource
	appts      AppointmentSource
	settings   *settings.Provider
	dispatcher *apps.Dispatcher
	marker     SentMarker
	events     EventSink
	logger     *slog.Logger
}

var _ apps.Scheduled = (*Scheduler)(nil)

func NewScheduler(rules RuleSource, appts AppointmentSource, provider *settings.Provider, dispatcher *apps.Dispatcher, marker SentMarker, events EventSink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		id:         uuid.New(),
		rules:      rules,
		appts:      appts,
		settings:   provider,
		dispatcher: dispatcher,
		marker:     marker,
		events:     events,
		logger:     logger,
	}
}

func (s *Scheduler) InstanceID() uuid.UUID { return s.id }
func (s *Scheduler) AppName() string       { return Name }

// OnTime evaluates every rule against now. Rules fail independently: one
// broken rule is logged and the rest still run.
func (s *Scheduler) OnTime(ctx context.Context, now time.Time) error {
	rules, err := s.rules.List(ctx)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}
	_, loc := s.settings.Current()
	for _, rule := range rules {
		if err := s.evaluate(ctx, rule, now, loc); err != nil {
			s.logger.Error("rule evaluation failed", "rule", rule.ID, "err", err)
		}
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, rule model.Rule, now time.Time, loc *time.Location) error {
	var window model.Period
	switch rule.Spec.Kind {
	case model.SpecRelativeOffset:
		w, err := timespec.DueWindow(rule.Spec, now, timespec.Tick)
		if err != nil {
			return err
		}
		window = w
	case model.SpecFixedTimeOfDay:
		if !timespec.MatchesNow(rule.Spec, now, loc) {
			return nil
		}
		w, err := timespec.TargetDayRange(rule.Spec, now, loc)
		if err != nil {
			return err
		}
		window = w
	default:
		return fmt.Errorf("unknown timespec kind %q", rule.Spec.Kind)
	}

	// Both rule kinds select on the appointment start instant; follow-ups
	// differ only in the window lying in the past.
	appts, err := s.appts.StartingBetween(ctx, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("list appointments: %w", err)
	}

	if len(appts) == 0 {
		return nil
	}

	tpl, err := s.rules.Template(ctx, rule.Template)
	if err != nil {
		s.logger.Warn("rule template missing, skipping rule", "rule", rule.ID, "template", rule.Template, "err", err)
		return nil
	}

	for _, appt := range appts {
		if err := s.fire(ctx, rule, tpl, appt, window, loc); err != nil {
			s.logger.Error("notification failed", "rule", rule.ID, "appointment", appt.ID, "err", err)
			if s.events != nil {
				_ = s.events.Append(ctx, outbox.NotificationFailed(appt.ID, rule.ID, rule.Channel, time.Now().UTC(), err.Error()))
			}
		}
	}
	return nil
}

func (s *Scheduler) fire(ctx context.Context, rule model.Rule, tpl model.MessageTemplate, appt model.Appointment, window model.Period, loc *time.Location) error {
	if appt.Status == model.StatusDeclined {
		return nil
	}
	if rule.StatusFilter != "" && appt.Status != rule.StatusFilter {
		return nil
	}
	if rule.AfterCount != nil {
		// Completed visits through this appointment, the candidate included.
		n, err := s.appts.CountCompletedAtOrBefore(ctx, appt.CustomerID, appt.End())
		if err != nil {
			return fmt.Errorf("count completed: %w", err)
		}
		if n != *rule.AfterCount {
			return nil
		}
	}

	key := fmt.Sprintf("%s:%s:%d", rule.ID, appt.ID, window.Start.Unix())
	won, err := s.marker.MarkSent(ctx, key, markerTTL)
	if err != nil {
		return fmt.Errorf("sent marker: %w", err)
	}
	if !won {
		return nil
	}

	subject, body, err := render(tpl, appt, loc)
	if err != nil {
		return err
	}

	switch rule.Channel {
	case model.ChannelEmail:
		if appt.CustomerEmail == "" {
			s.logger.Warn("no email on appointment, skipping", "rule", rule.ID, "appointment", appt.ID)
			return nil
		}
		apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, m apps.MailSender) error {
			return m.SendMail(ctx, appt.CustomerEmail, subject, body)
		})
	case model.ChannelText:
		if appt.CustomerPhone == "" {
			s.logger.Warn("no phone on appointment, skipping", "rule", rule.ID, "appointment", appt.ID)
			return nil
		}
		apps.Dispatch(ctx, s.dispatcher, func(ctx context.Context, m apps.TextMessageSender) error {
			return m.SendTextMessage(ctx, appt.CustomerPhone, body)
		})
	default:
		return fmt.Errorf("unknown channel %q", rule.Channel)
	}

	s.logger.Info("notification sent", "rule", rule.ID, "appointment", appt.ID, "channel", rule.Channel)
	if s.events != nil {
		if err := s.events.Append(ctx, outbox.NotificationSent(appt.ID, rule.ID, rule.Channel, time.Now().UTC())); err != nil {
			s.logger.Error("record notification event", "rule", rule.ID, "err", err)
		}
	}
	return nil
}

type templateData struct {
	CustomerName  string
	Start         time.Time
	End           time.Time
	ServiceOption string
	Note          string
}

func render(tpl model.MessageTemplate, appt model.Appointment, loc *time.Location) (subject, body string, err error) {
	data := templateData{
		CustomerName:  appt.CustomerName,
		Start:         appt.Start.In(loc),
		End:           appt.End().In(loc),
		ServiceOption: appt.ServiceOption,
		Note:          appt.Note,
	}
	subject, err = renderOne("subject", tpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err = renderOne("body", tpl.Body, data)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

func renderOne(name, text string, data templateData) (string, error) {
	t, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}
