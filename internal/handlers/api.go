// Package handlers exposes the HTTP API. Handlers stay thin: decode, call the
// service, map domain errors to status codes.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/booking"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/settings"
	"github.com/slotify-app/slotify/libs/httpx"
)

// AppointmentLister is the read-side listing the API needs beyond the booking
// service.
type AppointmentLister interface {
	StartingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
}

type API struct {
	booking    *booking.Service
	lister     AppointmentLister
	registry   *apps.Registry
	dispatcher *apps.Dispatcher
	settings   *settings.Provider
	rules      RuleStore
	logger     *slog.Logger
}

func NewAPI(bookingSvc *booking.Service, lister AppointmentLister, registry *apps.Registry, dispatcher *apps.Dispatcher, provider *settings.Provider, rules RuleStore, logger *slog.Logger) *API {
	return &API{
		booking:    bookingSvc,
		lister:     lister,
		registry:   registry,
		dispatcher: dispatcher,
		settings:   provider,
		rules:      rules,
		logger:     logger,
	}
}

// Register mounts the API routes. admin wraps the routes that manage
// connected apps.
func (a *API) Register(mux *http.ServeMux, admin httpx.Middleware) {
	mux.HandleFunc("/api/v1/availability", a.Availability)
	mux.HandleFunc("/api/v1/book", a.Book)
	mux.HandleFunc("/api/v1/appointments", a.Appointments)
	mux.HandleFunc("/api/v1/appointments/confirm", a.Confirm)
	mux.HandleFunc("/api/v1/appointments/decline", a.Decline)
	mux.HandleFunc("/api/v1/appointments/reschedule", a.Reschedule)
	mux.HandleFunc("/api/v1/webhooks/sms", a.SMSWebhook)
	mux.HandleFunc("/api/v1/payments/form", a.PaymentForm)
	mux.HandleFunc("/api/v1/webhooks/payment", a.PaymentWebhook)
	mux.Handle("/api/v1/payments/refund", admin(http.HandlerFunc(a.RefundPayment)))
	mux.Handle("/api/v1/apps", admin(http.HandlerFunc(a.ListApps)))
	mux.Handle("/api/v1/apps/install", admin(http.HandlerFunc(a.InstallApp)))
	mux.Handle("/api/v1/apps/uninstall", admin(http.HandlerFunc(a.UninstallApp)))
	mux.Handle("/api/v1/settings", admin(http.HandlerFunc(a.Settings)))
	mux.Handle("/api/v1/rules", admin(http.HandlerFunc(a.Rules)))
	mux.Handle("/api/v1/templates", admin(http.HandlerFunc(a.Templates)))
}

type appointmentItem struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customer_id"`
	CustomerName    string            `json:"customer_name"`
	CustomerEmail   string            `json:"customer_email,omitempty"`
	CustomerPhone   string            `json:"customer_phone,omitempty"`
	Start           string            `json:"start"`
	End             string            `json:"end"`
	DurationMinutes int               `json:"duration_minutes"`
	TotalPrice      int64             `json:"total_price"`
	Status          string            `json:"status"`
	Fields          map[string]string `json:"fields,omitempty"`
	ServiceOption   string            `json:"service_option,omitempty"`
	Addons          []string          `json:"addons,omitempty"`
	Note            string            `json:"note,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

func toItem(appt model.Appointment) appointmentItem {
	return appointmentItem{
		ID:              appt.ID.String(),
		CustomerID:      appt.CustomerID.String(),
		CustomerName:    appt.CustomerName,
		CustomerEmail:   appt.CustomerEmail,
		CustomerPhone:   appt.CustomerPhone,
		Start:           appt.Start.UTC().Format(time.RFC3339),
		End:             appt.End().UTC().Format(time.RFC3339),
		DurationMinutes: int(appt.Duration / time.Minute),
		TotalPrice:      appt.TotalPrice,
		Status:          string(appt.Status),
		Fields:          appt.Fields,
		ServiceOption:   appt.ServiceOption,
		Addons:          appt.Addons,
		Note:            appt.Note,
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (a *API) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	durationMins, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("duration_minutes")))
	if err != nil || durationMins <= 0 || durationMins > 8*60 {
		http.Error(w, "duration_minutes must be between 1 and 480", http.StatusBadRequest)
		return
	}

	slots, err := a.booking.Slots(r.Context(), time.Duration(durationMins)*time.Minute)
	if err != nil {
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}
	items := make([]string, 0, len(slots))
	for _, s := range slots {
		items = append(items, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

type bookRequest struct {
	CustomerID      string            `json:"customer_id"`
	CustomerName    string            `json:"customer_name"`
	CustomerEmail   string            `json:"customer_email"`
	CustomerPhone   string            `json:"customer_phone"`
	Start           string            `json:"start"`
	DurationMinutes int               `json:"duration_minutes"`
	TotalPrice      int64             `json:"total_price"`
	Fields          map[string]string `json:"fields"`
	ServiceOption   string            `json:"service_option"`
	Addons          []string          `json:"addons"`
	Note            string            `json:"note"`
}

func (a *API) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		http.Error(w, "customer_name required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes <= 0 {
		http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
		return
	}
	// Returning customers pass their id so follow-up rules can count visits.
	var customerID uuid.UUID
	if raw := strings.TrimSpace(req.CustomerID); raw != "" {
		customerID, err = uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid customer_id", http.StatusBadRequest)
			return
		}
	}

	appt, err := a.booking.Create(r.Context(), booking.CreateRequest{
		CustomerID:    customerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Start:         start,
		Duration:      time.Duration(req.DurationMinutes) * time.Minute,
		TotalPrice:    req.TotalPrice,
		Fields:        req.Fields,
		ServiceOption: req.ServiceOption,
		Addons:        req.Addons,
		Note:          req.Note,
	})
	if err != nil {
		a.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItem(appt))
}

// Appointments serves a single appointment (with history and payments) by id,
// or a listing over a start-time range.
func (a *API) Appointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("id")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		appt, err := a.booking.Get(r.Context(), id)
		if err != nil {
			a.writeBookingError(w, err)
			return
		}
		history, err := a.booking.History(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to load history", http.StatusInternalServerError)
			return
		}
		payments, err := a.booking.Payments(r.Context(), id)
		if err != nil {
			http.Error(w, "failed to load payments", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"appointment": toItem(appt),
			"history":     historyItems(history),
			"payments":    paymentItems(payments),
		})
		return
	}

	from, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil || !to.After(from) {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	appts, err := a.lister.StartingBetween(r.Context(), from, to)
	if err != nil {
		http.Error(w, "failed to list appointments", http.StatusInternalServerError)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, toItem(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (a *API) Confirm(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.booking.Confirm)
}

func (a *API) Decline(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.booking.Decline)
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.AppointmentID))
	if err != nil {
		http.Error(w, "invalid appointment_id", http.StatusBadRequest)
		return
	}
	appt, err := apply(r.Context(), id)
	if err != nil {
		a.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type rescheduleRequest struct {
	AppointmentID   string `json:"appointment_id"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (a *API) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.AppointmentID))
	if err != nil {
		http.Error(w, "invalid appointment_id", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	if req.DurationMinutes < 0 {
		http.Error(w, "duration_minutes must be positive", http.StatusBadRequest)
		return
	}
	appt, err := a.booking.Reschedule(r.Context(), id, start, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		a.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type smsWebhookRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

// SMSWebhook routes inbound text replies to every responder app.
func (a *API) SMSWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req smsWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.From = strings.TrimSpace(req.From)
	if req.From == "" {
		http.Error(w, "from required", http.StatusBadRequest)
		return
	}

	var replies []string
	apps.Dispatch(r.Context(), a.dispatcher, func(ctx context.Context, resp apps.TextMessageResponder) error {
		reply, err := resp.Respond(ctx, req.From, req.Body)
		if err != nil {
			return err
		}
		if reply != "" {
			replies = append(replies, reply)
		}
		return nil
	})
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

func (a *API) PaymentForm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("appointment_id")))
	if err != nil {
		http.Error(w, "invalid appointment_id", http.StatusBadRequest)
		return
	}
	form, err := a.booking.PaymentForm(r.Context(), id)
	if err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
			return
		}
		a.logger.Error("payment form failed", "appointment", id, "err", err)
		http.Error(w, "payment form unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

type paymentWebhookRequest struct {
	AppointmentID string `json:"appointment_id"`
	Provider      string `json:"provider"`
	ProviderRef   string `json:"provider_ref"`
	Amount        int64  `json:"amount"`
}

// PaymentWebhook records a completed payment reported by a payment provider.
func (a *API) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req paymentWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.AppointmentID))
	if err != nil {
		http.Error(w, "invalid appointment_id", http.StatusBadRequest)
		return
	}
	req.Provider = strings.TrimSpace(req.Provider)
	if req.Provider == "" || req.Amount <= 0 {
		http.Error(w, "provider and positive amount required", http.StatusBadRequest)
		return
	}
	payment, err := a.booking.RecordPayment(r.Context(), id, req.Provider, strings.TrimSpace(req.ProviderRef), req.Amount)
	if err != nil {
		a.writeBookingError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment_id": payment.ID.String()})
}

type refundRequest struct {
	PaymentID string `json:"payment_id"`
}

func (a *API) RefundPayment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.PaymentID))
	if err != nil {
		http.Error(w, "invalid payment_id", http.StatusBadRequest)
		return
	}
	if err := a.booking.RefundPayment(r.Context(), id); err != nil {
		if errors.Is(err, booking.ErrNotFound) {
			http.Error(w, "payment not found", http.StatusNotFound)
			return
		}
		a.logger.Error("refund failed", "payment", id, "err", err)
		http.Error(w, "refund failed", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type installAppRequest struct {
	AppName string          `json:"app_name"`
	Config  json.RawMessage `json:"config"`
}

func (a *API) InstallApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req installAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppName = strings.TrimSpace(req.AppName)
	if req.AppName == "" {
		http.Error(w, "app_name required", http.StatusBadRequest)
		return
	}
	inst, err := a.registry.Install(r.Context(), req.AppName, req.Config)
	if err != nil {
		if errors.Is(err, apps.ErrUnknownApp) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusCreated, instanceItem(inst))
}

type uninstallAppRequest struct {
	InstanceID string `json:"instance_id"`
}

func (a *API) UninstallApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req uninstallAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.InstanceID))
	if err != nil {
		http.Error(w, "invalid instance_id", http.StatusBadRequest)
		return
	}
	if err := a.registry.Uninstall(r.Context(), id); err != nil {
		if errors.Is(err, apps.ErrNotInstalled) {
			http.Error(w, "app instance not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to uninstall", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) ListApps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	instances, err := a.registry.Instances(r.Context())
	if err != nil {
		http.Error(w, "failed to list apps", http.StatusInternalServerError)
		return
	}
	items := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		items = append(items, instanceItem(inst))
	}
	writeJSON(w, http.StatusOK, items)
}

// Settings reads or replaces the business scheduling configuration.
func (a *API) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, _ := a.settings.Current()
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg model.Settings
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if err := a.settings.Update(r.Context(), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func instanceItem(inst model.AppInstance) map[string]any {
	return map[string]any{
		"instance_id": inst.ID.String(),
		"app_name":    inst.AppName,
		"status":      string(inst.Status),
		"reason":      inst.Reason,
		"created_at":  inst.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func historyItems(entries []model.HistoryEntry) []map[string]any {
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"kind":       string(e.Kind),
			"detail":     json.RawMessage(e.Detail),
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items
}

func paymentItems(payments []model.Payment) []map[string]any {
	items := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		items = append(items, map[string]any{
			"id":         p.ID.String(),
			"provider":   p.Provider,
			"amount":     p.Amount,
			"refunded":   p.Refunded,
			"created_at": p.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items
}

func (a *API) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrTimeNotAvailable):
		http.Error(w, "requested time is not available", http.StatusConflict)
	case errors.Is(err, booking.ErrAppointmentDeclined), errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrNotFound):
		http.Error(w, "appointment not found", http.StatusNotFound)
	default:
		a.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}
