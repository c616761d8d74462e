package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/settings"
)

type memAppStore struct{}

func (memAppStore) InsertAppInstance(context.Context, model.AppInstance) error { return nil }
func (memAppStore) UpdateAppStatus(context.Context, uuid.UUID, model.AppStatus, string) error {
	return nil
}
func (memAppStore) DeleteAppInstance(context.Context, uuid.UUID) error { return nil }
func (memAppStore) ListAppInstances(context.Context) ([]model.AppInstance, error) {
	return nil, nil
}

type memRuleStore struct{}

func (memRuleStore) Insert(context.Context, model.Rule) error { return nil }
func (memRuleStore) Delete(context.Context, uuid.UUID) error  { return nil }
func (memRuleStore) List(context.Context) ([]model.Rule, error) {
	return nil, nil
}
func (memRuleStore) UpsertTemplate(context.Context, model.MessageTemplate) error {
	return nil
}

type autoResponder struct {
	id    uuid.UUID
	reply string
	seen  []string
}

func (a *autoResponder) InstanceID() uuid.UUID { return a.id }
func (a *autoResponder) AppName() string       { return "auto-responder" }

func (a *autoResponder) Respond(_ context.Context, from, body string) (string, error) {
	a.seen = append(a.seen, from+": "+body)
	return a.reply, nil
}

func newTestAPI(t *testing.T, builtins ...apps.App) (*API, *apps.Registry) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	reg := apps.NewRegistry(logger, memAppStore{})
	for _, b := range builtins {
		reg.AddBuiltin(b)
	}
	dispatcher := apps.NewDispatcher(reg, logger)
	provider := settings.NewProvider(nil, logger)
	return NewAPI(nil, nil, reg, dispatcher, provider, memRuleStore{}, logger), reg
}

func TestSMSWebhook_RoutesToResponders(t *testing.T) {
	responder := &autoResponder{id: uuid.New(), reply: "We'll get back to you."}
	api, _ := newTestAPI(t, responder)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sms",
		strings.NewReader(`{"from":"+15550100","body":"running late"}`))
	api.SMSWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if len(responder.seen) != 1 || responder.seen[0] != "+15550100: running late" {
		t.Errorf("seen = %v", responder.seen)
	}
	if !strings.Contains(rec.Body.String(), "We'll get back to you.") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSMSWebhook_RejectsMissingFrom(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sms",
		strings.NewReader(`{"body":"hello"}`))
	api.SMSWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestInstallApp_UnknownName(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/apps/install",
		strings.NewReader(`{"app_name":"no-such-app"}`))
	api.InstallApp(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestCreateRule_RejectsBadSpec(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules",
		strings.NewReader(`{"kind":"reminder","channel":"email","template":"reminder-email","spec":{"kind":"fixedTimeOfDay","direction":"before","hour":25}}`))
	api.Rules(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func TestCreateRule_AcceptsRelativeOffset(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules",
		strings.NewReader(`{"kind":"followup","channel":"email","template":"thank-you","spec":{"kind":"relativeOffset","direction":"after","hours":2},"after_count":3}`))
	api.Rules(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"after_count":3`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSettings_ReturnsCurrentSnapshot(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings", nil)
	api.Settings(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"time_zone":"UTC"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAvailability_RejectsBadDuration(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/availability?duration_minutes=0", nil)
	api.Availability(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}
