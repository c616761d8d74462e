package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/timespec"
)

// RuleStore manages notification rules and their message templates.
type RuleStore interface {
	Insert(ctx context.Context, rule model.Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]model.Rule, error)
	UpsertTemplate(ctx context.Context, t model.MessageTemplate) error
}

// Rules lists, creates, and deletes notification rules.
func (a *API) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := a.rules.List(r.Context())
		if err != nil {
			http.Error(w, "failed to list rules", http.StatusInternalServerError)
			return
		}
		items := make([]map[string]any, 0, len(rules))
		for _, rule := range rules {
			items = append(items, ruleItem(rule))
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		a.createRule(w, r)
	case http.MethodDelete:
		id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("id")))
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if err := a.rules.Delete(r.Context(), id); err != nil {
			http.Error(w, "failed to delete rule", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createRuleRequest struct {
	Kind         string         `json:"kind"`
	Spec         model.TimeSpec `json:"spec"`
	Channel      string         `json:"channel"`
	Template     string         `json:"template"`
	StatusFilter string         `json:"status_filter"`
	AfterCount   *int           `json:"after_count"`
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	kind := model.RuleKind(req.Kind)
	if kind != model.RuleReminder && kind != model.RuleFollowUp {
		http.Error(w, "kind must be reminder or followup", http.StatusBadRequest)
		return
	}
	channel := model.Channel(req.Channel)
	if channel != model.ChannelEmail && channel != model.ChannelText {
		http.Error(w, "channel must be email or text", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		http.Error(w, "template required", http.StatusBadRequest)
		return
	}
	if err := timespec.Validate(req.Spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.AfterCount != nil && *req.AfterCount < 1 {
		http.Error(w, "after_count must be positive", http.StatusBadRequest)
		return
	}

	rule := model.Rule{
		ID:           uuid.New(),
		Kind:         kind,
		Spec:         req.Spec,
		Channel:      channel,
		Template:     strings.TrimSpace(req.Template),
		StatusFilter: model.AppointmentStatus(req.StatusFilter),
		AfterCount:   req.AfterCount,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.rules.Insert(r.Context(), rule); err != nil {
		http.Error(w, "failed to create rule", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, ruleItem(rule))
}

type upsertTemplateRequest struct {
	Name    string `json:"name"`
	Channel string `json:"channel"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Templates creates or replaces a message template.
func (a *API) Templates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req upsertTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || strings.TrimSpace(req.Body) == "" {
		http.Error(w, "name and body required", http.StatusBadRequest)
		return
	}
	channel := model.Channel(req.Channel)
	if channel != model.ChannelEmail && channel != model.ChannelText {
		http.Error(w, "channel must be email or text", http.StatusBadRequest)
		return
	}
	t := model.MessageTemplate{
		Name:    req.Name,
		Channel: channel,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if err := a.rules.UpsertTemplate(r.Context(), t); err != nil {
		http.Error(w, "failed to save template", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": t.Name})
}

func ruleItem(rule model.Rule) map[string]any {
	item := map[string]any{
		"id":         rule.ID.String(),
		"kind":       string(rule.Kind),
		"spec":       rule.Spec,
		"channel":    string(rule.Channel),
		"template":   rule.Template,
		"created_at": rule.CreatedAt.UTC().Format(time.RFC3339),
	}
	if rule.StatusFilter != "" {
		item["status_filter"] = string(rule.StatusFilter)
	}
	if rule.AfterCount != nil {
		item["after_count"] = *rule.AfterCount
	}
	return item
}
