// Package sms is the built-in webhook-gateway text message connected app. It
// both sends outbound messages and answers inbound replies.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
)

const Name = "sms-webhook"

type Config struct {
	URL   string `json:"url"`
	Token string `json:"token"`
	// Reply is sent back verbatim to every inbound message; empty disables
	// auto-replies.
	Reply string `json:"reply"`
}

type App struct {
	id     uuid.UUID
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var (
	_ apps.TextMessageSender    = (*App)(nil)
	_ apps.TextMessageResponder = (*App)(nil)
)

func Factory(inst model.AppInstance, logger *slog.Logger) (apps.App, error) {
	var cfg Config
	if len(inst.Config) > 0 {
		if err := json.Unmarshal(inst.Config, &cfg); err != nil {
			return nil, fmt.Errorf("sms config: %w", err)
		}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("sms config: url is required")
	}
	return &App{
		id:  inst.ID,
		cfg: cfg,
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}, nil
}

func (a *App) InstanceID() uuid.UUID { return a.id }
func (a *App) AppName() string       { return Name }

func (a *App) SendTextMessage(ctx context.Context, to, body string) error {
	payload := map[string]string{
		"to":   to,
		"body": body,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("sms webhook returned non-2xx")
	}
	return nil
}

func (a *App) Respond(ctx context.Context, from, body string) (string, error) {
	a.logger.Info("inbound text message", "from", from, "len", len(body))
	if a.cfg.Reply == "" {
		return "", nil
	}
	if err := a.SendTextMessage(ctx, from, a.cfg.Reply); err != nil {
		return "", err
	}
	return a.cfg.Reply, nil
}
