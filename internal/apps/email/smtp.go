// Package email is the built-in SMTP mail connected app.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
)

const Name = "smtp-mail"

type Config struct {
	Host string `json:"host"`
	Port string `json:"port"`
	From string `json:"from"`
}

// App sends mail via unauthenticated SMTP (Mailpit-compatible relays).
type App struct {
	id     uuid.UUID
	addr   string
	from   string
	logger *slog.Logger
}

var _ apps.MailSender = (*App)(nil)

func Factory(inst model.AppInstance, logger *slog.Logger) (apps.App, error) {
	var cfg Config
	if len(inst.Config) > 0 {
		if err := json.Unmarshal(inst.Config, &cfg); err != nil {
			return nil, fmt.Errorf("smtp config: %w", err)
		}
	}
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp config: host is required")
	}
	port := strings.TrimSpace(cfg.Port)
	if port == "" {
		port = "25"
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = "no-reply@slotify.local"
	}
	return &App{
		id:     inst.ID,
		addr:   fmt.Sprintf("%s:%s", strings.TrimSpace(cfg.Host), port),
		from:   from,
		logger: logger,
	}, nil
}

func (a *App) InstanceID() uuid.UUID { return a.id }
func (a *App) AppName() string       { return Name }

func (a *App) SendMail(_ context.Context, to, subject, body string) error {
	msg := buildMessage(a.from, to, subject, body)
	return smtp.SendMail(a.addr, nil, a.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for most relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}
