// Package calendarfeed is the built-in busy-time connected app: it polls an
// HTTP endpoint returning JSON busy intervals and feeds them into the
// availability calculator.
package calendarfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/apps"
	"github.com/slotify-app/slotify/internal/model"
)

const Name = "calendar-feed"

type Config struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type App struct {
	id     uuid.UUID
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ apps.CalendarBusyTimeProvider = (*App)(nil)

func Factory(inst model.AppInstance, logger *slog.Logger) (apps.App, error) {
	var cfg Config
	if len(inst.Config) > 0 {
		if err := json.Unmarshal(inst.Config, &cfg); err != nil {
			return nil, fmt.Errorf("calendar feed config: %w", err)
		}
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("calendar feed config: url is required")
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

type feedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (a *App) BusyTimes(ctx context.Context, window model.Period) ([]model.Period, error) {
	q := url.Values{}
	q.Set("from", window.Start.UTC().Format(time.RFC3339))
	q.Set("to", window.End.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar feed returned %d", resp.StatusCode)
	}

	var intervals []feedInterval
	if err := json.NewDecoder(resp.Body).Decode(&intervals); err != nil {
		return nil, fmt.Errorf("decode calendar feed: %w", err)
	}

	var out []model.Period
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			continue
		}
		out = append(out, model.Period{Start: iv.Start, End: iv.End})
	}
	return out, nil
}
