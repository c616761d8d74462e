// Package settings loads the business scheduling configuration once at start
// and hands out a consistent snapshot; callers never read half-updated config.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slotify-app/slotify/internal/model"
	"github.com/slotify-app/slotify/internal/storage"
)

type Source interface {
	Load(ctx context.Context) (model.Settings, error)
	Save(ctx context.Context, s model.Settings) error
}

type Provider struct {
	source Source
	logger *slog.Logger

	mu      sync.RWMutex
	current model.Settings
	loc     *time.Location
}

func NewProvider(source Source, logger *slog.Logger) *Provider {
	return &Provider{
		source:  source,
		logger:  logger,
		current: Default(),
		loc:     time.UTC,
	}
}

// Default is the bootstrap configuration used until settings are saved:
// Mon-Fri 09:00-17:00, 30-minute steps, four-week horizon.
func Default() model.Settings {
	var week [7][]model.Shift
	for d := time.Monday; d <= time.Friday; d++ {
		week[d] = []model.Shift{{Start: 9 * 60, End: 17 * 60}}
	}
	return model.Settings{
		Schedule: model.Schedule{Week: week},
		Policy: model.BookingPolicy{
			HorizonWeeks: 4,
			MinLeadTime:  time.Hour,
			Granularity:  model.Granularity{Kind: model.GranularityStep, StepMinutes: 30},
		},
		TimeZone: "UTC",
	}
}

// Refresh reloads from the source. A missing row keeps the defaults; a broken
// row keeps the last good snapshot and reports the error.
func (p *Provider) Refresh(ctx context.Context) error {
	s, err := p.source.Load(ctx)
	if err != nil {
		if storage.IsNotFound(err) {
			p.logger.Info("no stored settings, using defaults")
			return nil
		}
		return fmt.Errorf("load settings: %w", err)
	}
	return p.set(s)
}

// Update validates, persists, and swaps in the new settings.
func (p *Provider) Update(ctx context.Context, s model.Settings) error {
	if err := validate(s); err != nil {
		return err
	}
	if err := p.source.Save(ctx, s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return p.set(s)
}

// Current returns the active settings and their resolved location.
func (p *Provider) Current() (model.Settings, *time.Location) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.loc
}

func (p *Provider) set(s model.Settings) error {
	if err := validate(s); err != nil {
		return err
	}
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return fmt.Errorf("time zone %q: %w", s.TimeZone, err)
	}
	p.mu.Lock()
	p.current = s
	p.loc = loc
	p.mu.Unlock()
	return nil
}

func validate(s model.Settings) error {
	if err := s.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if err := s.Policy.Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return fmt.Errorf("time zone %q: %w", s.TimeZone, err)
	}
	return nil
}
