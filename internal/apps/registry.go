package apps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/slotify-app/slotify/internal/model"
)

var (
	ErrUnknownApp     = errors.New("unknown app name")
	ErrNotInstalled   = errors.New("app instance not installed")
	ErrAlreadyRunning = errors.New("app instance already running")
)

// Factory builds a running app from its persisted instance record.
type Factory func(instance model.AppInstance, logger *slog.Logger) (App, error)

// Store persists installed-app instance rows. Instance config is mutated only
// through the owning app's own callbacks, never by the scheduling core.
type Store interface {
	InsertAppInstance(ctx context.Context, inst model.AppInstance) error
	UpdateAppStatus(ctx context.Context, id uuid.UUID, status model.AppStatus, reason string) error
	DeleteAppInstance(ctx context.Context, id uuid.UUID) error
	ListAppInstances(ctx context.Context) ([]model.AppInstance, error)
}

// Registry tracks installed connected apps and their running instances.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	store     Store
	factories map[string]Factory
	running   map[uuid.UUID]App
	instances map[uuid.UUID]model.AppInstance
}

func NewRegistry(logger *slog.Logger, store Store) *Registry {
	return &Registry{
		logger:    logger,
		store:     store,
		factories: map[string]Factory{},
		running:   map[uuid.UUID]App{},
		instances: map[uuid.UUID]model.AppInstance{},
	}
}

// RegisterFactory declares an installable app type. Called at boot, before
// Load.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// AddBuiltin registers an always-on app that is not backed by a store row
// (e.g. the trigger scheduler itself).
func (r *Registry) AddBuiltin(app App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[app.InstanceID()] = app
}

// Load instantiates every persisted instance. A single instance failing to
// start is recorded as failed but does not prevent the rest from loading.
func (r *Registry) Load(ctx context.Context) error {
	instances, err := r.store.ListAppInstances(ctx)
	if err != nil {
		return fmt.Errorf("list app instances: %w", err)
	}
	for _, inst := range instances {
		if err := r.start(inst); err != nil {
			r.logger.Error("connected app failed to start", "app", inst.AppName, "instance", inst.ID, "err", err)
			if uerr := r.store.UpdateAppStatus(ctx, inst.ID, model.AppFailed, err.Error()); uerr != nil {
				r.logger.Error("record app failure", "instance", inst.ID, "err", uerr)
			}
		}
	}
	return nil
}

func (r *Registry) start(inst model.AppInstance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	factory, ok := r.factories[inst.AppName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownApp, inst.AppName)
	}
	if _, ok := r.running[inst.ID]; ok {
		return ErrAlreadyRunning
	}
	app, err := factory(inst, r.logger.With("app", inst.AppName))
	if err != nil {
		return err
	}
	r.running[inst.ID] = app
	r.instances[inst.ID] = inst
	return nil
}

// Install persists and starts a new app instance with status pending. The app
// reports connected/failed itself through SetStatus.
func (r *Registry) Install(ctx context.Context, appName string, config json.RawMessage) (model.AppInstance, error) {
	r.mu.RLock()
	_, known := r.factories[appName]
	r.mu.RUnlock()
	if !known {
		return model.AppInstance{}, fmt.Errorf("%w: %s", ErrUnknownApp, appName)
	}

	inst := model.AppInstance{
		ID:        uuid.New(),
		AppName:   appName,
		Config:    config,
		Status:    model.AppPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.InsertAppInstance(ctx, inst); err != nil {
		return model.AppInstance{}, fmt.Errorf("persist app instance: %w", err)
	}
	if err := r.start(inst); err != nil {
		if derr := r.store.DeleteAppInstance(ctx, inst.ID); derr != nil {
			r.logger.Error("rollback app install", "instance", inst.ID, "err", derr)
		}
		return model.AppInstance{}, err
	}
	return inst, nil
}

// SetStatus is the status callback path owned by the app itself.
func (r *Registry) SetStatus(ctx context.Context, id uuid.UUID, status model.AppStatus, reason string) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if ok {
		inst.Status = status
		inst.Reason = reason
		r.instances[id] = inst
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotInstalled
	}
	return r.store.UpdateAppStatus(ctx, id, status, reason)
}

// Uninstall releases the app's external resources (when it implements
// Cleaner), stops it, and removes the persisted row.
func (r *Registry) Uninstall(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	app, ok := r.running[id]
	r.mu.Unlock()
	if !ok {
		return ErrNotInstalled
	}

	if cleaner, ok := app.(Cleaner); ok {
		if err := cleaner.Cleanup(ctx); err != nil {
			r.logger.Error("connected app cleanup failed", "app", app.AppName(), "instance", id, "err", err)
		}
	}

	r.mu.Lock()
	delete(r.running, id)
	delete(r.instances, id)
	r.mu.Unlock()

	if err := r.store.DeleteAppInstance(ctx, id); err != nil {
		return fmt.Errorf("delete app instance: %w", err)
	}
	return nil
}

// Apps returns a snapshot of running apps. Ordering is unspecified.
func (r *Registry) Apps() []App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]App, 0, len(r.running))
	for _, app := range r.running {
		out = append(out, app)
	}
	return out
}

// Instances returns the persisted view of installed apps.
func (r *Registry) Instances(ctx context.Context) ([]model.AppInstance, error) {
	return r.store.ListAppInstances(ctx)
}
