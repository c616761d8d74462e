package apps

import (
	"context"
	"log/slog"
)

// Dispatcher routes capability calls to every installed app implementing the
// capability. It holds no state of its own.
type Dispatcher struct {
	reg    *Registry
	logger *slog.Logger
}

func NewDispatcher(reg *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, logger: logger}
}

// Resolve returns every installed app implementing capability T. Ordering is
// unspecified and must not be relied upon.
func Resolve[T any](d *Dispatcher) []T {
	var out []T
	for _, app := range d.reg.Apps() {
		if impl, ok := app.(T); ok {
			out = append(out, impl)
		}
	}
	return out
}

// Dispatch invokes fn for every installed app implementing capability T. Each
// invocation is isolated: a panic or error in one app is logged with the app's
// identity and never prevents the remaining apps from being invoked, nor does
// it propagate to the caller.
func Dispatch[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context, impl T) error) {
	for _, app := range d.reg.Apps() {
		impl, ok := app.(T)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					d.logger.Error("connected app panicked",
						"app", app.AppName(), "instance", app.InstanceID(), "panic", rec)
				}
			}()
			if err := fn(ctx, impl); err != nil {
				d.logger.Error("connected app call failed",
					"app", app.AppName(), "instance", app.InstanceID(), "err", err)
			}
		}()
	}
}
