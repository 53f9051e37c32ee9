package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// hook is one registration slot. Either callback may be nil; a paired
// registration fills both so rollback knows which stop belongs to which
// start.
type hook struct {
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle manages the startup and shutdown of platform components.
type Lifecycle struct {
	mu sync.Mutex

	hooks []hook

	started bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Register adds a paired start/stop hook. On a start failure, rollback
// runs only the stops registered before the failed start. Either
// callback may be nil.
func (l *Lifecycle) Register(start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{start: start, stop: stop})
}

// OnStart registers a callback to run on startup.
func (l *Lifecycle) OnStart(callback func(context.Context) error) {
	l.Register(callback, nil)
}

// OnStop registers a callback to run on shutdown.
func (l *Lifecycle) OnStop(callback func(context.Context) error) {
	l.Register(nil, callback)
}

// Start runs all start callbacks in registration order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start == nil {
			continue
		}
		if err := h.start(ctx); err != nil {
			l.rollback(ctx, i)
			return fmt.Errorf("start callback %d failed: %w", i, err)
		}
	}

	l.started = true
	return nil
}

// rollback stops already-started components in reverse order. Only hooks
// registered before the failed one are stopped; stops registered after
// it belong to components that never started.
func (l *Lifecycle) rollback(ctx context.Context, failedAt int) {
	for j := failedAt - 1; j >= 0; j-- {
		if l.hooks[j].stop == nil {
			continue
		}
		if err := l.hooks[j].stop(ctx); err != nil {
			slog.Warn("lifecycle rollback: stop callback failed",
				"callback", j, "error", err)
		}
	}
}

// Stop runs all stop callbacks in reverse registration order.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	var errs []error
	for i := len(l.hooks) - 1; i >= 0; i-- {
		if l.hooks[i].stop == nil {
			continue
		}
		if err := l.hooks[i].stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop callback %d: %w", i, err))
		}
	}

	l.started = false

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

// Closer is something that can be closed.
type Closer interface {
	Close() error
}

// RegisterCloser registers a closer to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(c Closer) {
	l.OnStop(func(_ context.Context) error {
		return c.Close()
	})
}
