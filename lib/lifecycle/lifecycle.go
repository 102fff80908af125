// Package lifecycle runs best-effort cleanup hooks when the hosting process exits.
//
// Go has no shutdown hooks of its own, so the process entry point is expected to
// call Run (usually deferred in main) or WaitForSignal. Hooks run once, newest
// first, and never fail the shutdown: errors and panics are logged and dropped.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/snowmerak/sdkloader.go/lib/logging"
)

// Hook is a cleanup function.
type Hook func(ctx context.Context) error

type entry struct {
	name string
	fn   Hook
}

// Registry holds cleanup hooks.
type Registry struct {
	mu      sync.Mutex
	hooks   []entry
	ran     bool
	logger  *slog.Logger
	timeout time.Duration
}

// New creates an empty registry. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

// Register adds a named hook. A hook registered after Run has already executed
// runs immediately.
func (r *Registry) Register(name string, fn Hook) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		r.invoke(context.Background(), entry{name: name, fn: fn})
		return
	}
	r.hooks = append(r.hooks, entry{name: name, fn: fn})
	r.mu.Unlock()
}

// DeleteOnExit schedules removal of a single file.
func (r *Registry) DeleteOnExit(path string) {
	r.Register("delete "+path, func(ctx context.Context) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return nil
	})
}

// RemoveAllOnExit schedules recursive removal of a directory.
func (r *Registry) RemoveAllOnExit(dir string) {
	r.Register("remove "+dir, func(ctx context.Context) error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		return nil
	})
}

// Len returns the number of pending hooks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hooks)
}

// Run executes every registered hook in reverse registration order. Only the
// first call does any work.
func (r *Registry) Run(ctx context.Context) {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return
	}
	r.ran = true
	hooks := r.hooks
	r.hooks = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for i := len(hooks) - 1; i >= 0; i-- {
		r.invoke(ctx, hooks[i])
	}
}

func (r *Registry) invoke(ctx context.Context, e entry) {
	logger := logging.OrDefault(r.logger)
	defer func() {
		if p := recover(); p != nil {
			logger.Warn("cleanup hook panicked", "hook", e.name, "panic", p)
		}
	}()

	if err := e.fn(ctx); err != nil {
		logger.Warn("cleanup hook failed", "hook", e.name, "error", err)
		return
	}
	logger.Debug("cleanup hook done", "hook", e.name)
}

// WaitForSignal blocks until SIGINT, SIGTERM or ctx cancellation, then runs the hooks.
func (r *Registry) WaitForSignal(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	r.Run(context.Background())
}

// Default is the process-wide registry.
var Default = New(nil)

// Register adds a hook to the default registry.
func Register(name string, fn Hook) { Default.Register(name, fn) }

// DeleteOnExit schedules removal of path through the default registry.
func DeleteOnExit(path string) { Default.DeleteOnExit(path) }

// RemoveAllOnExit schedules recursive removal of dir through the default registry.
func RemoveAllOnExit(dir string) { Default.RemoveAllOnExit(dir) }

// Run executes the default registry.
func Run(ctx context.Context) { Default.Run(ctx) }
