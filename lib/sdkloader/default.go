package sdkloader

import (
	"context"
	"sync"

	"github.com/snowmerak/sdkloader.go/lib/command"
	"github.com/snowmerak/sdkloader.go/lib/isolation"
)

var (
	defaultMu     sync.Mutex
	defaultHolder *Holder
)

// Default returns the process-wide holder, creating one with the default
// configuration on first use.
func Default() *Holder {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultHolder == nil {
		defaultHolder = NewHolder()
	}
	return defaultHolder
}

// SetDefault replaces the process-wide holder. It must be called before the
// first Get or Build that relies on it.
func SetDefault(h *Holder) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultHolder = h
}

// Get returns the runtime of the process-wide holder.
func Get(ctx context.Context) (*State, error) {
	return Default().Get(ctx)
}

// Build constructs an adapter command with the process-wide holder.
func Build(ctx context.Context, scope *isolation.Scope, req command.Request) (command.Command, error) {
	return Default().Build(ctx, scope, req)
}
