// Package sysprop holds process-wide configuration properties read by native
// library loaders.
//
// Properties live for the lifetime of the process and the last writer wins.
// A property can be bound to an environment variable so that child processes,
// which cannot see this package's state, inherit the value.
package sysprop

import (
	"fmt"
	"os"
	"sync"
)

// Properties is a concurrency-safe property set.
type Properties struct {
	mu       sync.RWMutex
	values   map[string]string
	bindings map[string]string
}

// New returns an empty property set.
func New() *Properties {
	return &Properties{
		values:   make(map[string]string),
		bindings: make(map[string]string),
	}
}

// Bind mirrors future writes of key into the environment variable env.
func (p *Properties) Bind(key, env string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindings[key] = env
}

// Set stores value under key, and exports it when key is bound.
func (p *Properties) Set(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if env, ok := p.bindings[key]; ok && env != "" {
		if err := os.Setenv(env, value); err != nil {
			return fmt.Errorf("failed to export property %s as %s: %w", key, env, err)
		}
	}
	p.values[key] = value
	return nil
}

// Lookup returns the value for key and whether it was set.
func (p *Properties) Lookup(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Get returns the value for key, or "" when unset.
func (p *Properties) Get(key string) string {
	v, _ := p.Lookup(key)
	return v
}

// Default is the process-wide property set.
var Default = New()

func Set(key, value string) error      { return Default.Set(key, value) }
func Get(key string) string            { return Default.Get(key) }
func Lookup(key string) (string, bool) { return Default.Lookup(key) }
func Bind(key, env string)             { Default.Bind(key, env) }
