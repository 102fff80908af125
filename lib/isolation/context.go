// Package isolation resolves adapter symbols inside a boundary rooted at an
// adapter archive, separate from the host's own symbols.
package isolation

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// ErrSymbolNotFound is returned when a context cannot resolve a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// LoggerSymbol names the host logger. It is delegated to the parent context by default.
const LoggerSymbol = "log/slog.Logger"

// Symbol is a resolved value, typically a constructor function.
type Symbol = any

// Context resolves symbol names to values.
type Context interface {
	Name() string
	Lookup(symbol string) (Symbol, error)
}

// Table is a plain, mutable symbol table.
type Table struct {
	name    string
	mu      sync.RWMutex
	symbols map[string]Symbol
}

var _ Context = (*Table)(nil)

func NewTable(name string, symbols map[string]Symbol) *Table {
	t := &Table{name: name, symbols: make(map[string]Symbol, len(symbols))}
	maps.Copy(t.symbols, symbols)
	return t
}

// HostTable returns the host context, which exposes logger as LoggerSymbol.
func HostTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return NewTable("host", map[string]Symbol{LoggerSymbol: logger})
}

func (t *Table) Name() string {
	return t.name
}

// Define adds or replaces a symbol.
func (t *Table) Define(name string, s Symbol) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.symbols[name] = s
}

func (t *Table) Lookup(symbol string) (Symbol, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, symbol, t.name)
	}
	return s, nil
}
