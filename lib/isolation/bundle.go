package isolation

import (
	"maps"
	"slices"
	"sync"
)

var (
	bundlesMu sync.RWMutex
	bundles   = make(map[string]map[string]Symbol)
)

// RegisterBundle makes an in-process symbol set available to archives whose
// manifest names it. Registering a name again replaces the earlier set.
func RegisterBundle(name string, symbols map[string]Symbol) {
	bundlesMu.Lock()
	defer bundlesMu.Unlock()
	bundles[name] = maps.Clone(symbols)
}

// Bundles returns the sorted names of the registered bundles.
func Bundles() []string {
	bundlesMu.RLock()
	defer bundlesMu.RUnlock()
	return slices.Sorted(maps.Keys(bundles))
}

func lookupBundle(name string) (map[string]Symbol, bool) {
	bundlesMu.RLock()
	defer bundlesMu.RUnlock()
	b, ok := bundles[name]
	return b, ok
}
