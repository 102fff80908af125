package isolation

import (
	"sync"
)

// Scope holds the ambient context of one caller. Components that resolve
// symbols implicitly read Current. A Scope must not be shared between callers
// that swap concurrently.
type Scope struct {
	mu      sync.Mutex
	current Context
}

func NewScope(initial Context) *Scope {
	return &Scope{current: initial}
}

// Current returns the installed context, or nil.
func (s *Scope) Current() Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Swap installs c and returns a function that reinstalls the context that was
// current before the swap. The restore function is idempotent; nested swaps
// must be restored in reverse order.
func (s *Scope) Swap(c Context) (restore func()) {
	s.mu.Lock()
	previous := s.current
	s.current = c
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.current = previous
			s.mu.Unlock()
		})
	}
}
