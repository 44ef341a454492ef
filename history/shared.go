// history/shared.go
package history

import "sync"

// Shared guards a History with a mutex so the turn loop and concurrently
// running tool tasks can mutate it.
type Shared struct {
	mu sync.Mutex
	h  *History
}

// NewShared wraps h. A nil h starts an empty history.
func NewShared(h *History) *Shared {
	if h == nil {
		h = New()
	}
	return &Shared{h: h}
}

// Do runs fn with exclusive access to the history. fn must not retain h.
func (s *Shared) Do(fn func(h *History)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.h)
}

// Snapshot returns a deep copy taken under the lock
func (s *Shared) Snapshot() *History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.h.Clone()
}

// Replace swaps in a new history. A nil h clears it.
func (s *Shared) Replace(h *History) {
	if h == nil {
		h = New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h = h
}
