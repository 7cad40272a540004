// Package visited tracks the URLs claimed during a single crawl run.
package visited

import "sync"

// Set is a concurrency-safe set of claimed URLs.
type Set struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// New creates an empty Set.
func New() *Set {
	return &Set{
		items: make(map[string]struct{}),
	}
}

// Claim marks key as visited and reports whether this call was the first to do so.
// The check and the insert happen under one lock.
func (s *Set) Claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}

	s.items[key] = struct{}{}

	return true
}

// Len returns the number of claimed keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}
