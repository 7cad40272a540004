package crawler

import (
	"strings"
	"sync"
)

const pageSeparator = "\n"

// accumulator is the append-only text aggregate of one crawl run.
type accumulator struct {
	mu    sync.Mutex
	parts []string
}

func (a *accumulator) Append(text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.parts = append(a.parts, text)
}

func (a *accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.parts)
}

func (a *accumulator) String() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return strings.Join(a.parts, pageSeparator)
}
