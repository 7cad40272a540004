package crawler

import (
	"maps"

	"github.com/i-yeun/vc-assistant/internal/urlutil"
)

// DefaultMaxDepth is the depth budget for domains without an explicit entry.
const DefaultMaxDepth = 1

// DepthPolicy maps a URL to the maximum depth at which it may still be fetched.
// The seed is depth 0.
type DepthPolicy interface {
	MaxDepth(rawURL string) int
}

// DepthTable is a DepthPolicy keyed by network location (host plus optional port).
type DepthTable struct {
	Default int
	Domains map[string]int
}

// MaxDepth returns the budget registered for the URL's host, or Default.
func (t DepthTable) MaxDepth(rawURL string) int {
	if depth, ok := t.Domains[urlutil.Host(rawURL)]; ok {
		return depth
	}

	return t.Default
}

// DefaultDepthPolicy returns the shipped table: one level everywhere, three for www.quivr.com.
func DefaultDepthPolicy() DepthTable {
	return DepthTable{
		Default: DefaultMaxDepth,
		Domains: map[string]int{
			"www.quivr.com": DefaultMaxDepth + 2,
		},
	}
}

// WithDomains returns a copy of t with extra entries layered on top.
func (t DepthTable) WithDomains(domains map[string]int) DepthTable {
	merged := make(map[string]int, len(t.Domains)+len(domains))
	maps.Copy(merged, t.Domains)
	maps.Copy(merged, domains)

	return DepthTable{Default: t.Default, Domains: merged}
}
