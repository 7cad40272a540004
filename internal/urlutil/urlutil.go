package urlutil

import (
	"net/url"
	"strings"
)

// Resolve resolves href against base and returns an absolute HTTP(S) URL.
// Relative, protocol-relative, fragment-only and empty hrefs all resolve; the fragment is kept.
func Resolve(base *url.URL, href string) (string, bool) {
	if base == nil {
		return "", false
	}

	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}

	resolved := base.ResolveReference(parsed)
	if !isSupportedScheme(resolved.Scheme) || resolved.Host == "" {
		return "", false
	}

	return resolved.String(), true
}

func isSupportedScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}

// Normalize drops everything from the first '?' or '#'.
// URLs that differ only in query or fragment share one identity.
func Normalize(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		return raw[:idx]
	}

	return raw
}

// Host returns the network location (host plus optional port) of raw,
// or an empty string when raw does not parse.
func Host(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	return parsed.Host
}

// SameDomain reports whether raw's network location equals baseDomain exactly.
func SameDomain(raw string, baseDomain string) bool {
	if baseDomain == "" {
		return false
	}

	return Host(raw) == baseDomain
}
