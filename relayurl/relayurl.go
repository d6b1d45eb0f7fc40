// Package relayurl implements the relay URL normalization rule spec §6.5
// names: the same trim/scheme-default logic the Parser Registry already
// needed for kind-10002 relay lists (parser/profile.go's normalizeRelayURL)
// and that the Connection Registry (spec §4.9) and Relay Connection (spec
// §4.8) need again to key their connection pool and enforce a blacklist.
// Factored out here so every caller normalizes identically rather than
// three slightly different copies of the same trim/lowercase rule drifting
// apart.
package relayurl

import "strings"

// Normalize trims whitespace, lowercases the scheme, and defaults a bare
// "//host" or plain "host" form to "wss://host" (spec §6.5). It returns
// ok=false for an empty string or a non-ws(s) scheme, which callers should
// treat as an invalid relay URL rather than silently coercing it.
func Normalize(raw string) (normalized string, ok bool) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", false
	}
	switch {
	case strings.HasPrefix(strings.ToLower(u), "wss://"), strings.HasPrefix(strings.ToLower(u), "ws://"):
		scheme, rest, _ := strings.Cut(u, "://")
		return strings.ToLower(scheme) + "://" + rest, true
	case strings.HasPrefix(u, "//"):
		return "wss:" + u, true
	case strings.Contains(u, "://"):
		// some other scheme (http, file, ...): reject rather than coerce.
		return "", false
	default:
		return "wss://" + u, true
	}
}

// Blacklist is a configurable set of relay URLs (already normalized) the
// Connection Registry refuses to dial, per spec §6.5 and §4.8 "A relay URL
// may also be blacklisted by allowlist policy."
type Blacklist struct {
	denied map[string]bool
}

// NewBlacklist builds a Blacklist from a list of raw URLs, normalizing
// each one so membership checks agree with the registry's own key space.
func NewBlacklist(urls ...string) *Blacklist {
	b := &Blacklist{denied: make(map[string]bool, len(urls))}
	for _, u := range urls {
		if n, ok := Normalize(u); ok {
			b.denied[n] = true
		}
	}
	return b
}

// Denied reports whether the (already normalized) url is blacklisted. A
// nil Blacklist denies nothing.
func (b *Blacklist) Denied(normalizedURL string) bool {
	if b == nil {
		return false
	}
	return b.denied[normalizedURL]
}

// Add blacklists an additional (raw) URL at runtime.
func (b *Blacklist) Add(raw string) {
	if n, ok := Normalize(raw); ok {
		b.denied[n] = true
	}
}
