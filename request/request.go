// Package request defines the host-facing query shape (spec §3 Request):
// a Filter plus delivery preferences that only make sense once a relay
// fan-out is involved. The Network Manager and Connection Registry
// translate a Request into one or more Filters for local cache lookups
// and relay REQ frames.
package request

import "nostrengine.dev/filter"

// R is a single host-facing query.
type R struct {
	Filter *filter.F
	// Relays is the target set this request should be sent to; empty means
	// "the Connection Registry's default set."
	Relays []string
	// CloseOnEOSE closes the subscription as soon as every target relay
	// reports EOSE, rather than keeping it open for live updates.
	CloseOnEOSE bool
	// CacheFirst means: if the Cache Worker's planner yields any result,
	// do not forward this request to relays at all (spec §4.4).
	CacheFirst bool
	// NoCache skips the Cache Worker entirely, always going to relays.
	NoCache bool
	// MaxRelays caps how many relays this request fans out to; 0 means no
	// cap.
	MaxRelays int
	// SubID is the subscription id this request is, or will be, attached
	// to on the wire.
	SubID string
}

// New wraps f as a Request with default delivery preferences (not
// cache-first, no relay cap).
func New(f *filter.F) *R { return &R{Filter: f} }
