// Package filter is the query form used both for local cache lookups and
// relay REQ frames (spec §3). Matching semantics are defined in §4.3.
package filter

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"nostrengine.dev/event"
	"nostrengine.dev/tags"
	"nostrengine.dev/timestamp"
)

// F is a Nostr filter: every present field narrows the match.
type F struct {
	Ids     []string
	Authors []string
	Kinds   []uint16
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   *int
	Search  string
	// TagValues holds the generic single-letter tag constraints, keyed by
	// the bare letter ("e", "p", "a", "d", ...).
	TagValues map[string][]string
}

// New returns an empty filter ready for field assignment.
func New() *F { return &F{TagValues: map[string][]string{}} }

// SetTag adds values for a single-letter tag constraint.
func (f *F) SetTag(letter string, values ...string) {
	if f.TagValues == nil {
		f.TagValues = map[string][]string{}
	}
	f.TagValues[letter] = append(f.TagValues[letter], values...)
}

// Clone deep-copies a filter. The clone's Limit is left intact (unlike the
// teacher's subscription refcount convention, which this engine does not
// replicate — refcounting lives on Subscription, not Filter, here).
func (f *F) Clone() *F {
	if f == nil {
		return nil
	}
	c := &F{
		Ids:     append([]string(nil), f.Ids...),
		Authors: append([]string(nil), f.Authors...),
		Kinds:   append([]uint16(nil), f.Kinds...),
		Search:  f.Search,
	}
	if f.Since != nil {
		s := timestamp.FromUnix(f.Since.I64())
		c.Since = s
	}
	if f.Until != nil {
		c.Until = timestamp.FromUnix(f.Until.I64())
	}
	if f.Limit != nil {
		l := *f.Limit
		c.Limit = &l
	}
	c.TagValues = map[string][]string{}
	for k, v := range f.TagValues {
		c.TagValues[k] = append([]string(nil), v...)
	}
	return c
}

// wireJSON is the over-the-wire shape: the generic tag keys are flattened
// onto the object as "#e", "#p", etc, matching NIP-01.
type wireJSON struct {
	Ids     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []uint16 `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
	Search  string   `json:"search,omitempty"`
}

// MarshalJSON renders the filter with sorted, deterministic field content so
// identical filter sets fingerprint identically (used by the Network
// Manager's per-relay REQ merge, spec §4.11 step 2).
func (f *F) MarshalJSON() ([]byte, error) {
	f.sortInPlace()
	w := wireJSON{
		Ids: f.Ids, Authors: f.Authors, Kinds: f.Kinds, Search: f.Search,
	}
	if f.Since != nil {
		v := f.Since.I64()
		w.Since = &v
	}
	if f.Until != nil {
		v := f.Until.I64()
		w.Until = &v
	}
	w.Limit = f.Limit
	base, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	if len(f.TagValues) == 0 {
		return base, nil
	}
	letters := make([]string, 0, len(f.TagValues))
	for k := range f.TagValues {
		letters = append(letters, k)
	}
	sort.Strings(letters)
	var buf bytes.Buffer
	buf.Write(base[:len(base)-1])
	for _, letter := range letters {
		values := f.TagValues[letter]
		if len(values) == 0 {
			continue
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		vb, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		buf.WriteByte('"')
		buf.WriteByte('#')
		buf.WriteString(letter)
		buf.WriteByte('"')
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a filter, lifting any "#x" key into TagValues.
func (f *F) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	f.TagValues = map[string][]string{}
	for k, v := range raw {
		switch k {
		case "ids":
			if err := json.Unmarshal(v, &f.Ids); err != nil {
				return err
			}
		case "authors":
			if err := json.Unmarshal(v, &f.Authors); err != nil {
				return err
			}
		case "kinds":
			if err := json.Unmarshal(v, &f.Kinds); err != nil {
				return err
			}
		case "since":
			var n int64
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			f.Since = timestamp.FromUnix(n)
		case "until":
			var n int64
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			f.Until = timestamp.FromUnix(n)
		case "limit":
			var n int
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			f.Limit = &n
		case "search":
			if err := json.Unmarshal(v, &f.Search); err != nil {
				return err
			}
		default:
			if strings.HasPrefix(k, "#") && len(k) == 2 {
				var vals []string
				if err := json.Unmarshal(v, &vals); err != nil {
					return err
				}
				f.TagValues[k[1:]] = vals
			}
		}
	}
	return nil
}

func (f *F) sortInPlace() {
	sort.Strings(f.Ids)
	sort.Strings(f.Authors)
	sort.Slice(f.Kinds, func(i, j int) bool { return f.Kinds[i] < f.Kinds[j] })
	for _, v := range f.TagValues {
		sort.Strings(v)
	}
}

// Matches reports whether ev satisfies every present constraint of f (spec
// §3, §4.3). Every field is AND-ed; within a field, membership is OR-ed.
func (f *F) Matches(ev *event.E) bool {
	if ev == nil {
		return false
	}
	if len(f.Ids) > 0 && !containsStr(f.Ids, ev.IDString()) {
		return false
	}
	if len(f.Kinds) > 0 && !containsU16(f.Kinds, ev.Kind.K) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, ev.PubkeyString()) {
		return false
	}
	if f.Since != nil && ev.CreatedAt.I64() < f.Since.I64() {
		return false
	}
	if f.Until != nil && ev.CreatedAt.I64() > f.Until.I64() {
		return false
	}
	if f.Search != "" && !strings.Contains(
		strings.ToLower(string(ev.Content)), strings.ToLower(f.Search),
	) {
		return false
	}
	for letter, values := range f.TagValues {
		if len(values) == 0 {
			continue
		}
		if !tagMatches(ev.Tags, letter, values) {
			return false
		}
	}
	return true
}

func tagMatches(tt *tags.T, letter string, values []string) bool {
	for _, t := range tt.GetAll(letter) {
		if containsStr(values, t.Value()) {
			return true
		}
	}
	return false
}

func containsStr(hay []string, needle string) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}

func containsU16(hay []uint16, needle uint16) bool {
	for _, h := range hay {
		if h == needle {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the filter has no narrowing constraints at all
// (spec §4.3 edge case: returns most recent events up to limit).
func (f *F) IsEmpty() bool {
	return len(f.Ids) == 0 && len(f.Authors) == 0 && len(f.Kinds) == 0 &&
		f.Since == nil && f.Until == nil && f.Search == "" && len(f.TagValues) == 0
}

// Fingerprint is an order-independent key identifying the filter's content,
// used by the Network Manager to merge overlapping filters per relay (spec
// §4.11 step 2, spec §8 scenario 6).
func (f *F) Fingerprint() string {
	b, _ := f.MarshalJSON()
	return string(b)
}

// MergeKinds returns a clone of f with other's kinds unioned in, used to
// collapse two Requests targeting the same relay with otherwise identical
// constraints into a single REQ filter.
func (f *F) MergeKinds(other *F) *F {
	c := f.Clone()
	seen := map[uint16]bool{}
	for _, k := range c.Kinds {
		seen[k] = true
	}
	for _, k := range other.Kinds {
		if !seen[k] {
			c.Kinds = append(c.Kinds, k)
			seen[k] = true
		}
	}
	sort.Slice(c.Kinds, func(i, j int) bool { return c.Kinds[i] < c.Kinds[j] })
	return c
}

// SameShape reports whether f and other differ only in Kinds, making them
// mergeable by MergeKinds.
func (f *F) SameShape(other *F) bool {
	a, b := f.Clone(), other.Clone()
	a.Kinds, b.Kinds = nil, nil
	return a.Fingerprint() == b.Fingerprint()
}
