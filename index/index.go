// Package index holds the Cache Worker's in-memory secondary indexes and
// the filter-to-candidate-set query planner (spec §4.3). It never touches
// the Ring Store's bytes directly — it only ever holds ids and composite
// offsets, and must be fully rebuildable by replaying ring.Store.LoadOffsets
// (spec §3 Ownership: "Index holds weak references... MUST be rebuildable
// from it").
//
// Grounded on the teacher's database/get-indexes-from-filter.go, which
// builds a combinatorial set of badger key ranges per filter shape
// (ids / kind+author+tag / kind+tag / kind+author / author+tag / tag /
// kind / author / created_at). This engine has no on-disk B-tree to range
// over, so the same shape decisions are re-expressed as in-memory set
// intersection over plain Go maps instead of encoded key ranges.
package index

import (
	"sort"
	"strings"

	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/kind"
)

// Entry is what the Index keeps per event: just enough to fetch and
// re-validate it, never the event body itself.
type Entry struct {
	Offset    uint64
	Kind      uint16
	Pubkey    string
	CreatedAt int64
	// ReplaceKey is the (kind,author[,d]) key used to detect and supersede
	// older replaceable-kind events (spec §4.4).
	ReplaceKey string
}

type tagKey struct {
	letter string
	value  string
}

// Index maintains the secondary maps. All methods assume the caller holds
// whatever single-writer lock guards the owning Cache Worker (spec §4.4
// concurrency note); Index itself is not safe for concurrent mutation.
type Index struct {
	byID     map[string]*Entry
	byKind   map[uint16]map[string]struct{}
	byPubkey map[string]map[string]struct{}
	byTag    map[tagKey]map[string]struct{}
	// byReplaceKey tracks the current id holding a replaceable slot, so a
	// newer event with the same key can supersede it (spec §4.4).
	byReplaceKey map[string]string
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		byID:         map[string]*Entry{},
		byKind:       map[uint16]map[string]struct{}{},
		byPubkey:     map[string]map[string]struct{}{},
		byTag:        map[tagKey]map[string]struct{}{},
		byReplaceKey: map[string]string{},
	}
}

// ReplaceKeyFor computes the replaceable-slot key for a (kind, pubkey, tags)
// triple, or "" if the kind is not replaceable (spec §4.4, §3 Ring Record).
func ReplaceKeyFor(k uint16, pubkeyHex string, dTag string) string {
	if !kind.IsReplaceable(k) {
		return ""
	}
	if kind.IsParameterizedReplaceable(k) {
		return strings.Join([]string{"p", itoa(k), pubkeyHex, dTag}, ":")
	}
	return strings.Join([]string{"r", itoa(k), pubkeyHex}, ":")
}

func itoa(k uint16) string {
	if k == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for k > 0 {
		i--
		buf[i] = byte('0' + k%10)
		k /= 10
	}
	return string(buf[i:])
}

// Superseded reports the id that replaceKey currently points to, if any,
// so the Cache Worker can evict/ignore a stale write (spec §4.4: newer
// replaceable events supersede older ones for the same key).
func (ix *Index) Superseded(replaceKey string) (id string, ok bool) {
	if replaceKey == "" {
		return "", false
	}
	id, ok = ix.byReplaceKey[replaceKey]
	return
}

// Add inserts an event's index entry (spec §4.3 step 1-2). If an id is
// already indexed, Add is a no-op and reports false (the caller's
// duplicate-id short circuit, spec §4.4).
func (ix *Index) Add(id string, ev *event.E, offset uint64, replaceKey string) bool {
	if _, exists := ix.byID[id]; exists {
		return false
	}
	e := &Entry{
		Offset:     offset,
		Kind:       ev.Kind.K,
		Pubkey:     ev.PubkeyString(),
		CreatedAt:  ev.CreatedAt.I64(),
		ReplaceKey: replaceKey,
	}
	ix.byID[id] = e

	addTo(ix.byKind, e.Kind, id)
	addToStr(ix.byPubkey, e.Pubkey, id)
	for _, letter := range []string{"e", "p", "a", "d"} {
		for _, t := range ev.Tags.GetAll(letter) {
			key := tagKey{letter: letter, value: t.Value()}
			if ix.byTag[key] == nil {
				ix.byTag[key] = map[string]struct{}{}
			}
			ix.byTag[key][id] = struct{}{}
		}
	}
	if replaceKey != "" {
		ix.byReplaceKey[replaceKey] = id
	}
	return true
}

// Remove drops an id from every set (used when a replaceable event
// supersedes an older one).
func (ix *Index) Remove(id string) {
	e, ok := ix.byID[id]
	if !ok {
		return
	}
	delete(ix.byID, id)
	delete(ix.byKind[e.Kind], id)
	delete(ix.byPubkey[e.Pubkey], id)
	for key, set := range ix.byTag {
		delete(set, id)
		if len(set) == 0 {
			delete(ix.byTag, key)
		}
	}
}

// Offset looks up the composite offset stored for id.
func (ix *Index) Offset(id string) (uint64, bool) {
	e, ok := ix.byID[id]
	if !ok {
		return 0, false
	}
	return e.Offset, true
}

// Len returns the number of indexed ids.
func (ix *Index) Len() int { return len(ix.byID) }

func addTo(m map[uint16]map[string]struct{}, k uint16, id string) {
	if m[k] == nil {
		m[k] = map[string]struct{}{}
	}
	m[k][id] = struct{}{}
}

func addToStr(m map[string]map[string]struct{}, k string, id string) {
	if m[k] == nil {
		m[k] = map[string]struct{}{}
	}
	m[k][id] = struct{}{}
}

// Plan resolves a Filter into a ranked slice of matching ids (spec §4.3).
// It does not materialize events — callers are expected to fetch the
// offset for each id from the Ring Store and apply the filter's
// content-search / exact-value checks there, since those can't be served
// from the secondary indexes alone.
func (ix *Index) Plan(f *filter.F) []string {
	if len(f.Ids) > 0 {
		seen := map[string]struct{}{}
		var out []string
		for _, id := range f.Ids {
			if _, ok := ix.byID[id]; ok {
				if _, dup := seen[id]; !dup {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		return ix.sortByRecency(out)
	}

	var sets []map[string]struct{}
	if len(f.Kinds) > 0 {
		sets = append(sets, unionU16(ix.byKind, f.Kinds))
	}
	if len(f.Authors) > 0 {
		sets = append(sets, unionStr(ix.byPubkey, f.Authors))
	}
	for letter, values := range f.TagValues {
		if len(values) == 0 {
			continue
		}
		sets = append(sets, ix.unionTag(letter, values))
	}

	for _, s := range sets {
		if len(s) == 0 {
			// short-circuit: any required set empty means no results
			return nil
		}
	}

	var candidate map[string]struct{}
	if len(sets) == 0 {
		// empty filter: every indexed id is a candidate (spec §4.3 edge
		// case — caller applies limit after sorting).
		candidate = ix.byID2set()
	} else {
		candidate = sets[0]
		for _, s := range sets[1:] {
			candidate = intersect(candidate, s)
		}
	}

	out := make([]string, 0, len(candidate))
	for id := range candidate {
		out = append(out, id)
	}
	return ix.sortByRecency(out)
}

func (ix *Index) byID2set() map[string]struct{} {
	out := make(map[string]struct{}, len(ix.byID))
	for id := range ix.byID {
		out[id] = struct{}{}
	}
	return out
}

func unionU16(m map[uint16]map[string]struct{}, kinds []uint16) map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range kinds {
		for id := range m[k] {
			out[id] = struct{}{}
		}
	}
	return out
}

func unionStr(m map[string]map[string]struct{}, keys []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, k := range keys {
		for id := range m[k] {
			out[id] = struct{}{}
		}
	}
	return out
}

func (ix *Index) unionTag(letter string, values []string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, v := range values {
		for id := range ix.byTag[tagKey{letter: letter, value: v}] {
			out[id] = struct{}{}
		}
	}
	return out
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	out := map[string]struct{}{}
	for id := range small {
		if _, ok := big[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// sortByRecency orders ids newest-first by created_at, ties broken by id
// lexicographic ascending (spec §4.3).
func (ix *Index) sortByRecency(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ix.byID[ids[i]], ix.byID[ids[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return ids[i] < ids[j]
	})
	return ids
}
