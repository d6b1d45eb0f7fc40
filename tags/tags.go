// Package tags is an ordered collection of tag.T, as carried by an event.
package tags

import "nostrengine.dev/tag"

// T is an ordered sequence of tags.
type T struct{ Tags []*tag.T }

// New builds a tags.T from the given tag.T values.
func New(t ...*tag.T) *T { return &T{Tags: t} }

// NewWithCap builds an empty tags.T with a pre-allocated capacity.
func NewWithCap(n int) *T { return &T{Tags: make([]*tag.T, 0, n)} }

// AppendTags appends tags to the collection.
func (t *T) AppendTags(tt ...*tag.T) { t.Tags = append(t.Tags, tt...) }

// Len returns the number of tags.
func (t *T) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Tags)
}

// GetFirst returns the first tag whose Key matches pattern's Key (and Value,
// if pattern has one), or nil if none match.
func (t *T) GetFirst(pattern *tag.T) *tag.T {
	if t == nil {
		return nil
	}
	key := pattern.Key()
	value := ""
	if pattern.Len() > 1 {
		value = pattern.Value()
	}
	for _, cand := range t.Tags {
		if cand.Matches(key, value) {
			return cand
		}
	}
	return nil
}

// GetAll returns every tag whose Key equals key.
func (t *T) GetAll(key string) (out []*tag.T) {
	if t == nil {
		return nil
	}
	for _, cand := range t.Tags {
		if cand.Key() == key {
			out = append(out, cand)
		}
	}
	return
}

// Values returns the Value() of every tag with the given key, in order.
func (t *T) Values(key string) (out []string) {
	for _, cand := range t.GetAll(key) {
		out = append(out, cand.Value())
	}
	return
}

// ToStringsSlice converts the collection into [][]string, the JSON-native
// shape of a Nostr event's "tags" field.
func (t *T) ToStringsSlice() (s [][]string) {
	if t == nil {
		return nil
	}
	for _, tg := range t.Tags {
		s = append(s, tg.ToStrings())
	}
	return
}

// Clone returns a deep copy.
func (t *T) Clone() *T {
	if t == nil {
		return nil
	}
	out := NewWithCap(t.Len())
	for _, tg := range t.Tags {
		out.AppendTags(tg.Clone())
	}
	return out
}
