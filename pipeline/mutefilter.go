package pipeline

import (
	"strings"

	"nostrengine.dev/event"
)

// MuteCriteria is the pre-parsed mute list a host builds from its kind
// 10000 (NIP-51 mute list) projection before constructing MuteFilter,
// grounded on mute.rs's MuteCriteria.
type MuteCriteria struct {
	Pubkeys  []string
	Hashtags []string
	Words    []string
	EventIDs []string
}

// MuteFilter drops events matching any criterion: muted author, muted
// event id, a reference (e-tag) to a muted event, a muted hashtag
// (t-tag, case-insensitive), or a lowercase content-word substring match
// (spec §4.10). Grounded on mute.rs's MuteFilterPipe/should_drop.
type MuteFilter struct {
	pubkeys  map[string]struct{}
	hashtags map[string]struct{}
	words    []string
	events   map[string]struct{}
}

// NewMuteFilter builds a MuteFilter from c, lowercasing hashtags and
// words the same way mute.rs's constructor does.
func NewMuteFilter(c MuteCriteria) *MuteFilter {
	f := &MuteFilter{
		pubkeys:  make(map[string]struct{}, len(c.Pubkeys)),
		hashtags: make(map[string]struct{}, len(c.Hashtags)),
		events:   make(map[string]struct{}, len(c.EventIDs)),
	}
	for _, p := range c.Pubkeys {
		f.pubkeys[p] = struct{}{}
	}
	for _, h := range c.Hashtags {
		f.hashtags[strings.ToLower(h)] = struct{}{}
	}
	for _, w := range c.Words {
		f.words = append(f.words, strings.ToLower(w))
	}
	for _, id := range c.EventIDs {
		f.events[id] = struct{}{}
	}
	return f
}

func (f *MuteFilter) Process(e Event) (Output, error) {
	ev := e.rawEvent()
	if ev == nil {
		return Drop(), nil
	}
	if f.shouldDrop(ev) {
		return Drop(), nil
	}
	return Forward(e), nil
}

func (f *MuteFilter) shouldDrop(ev *event.E) bool {
	pubkeyHex := ev.PubkeyString()
	if _, ok := f.pubkeys[pubkeyHex]; ok {
		return true
	}

	idHex := ev.IDString()
	if _, ok := f.events[idHex]; ok {
		return true
	}

	if len(f.events) > 0 {
		for _, t := range ev.Tags.GetAll("e") {
			if t.Len() < 2 {
				continue
			}
			if _, ok := f.events[t.At(1)]; ok {
				return true
			}
		}
	}

	if len(f.hashtags) > 0 {
		for _, t := range ev.Tags.GetAll("t") {
			if t.Len() < 2 {
				continue
			}
			if _, ok := f.hashtags[strings.ToLower(t.At(1))]; ok {
				return true
			}
		}
	}

	if len(f.words) > 0 && len(ev.Content) > 0 {
		contentLC := strings.ToLower(string(ev.Content))
		for _, w := range f.words {
			if strings.Contains(contentLC, w) {
				return true
			}
		}
	}

	return false
}

// ProcessCachedBatch uses DefaultProcessCachedBatch's decode-then-Process
// path rather than mute.rs's raw-FlatBuffers field-peeking variant: that
// optimization exists in the Rust original because its WorkerMessage has
// flatc-generated per-field accessors, letting it read pubkey/id without
// building a typed event. wireenv's hand-rolled envelope (see DESIGN.md)
// has no such accessor for ParsedEvent content, so decoding through
// parsed.Event.UnmarshalBinary is this engine's equivalent entry point.
func (f *MuteFilter) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	return DefaultProcessCachedBatch(f, batch)
}

func (f *MuteFilter) Name() string             { return "MuteFilter" }
func (f *MuteFilter) CanDirectOutput() bool    { return false }
func (f *MuteFilter) RunForCachedEvents() bool { return true }
