package pipeline

import (
	"nostrengine.dev/parsed"
	"nostrengine.dev/wireenv"
)

// Counter is a terminal pipe that tallies events per kind and emits a
// CountResponse DirectOutput carrying the running count, a "you" flag
// when the event's author matches selfPubkey, and the most recent
// created_at seen for that kind bucket (SPEC_FULL.md's Count pipe
// metadata supplement). Every event is dropped after counting (or
// immediately, if its kind isn't tracked) — this pipe only counts, it
// never forwards events to the ring. Grounded on counter.rs's CounterPipe.
type Counter struct {
	kinds      map[uint16]struct{}
	counts     map[uint16]int64
	lastSeen   map[uint16]int64
	selfPubkey string
}

// NewCounter builds a Counter tracking kinds, tagging matches against
// selfPubkeyHex with the "you" flag.
func NewCounter(selfPubkeyHex string, kinds ...uint16) *Counter {
	set := make(map[uint16]struct{}, len(kinds))
	counts := make(map[uint16]int64, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
		counts[k] = 0
	}
	return &Counter{kinds: set, counts: counts, lastSeen: make(map[uint16]int64), selfPubkey: selfPubkeyHex}
}

func (c *Counter) Process(e Event) (Output, error) {
	k := e.Kind()
	if _, ok := c.kinds[k]; !ok {
		return Drop(), nil
	}
	c.counts[k]++

	ev := e.rawEvent()
	if ev != nil && ev.CreatedAt.I64() > c.lastSeen[k] {
		c.lastSeen[k] = ev.CreatedAt.I64()
	}

	resp := wireenv.CountResponse{
		Kind:      k,
		Count:     c.counts[k],
		You:       e.PubkeyHex() == c.selfPubkey,
		CreatedAt: c.lastSeen[k],
	}
	return Direct(wireenv.EncodeCountResponse(resp)), nil
}

// ProcessCachedBatch decodes each cached record as a parsed.Event, counts
// it through Process, and keeps only the DirectOutput records; Counter
// never forwards an event, so nothing is re-encoded.
func (c *Counter) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	out := make([][]byte, 0, len(batch))
	for _, rec := range batch {
		pe := &parsed.Event{}
		if err := pe.UnmarshalBinary(rec); err != nil {
			continue
		}
		result, err := c.Process(FromParsed(pe))
		if err != nil {
			return nil, err
		}
		if result.kind == outputDirect {
			out = append(out, result.direct)
		}
	}
	return out, nil
}

func (c *Counter) Name() string             { return "Counter" }
func (c *Counter) CanDirectOutput() bool    { return true }
func (c *Counter) RunForCachedEvents() bool { return true }
