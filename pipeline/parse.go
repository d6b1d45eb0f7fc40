package pipeline

import (
	"nostrengine.dev/log"
	"nostrengine.dev/parser"
	"nostrengine.dev/request"
)

// Parse invokes the Parser Registry on events that don't already carry a
// projection, passing already-parsed events through untouched. Grounded
// on parse.rs's ParsePipe: a parse failure drops the event (logged) rather
// than failing the pipeline, and this pipe opts out of the cached-batch
// fast path since a cache hit is already parsed.
//
// onRequests, when set, is handed a parsed event's follow-up Requests
// (SPEC_FULL.md's parser requests-derivation supplement: kind 1 mentions
// and kind 7 reactions may derive a profile-fetch Request). The Network
// Manager wires this to its own coalescing dispatch rather than this pipe
// sending anything itself, since REQ fan-out and relay selection are the
// Manager's concern, not Parse's.
type Parse struct {
	registry   *parser.Registry
	onRequests func([]*request.R)
}

// NewParse builds a Parse pipe backed by registry.
func NewParse(registry *parser.Registry) *Parse {
	return &Parse{registry: registry}
}

// OnRequests installs fn as the follow-up-request sink and returns p for
// chaining at construction time.
func (p *Parse) OnRequests(fn func([]*request.R)) *Parse {
	p.onRequests = fn
	return p
}

func (p *Parse) Process(e Event) (Output, error) {
	if e.IsParsed() {
		return Forward(e), nil
	}
	if e.Raw == nil {
		return Drop(), nil
	}
	pe, err := p.registry.Parse(e.Raw)
	if err != nil {
		log.D.F("pipeline: parse %x failed: %v", e.ID, err)
		return Drop(), nil
	}
	pe.Relays = appendRelay(pe.Relays, e.SourceRelay)
	if p.onRequests != nil && len(pe.Requests) > 0 {
		p.onRequests(pe.Requests)
	}
	return Forward(Event{Parsed: pe, ID: e.ID, SourceRelay: e.SourceRelay}), nil
}

func appendRelay(relays []string, relay string) []string {
	if relay == "" {
		return relays
	}
	for _, r := range relays {
		if r == relay {
			return relays
		}
	}
	return append(relays, relay)
}

// ProcessCachedBatch is never invoked — RunForCachedEvents is false, so
// Pipeline.ProcessCachedBatch skips this pipe entirely — but is still
// needed to satisfy the Pipe interface. Identity pass-through.
func (p *Parse) ProcessCachedBatch(batch [][]byte) ([][]byte, error) { return batch, nil }

func (p *Parse) Name() string             { return "Parse" }
func (p *Parse) CanDirectOutput() bool    { return false }
func (p *Parse) RunForCachedEvents() bool { return false }
