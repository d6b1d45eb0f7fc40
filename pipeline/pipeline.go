// Package pipeline implements the Pipeline (spec §4.10): an ordered
// sequence of pipes a subscription's events flow through between the
// Network Manager and a host's per-subscription ring buffer. Grounded on
// original_source/packages/rust-worker/src/pipeline/mod.rs's
// PipelineEvent/PipeOutput/Pipe trait/Pipeline struct, adapted from Rust's
// enum-dispatch PipeType to a Go interface since this engine has no
// closed set of pipe implementations to enumerate at compile time.
package pipeline

import (
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/parsed"
)

// Event is the universal container a Pipeline moves between pipes:
// either a raw event awaiting parsing, or one already parsed (e.g. by a
// cache hit, which stores parsed.Event directly). Grounded on
// PipelineEvent{raw, parsed, id, source_relay}.
type Event struct {
	Raw         *event.E
	Parsed      *parsed.Event
	ID          []byte
	SourceRelay string
}

// FromRaw builds an Event around a freshly received raw event, optionally
// tagged with the relay it arrived from (empty for locally-originated
// events, e.g. a just-published note fed back through a proof-verification
// pipeline).
func FromRaw(ev *event.E, sourceRelay string) Event {
	return Event{Raw: ev, ID: ev.ID, SourceRelay: sourceRelay}
}

// FromParsed builds an Event around an already-parsed record, the shape
// a cache hit replays through the cached-batch fast path.
func FromParsed(pe *parsed.Event) Event {
	return Event{Parsed: pe, ID: pe.Raw.ID}
}

// IsParsed reports whether e already carries a parsed projection.
func (e Event) IsParsed() bool { return e.Parsed != nil }

// Kind returns the event's kind, preferring the parsed record's raw event
// when both are present (they always agree; Raw is cleared once Parse
// consumes it in the teacher's Rust original, but this engine keeps both
// so downstream pipes never have to guess which is populated).
func (e Event) Kind() uint16 {
	if e.Parsed != nil {
		return e.Parsed.Raw.Kind.K
	}
	if e.Raw != nil {
		return e.Raw.Kind.K
	}
	return 0
}

// PubkeyHex returns the event author's hex pubkey, or "" if neither raw
// nor parsed form is available.
func (e Event) PubkeyHex() string {
	if e.Parsed != nil {
		return e.Parsed.Raw.PubkeyString()
	}
	if e.Raw != nil {
		return e.Raw.PubkeyString()
	}
	return ""
}

// rawEvent returns whichever concrete *event.E backs e, for pipes (mute,
// kind filter, npub limiter) that only need tag/content access and don't
// care whether it arrived parsed or raw.
func (e Event) rawEvent() *event.E {
	if e.Parsed != nil {
		return e.Parsed.Raw
	}
	return e.Raw
}

// outputKind discriminates Output's three variants.
type outputKind byte

const (
	outputEvent outputKind = iota
	outputDrop
	outputDirect
)

// Output is what a pipe's Process returns: pass the event on, drop it, or
// (terminal pipes only) finalize it into bytes destined for the
// subscription's ring buffer. Grounded on PipeOutput's
// Event/Drop/DirectOutput variants.
type Output struct {
	kind   outputKind
	event  Event
	direct []byte
}

// Forward wraps e as the "continue to the next pipe" outcome.
func Forward(e Event) Output { return Output{kind: outputEvent, event: e} }

// Drop is the "stop processing this event" outcome.
func Drop() Output { return Output{kind: outputDrop} }

// Direct wraps data as the terminal "write this to the ring" outcome.
func Direct(data []byte) Output { return Output{kind: outputDirect, direct: data} }

// Pipe is one stage of a Pipeline. Grounded on the Rust Pipe trait
// (process/name/can_direct_output/run_for_cached_events); Go has no
// trait-level default-method mechanism, so CanDirectOutput and
// RunForCachedEvents are ordinary methods each concrete pipe implements
// explicitly (most return the same constant the Rust default would).
//
// ProcessCachedBatch is this engine's addition to the Rust trait's shape
// (SPEC_FULL.md's cached-batch fast path): pipes that don't need anything
// more than DefaultProcessCachedBatch's per-item mapping can implement it
// as exactly that one-line call; SerializeEvents and Counter override it
// to skip the decode/re-encode round trip DefaultProcessCachedBatch does
// for pipes that need the typed Event view.
type Pipe interface {
	Process(e Event) (Output, error)
	ProcessCachedBatch(batch [][]byte) ([][]byte, error)
	Name() string
	CanDirectOutput() bool
	RunForCachedEvents() bool
}

// DefaultProcessCachedBatch decodes each record as a parsed.Event, runs it
// through p.Process, and collects whatever each call forwards or directs.
// A record that fails to decode, or that p drops, is silently omitted.
func DefaultProcessCachedBatch(p Pipe, batch [][]byte) ([][]byte, error) {
	out := make([][]byte, 0, len(batch))
	for _, rec := range batch {
		pe := &parsed.Event{}
		if err := pe.UnmarshalBinary(rec); err != nil {
			continue
		}
		result, err := p.Process(FromParsed(pe))
		if err != nil {
			return nil, err
		}
		switch result.kind {
		case outputDirect:
			out = append(out, result.direct)
		case outputEvent:
			if result.event.Parsed != nil {
				body, err := result.event.Parsed.MarshalBinary()
				if err != nil {
					return nil, err
				}
				out = append(out, body)
			} else {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Pipeline is an ordered sequence of Pipes (spec §4.10). Only the last
// pipe may produce DirectOutput; the constructor rejects any other
// arrangement, matching Rust's Pipeline::new validation.
type Pipeline struct {
	pipes          []Pipe
	subscriptionID string
}

// New validates pipes and builds a Pipeline for subscriptionID.
func New(pipes []Pipe, subscriptionID string) (*Pipeline, error) {
	for i, p := range pipes {
		isLast := i == len(pipes)-1
		if p.CanDirectOutput() && !isLast {
			return nil, errorf.C(errorf.InvalidFormat,
				"pipe %q can produce DirectOutput but is not the last pipe in pipeline", p.Name())
		}
	}
	return &Pipeline{pipes: pipes, subscriptionID: subscriptionID}, nil
}

// SubscriptionID returns the subscription this pipeline was built for.
func (p *Pipeline) SubscriptionID() string { return p.subscriptionID }

// Process runs e through every pipe in order (spec §4.10, §5 "Pipeline
// invariants": a Drop at pipe k prevents pipes k+1.. from observing the
// event). Returns nil, nil if no pipe produced DirectOutput.
func (p *Pipeline) Process(e Event) ([]byte, error) {
	return p.run(e, false)
}

// ProcessCached runs e through only the pipes whose RunForCachedEvents is
// true (spec §4.10's cached-batch fast path; Parse and SaveToDb opt out
// since a cache hit is already parsed and already persisted).
func (p *Pipeline) ProcessCached(e Event) ([]byte, error) {
	return p.run(e, true)
}

func (p *Pipeline) run(e Event, cachedPath bool) ([]byte, error) {
	cur := e
	last := len(p.pipes) - 1
	for i, pipe := range p.pipes {
		if cachedPath && !pipe.RunForCachedEvents() {
			continue
		}
		out, err := pipe.Process(cur)
		if err != nil {
			return nil, err
		}
		switch out.kind {
		case outputEvent:
			cur = out.event
		case outputDrop:
			return nil, nil
		case outputDirect:
			if i != last {
				return nil, errorf.C(errorf.InvalidFormat,
					"non-terminal pipe %q produced DirectOutput", pipe.Name())
			}
			return out.direct, nil
		}
	}
	return nil, nil
}

// Survives runs e through every pipe and reports whether it reached the end
// without being dropped, for pipelines whose terminal pipe doesn't produce
// DirectOutput (e.g. ProofVerificationPipeline, whose last pipe only
// forwards or drops). Process can't answer this question on its own: a
// Forward out of the last pipe and a Drop both resolve to nil, nil there.
func (p *Pipeline) Survives(e Event) (bool, error) {
	cur := e
	for _, pipe := range p.pipes {
		out, err := pipe.Process(cur)
		if err != nil {
			return false, err
		}
		switch out.kind {
		case outputEvent:
			cur = out.event
		case outputDrop:
			return false, nil
		case outputDirect:
			return true, nil
		}
	}
	return true, nil
}

// ProcessCachedBatch runs a whole batch of cache-hit records (as the
// Cache Worker's QueryEventsForRequests returns them) through every pipe
// that opts into the cached-batch fast path, skipping those that don't
// (SPEC_FULL.md's Pipeline cached-batch supplement; Parse and SaveToDb
// opt out per §4.10). Unlike Process, there is no single terminal check
// here — each pipe's ProcessCachedBatch is free to shrink, transform, or
// (for the terminal pipe) replace the batch with DirectOutput-ready
// records; the caller writes whatever the last pipe returns to the ring.
func (p *Pipeline) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	cur := batch
	for _, pipe := range p.pipes {
		if !pipe.RunForCachedEvents() {
			continue
		}
		var err error
		cur, err = pipe.ProcessCachedBatch(cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
