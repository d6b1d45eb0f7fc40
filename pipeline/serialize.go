package pipeline

import (
	"nostrengine.dev/errorf"
	"nostrengine.dev/log"
	"nostrengine.dev/wireenv"
)

// SerializeEvents is the terminal pipe that encodes a parsed event as a
// FlatBuffers WorkerMessage and emits it as DirectOutput for the
// subscription's ring buffer. Grounded on serialize_events.rs's
// SerializeEventsPipe, including its 512 KiB size guard (spec §4.10:
// "Refuses payloads larger than 512 KiB (Drop)").
type SerializeEvents struct {
	subscriptionID string
	maxBytes       int
}

// NewSerializeEvents builds a SerializeEvents pipe for subscriptionID,
// refusing any encoded payload larger than maxBytes.
func NewSerializeEvents(subscriptionID string, maxBytes int) *SerializeEvents {
	return &SerializeEvents{subscriptionID: subscriptionID, maxBytes: maxBytes}
}

func (s *SerializeEvents) Process(e Event) (Output, error) {
	if e.Parsed == nil {
		return Drop(), nil
	}
	body, err := e.Parsed.MarshalBinary()
	if err != nil {
		return nil, errorf.C(errorf.InvalidFormat, "serialize parsed event: %v", err)
	}

	msgType := wireenv.MsgParsedEvent
	env := &wireenv.Envelope{SubID: s.subscriptionID, Type: msgType, Content: body}
	if e.SourceRelay != "" {
		env.URL = e.SourceRelay
	}
	encoded := wireenv.Encode(env)

	if len(encoded) > s.maxBytes {
		log.W.F("pipeline: serialized event %d bytes exceeds %d byte limit for sub %s",
			len(encoded), s.maxBytes, s.subscriptionID)
		return Drop(), nil
	}
	return Direct(encoded), nil
}

// ProcessCachedBatch skips the decode/re-encode round trip
// DefaultProcessCachedBatch would do: a cache-hit record's bytes are
// already a parsed.Event's MarshalBinary output, so this pipe wraps them
// straight into a WorkerMessage envelope without ever reconstructing the
// typed Event (SPEC_FULL.md's "batch efficiency" override).
func (s *SerializeEvents) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	out := make([][]byte, 0, len(batch))
	for _, body := range batch {
		encoded := wireenv.Encode(&wireenv.Envelope{SubID: s.subscriptionID, Type: wireenv.MsgParsedEvent, Content: body})
		if len(encoded) > s.maxBytes {
			log.W.F("pipeline: cached batch record %d bytes exceeds %d byte limit for sub %s",
				len(encoded), s.maxBytes, s.subscriptionID)
			continue
		}
		out = append(out, encoded)
	}
	return out, nil
}

func (s *SerializeEvents) Name() string             { return "SerializeEvents" }
func (s *SerializeEvents) CanDirectOutput() bool    { return true }
func (s *SerializeEvents) RunForCachedEvents() bool { return true }
