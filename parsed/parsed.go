// Package parsed holds the ParsedEvent record (spec §3): the unit the
// Cache Worker stores and the Parser Registry (spec §4.5) produces. The
// per-kind projection is carried as opaque JSON so this package has no
// dependency on the concrete kind parsers, which are free to evolve
// independently of the storage format.
package parsed

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/request"
)

// Event is a parsed projection of a raw event plus bookkeeping the Cache
// Worker and Network Manager need: which relays it was observed on, and
// any follow-up Requests the parser derived from it (e.g. "fetch this
// repost's target event").
type Event struct {
	Raw *event.E
	// Kind names which per-kind parser produced Projection, so a consumer
	// can decode it without re-inspecting Raw.Kind.
	Kind       string
	Projection json.RawMessage
	Requests   []*request.R
	Relays     []string
}

// New wraps ev with its projection, ready for storage.
func New(ev *event.E, kindLabel string, projection json.RawMessage) *Event {
	return &Event{Raw: ev, Kind: kindLabel, Projection: projection}
}

// MarshalBinary renders a parsed.Event into the Ring Store's record
// format: the raw event's binary encoding, followed by length-prefixed
// kind label, projection, and relay list. Requests are never persisted —
// they are transient follow-up work the Pipeline re-derives on replay.
func (p *Event) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Raw.MarshalBinary(&buf); err != nil {
		return nil, err
	}
	writeField(&buf, []byte(p.Kind))
	writeField(&buf, p.Projection)
	writeU32(&buf, uint32(len(p.Relays)))
	for _, r := range p.Relays {
		writeField(&buf, []byte(r))
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary reverses MarshalBinary.
func (p *Event) UnmarshalBinary(b []byte) error {
	r := bytes.NewReader(b)
	ev := event.New()
	if err := ev.UnmarshalBinary(r); err != nil {
		return err
	}
	p.Raw = ev

	kindLabel, err := readField(r)
	if err != nil {
		return err
	}
	p.Kind = string(kindLabel)

	proj, err := readField(r)
	if err != nil {
		return err
	}
	p.Projection = proj

	n, err := readU32(r)
	if err != nil {
		return err
	}
	p.Relays = make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		relay, err := readField(r)
		if err != nil {
			return err
		}
		p.Relays = append(p.Relays, string(relay))
	}
	return nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeField(buf *bytes.Buffer, v []byte) {
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, errorf.C(errorf.CorruptRecord, "parsed event: truncated u32: %v", err)
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if _, err = io.ReadFull(r, out); err != nil {
		return nil, errorf.C(errorf.CorruptRecord, "parsed event: truncated field: %v", err)
	}
	return out, nil
}
