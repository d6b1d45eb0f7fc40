package event

import (
	"encoding/json"

	"nostrengine.dev/errorf"
	"nostrengine.dev/hex"
	"nostrengine.dev/kind"
	"nostrengine.dev/tag"
	"nostrengine.dev/tags"
	"nostrengine.dev/text"
	"nostrengine.dev/timestamp"
)

// wireJ is an event.E encoded in plain JSON types, the shape exchanged with
// relays.
type wireJ struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Marshal appends an event.E to a provided destination slice as minified
// JSON.
func (ev *E) Marshal(dst []byte) (b []byte) {
	body, _ := json.Marshal(ev.toWire())
	return append(dst, body...)
}

// MarshalWithWhitespace renders ev as JSON, indented for humans if on.
func (ev *E) MarshalWithWhitespace(dst []byte, on bool) (b []byte) {
	var body []byte
	if on {
		body, _ = json.MarshalIndent(ev.toWire(), "", "\t")
	} else {
		body, _ = json.Marshal(ev.toWire())
	}
	return append(dst, body...)
}

func (ev *E) toWire() wireJ {
	return wireJ{
		ID:        ev.IDString(),
		Pubkey:    ev.PubkeyString(),
		CreatedAt: ev.CreatedAt.I64(),
		Kind:      int(ev.Kind.K),
		Tags:      ev.Tags.ToStringsSlice(),
		Content:   ev.ContentString(),
		Sig:       ev.SigString(),
	}
}

// Marshal is a free function equivalent to ev.Marshal(dst).
func Marshal(ev *E, dst []byte) (b []byte) { return ev.Marshal(dst) }

// Unmarshal parses JSON into ev, tolerant of both minified and
// whitespace-formatted input (spec §4.1 tolerant parsing).
func (ev *E) Unmarshal(b []byte) (rest []byte, err error) {
	var w wireJ
	if err = json.Unmarshal(b, &w); err != nil {
		return b, errorf.C(errorf.InvalidFormat, "malformed event json: %v", err)
	}
	if ev.ID, err = hex.Dec(w.ID); err != nil {
		return b, errorf.C(errorf.InvalidFormat, "bad id hex: %v", err)
	}
	if ev.Pubkey, err = hex.Dec(w.Pubkey); err != nil {
		return b, errorf.C(errorf.InvalidFormat, "bad pubkey hex: %v", err)
	}
	ev.CreatedAt = timestamp.FromUnix(w.CreatedAt)
	ev.Kind = kind.New(uint16(w.Kind))
	ev.Tags = tags.NewWithCap(len(w.Tags))
	for _, f := range w.Tags {
		ev.Tags.AppendTags(tag.NewFromStrings(f))
	}
	ev.Content = []byte(w.Content)
	if ev.Sig, err = hex.Dec(w.Sig); err != nil {
		return b, errorf.C(errorf.InvalidFormat, "bad sig hex: %v", err)
	}
	return nil, nil
}

// Canonical renders the NIP-01 canonical serialization used to compute the
// event id (spec §6.1):
//
//	[0, pubkey_hex, created_at, kind, tags, content]
//
// Every string field is escaped with the strict Nostr escape rules (only
// \\, \", \n, \r, \t), never encoding/json's more permissive set, so this
// must stay hand-rolled rather than delegate to json.Marshal.
func (ev *E) Canonical(dst []byte) []byte {
	dst = append(dst, '[', '0', ',', '"')
	dst = hex.EncAppend(dst, ev.Pubkey)
	dst = append(dst, '"', ',')
	dst = appendInt(dst, ev.CreatedAt.I64())
	dst = append(dst, ',')
	dst = appendInt(dst, int64(ev.Kind.K))
	dst = append(dst, ',', '[')
	for i, t := range ev.Tags.Tags {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = append(dst, '[')
		for j, field := range t.Field {
			if j > 0 {
				dst = append(dst, ',')
			}
			dst = text.AppendQuote(dst, []byte(field), text.NostrEscape)
		}
		dst = append(dst, ']')
	}
	dst = append(dst, ']', ',')
	dst = text.AppendQuote(dst, ev.Content, text.NostrEscape)
	dst = append(dst, ']')
	return dst
}

func appendInt(dst []byte, v int64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	var buf [20]byte
	i := len(buf)
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return append(dst, buf[i:]...)
}
