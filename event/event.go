// Package event provides a codec for nostr events: the wire format (with Id
// and signature), the canonical form that is hashed to generate the Id, and
// a compact binary form used by the Ring Store.
package event

import (
	"github.com/minio/sha256-simd"
	"lukechampine.com/frand"

	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/errorf"
	"nostrengine.dev/hex"
	"nostrengine.dev/interfaces/signer"
	"nostrengine.dev/kind"
	"nostrengine.dev/tag"
	"nostrengine.dev/tags"
	"nostrengine.dev/text"
	"nostrengine.dev/timestamp"
)

// VerifySchnorr checks that sig is a valid BIP-340 signature over msg by
// the x-only public key pubKey.
func VerifySchnorr(pubKey, msg, sig []byte) (bool, error) {
	return schnorr.Verify(pubKey, msg, sig)
}

// E is the primary datatype of nostr.
type E struct {
	// ID is the SHA256 hash of the canonical encoding of the event.
	ID []byte

	// Pubkey is the public key of the event creator in binary format.
	Pubkey []byte

	// CreatedAt is the UNIX timestamp of the event according to the event
	// creator (never trust a timestamp!).
	CreatedAt *timestamp.T

	// Kind is the nostr protocol code for the type of event.
	Kind *kind.T

	// Tags are a list of tags, which are usually structured as a name
	// followed by a value and optional extra fields.
	Tags *tags.T

	// Content is an arbitrary string whose shape depends on Kind and Tags.
	Content []byte

	// Sig is the signature on ID that validates as coming from Pubkey.
	Sig []byte
}

// S is an array of event.E that sorts newest-first, the order the Index's
// query planner presents results in (spec §4.3).
type S []*E

func (ev S) Len() int      { return len(ev) }
func (ev S) Swap(i, j int) { ev[i], ev[j] = ev[j], ev[i] }
func (ev S) Less(i, j int) bool {
	if ev[i].CreatedAt.I64() != ev[j].CreatedAt.I64() {
		return ev[i].CreatedAt.I64() > ev[j].CreatedAt.I64()
	}
	return ev[i].IDString() < ev[j].IDString()
}

// C is a channel that carries event.E.
type C chan *E

// New makes a new, empty event.E.
func New() (ev *E) { return &E{Tags: tags.New()} }

// Clone returns a deep copy of ev.
func (ev *E) Clone() *E {
	if ev == nil {
		return nil
	}
	c := &E{
		ID:      append([]byte(nil), ev.ID...),
		Pubkey:  append([]byte(nil), ev.Pubkey...),
		Content: append([]byte(nil), ev.Content...),
		Sig:     append([]byte(nil), ev.Sig...),
	}
	if ev.CreatedAt != nil {
		c.CreatedAt = timestamp.FromUnix(ev.CreatedAt.I64())
	}
	if ev.Kind != nil {
		c.Kind = kind.New(ev.Kind.K)
	}
	c.Tags = ev.Tags.Clone()
	return c
}

// Serialize renders an event.E into minified JSON.
func (ev *E) Serialize() (b []byte) { return ev.Marshal(nil) }

// SerializeIndented renders an event.E into nicely readable whitespaced JSON.
func (ev *E) SerializeIndented() (b []byte) {
	return ev.MarshalWithWhitespace(nil, true)
}

// IDString returns the event ID as a hex-encoded string.
func (ev *E) IDString() (s string) { return hex.Enc(ev.ID) }

// PubkeyString returns the pubkey as a hex-encoded string.
func (ev *E) PubkeyString() (s string) { return hex.Enc(ev.Pubkey) }

// SigString returns the signature as a hex-encoded string.
func (ev *E) SigString() (s string) { return hex.Enc(ev.Sig) }

// ContentString returns the content field as a string.
func (ev *E) ContentString() (s string) { return string(ev.Content) }

// IDFromString decodes an event id hex string into ev.ID.
func (ev *E) IDFromString(s string) (err error) {
	ev.ID, err = hex.Dec(s)
	return
}

// CreatedAtFromInt64 loads a unix timestamp into ev.CreatedAt.
func (ev *E) CreatedAtFromInt64(i int64) { ev.CreatedAt = timestamp.FromUnix(i) }

// KindFromInt32 loads an int32 kind number into ev.Kind.
func (ev *E) KindFromInt32(i int32) { ev.Kind = kind.New(uint16(i)) }

// PubkeyFromString decodes a hex-encoded pubkey string into ev.Pubkey.
func (ev *E) PubkeyFromString(s string) (err error) {
	if len(s) != 64 {
		return errorf.E("invalid length public key hex, got %d require 64", len(s))
	}
	ev.Pubkey, err = hex.Dec(s)
	return
}

// SigFromString decodes a hex-encoded signature string into ev.Sig.
func (ev *E) SigFromString(s string) (err error) {
	if len(s) != 128 {
		return errorf.E("invalid length signature hex, got %d require 128", len(s))
	}
	ev.Sig, err = hex.Dec(s)
	return
}

// TagsFromStrings converts a slice of string slices into ev.Tags.
func (ev *E) TagsFromStrings(s ...[]string) {
	ev.Tags = tags.NewWithCap(len(s))
	for _, t := range s {
		ev.Tags.AppendTags(tag.NewFromStrings(t))
	}
}

// ContentFromString sets ev.Content from a plain string.
func (ev *E) ContentFromString(s string) { ev.Content = []byte(s) }

// Hash returns the SHA-256 digest of in as a slice.
func Hash(in []byte) (out []byte) {
	h := sha256.Sum256(in)
	return h[:]
}

// ComputeID returns the SHA-256 hash of ev's canonical serialization (spec
// §6.1), the value that becomes ev.ID once signed.
func ComputeID(ev *E) []byte { return Hash(ev.Canonical(nil)) }

// Verify checks that ev.ID matches its canonical serialization and that
// ev.Sig is a valid Schnorr signature over ev.ID by ev.Pubkey.
func (ev *E) Verify() (ok bool, err error) {
	want := ComputeID(ev)
	if len(ev.ID) != len(want) {
		return false, errorf.C(errorf.InvalidFormat, "wrong id length")
	}
	for i := range want {
		if ev.ID[i] != want[i] {
			return false, nil
		}
	}
	return VerifySchnorr(ev.Pubkey, ev.ID, ev.Sig)
}

// Sign stamps ev.ID from its canonical serialization and asks s to produce a
// Schnorr signature over it, storing the result in ev.Sig. Before the id is
// computed, an empty Pubkey is set to s.Pub(), a nil CreatedAt to the
// current time and nil Tags to an empty list.
func (ev *E) Sign(s signer.I) (err error) {
	if len(ev.Pubkey) == 0 {
		ev.Pubkey = s.Pub()
	}
	if ev.CreatedAt == nil {
		ev.CreatedAt = timestamp.Now()
	}
	if ev.Tags == nil {
		ev.Tags = tags.New()
	}
	ev.ID = ComputeID(ev)
	if ev.Sig, err = s.Sign(ev.ID); err != nil {
		return errorf.E("sign event: %w", err)
	}
	return nil
}

// Template is the pre-signature event shape a host or parser constructs
// before asking a signer to finish it (spec §3).
type Template struct {
	Kind      *kind.T
	CreatedAt *timestamp.T
	Tags      *tags.T
	Content   []byte
}

// NewTemplate returns a Template stamped with the current time.
func NewTemplate(k *kind.T, content []byte, tt ...*tag.T) *Template {
	return &Template{
		Kind:      k,
		CreatedAt: timestamp.Now(),
		Tags:      tags.New(tt...),
		Content:   content,
	}
}

// Sign turns a Template into a fully-formed, signed E.
func (t *Template) Sign(s signer.I) (ev *E, err error) {
	ev = &E{
		Pubkey:    s.Pub(),
		CreatedAt: t.CreatedAt,
		Kind:      t.Kind,
		Tags:      t.Tags,
		Content:   t.Content,
	}
	if ev.CreatedAt == nil {
		ev.CreatedAt = timestamp.Now()
	}
	if ev.Tags == nil {
		ev.Tags = tags.New()
	}
	if err = ev.Sign(s); err != nil {
		return nil, err
	}
	return ev, nil
}

// GenerateRandomTextNoteEvent creates a signed kind-1 event with random text
// content, used by tests and local smoke checks.
func GenerateRandomTextNoteEvent(sign signer.I, maxSize int) (ev *E, err error) {
	l := frand.Intn(maxSize * 6 / 8) // account for base64 expansion
	ev = &E{
		Pubkey:    sign.Pub(),
		Kind:      kind.TextNote,
		CreatedAt: timestamp.Now(),
		Content:   text.NostrEscape(nil, frand.Bytes(l)),
		Tags:      tags.New(),
	}
	if err = ev.Sign(sign); err != nil {
		return nil, err
	}
	return
}
