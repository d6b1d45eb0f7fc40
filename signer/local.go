// Package signer implements the Signer Service (spec §4.6): the exclusive
// holder of secret material, reachable only through the small capability
// interfaces/signer.I contract plus the richer TemplateSigner capability
// this package adds for operations (NIP-46 sign_event) that need the whole
// event template rather than a bare digest. Grounded on the teacher's
// pattern of keeping signing behind a narrow interface
// (interfaces/signer.I) with concrete implementations living in their own
// package, generalized here to two implementations: Local (spec's
// "Local(private-key bytes)" session) and Remote (NIP-46, spec §4.6.a).
package signer

import (
	"nostrengine.dev/crypto/nip04"
	"nostrengine.dev/crypto/nip44"
	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/interfaces/signer"
)

// TemplateSigner is satisfied by a signer that can turn a whole
// event.Template into a signed event.E directly, rather than only signing
// a pre-computed digest. Local can do this trivially (it delegates to
// Template.Sign); Remote needs it because a NIP-46 sign_event RPC call
// must carry the full unsigned event, not just its id (spec §4.6, §9
// "Cyclic projections" sibling note on keeping capability boundaries
// narrow applies here too: Sign(msg) alone cannot express a remote
// round-trip that needs the whole template).
type TemplateSigner interface {
	SignTemplate(tpl *event.Template) (*event.E, error)
}

// Local holds raw secret key material in-process. It is the session spec
// §3 calls Local(private-key bytes).
type Local struct {
	sk  []byte
	pub []byte
}

var (
	_ signer.I       = (*Local)(nil)
	_ TemplateSigner = (*Local)(nil)
)

// NewLocal constructs a Local signer from a 32-byte secret key, rejecting
// out-of-range keys immediately (spec §7 InvalidKey).
func NewLocal(sk []byte) (*Local, error) {
	pub, err := schnorr.PubFromSecret(sk)
	if err != nil {
		return nil, err
	}
	return &Local{sk: append([]byte(nil), sk...), pub: pub}, nil
}

// Pub returns the x-only public key.
func (l *Local) Pub() []byte { return l.pub }

// Sign produces a BIP-340 signature over msg (spec §4.6: "MUST reject if
// derived x-only pubkey differs from event.pubkey" — that check lives in
// event.E.Sign, which only calls us once Pubkey has already been set to
// l.Pub()).
func (l *Local) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(l.sk, msg, nil)
}

// SignTemplate signs tpl directly, satisfying TemplateSigner.
func (l *Local) SignTemplate(tpl *event.Template) (*event.E, error) {
	return tpl.Sign(l)
}

// Nip04Encrypt/Nip04Decrypt implement the legacy scheme against peerPub.
func (l *Local) Nip04Encrypt(plaintext, peerPub []byte) (string, error) {
	return nip04.Encrypt(l.sk, peerPub, plaintext)
}

func (l *Local) Nip04Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	return nip04.Decrypt(l.sk, peerPub, ciphertext)
}

// Nip44Encrypt/Nip44Decrypt implement the NIP-44 v2 scheme against peerPub.
func (l *Local) Nip44Encrypt(plaintext, peerPub []byte) (string, error) {
	conv, err := nip44.ConversationKey(l.sk, peerPub)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, conv)
}

func (l *Local) Nip44Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	conv, err := nip44.ConversationKey(l.sk, peerPub)
	if err != nil {
		return nil, err
	}
	return nip44.Decrypt(ciphertext, conv)
}

// errNoSecret is returned by the encryption methods of Remote's internal
// session-key signer, which only signs transport envelopes.
var errNoSecret = errorf.C(errorf.NoSigner, "no signer configured")
