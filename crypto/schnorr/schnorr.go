// Package schnorr implements BIP-340 Schnorr signatures over secp256k1, the
// scheme Nostr events are signed with (spec §3, §4.6). It is built directly
// on the curve primitives exposed by decred's secp256k1 implementation
// rather than a higher-level signing package, since no pack dependency
// exposes BIP-340 x-only signatures ready-made.
package schnorr

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/minio/sha256-simd"

	"nostrengine.dev/errorf"
)

const (
	// PubKeyBytesLen is the length of an x-only public key.
	PubKeyBytesLen = 32
	// SignatureSize is the length of a BIP-340 signature.
	SignatureSize = 64
)

var (
	tagAux       = taggedInit("BIP0340/aux")
	tagNonce     = taggedInit("BIP0340/nonce")
	tagChallenge = taggedInit("BIP0340/challenge")
)

func taggedInit(tag string) []byte {
	h := sha256.Sum256([]byte(tag))
	return h[:]
}

func taggedHash(tagHash []byte, msgs ...[]byte) []byte {
	h := sha256.New()
	h.Write(tagHash)
	h.Write(tagHash)
	for _, m := range msgs {
		h.Write(m)
	}
	return h.Sum(nil)
}

// LiftX parses a 32-byte x-only coordinate into the unique point with even
// Y, as BIP-340 requires of public keys. Exported so the Signer Service's
// ECDH (NIP-04/NIP-44, spec §4.6) can share this primitive instead of
// re-deriving it.
func LiftX(xb []byte) (*secp256k1.JacobianPoint, error) {
	var x secp256k1.FieldVal
	if overflow := x.SetByteSlice(xb); overflow {
		return nil, errorf.C(errorf.InvalidKey, "x coordinate overflows field")
	}
	var y secp256k1.FieldVal
	if !secp256k1.DecompressY(&x, false, &y) {
		return nil, errorf.C(errorf.InvalidKey, "x is not a valid curve coordinate")
	}
	y.Normalize()
	if y.IsOdd() {
		y.Negate(1).Normalize()
	}
	p := new(secp256k1.JacobianPoint)
	p.X.Set(&x)
	p.Y.Set(&y)
	p.Z.SetInt(1)
	return p, nil
}

// Verify checks sig is a valid BIP-340 signature over msg (the 32-byte
// event id) by the x-only public key pubKey.
func Verify(pubKey, msg, sig []byte) (bool, error) {
	if len(pubKey) != PubKeyBytesLen {
		return false, errorf.C(errorf.InvalidKey, "bad pubkey length %d", len(pubKey))
	}
	if len(sig) != SignatureSize {
		return false, errorf.C(errorf.InvalidFormat, "bad signature length %d", len(sig))
	}
	p, err := LiftX(pubKey)
	if err != nil {
		return false, err
	}

	var r secp256k1.FieldVal
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return false, nil
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(sig[32:64]); overflow {
		return false, nil
	}

	e := challengeScalar(sig[:32], pubKey, msg)

	// R = s*G - e*P
	var sG, eP, rPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &sG)
	secp256k1.ScalarMultNonConst(&e, p, &eP)
	eP.X.Normalize()
	eP.Y.Normalize()
	eP.Z.Normalize()
	eP.Y.Negate(1).Normalize()
	secp256k1.AddNonConst(&sG, &eP, &rPoint)

	if (rPoint.X.IsZero() && rPoint.Y.IsZero() && rPoint.Z.IsZero()) || rPoint.Z.IsZero() {
		return false, nil
	}
	rPoint.ToAffine()
	if rPoint.Y.IsOdd() {
		return false, nil
	}
	rPoint.X.Normalize()
	r.Normalize()
	return rPoint.X.Equals(&r), nil
}

func challengeScalar(rBytes, pubKey, msg []byte) secp256k1.ModNScalar {
	eHash := taggedHash(tagChallenge, rBytes, pubKey, msg)
	var e secp256k1.ModNScalar
	e.SetByteSlice(eHash)
	return e
}

// Sign produces a BIP-340 signature over msg using the 32-byte secret key
// sk, following the deterministic-nonce construction from the spec (aux
// randomness is all-zero, which is valid though not side-channel hardened;
// callers needing hardened nonces should source real entropy for aux).
func Sign(sk, msg []byte, aux []byte) ([]byte, error) {
	if len(sk) != 32 {
		return nil, errorf.C(errorf.InvalidKey, "bad secret key length %d", len(sk))
	}
	if aux == nil {
		aux = make([]byte, 32)
	}
	var d0 secp256k1.ModNScalar
	if overflow := d0.SetByteSlice(sk); overflow || d0.IsZero() {
		return nil, errorf.C(errorf.InvalidKey, "secret key out of range")
	}
	var P secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&d0, &P)
	P.ToAffine()
	if P.Y.IsOdd() {
		d0.Negate()
	}
	pubKeyBytes := fieldBytes(&P.X)

	dBytes := d0.Bytes()
	t := xorBytes(dBytes[:], taggedHash(tagAux, aux))
	randHash := taggedHash(tagNonce, t, pubKeyBytes, msg)
	var k0 secp256k1.ModNScalar
	k0.SetByteSlice(randHash)
	if k0.IsZero() {
		return nil, errorf.C(errorf.CryptoError, "nonce is zero")
	}

	var R secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k0, &R)
	R.ToAffine()
	k := k0
	if R.Y.IsOdd() {
		k.Negate()
	}
	rBytes := fieldBytes(&R.X)

	e := challengeScalar(rBytes, pubKeyBytes, msg)
	e.Mul(&d0)
	e.Add(&k)
	sBytes := e.Bytes()

	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, rBytes...)
	sig = append(sig, sBytes[:]...)
	return sig, nil
}

// PubFromSecret derives the 32-byte x-only public key for secret key sk,
// the same derivation Sign performs internally (even-Y normalization).
// Exported so the Local signer (spec §4.6) can report Pub() without
// duplicating the point-multiplication logic.
func PubFromSecret(sk []byte) ([]byte, error) {
	if len(sk) != 32 {
		return nil, errorf.C(errorf.InvalidKey, "bad secret key length %d", len(sk))
	}
	var d secp256k1.ModNScalar
	if overflow := d.SetByteSlice(sk); overflow || d.IsZero() {
		return nil, errorf.C(errorf.InvalidKey, "secret key out of range")
	}
	var P secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&d, &P)
	P.ToAffine()
	return fieldBytes(&P.X), nil
}

// ECDHRawX computes the shared secret between secret key sk and x-only
// public key peerPub as the raw X coordinate of sk·PeerPub, with no
// hashing applied — the exact key material NIP-04 and NIP-44's HKDF input
// both require (spec §4.6: "key = raw X of ECDH ... no hashing").
func ECDHRawX(sk, peerPub []byte) ([]byte, error) {
	if len(sk) != 32 {
		return nil, errorf.C(errorf.InvalidKey, "bad secret key length %d", len(sk))
	}
	peer, err := LiftX(peerPub)
	if err != nil {
		return nil, err
	}
	var d secp256k1.ModNScalar
	if overflow := d.SetByteSlice(sk); overflow || d.IsZero() {
		return nil, errorf.C(errorf.InvalidKey, "secret key out of range")
	}
	var shared secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&d, peer, &shared)
	shared.ToAffine()
	return fieldBytes(&shared.X), nil
}

func fieldBytes(f *secp256k1.FieldVal) []byte {
	c := *f
	c.Normalize()
	b := c.Bytes()
	return b[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
