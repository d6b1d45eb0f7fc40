package cashu

import (
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/minio/sha256-simd"

	"nostrengine.dev/errorf"
)

// hashToCurveDomainSeparator is the NUT-00 domain tag mixed into the
// hash-to-curve preimage, distinguishing Cashu's curve points from any
// other protocol's use of secp256k1.
const hashToCurveDomainSeparator = "Secp256k1_HashToCurve_Cashu_"

// hashToCurve recovers the unique point Y = hash_to_curve(secret) (NUT-00,
// spec §4.7 step 1): iterate a little-endian counter until prefixing the
// candidate hash with 0x02 yields a valid compressed secp256k1 point.
func hashToCurve(secret []byte) (*secp256k1.JacobianPoint, error) {
	base := sha256.Sum256(append([]byte(hashToCurveDomainSeparator), secret...))
	for counter := uint32(0); counter < 1<<24; counter++ {
		var ctr [4]byte
		ctr[0] = byte(counter)
		ctr[1] = byte(counter >> 8)
		ctr[2] = byte(counter >> 16)
		ctr[3] = byte(counter >> 24)
		candidate := sha256.Sum256(append(append([]byte{}, base[:]...), ctr[:]...))

		compressed := append([]byte{0x02}, candidate[:]...)
		pub, err := secp256k1.ParsePubKey(compressed)
		if err != nil {
			continue
		}
		p := new(secp256k1.JacobianPoint)
		pub.AsJacobian(p)
		return p, nil
	}
	return nil, errorf.C(errorf.MalformedProof, "hash_to_curve: no valid point found")
}

func parsePoint(hexStr string) (*secp256k1.JacobianPoint, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, errorf.C(errorf.MalformedProof, "invalid point hex: %v", err)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, errorf.C(errorf.MalformedProof, "invalid curve point: %v", err)
	}
	p := new(secp256k1.JacobianPoint)
	pub.AsJacobian(p)
	return p, nil
}

func parseScalar(hexStr string) (*secp256k1.ModNScalar, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, errorf.C(errorf.MalformedProof, "invalid scalar hex: %v", err)
	}
	var s secp256k1.ModNScalar
	if overflow := s.SetByteSlice(b); overflow {
		return nil, errorf.C(errorf.MalformedProof, "scalar overflows group order")
	}
	return &s, nil
}

// uncompressedHex renders a point's uncompressed SEC1 encoding (0x04 ‖ X
// ‖ Y) as a hex string, the `hex_uncompressed` operation spec §4.7 step 5
// feeds into the challenge hash.
func uncompressedHex(p *secp256k1.JacobianPoint) string {
	q := *p
	q.ToAffine()
	q.X.Normalize()
	q.Y.Normalize()
	xb := q.X.Bytes()
	yb := q.Y.Bytes()
	out := make([]byte, 0, 65)
	out = append(out, 0x04)
	out = append(out, xb[:]...)
	out = append(out, yb[:]...)
	return hex.EncodeToString(out)
}

// VerifyDLEQ checks a proof's DLEQ data against mint public key A (for the
// proof's keyset/amount), following NUT-12 (spec §4.7):
//
//  1. Y = hash_to_curve(secret)
//  2. parse r (if present, else the zero scalar), e, s, and C
//  3. reblind: B' = Y + r·G, C' = C + r·A
//  4. R1 = s·G − e·A, R2 = s·B' − e·C'
//  5. e' = SHA256(hex_uncompressed(R1) ‖ hex_uncompressed(R2) ‖
//     hex_uncompressed(A) ‖ hex_uncompressed(C')), reduced mod n
//  6. accept iff e' == e
//
// Malformed hex in any field is reported as an error (spec: "malformed
// hex -> invalid proof, dropped"); the caller should treat that the same
// as a failed verification.
func VerifyDLEQ(proof *Proof, mintPubKeyHex string) (bool, error) {
	if proof == nil || proof.DLEQ == nil {
		return false, errorf.C(errorf.MalformedProof, "proof has no dleq data")
	}

	A, err := parsePoint(mintPubKeyHex)
	if err != nil {
		return false, err
	}
	C, err := parsePoint(proof.C)
	if err != nil {
		return false, err
	}
	e, err := parseScalar(proof.DLEQ.E)
	if err != nil {
		return false, err
	}
	s, err := parseScalar(proof.DLEQ.S)
	if err != nil {
		return false, err
	}
	var r secp256k1.ModNScalar
	if proof.DLEQ.R != "" {
		rp, err := parseScalar(proof.DLEQ.R)
		if err != nil {
			return false, err
		}
		r = *rp
	}

	Y, err := hashToCurve([]byte(proof.Secret))
	if err != nil {
		return false, err
	}

	// B' = Y + r*G
	var rG, bPrime secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&r, &rG)
	secp256k1.AddNonConst(Y, &rG, &bPrime)

	// C' = C + r*A
	var rA, cPrime secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&r, A, &rA)
	secp256k1.AddNonConst(C, &rA, &cPrime)

	// R1 = s*G - e*A
	var sG, eA, r1 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(s, &sG)
	secp256k1.ScalarMultNonConst(e, A, &eA)
	negate(&eA)
	secp256k1.AddNonConst(&sG, &eA, &r1)

	// R2 = s*B' - e*C'
	var sB, eC, r2 secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(s, &bPrime, &sB)
	secp256k1.ScalarMultNonConst(e, &cPrime, &eC)
	negate(&eC)
	secp256k1.AddNonConst(&sB, &eC, &r2)

	preimage := uncompressedHex(&r1) + uncompressedHex(&r2) + uncompressedHex(A) + uncompressedHex(&cPrime)
	digest := sha256.Sum256([]byte(preimage))
	var ePrime secp256k1.ModNScalar
	ePrime.SetByteSlice(digest[:])

	return ePrime.Equals(e), nil
}

func negate(p *secp256k1.JacobianPoint) {
	p.ToAffine()
	p.Y.Negate(1).Normalize()
	p.Z.SetInt(1)
}
