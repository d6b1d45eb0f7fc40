package cashu

import (
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/minio/sha256-simd"
	"github.com/stretchr/testify/require"
)

// buildValidProof mints a self-consistent NUT-12 DLEQ proof for secret,
// signed by mint private key a, with blinding factor r (may be the zero
// scalar), following the mint-side construction:
//
//	Y = hash_to_curve(secret); B' = Y + r*G; C' = a*B'; C = C' - r*A
//	p random nonce; R1 = p*G; R2 = p*B'
//	e = challenge(R1, R2, A, C')
//	s = p + e*a
func buildValidProof(t *testing.T, secret string, a, r *secp256k1.ModNScalar) *Proof {
	t.Helper()

	var A secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(a, &A)

	Y, err := hashToCurve([]byte(secret))
	require.NoError(t, err)

	var rG, bPrime secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(r, &rG)
	secp256k1.AddNonConst(Y, &rG, &bPrime)

	var cPrime secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(a, &bPrime, &cPrime)

	var rA, negRA, C secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(r, &A, &rA)
	negRA = rA
	negate(&negRA)
	secp256k1.AddNonConst(&cPrime, &negRA, &C)

	// deterministic "random" nonce for test reproducibility
	var p secp256k1.ModNScalar
	nonceSeed := sha256.Sum256([]byte("test-nonce:" + secret))
	p.SetByteSlice(nonceSeed[:])

	var R1, R2 secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&p, &R1)
	secp256k1.ScalarMultNonConst(&p, &bPrime, &R2)

	preimage := uncompressedHex(&R1) + uncompressedHex(&R2) + uncompressedHex(&A) + uncompressedHex(&cPrime)
	digest := sha256.Sum256([]byte(preimage))
	var e secp256k1.ModNScalar
	e.SetByteSlice(digest[:])

	var ea, s secp256k1.ModNScalar
	ea.Mul2(&e, a)
	s.Add2(&p, &ea)

	return &Proof{
		Secret: secret,
		C:      compressedHex(&C),
		DLEQ: &DleqProof{
			E: hex.EncodeToString(scalarBytes(&e)),
			S: hex.EncodeToString(scalarBytes(&s)),
			R: scalarHexOrEmpty(r),
		},
	}
}

func scalarBytes(s *secp256k1.ModNScalar) []byte {
	b := s.Bytes()
	return b[:]
}

func scalarHexOrEmpty(s *secp256k1.ModNScalar) string {
	if s.IsZero() {
		return ""
	}
	return hex.EncodeToString(scalarBytes(s))
}

func compressedHex(p *secp256k1.JacobianPoint) string {
	q := *p
	q.ToAffine()
	pub := secp256k1.NewPublicKey(&q.X, &q.Y)
	return hex.EncodeToString(pub.SerializeCompressed())
}

func mintKeyHex(a *secp256k1.ModNScalar) string {
	var A secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(a, &A)
	return compressedHex(&A)
}

func TestVerifyDLEQAcceptsValidProofWithoutBlinding(t *testing.T) {
	var a secp256k1.ModNScalar
	seed := sha256.Sum256([]byte("mint-key"))
	a.SetByteSlice(seed[:])

	var zero secp256k1.ModNScalar
	proof := buildValidProof(t, "test-secret-1", &a, &zero)

	ok, err := VerifyDLEQ(proof, mintKeyHex(&a))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDLEQAcceptsValidProofWithBlinding(t *testing.T) {
	var a secp256k1.ModNScalar
	seed := sha256.Sum256([]byte("mint-key-2"))
	a.SetByteSlice(seed[:])

	var r secp256k1.ModNScalar
	rSeed := sha256.Sum256([]byte("blinding-factor"))
	r.SetByteSlice(rSeed[:])

	proof := buildValidProof(t, "test-secret-2", &a, &r)

	ok, err := VerifyDLEQ(proof, mintKeyHex(&a))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyDLEQRejectsTamperedChallenge(t *testing.T) {
	var a secp256k1.ModNScalar
	seed := sha256.Sum256([]byte("mint-key-3"))
	a.SetByteSlice(seed[:])

	var zero secp256k1.ModNScalar
	proof := buildValidProof(t, "test-secret-3", &a, &zero)
	proof.DLEQ.E = hex.EncodeToString(sha256Sum([]byte("not-the-real-challenge")))

	ok, err := VerifyDLEQ(proof, mintKeyHex(&a))
	require.NoError(t, err)
	require.False(t, ok)
}

func sha256Sum(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}

func TestVerifyDLEQRejectsMalformedHex(t *testing.T) {
	proof := &Proof{
		Secret: "s",
		C:      "not-hex",
		DLEQ:   &DleqProof{E: "ee", S: "ss"},
	}
	_, err := VerifyDLEQ(proof, "02"+"00")
	require.Error(t, err)
}

func TestHashToCurveIsDeterministic(t *testing.T) {
	p1, err := hashToCurve([]byte("same-secret"))
	require.NoError(t, err)
	p2, err := hashToCurve([]byte("same-secret"))
	require.NoError(t, err)
	require.Equal(t, uncompressedHex(p1), uncompressedHex(p2))
}
