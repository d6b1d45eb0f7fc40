package nip04

import (
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"nostrengine.dev/crypto/schnorr"
)

func genKeypair(t *testing.T) (sk, pub []byte) {
	t.Helper()
	for {
		sk = frand.Bytes(32)
		var err error
		if pub, err = schnorr.PubFromSecret(sk); err == nil {
			return sk, pub
		}
	}
}

func TestRoundtrip(t *testing.T) {
	skA, pubA := genKeypair(t)
	skB, pubB := genKeypair(t)

	msg := []byte("hello from A to B")
	ct, err := Encrypt(skA, pubB, msg)
	require.NoError(t, err)

	pt, err := Decrypt(skB, pubA, ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestSharedKeySymmetric(t *testing.T) {
	skA, pubA := genKeypair(t)
	skB, pubB := genKeypair(t)

	kAB, err := SharedKey(skA, pubB)
	require.NoError(t, err)
	kBA, err := SharedKey(skB, pubA)
	require.NoError(t, err)
	require.Equal(t, kAB, kBA)
}

func TestDecryptMalformedPayload(t *testing.T) {
	skA, _ := genKeypair(t)
	_, pubB := genKeypair(t)
	_, err := Decrypt(skA, pubB, "not-a-valid-payload")
	require.Error(t, err)
}
