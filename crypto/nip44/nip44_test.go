package nip44

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

	convAB, err := ConversationKey(skA, pubB)
	require.NoError(t, err)
	convBA, err := ConversationKey(skB, pubA)
	require.NoError(t, err)
	require.Equal(t, convAB, convBA, "conversation key must be symmetric")

	msg := frand.Bytes(1024)
	ct, err := Encrypt(msg, convAB)
	require.NoError(t, err)

	pt, err := Decrypt(ct, convBA)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestCiphertextsDifferAcrossInvocations(t *testing.T) {
	_, pub := genKeypair(t)
	sk, _ := genKeypair(t)
	conv, err := ConversationKey(sk, pub)
	require.NoError(t, err)

	msg := []byte("same message, every time")
	ct1, err := Encrypt(msg, conv)
	require.NoError(t, err)
	ct2, err := Encrypt(msg, conv)
	require.NoError(t, err)
	require.NotEqual(t, ct1, ct2)
}

func TestTamperedMACRejected(t *testing.T) {
	_, pub := genKeypair(t)
	sk, _ := genKeypair(t)
	conv, err := ConversationKey(sk, pub)
	require.NoError(t, err)

	ct, err := Encrypt([]byte("hello"), conv)
	require.NoError(t, err)
	raw := []byte(ct)
	raw[len(raw)-1] ^= 0xFF
	_, err = Decrypt(string(raw), conv)
	require.Error(t, err)
}

func TestCalcPaddedLen(t *testing.T) {
	cases := map[int]int{
		1:   32,
		32:  32,
		33:  64,
		100: 128,
		250: 256,
		320: 320,
	}
	for in, want := range cases {
		require.Equal(t, want, calcPaddedLen(in), "len=%d", in)
	}
}
