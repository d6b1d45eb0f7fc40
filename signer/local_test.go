package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"nostrengine.dev/event"
	"nostrengine.dev/kind"
)

func TestLocalSignTemplate(t *testing.T) {
	sk, pub := genKeypair(t)
	l, err := NewLocal(sk)
	require.NoError(t, err)
	require.Equal(t, pub, l.Pub())

	tpl := event.NewTemplate(kind.TextNote, []byte("hi"))
	ev, err := l.SignTemplate(tpl)
	require.NoError(t, err)
	ok, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalNip04RoundTrip(t *testing.T) {
	skA, _ := genKeypair(t)
	skB, pubB := genKeypair(t)
	la, err := NewLocal(skA)
	require.NoError(t, err)

	ct, err := la.Nip04Encrypt([]byte("secret message"), pubB)
	require.NoError(t, err)

	lb, err := NewLocal(skB)
	require.NoError(t, err)
	pt, err := lb.Nip04Decrypt(ct, la.Pub())
	require.NoError(t, err)
	require.Equal(t, "secret message", string(pt))
}

func TestLocalNip44RoundTrip(t *testing.T) {
	skA, _ := genKeypair(t)
	skB, pubB := genKeypair(t)
	la, err := NewLocal(skA)
	require.NoError(t, err)

	ct, err := la.Nip44Encrypt([]byte("secret message"), pubB)
	require.NoError(t, err)

	lb, err := NewLocal(skB)
	require.NoError(t, err)
	pt, err := lb.Nip44Decrypt(ct, la.Pub())
	require.NoError(t, err)
	require.Equal(t, "secret message", string(pt))
}

func TestNewLocalRejectsBadSecretLength(t *testing.T) {
	_, err := NewLocal(frand.Bytes(31))
	require.Error(t, err)
}
