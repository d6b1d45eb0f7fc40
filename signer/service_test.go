package signer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/cashu"
	"nostrengine.dev/event"
	"nostrengine.dev/kind"
)

func TestServiceSignEventDelegatesToLocal(t *testing.T) {
	sk, pub := genKeypair(t)
	l, err := NewLocal(sk)
	require.NoError(t, err)
	svc := NewService(l)

	got, err := svc.GetPubkey()
	require.NoError(t, err)
	require.Equal(t, pub, got)

	tpl := event.NewTemplate(kind.TextNote, []byte("via service"))
	ev, err := svc.SignEvent(tpl)
	require.NoError(t, err)
	ok, err := ev.Verify()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestServiceNoSignerConfigured(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.GetPubkey()
	require.Error(t, err)
}

func TestServiceEncryptDecryptRoundTrip(t *testing.T) {
	skA, _ := genKeypair(t)
	skB, pubB := genKeypair(t)
	la, err := NewLocal(skA)
	require.NoError(t, err)
	lb, err := NewLocal(skB)
	require.NoError(t, err)

	svcA := NewService(la)
	ct, err := svcA.Nip44Encrypt([]byte("hi b"), pubB)
	require.NoError(t, err)

	svcB := NewService(lb)
	pt, err := svcB.Nip44Decrypt(ct, la.Pub())
	require.NoError(t, err)
	require.Equal(t, "hi b", string(pt))
}

func TestServiceVerifyProofRejectsMalformedHex(t *testing.T) {
	svc := NewService(nil)
	proof := &cashu.Proof{
		Amount: 1,
		Secret: "not-hex",
		C:      "not-hex-either",
		DLEQ:   &cashu.DleqProof{E: "zz", S: "zz"},
	}
	ok, err := svc.VerifyProof(proof, "zz")
	require.Error(t, err)
	require.False(t, ok)
}

func TestServiceSetSigner(t *testing.T) {
	skA, pubA := genKeypair(t)
	skB, pubB := genKeypair(t)
	la, err := NewLocal(skA)
	require.NoError(t, err)
	lb, err := NewLocal(skB)
	require.NoError(t, err)

	svc := NewService(la)
	got, err := svc.GetPubkey()
	require.NoError(t, err)
	require.Equal(t, pubA, got)

	svc.SetSigner(lb)
	got, err = svc.GetPubkey()
	require.NoError(t, err)
	require.Equal(t, pubB, got)
}
