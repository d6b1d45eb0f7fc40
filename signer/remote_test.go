package signer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"

	"nostrengine.dev/crypto/nip44"
	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/hex"
	"nostrengine.dev/kind"
)

// fakeTransport is an in-memory stand-in for the Connection Registry,
// routing events by their "p" tag directly to whichever side subscribed
// for that pubkey. It exists only to exercise Remote's RPC plumbing
// without a real relay.
type fakeTransport struct {
	mu   sync.Mutex
	subs map[string]func(*event.E)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: map[string]func(*event.E){}}
}

func (f *fakeTransport) Subscribe(_ context.Context, flt *filter.F, _ []string, handler func(*event.E)) (func(), error) {
	keys := flt.TagValues["p"]
	f.mu.Lock()
	for _, k := range keys {
		f.subs[k] = handler
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		for _, k := range keys {
			delete(f.subs, k)
		}
		f.mu.Unlock()
	}, nil
}

func (f *fakeTransport) Publish(_ context.Context, ev *event.E, _ []string) error {
	for _, t := range ev.Tags.GetAll("p") {
		f.mu.Lock()
		h := f.subs[t.Value()]
		f.mu.Unlock()
		if h != nil {
			go h(ev)
		}
	}
	return nil
}

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

// fakeBunker simulates the remote signer side of a NIP-46 session: it
// replies to get_public_key and sign_event requests over the same
// transport, using NIP-44 against the caller's session pubkey.
type fakeBunker struct {
	sk  []byte
	pub []byte
	t   *testing.T
}

func (b *fakeBunker) handle(transport *fakeTransport) func(*event.E) {
	return func(ev *event.E) {
		conv, err := nip44.ConversationKey(b.sk, ev.Pubkey)
		require.NoError(b.t, err)
		plaintext, err := nip44.Decrypt(string(ev.Content), conv)
		require.NoError(b.t, err)

		var req struct {
			ID     string   `json:"id"`
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		require.NoError(b.t, json.Unmarshal(plaintext, &req))

		var result string
		switch req.Method {
		case "get_public_key":
			result = hex.Enc(b.pub)
		case "sign_event":
			var tpl struct {
				Pubkey    string     `json:"pubkey"`
				CreatedAt int64      `json:"created_at"`
				Kind      uint16     `json:"kind"`
				Tags      [][]string `json:"tags"`
				Content   string     `json:"content"`
			}
			require.NoError(b.t, json.Unmarshal([]byte(req.Params[0]), &tpl))
			e := event.New()
			require.NoError(b.t, e.PubkeyFromString(tpl.Pubkey))
			e.CreatedAtFromInt64(tpl.CreatedAt)
			e.KindFromInt32(int32(tpl.Kind))
			e.TagsFromStrings(tpl.Tags...)
			e.ContentFromString(tpl.Content)
			require.NoError(b.t, e.Sign(&sessionSigner{sk: b.sk, pub: b.pub}))
			result = string(e.Serialize())
		default:
			b.t.Fatalf("unexpected method %q", req.Method)
		}

		respBody, err := json.Marshal(struct {
			ID     string `json:"id"`
			Result string `json:"result"`
		}{ID: req.ID, Result: result})
		require.NoError(b.t, err)

		convBack, err := nip44.ConversationKey(b.sk, ev.Pubkey)
		require.NoError(b.t, err)
		ciphertext, err := nip44.Encrypt(respBody, convBack)
		require.NoError(b.t, err)

		respEv := event.New()
		respEv.Pubkey = b.pub
		respEv.CreatedAtFromInt64(time.Now().Unix())
		respEv.KindFromInt32(24133)
		respEv.TagsFromStrings([]string{"p", hex.Enc(ev.Pubkey)})
		respEv.Content = []byte(ciphertext)
		require.NoError(b.t, respEv.Sign(&sessionSigner{sk: b.sk, pub: b.pub}))

		require.NoError(b.t, transport.Publish(context.Background(), respEv, nil))
	}
}

func TestRemoteGetPublicKeyRoundTrip(t *testing.T) {
	transport := newFakeTransport()
	bunkerSK, bunkerPub := genKeypair(t)
	bunker := &fakeBunker{sk: bunkerSK, pub: bunkerPub, t: t}

	_, err := transport.Subscribe(context.Background(), filterForPub(bunkerPub), nil, bunker.handle(transport))
	require.NoError(t, err)

	clientSK, _ := genKeypair(t)
	r, err := NewRemote(transport, clientSK, nil, WithRemotePubkey(hex.Enc(bunkerPub)))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	got, err := r.GetPublicKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, hex.Enc(bunkerPub), got)
}

func TestRemoteSignTemplateRoundTrip(t *testing.T) {
	transport := newFakeTransport()
	bunkerSK, bunkerPub := genKeypair(t)
	bunker := &fakeBunker{sk: bunkerSK, pub: bunkerPub, t: t}

	_, err := transport.Subscribe(context.Background(), filterForPub(bunkerPub), nil, bunker.handle(transport))
	require.NoError(t, err)

	clientSK, _ := genKeypair(t)
	r, err := NewRemote(transport, clientSK, nil, WithRemotePubkey(hex.Enc(bunkerPub)))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	tpl := event.NewTemplate(kind.TextNote, []byte("hello from nip-46"))
	ev, err := r.SignTemplate(tpl)
	require.NoError(t, err)
	require.Equal(t, bunkerPub, ev.Pubkey)

	ok, err := event.VerifySchnorr(ev.Pubkey, ev.ID, ev.Sig)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoteDiscovery(t *testing.T) {
	transport := newFakeTransport()
	bunkerSK, bunkerPub := genKeypair(t)

	clientSK, clientPub := genKeypair(t)
	r, err := NewRemote(transport, clientSK, nil, WithExpectedSecret("super-secret"))
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	conv, err := nip44.ConversationKey(bunkerSK, clientPub)
	require.NoError(t, err)
	body, err := json.Marshal(struct {
		ID     string `json:"id"`
		Result string `json:"result"`
	}{ID: "0", Result: "super-secret"})
	require.NoError(t, err)
	ciphertext, err := nip44.Encrypt(body, conv)
	require.NoError(t, err)

	ackEv := event.New()
	ackEv.Pubkey = bunkerPub
	ackEv.CreatedAtFromInt64(time.Now().Unix())
	ackEv.KindFromInt32(24133)
	ackEv.TagsFromStrings([]string{"p", hex.Enc(clientPub)})
	ackEv.Content = []byte(ciphertext)
	require.NoError(t, ackEv.Sign(&sessionSigner{sk: bunkerSK, pub: bunkerPub}))

	require.NoError(t, transport.Publish(context.Background(), ackEv, nil))

	require.Eventually(t, func() bool {
		return r.Pub() != nil
	}, time.Second, time.Millisecond)
	require.Equal(t, hex.Enc(bunkerPub), hex.Enc(r.Pub()))
}

func filterForPub(pub []byte) *filter.F {
	f := filter.New()
	f.SetTag("p", hex.Enc(pub))
	return f
}
