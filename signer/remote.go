package signer

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"lukechampine.com/frand"

	"nostrengine.dev/crypto/nip04"
	"nostrengine.dev/crypto/nip44"
	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/hex"
	"nostrengine.dev/kind"
	"nostrengine.dev/tag"
	"nostrengine.dev/tags"
	"nostrengine.dev/timestamp"

	isigner "nostrengine.dev/interfaces/signer"
)

// Transport is the Remote signer's only dependency on the rest of the
// engine: it needs to publish kind-24133 RPC events and receive the ones
// addressed back to it (spec §4.6.a). The concrete implementation is the
// Network Manager/Connection Registry; Remote never imports them directly,
// avoiding a signer→network import cycle (the Parser depends on Signer,
// and the Network Manager depends on the Parser).
type Transport interface {
	Publish(ctx context.Context, ev *event.E, relays []string) error
	// Subscribe delivers every event from relays matching f to handler
	// until the returned cancel function is called.
	Subscribe(ctx context.Context, f *filter.F, relays []string, handler func(*event.E)) (cancel func(), err error)
}

type pendingCall struct {
	result string
	errMsg string
	done   chan struct{}
}

// Remote is a NIP-46 ("Nostr Connect") client: it holds a throwaway
// session keypair used only to encrypt/sign the RPC transport envelope
// (kind 24133), and delegates every real signing/encryption operation to
// a remote signer reached over a configured relay set (spec §4.6.a).
type Remote struct {
	transport Transport

	clientSK  []byte
	clientPub []byte

	relays   []string
	useNip44 bool

	mu             sync.Mutex
	remotePubHex   string
	expectedSecret string
	pending        map[string]*pendingCall
	onDiscovery    func(remotePubHex string)

	cancelSub func()
}

var (
	_ isigner.I      = (*Remote)(nil)
	_ TemplateSigner = (*Remote)(nil)
)

// RemoteOption configures a Remote signer at construction time.
type RemoteOption func(*Remote)

// WithRemotePubkey pins the remote signer pubkey up front (skipping
// discovery), the common case when reconnecting to a previously paired
// bunker.
func WithRemotePubkey(hexPub string) RemoteOption {
	return func(r *Remote) { r.remotePubHex = hexPub }
}

// WithExpectedSecret arms discovery: the first RPC response whose result
// equals secret causes Remote to record the sender as the remote signer
// pubkey and invoke the discovery callback (spec §4.6.a Discovery).
func WithExpectedSecret(secret string) RemoteOption {
	return func(r *Remote) { r.expectedSecret = secret }
}

// WithDiscoveryCallback registers the function invoked on discovery.
func WithDiscoveryCallback(cb func(remotePubHex string)) RemoteOption {
	return func(r *Remote) { r.onDiscovery = cb }
}

// WithNip04Fallback disables the NIP-44-preferred behavior, using NIP-04
// for the transport envelope instead.
func WithNip04Fallback() RemoteOption {
	return func(r *Remote) { r.useNip44 = false }
}

// NewRemote constructs a Remote signer. clientSK is the throwaway session
// key used only for the NIP-46 transport channel, never exposed as the
// engine's identity key.
func NewRemote(transport Transport, clientSK []byte, relays []string, opts ...RemoteOption) (*Remote, error) {
	pub, err := schnorr.PubFromSecret(clientSK)
	if err != nil {
		return nil, err
	}
	r := &Remote{
		transport: transport,
		clientSK:  append([]byte(nil), clientSK...),
		clientPub: pub,
		relays:    append([]string(nil), relays...),
		useNip44:  true,
		pending:   map[string]*pendingCall{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start subscribes to kind-24133 events tagged to this client's session
// pubkey on the configured relay set, and begins processing RPC
// responses. Cancellation is structural: calling the returned cancel (or
// ctx's own cancellation) tears down the subscription (spec §5
// Cancellation).
func (r *Remote) Start(ctx context.Context) error {
	f := filter.New()
	f.Kinds = []uint16{kind.NostrConnect.K}
	f.SetTag("p", hex.Enc(r.clientPub))
	cancel, err := r.transport.Subscribe(ctx, f, r.relays, r.handleIncoming)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cancelSub = cancel
	r.mu.Unlock()
	return nil
}

// Stop cancels the transport subscription and fails every pending RPC
// call (spec §4.6 "Cancellation: all pending futures fail on service
// shutdown").
func (r *Remote) Stop() {
	r.mu.Lock()
	if r.cancelSub != nil {
		r.cancelSub()
		r.cancelSub = nil
	}
	pending := r.pending
	r.pending = map[string]*pendingCall{}
	r.mu.Unlock()
	for _, p := range pending {
		p.errMsg = "signer service shutdown"
		close(p.done)
	}
}

func (r *Remote) handleIncoming(ev *event.E) {
	if ev.Kind == nil || ev.Kind.K != kind.NostrConnect.K {
		return
	}
	addressed := false
	for _, t := range ev.Tags.GetAll("p") {
		if t.Value() == hex.Enc(r.clientPub) {
			addressed = true
			break
		}
	}
	if !addressed {
		return
	}

	plaintext, err := r.decryptFrom(ev.Pubkey, string(ev.Content))
	if err != nil {
		return
	}

	var rpc struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err = json.Unmarshal(plaintext, &rpc); err != nil {
		return
	}

	resultStr := rawResultString(rpc.Result)

	r.mu.Lock()
	discovered := ""
	var cb func(string)
	if r.expectedSecret != "" && r.remotePubHex == "" && resultStr == r.expectedSecret {
		r.remotePubHex = ev.PubkeyString()
		discovered = r.remotePubHex
		cb = r.onDiscovery
	}
	p, ok := r.pending[rpc.ID]
	if ok {
		delete(r.pending, rpc.ID)
	}
	r.mu.Unlock()
	if cb != nil && discovered != "" {
		cb(discovered)
	}
	if !ok {
		return
	}
	p.result = resultStr
	p.errMsg = rpc.Error
	close(p.done)
}

func rawResultString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// decryptFrom decrypts a transport-envelope ciphertext from senderPub,
// preferring NIP-44 and falling back to NIP-04 (spec §4.6.a Transport).
func (r *Remote) decryptFrom(senderPub []byte, ciphertext string) ([]byte, error) {
	if r.useNip44 {
		conv, err := nip44.ConversationKey(r.clientSK, senderPub)
		if err == nil {
			if pt, derr := nip44.Decrypt(ciphertext, conv); derr == nil {
				return pt, nil
			}
		}
	}
	return nip04.Decrypt(r.clientSK, senderPub, ciphertext)
}

func (r *Remote) encryptTo(peerPub []byte, plaintext []byte) (string, error) {
	if r.useNip44 {
		conv, err := nip44.ConversationKey(r.clientSK, peerPub)
		if err == nil {
			if ct, eerr := nip44.Encrypt(plaintext, conv); eerr == nil {
				return ct, nil
			}
		}
	}
	return nip04.Encrypt(r.clientSK, peerPub, plaintext)
}

// call issues one NIP-46 RPC: encrypt {id,method,params} to the remote
// signer pubkey, sign+publish the kind-24133 envelope, and block until a
// response with matching id arrives or ctx is done (spec §4.6: "Pending
// map: id → one-shot sender").
func (r *Remote) call(ctx context.Context, method string, params []string) (string, error) {
	r.mu.Lock()
	remotePubHex := r.remotePubHex
	r.mu.Unlock()
	if remotePubHex == "" {
		return "", errorf.C(errorf.NoSigner, "nip-46 remote signer not yet discovered")
	}
	remotePub, err := hex.Dec(remotePubHex)
	if err != nil {
		return "", errorf.C(errorf.InvalidKey, "bad remote pubkey: %v", err)
	}

	id := hex.Enc(frand.Bytes(8))
	if params == nil {
		params = []string{}
	}
	reqBody, err := json.Marshal(struct {
		ID     string   `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{ID: id, Method: method, Params: params})
	if err != nil {
		return "", err
	}

	ciphertext, err := r.encryptTo(remotePub, reqBody)
	if err != nil {
		return "", err
	}

	wait := &pendingCall{done: make(chan struct{})}
	r.mu.Lock()
	r.pending[id] = wait
	r.mu.Unlock()

	ev := &event.E{
		Pubkey:    r.clientPub,
		CreatedAt: timestamp.Now(),
		Kind:      kind.NostrConnect,
		Tags:      tags.New(tag.New("p", remotePubHex)),
		Content:   []byte(ciphertext),
	}
	if err = ev.Sign(&sessionSigner{sk: r.clientSK, pub: r.clientPub}); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return "", err
	}
	if err = r.transport.Publish(ctx, ev, r.relays); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return "", err
	}

	select {
	case <-wait.done:
		if wait.errMsg != "" {
			return "", errorf.C(errorf.RemoteRpcError, "%s", wait.errMsg)
		}
		return wait.result, nil
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return "", ctx.Err()
	}
}

// sessionSigner is a minimal isigner.I adapter over the Remote's own
// session key, used only to sign the transport envelope events, never
// exposed outside this file.
type sessionSigner struct {
	sk  []byte
	pub []byte
}

func (s *sessionSigner) Pub() []byte { return s.pub }
func (s *sessionSigner) Sign(msg []byte) ([]byte, error) {
	return schnorr.Sign(s.sk, msg, nil)
}
func (s *sessionSigner) Nip04Encrypt([]byte, []byte) (string, error) {
	return "", errNoSecret
}
func (s *sessionSigner) Nip04Decrypt(string, []byte) ([]byte, error) { return nil, errNoSecret }
func (s *sessionSigner) Nip44Encrypt([]byte, []byte) (string, error) {
	return "", errNoSecret
}
func (s *sessionSigner) Nip44Decrypt(string, []byte) ([]byte, error) { return nil, errNoSecret }

const defaultRPCTimeout = 20 * time.Second

// Pub returns the discovered remote signer's public key, or nil if
// discovery hasn't completed yet. Callers needing to block until it
// resolves should use GetPublicKey.
func (r *Remote) Pub() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remotePubHex == "" {
		return nil
	}
	b, _ := hex.Dec(r.remotePubHex)
	return b
}

// GetPublicKey issues the get_public_key RPC and caches the result as the
// discovered remote pubkey if one wasn't already known.
func (r *Remote) GetPublicKey(ctx context.Context) (string, error) {
	r.mu.Lock()
	known := r.remotePubHex
	r.mu.Unlock()
	if known != "" {
		return known, nil
	}
	res, err := r.call(ctx, "get_public_key", nil)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	if r.remotePubHex == "" {
		r.remotePubHex = res
	}
	r.mu.Unlock()
	return res, nil
}

// Sign is not supported directly: a NIP-46 sign_event RPC must carry the
// whole unsigned event, not a bare digest, so SignTemplate is the real
// entry point and Sign always fails (spec §4.6.a; see TemplateSigner doc).
func (r *Remote) Sign([]byte) ([]byte, error) {
	return nil, errorf.C(errorf.NoSigner, "remote signer requires SignTemplate, not a bare digest")
}

// SignTemplate issues the sign_event RPC with tpl's JSON form and returns
// the fully signed event the remote side produces.
func (r *Remote) SignTemplate(tpl *event.Template) (*event.E, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRPCTimeout)
	defer cancel()

	remotePubHex, err := r.GetPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	remotePub, err := hex.Dec(remotePubHex)
	if err != nil {
		return nil, err
	}

	unsigned := struct {
		Pubkey    string     `json:"pubkey"`
		CreatedAt int64      `json:"created_at"`
		Kind      uint16     `json:"kind"`
		Tags      [][]string `json:"tags"`
		Content   string     `json:"content"`
	}{
		Pubkey:    remotePubHex,
		CreatedAt: tplCreatedAt(tpl),
		Kind:      tpl.Kind.K,
		Tags:      tpl.Tags.ToStringsSlice(),
		Content:   string(tpl.Content),
	}
	body, err := json.Marshal(unsigned)
	if err != nil {
		return nil, err
	}

	res, err := r.call(ctx, "sign_event", []string{string(body)})
	if err != nil {
		return nil, err
	}

	ev := event.New()
	if _, err = ev.Unmarshal(json.RawMessage(res)); err != nil {
		return nil, errorf.C(errorf.RemoteRpcError, "sign_event response: %v", err)
	}
	if hex.Enc(ev.Pubkey) != remotePubHex {
		return nil, errorf.C(errorf.RemoteRpcError, "sign_event returned event for a different pubkey")
	}
	return ev, nil
}

func tplCreatedAt(tpl *event.Template) int64 {
	if tpl.CreatedAt == nil {
		return timestamp.Now().I64()
	}
	return tpl.CreatedAt.I64()
}

// Nip04Encrypt/Nip04Decrypt/Nip44Encrypt/Nip44Decrypt proxy to the
// matching RPC ops (spec §4.6 Ops list), since the remote side, not this
// process, holds the identity secret key.
func (r *Remote) Nip04Encrypt(plaintext, peerPub []byte) (string, error) {
	return r.rpcCrypt("nip04_encrypt", peerPub, string(plaintext))
}

func (r *Remote) Nip04Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	s, err := r.rpcCrypt("nip04_decrypt", peerPub, ciphertext)
	return []byte(s), err
}

func (r *Remote) Nip44Encrypt(plaintext, peerPub []byte) (string, error) {
	return r.rpcCrypt("nip44_encrypt", peerPub, string(plaintext))
}

func (r *Remote) Nip44Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	s, err := r.rpcCrypt("nip44_decrypt", peerPub, ciphertext)
	return []byte(s), err
}

func (r *Remote) rpcCrypt(method string, peerPub []byte, payload string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultRPCTimeout)
	defer cancel()
	return r.call(ctx, method, []string{hex.Enc(peerPub), payload})
}
