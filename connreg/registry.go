// Package connreg implements the Connection Registry (spec §4.9): a pool
// of relayconn.Conn keyed by normalized URL, fan-out send, publish with
// per-relay status, NIP-65-derived target relay resolution, and the
// cooldown/blacklist policy a failed relay is subject to. Grounded on the
// teacher's pkg/protocol/ws/pool.go (xsync.MapOf-keyed relay pool,
// PoolOption functional options, penalty-box cooldown ticker) generalized
// from the teacher's server-relay pool to a client-side connection
// registry, and wired as the nostrengine.dev/signer.Transport
// implementation the NIP-46 remote signer needs.
package connreg

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"nostrengine.dev/chk"
	"nostrengine.dev/codec"
	"nostrengine.dev/config"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/hex"
	"nostrengine.dev/log"
	"nostrengine.dev/relayconn"
	"nostrengine.dev/relayurl"
	"nostrengine.dev/signer"
)

// Dispatcher receives subscription-scoped frames the registry has routed
// by sub_id, for a Network Manager's pipelines to consume.
type Dispatcher interface {
	Event(url, subID string, ev *event.E)
	Eose(url, subID string)
	ClosedSub(url, subID, reason string)
	Count(url, subID string, count int)
}

// StatusListener receives connection-wide frames with no sub_id.
type StatusListener interface {
	Notice(url, message string)
	AuthChallenge(url, challenge string)
}

// RelayListSource resolves a pubkey's NIP-65 relay set for target-relay
// derivation. The two halves (write relays for an author, read relays for
// a mentioned user) are often the same underlying lookup with a different
// read/write filter, but kept as two hooks so a host can wire them
// independently.
type RelayListSource func(pubkeyHex string) []string

// Registry is the Connection Registry: one per host, owning every
// relayconn.Conn the engine has open.
type Registry struct {
	cfg       *config.C
	svc       *signer.Service
	blacklist *relayurl.Blacklist

	dispatcher Dispatcher
	status     StatusListener
	authorWriteRelays RelayListSource
	mentionReadRelays RelayListSource

	conns *xsync.MapOf[string, *connEntry]

	mu            sync.Mutex
	cooldownUntil map[string]time.Time
	okWaiters     map[string]chan *codec.OKResult
	subRelays     map[string]map[string]bool
	rawSubs       map[string]func(*event.E)

	subCounter atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type connEntry struct {
	conn   *relayconn.Conn
	cancel context.CancelFunc
}

// Option configures a Registry at construction time.
type Option interface{ ApplyRegistryOption(*Registry) }

type optionFunc func(*Registry)

func (f optionFunc) ApplyRegistryOption(r *Registry) { f(r) }

// WithDispatcher routes subscription-scoped frames to a Network Manager.
func WithDispatcher(d Dispatcher) Option {
	return optionFunc(func(r *Registry) { r.dispatcher = d })
}

// WithStatusListener routes connection-wide NOTICE/AUTH frames to a host.
func WithStatusListener(s StatusListener) Option {
	return optionFunc(func(r *Registry) { r.status = s })
}

// WithBlacklist refuses to dial any URL the blacklist denies.
func WithBlacklist(b *relayurl.Blacklist) Option {
	return optionFunc(func(r *Registry) { r.blacklist = b })
}

// WithAuthorWriteRelays supplies the NIP-65 write-relay lookup used by
// DetermineTargetRelays for an event's author.
func WithAuthorWriteRelays(f RelayListSource) Option {
	return optionFunc(func(r *Registry) { r.authorWriteRelays = f })
}

// WithMentionReadRelays supplies the NIP-65 read-relay lookup used by
// DetermineTargetRelays for mentioned (p-tagged) users.
func WithMentionReadRelays(f RelayListSource) Option {
	return optionFunc(func(r *Registry) { r.mentionReadRelays = f })
}

// New builds a Registry backed by cfg and svc (svc supplies NIP-42 auth
// signing for every Relay Connection it owns).
func New(ctx context.Context, cfg *config.C, svc *signer.Service, opts ...Option) *Registry {
	rctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:           cfg,
		svc:           svc,
		conns:         xsync.NewMapOf[string, *connEntry](),
		cooldownUntil: map[string]time.Time{},
		okWaiters:     map[string]chan *codec.OKResult{},
		subRelays:     map[string]map[string]bool{},
		rawSubs:       map[string]func(*event.E){},
		ctx:           rctx,
		cancel:        cancel,
	}
	for _, o := range opts {
		o.ApplyRegistryOption(r)
	}
	return r
}

// Shutdown cancels every owned Relay Connection and waits for their Run
// loops to exit.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// ensureConn returns the Conn for url, dialing a fresh one if none exists
// and the url is neither blacklisted nor within its cooldown window.
func (r *Registry) ensureConn(url string) (*relayconn.Conn, error) {
	n, ok := relayurl.Normalize(url)
	if !ok {
		return nil, errorf.C(errorf.InvalidFrame, "invalid relay url %q", url)
	}
	if r.blacklist.Denied(n) {
		return nil, errorf.C(errorf.Disabled, "relay %s is blacklisted", n)
	}
	if e, ok := r.conns.Load(n); ok {
		return e.conn, nil
	}

	r.mu.Lock()
	until, cooling := r.cooldownUntil[n]
	r.mu.Unlock()
	if cooling && time.Now().Before(until) {
		return nil, errorf.C(errorf.Backoff, "relay %s is cooling down until %s", n, until)
	}

	cctx, ccancel := context.WithCancel(r.ctx)
	conn := relayconn.New(n, r.cfg, r.svc, r)
	entry := &connEntry{conn: conn, cancel: ccancel}
	actual, loaded := r.conns.LoadOrStore(n, entry)
	if loaded {
		ccancel()
		return actual.conn, nil
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		conn.Run(cctx)
		r.conns.Delete(n)
	}()
	return conn, nil
}

// Deliver implements relayconn.Handler: it routes decoded relay frames to
// OK waiters, the subscription Dispatcher, raw Subscribe handlers, or the
// StatusListener, depending on frame type.
func (r *Registry) Deliver(url string, msg codec.RelayMessage) {
	switch m := msg.(type) {
	case *codec.EventResult:
		r.mu.Lock()
		handler, isRaw := r.rawSubs[m.SubID]
		r.mu.Unlock()
		if isRaw {
			handler(m.Event)
			return
		}
		if r.dispatcher != nil {
			r.dispatcher.Event(url, m.SubID, m.Event)
		}
	case *codec.OKResult:
		key := url + "|" + m.EventID
		r.mu.Lock()
		w := r.okWaiters[key]
		r.mu.Unlock()
		if w != nil {
			select {
			case w <- m:
			default:
			}
		}
	case *codec.EoseResult:
		if r.dispatcher != nil {
			r.dispatcher.Eose(url, m.SubID)
		}
	case *codec.ClosedResult:
		if r.dispatcher != nil {
			r.dispatcher.ClosedSub(url, m.SubID, m.Message)
		}
	case *codec.CountResult:
		if r.dispatcher != nil {
			r.dispatcher.Count(url, m.SubID, m.Count)
		}
	case *codec.NoticeResult:
		if r.status != nil {
			r.status.Notice(url, m.Message)
		}
	case *codec.AuthChallenge:
		if r.status != nil {
			r.status.AuthChallenge(url, m.Challenge)
		}
	}
}

// Failed implements relayconn.Handler: it starts url's cooldown window
// (spec §4.8's "the registry places the URL in a cooldown window").
func (r *Registry) Failed(url string, err error) {
	r.mu.Lock()
	r.cooldownUntil[url] = time.Now().Add(r.cfg.CooldownWindow)
	r.mu.Unlock()
	log.W.F("connreg: %s failed: %v", url, err)
}

// SendToRelays ensures a connection to each relay and sends frames to it
// in order. Duplicate frames within frames are not deduped (spec §4.9:
// "order is significant").
func (r *Registry) SendToRelays(ctx context.Context, relays []string, frames [][]byte) []error {
	errs := make([]error, 0)
	for _, url := range relays {
		conn, err := r.ensureConn(url)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, frame := range frames {
			if err = conn.Send(ctx, frame); chk.W(err) {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// PublishState is one terminal or in-flight status of a single relay's
// handling of a Publish call.
type PublishState int

const (
	PubPending PublishState = iota
	PubSent
	PubSuccess
	PubFailed
	PubRejected
	PubConnError
)

func (s PublishState) String() string {
	switch s {
	case PubPending:
		return "pending"
	case PubSent:
		return "sent"
	case PubSuccess:
		return "success"
	case PubFailed:
		return "failed"
	case PubRejected:
		return "rejected"
	case PubConnError:
		return "connection_error"
	default:
		return "unknown"
	}
}

// PublishStatus is one event in a PublishHandle's status stream.
type PublishStatus struct {
	URL     string
	State   PublishState
	Message string
}

// PublishHandle is the stream of per-relay statuses Publish returns (spec
// §4.9). It closes once every target relay has reached a final state or
// the overall publish timeout elapses.
type PublishHandle struct {
	statuses chan PublishStatus
}

// Statuses returns the channel of per-relay status updates.
func (h *PublishHandle) Statuses() <-chan PublishStatus { return h.statuses }

func (h *PublishHandle) emit(url string, st PublishState, msg string) {
	h.statuses <- PublishStatus{URL: url, State: st, Message: msg}
}

// Publish sends ev to relays and returns a handle streaming each relay's
// progress (spec §4.9).
func (r *Registry) Publish(ctx context.Context, ev *event.E, relays []string) *PublishHandle {
	h := &PublishHandle{statuses: make(chan PublishStatus, len(relays)*4+1)}
	var wg sync.WaitGroup
	for _, raw := range relays {
		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			r.publishOne(ctx, ev, raw, h)
		}(raw)
	}
	go func() {
		wg.Wait()
		close(h.statuses)
	}()
	return h
}

func (r *Registry) publishOne(ctx context.Context, ev *event.E, raw string, h *PublishHandle) {
	url, ok := relayurl.Normalize(raw)
	if !ok {
		h.emit(raw, PubConnError, "invalid relay url")
		return
	}
	h.emit(url, PubPending, "")

	conn, err := r.ensureConn(url)
	if err != nil {
		h.emit(url, PubConnError, err.Error())
		return
	}
	frame, err := codec.EncodeClient(&codec.EventMsg{Event: ev})
	if err != nil {
		h.emit(url, PubFailed, err.Error())
		return
	}

	key := url + "|" + ev.IDString()
	waiter := make(chan *codec.OKResult, 1)
	r.mu.Lock()
	r.okWaiters[key] = waiter
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.okWaiters, key)
		r.mu.Unlock()
	}()

	if err = conn.Send(ctx, frame); err != nil {
		h.emit(url, PubConnError, err.Error())
		return
	}
	h.emit(url, PubSent, "")

	tctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	select {
	case res := <-waiter:
		if res.Accepted {
			h.emit(url, PubSuccess, res.Message)
		} else {
			h.emit(url, PubRejected, res.Message)
		}
	case <-tctx.Done():
		h.emit(url, PubFailed, "publish timeout")
	}
}

// TrackSub records that subID has an open REQ on url, so CloseAll knows
// where to send CLOSE.
func (r *Registry) TrackSub(subID, url string) {
	r.mu.Lock()
	set := r.subRelays[subID]
	if set == nil {
		set = map[string]bool{}
		r.subRelays[subID] = set
	}
	set[url] = true
	r.mu.Unlock()
}

// CloseAll sends ["CLOSE", sub_id] to every relay that had a REQ for sub_id
// (spec §4.9) and forgets the tracking entry.
func (r *Registry) CloseAll(ctx context.Context, subID string) {
	r.mu.Lock()
	relays := r.subRelays[subID]
	delete(r.subRelays, subID)
	r.mu.Unlock()
	if len(relays) == 0 {
		return
	}
	frame, err := codec.EncodeClient(&codec.CloseMsg{SubID: subID})
	if chk.W(err) {
		return
	}
	for url := range relays {
		if e, ok := r.conns.Load(url); ok {
			_ = e.conn.Send(ctx, frame)
		}
	}
}

// DetermineTargetRelays resolves ev's publish target set (spec §4.9): the
// union of the author's NIP-65 write relays and mentioned p-tagged users'
// read relays, skipped for kind 3 and kinds >= 10000, falling back to the
// configured default relays if that union is empty.
func (r *Registry) DetermineTargetRelays(ev *event.E) []string {
	set := map[string]bool{}
	k := ev.Kind.K
	if k != 3 && k < 10000 {
		if r.authorWriteRelays != nil {
			for _, u := range r.authorWriteRelays(hex.Enc(ev.Pubkey)) {
				if n, ok := relayurl.Normalize(u); ok {
					set[n] = true
				}
			}
		}
		if r.mentionReadRelays != nil {
			for _, t := range ev.Tags.GetAll("p") {
				if t.Len() < 2 {
					continue
				}
				for _, u := range r.mentionReadRelays(t.At(1)) {
					if n, ok := relayurl.Normalize(u); ok {
						set[n] = true
					}
				}
			}
		}
	}
	if len(set) == 0 {
		for _, u := range r.cfg.DefaultRelays {
			if n, ok := relayurl.Normalize(u); ok {
				set[n] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

// Subscribe implements signer.Transport: a lightweight REQ that bypasses
// the Network Manager's pipelines entirely, delivering raw events straight
// to handler. This is how the NIP-46 remote signer listens for kind-24133
// response events without needing a Cache Worker or Pipeline in front of
// it.
func (r *Registry) Subscribe(ctx context.Context, f *filter.F, relays []string, handler func(*event.E)) (func(), error) {
	subID := fmt.Sprintf("sig-%d", r.subCounter.Add(1))
	r.mu.Lock()
	r.rawSubs[subID] = handler
	r.mu.Unlock()

	frame, err := codec.EncodeClient(&codec.ReqMsg{SubID: subID, Filters: []*filter.F{f}})
	if err != nil {
		r.mu.Lock()
		delete(r.rawSubs, subID)
		r.mu.Unlock()
		return nil, err
	}
	for _, raw := range relays {
		url, ok := relayurl.Normalize(raw)
		if !ok {
			continue
		}
		conn, cerr := r.ensureConn(url)
		if cerr != nil {
			continue
		}
		if cerr = conn.Send(ctx, frame); cerr == nil {
			r.TrackSub(subID, url)
		}
	}

	cancel := func() {
		r.mu.Lock()
		delete(r.rawSubs, subID)
		r.mu.Unlock()
		r.CloseAll(context.Background(), subID)
	}
	return cancel, nil
}

// PublishTransport implements signer.Transport.Publish: it drives a full
// Publish and reports success if at least one relay accepted the event.
func (r *Registry) PublishTransport(ctx context.Context, ev *event.E, relays []string) error {
	h := r.Publish(ctx, ev, relays)
	var lastErr error
	accepted := false
	for st := range h.Statuses() {
		switch st.State {
		case PubSuccess:
			accepted = true
		case PubFailed, PubConnError, PubRejected:
			lastErr = errorf.C(errorf.Rejected, "%s: %s", st.URL, st.Message)
		}
	}
	if accepted {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return errorf.C(errorf.NoTargetRelays, "publish: no relays given")
}

// Transport adapts Registry to signer.Transport's narrower
// (ctx, ev, relays) error / (ctx, f, relays, handler) (cancel, error)
// shape, so the NIP-46 remote signer can ride the same connection pool
// and subscriptions the rest of the engine uses instead of opening its
// own sockets.
type Transport struct{ Reg *Registry }

func (t Transport) Publish(ctx context.Context, ev *event.E, relays []string) error {
	return t.Reg.PublishTransport(ctx, ev, relays)
}

func (t Transport) Subscribe(ctx context.Context, f *filter.F, relays []string, handler func(*event.E)) (func(), error) {
	return t.Reg.Subscribe(ctx, f, relays, handler)
}

var _ signer.Transport = Transport{}
