// Package relayconn implements the Relay Connection state machine (spec
// §4.8): one WebSocket per relay URL, owning connect/backoff/close, NIP-42
// auth, and in/out frame routing. Grounded on the teacher's
// pkg/protocol/ws/client.go connect-loop/writer-goroutine/reader-loop
// shape and pkg/protocol/ws/connection.go's read/write split, adapted from
// gobwas/ws to this module's declared github.com/coder/websocket dependency
// (no pack example drives coder/websocket directly — see DESIGN.md).
package relayconn

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"

	"nostrengine.dev/chk"
	"nostrengine.dev/codec"
	"nostrengine.dev/config"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/kind"
	"nostrengine.dev/log"
	"nostrengine.dev/signer"
	"nostrengine.dev/tag"
	"nostrengine.dev/tags"
)

// State is one node of the Relay Connection state machine (spec §4.8).
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Authed
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Authed:
		return "authed"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler receives everything a Relay Connection observes: decoded relay
// frames (tagged by the url they arrived on) and terminal failures. The
// Connection Registry implements this to fan events out to subscriptions
// and status listeners; relayconn itself stays ignorant of subscriptions,
// pipelines, or the registry's cooldown policy.
type Handler interface {
	// Deliver is called for every successfully decoded relay frame.
	Deliver(url string, msg codec.RelayMessage)
	// Failed is called once when the connection transitions into the
	// Failed state, so the registry can start its cooldown window.
	Failed(url string, err error)
}

// Conn is a single Relay Connection: one WebSocket, one URL, one state
// machine. The zero value is not usable; construct with New.
type Conn struct {
	url string
	cfg *config.C
	svc *signer.Service
	h   Handler

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	cancel   context.CancelFunc
	pending  [][]byte // frames queued while Connecting, flushed on open
	lastIO   time.Time
	attempts int

	writeMu sync.Mutex
	closeCh chan struct{}
	once    sync.Once
}

// New returns a Conn for the already-normalized url, idle in the
// Disconnected state. Call Run to drive it.
func New(url string, cfg *config.C, svc *signer.Service, h Handler) *Conn {
	return &Conn{
		url:     url,
		cfg:     cfg,
		svc:     svc,
		h:       h,
		state:   Disconnected,
		closeCh: make(chan struct{}),
	}
}

// URL returns the connection's normalized relay URL.
func (c *Conn) URL() string { return c.url }

// State returns the connection's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the connection's connect/read/backoff loop until ctx is
// cancelled or Close is called. It is meant to be run in its own
// goroutine, one per Relay Connection, matching the teacher's one
// goroutine per client convention in pkg/protocol/ws/client.go's ping and
// writer loops.
func (c *Conn) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.transitionClosed()
			return
		case <-c.closeCh:
			c.transitionClosed()
			return
		default:
		}

		err := c.connectAndServe(ctx)
		if err == nil {
			// Closed deliberately (Close was called); stop the loop.
			c.transitionClosed()
			return
		}

		c.setState(Failed)
		if c.h != nil {
			c.h.Failed(c.url, err)
		}
		log.W.F("relayconn %s: %v", c.url, err)

		if !c.backoffSleep(ctx) {
			c.transitionClosed()
			return
		}
	}
}

// backoffSleep waits the next exponential backoff interval (spec §4.8:
// multiplier 1.6, base 300ms, cap 10s, ±10% jitter) and reports whether
// the caller should retry. It gives up after BackoffMaxRetries attempts.
func (c *Conn) backoffSleep(ctx context.Context) bool {
	c.attempts++
	if c.attempts > c.cfg.BackoffMaxRetries {
		return false
	}
	d := float64(c.cfg.BackoffBase) * pow(c.cfg.BackoffMultiplier, c.attempts-1)
	if cap := float64(c.cfg.BackoffCap); d > cap {
		d = cap
	}
	jitter := 1 + (rand.Float64()*2-1)*c.cfg.BackoffJitter
	wait := time.Duration(d * jitter)

	c.setState(Connecting)
	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	case <-c.closeCh:
		return false
	}
}

func pow(base float64, n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= base
	}
	return r
}

// connectAndServe dials, then reads frames until the socket closes or
// errors. A nil return means the connection was closed deliberately via
// Close; any non-nil return is a failure the caller should back off from.
func (c *Conn) connectAndServe(parent context.Context) error {
	c.setState(Connecting)

	dialCtx, dialCancel := context.WithTimeout(parent, c.cfg.ConnectTimeout)
	defer dialCancel()

	ws, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return errorf.C(errorf.ConnectionFailed, "dial %s: %v", c.url, err)
	}
	ws.SetReadLimit(16 << 20)

	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	c.ws = ws
	c.cancel = cancel
	c.state = Connected
	c.lastIO = time.Now()
	flush := c.pending
	c.pending = nil
	c.mu.Unlock()

	defer func() {
		cancel()
		_ = ws.CloseNow()
	}()

	for _, frame := range flush {
		if err = c.writeFrame(ctx, frame); chk.W(err) {
			return err
		}
	}

	idleTimer := time.NewTimer(c.cfg.IdleTimeout)
	defer idleTimer.Stop()

	frames := make(chan []byte)
	readErrs := make(chan error, 1)
	go c.readLoop(ctx, ws, frames, readErrs)

	c.attempts = 0
	for {
		select {
		case <-c.closeCh:
			return nil
		case <-parent.Done():
			return nil
		case err = <-readErrs:
			return errorf.C(errorf.ConnectionFailed, "read %s: %v", c.url, err)
		case raw := <-frames:
			c.mu.Lock()
			c.lastIO = time.Now()
			c.mu.Unlock()
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(c.cfg.IdleTimeout)
			c.handleFrame(ctx, raw)
		case <-idleTimer.C:
			return errorf.C(errorf.ConnectionFailed, "idle timeout on %s", c.url)
		}
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, frames chan<- []byte, errs chan<- error) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			errs <- err
			return
		}
		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// handleFrame decodes one inbound frame, intercepting NIP-42 AUTH
// challenges itself (spec §4.8's Auth transition) and forwarding every
// successfully decoded frame (including the AUTH challenge) to the
// Handler for subscription/status routing.
func (c *Conn) handleFrame(ctx context.Context, raw []byte) {
	msg, err := codec.DecodeRelay(raw)
	if chk.W(err) {
		return
	}
	if ac, ok := msg.(*codec.AuthChallenge); ok && ac.Challenge != "" {
		c.respondToAuth(ctx, ac.Challenge)
	}
	if c.h != nil {
		c.h.Deliver(c.url, msg)
	}
}

// respondToAuth builds and signs a kind-22242 NIP-42 auth event and writes
// it back as an AUTH frame, transitioning to Authed on success.
func (c *Conn) respondToAuth(ctx context.Context, challenge string) {
	tt := tags.New(
		tag.New("relay", c.url),
		tag.New("challenge", challenge),
	)
	tpl := event.NewTemplate(kind.New(22242), nil, tt.Tags...)
	ev, err := c.svc.SignEvent(tpl)
	if chk.W(err) {
		return
	}
	frame, err := codec.EncodeClient(&codec.AuthResponseMsg{Event: ev})
	if chk.W(err) {
		return
	}
	if err = c.writeFrame(ctx, frame); chk.W(err) {
		return
	}
	c.setState(Authed)
}

// Send writes a pre-encoded frame. While Connecting, the frame is queued
// and flushed on open (spec §4.8: "On open, publish pending REQ/EVENT
// frames that were queued during Connecting").
func (c *Conn) Send(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	st := c.state
	ws := c.ws
	if st == Connecting || st == Disconnected {
		c.pending = append(c.pending, frame)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	if ws == nil {
		return errorf.C(errorf.ConnectionFailed, "%s: not connected", c.url)
	}
	return c.writeFrame(ctx, frame)
}

// writeFrame serializes concurrent writers onto a single frame at a time
// (spec §4.8 "Send: ... one frame at a time"), grounded on the teacher's
// writeQueue-serialized writer goroutine in pkg/protocol/ws/client.go.
func (c *Conn) writeFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return errorf.C(errorf.ConnectionFailed, "%s: not connected", c.url)
	}
	return ws.Write(ctx, websocket.MessageText, frame)
}

// Close begins a graceful shutdown: Closing, then Closed once the
// connect-and-serve loop observes closeCh.
func (c *Conn) Close() {
	c.once.Do(func() {
		c.setState(Closing)
		close(c.closeCh)
		c.mu.Lock()
		ws := c.ws
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if ws != nil {
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}
	})
}

func (c *Conn) transitionClosed() { c.setState(Closed) }
