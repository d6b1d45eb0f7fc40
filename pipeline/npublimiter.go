package pipeline

// npubTracker holds one author's forwarding state for NpubLimiter.
type npubTracker struct {
	hasForwarded           bool
	lastForwardedTimestamp int64
	forwardedCount         int
}

// NpubLimiter bounds per-author fanout for a single kind while allowing
// catchup (spec §4.10): an event newer than the author's last forwarded
// one is always forwarded; an older one is forwarded only while the
// author's forwarded count is still under the limit. Grounded on
// npub_limiter.rs's NpubLimiterPipe/NpubTracker.
type NpubLimiter struct {
	kind         uint16
	limitPerNpub int
	trackers     map[string]*npubTracker
}

// NewNpubLimiter builds an NpubLimiter for kind, forwarding at most
// limitPerNpub events per author once catchup is exhausted. maxTotalNpubs
// mirrors the Rust constructor's parameter but, like the Rust original
// (whose eviction branch is commented out), is not currently enforced —
// the tracker map grows unboundedly under a very large author set, a
// known limitation carried over from the source this pipe is grounded on.
func NewNpubLimiter(kind uint16, limitPerNpub, maxTotalNpubs int) *NpubLimiter {
	return &NpubLimiter{
		kind:         kind,
		limitPerNpub: limitPerNpub,
		trackers:     make(map[string]*npubTracker),
	}
}

func (l *NpubLimiter) Process(e Event) (Output, error) {
	if e.Kind() != l.kind {
		return Drop(), nil
	}
	pubkey := e.PubkeyHex()
	ev := e.rawEvent()
	if ev == nil {
		return Drop(), nil
	}
	createdAt := ev.CreatedAt.I64()

	t, ok := l.trackers[pubkey]
	if !ok {
		t = &npubTracker{}
		l.trackers[pubkey] = t
	}

	if !t.hasForwarded {
		t.hasForwarded = true
		t.lastForwardedTimestamp = createdAt
		t.forwardedCount = 1
		return Forward(e), nil
	}

	// Newer than the tracked baseline: always forwarded, count only
	// saturates (never decreases, never blocks). lastForwardedTimestamp
	// deliberately does not advance here — it stays pinned at the first
	// forwarded event's timestamp, so "newer" keeps meaning "newer than
	// the original baseline" rather than a sliding window. That's the
	// behavior npub_limiter.rs implements (its newer-branch never
	// reassigns last_forwarded_timestamp), and it's what lets a live
	// stream pass unconditionally while a later backfill batch still gets
	// bounded by the older-branch catchup count below.
	if createdAt > t.lastForwardedTimestamp {
		if t.forwardedCount < l.limitPerNpub {
			t.forwardedCount++
		}
		return Forward(e), nil
	}

	if t.forwardedCount < l.limitPerNpub {
		t.forwardedCount++
		return Forward(e), nil
	}

	return Drop(), nil
}

func (l *NpubLimiter) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	return DefaultProcessCachedBatch(l, batch)
}

func (l *NpubLimiter) Name() string             { return "NpubLimiter" }
func (l *NpubLimiter) CanDirectOutput() bool    { return false }
func (l *NpubLimiter) RunForCachedEvents() bool { return true }
