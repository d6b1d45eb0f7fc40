package network

import (
	"sync"

	"nostrengine.dev/log"
	"nostrengine.dev/pipeline"
	"nostrengine.dev/ring"
)

// subscription is one Manager-owned Subscribe call's live state: its
// pipeline, output ring, and per-relay EOSE bookkeeping (spec §4.11).
type subscription struct {
	id          string
	pl          *pipeline.Pipeline
	dedup       *pipeline.Dedup
	out         *ring.Buffer
	closeOnEOSE bool

	mu            sync.Mutex
	pendingRelays map[string]bool
	eosedRelays   map[string]bool
	eoced         bool
	lastRead      uint32
}

// write appends payload to the subscription's ring, logging (not failing)
// if the ring refuses it outright — a record that can never fit the ring's
// capacity is a configuration problem, not something Subscribe or Event
// should propagate as an error to the caller mid-stream.
func (s *subscription) write(payload []byte) {
	if _, _, err := s.out.Write(payload); err != nil {
		log.W.F("network: sub %s: ring write failed: %v", s.id, err)
	}
}

// allEosedLocked reports whether every relay the subscription sent a REQ to
// has signalled EOSE (or been otherwise terminated). Caller holds s.mu.
func (s *subscription) allEosedLocked() bool {
	if len(s.pendingRelays) == 0 {
		return true
	}
	for url := range s.pendingRelays {
		if !s.eosedRelays[url] {
			return false
		}
	}
	return true
}

// drain returns every ring record newer than the last drain call, in write
// order, along with advancing the read cursor.
func (s *subscription) drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	refs := s.out.LoadEvents()
	out := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		if ref.Seq <= s.lastRead {
			continue
		}
		payload, seq, err := s.out.ReadAt(ref.Offset)
		if err != nil {
			continue
		}
		out = append(out, payload)
		if seq > s.lastRead {
			s.lastRead = seq
		}
	}
	return out
}
