// Package cache implements the Cache Worker (spec §4.4): the actor that
// owns the Ring Store and Index together and is the only thing allowed to
// mutate either. Everything else reaches stored events through this
// package's methods.
package cache

import (
	"encoding/json"
	"sync"

	"nostrengine.dev/cashu"
	"nostrengine.dev/config"
	"nostrengine.dev/errorf"
	"nostrengine.dev/filter"
	"nostrengine.dev/index"
	"nostrengine.dev/parsed"
	"nostrengine.dev/request"
	"nostrengine.dev/ring"
)

// Worker holds the Ring Store and Index behind a single mutex: the cache
// is single-writer, and readers from within the same worker are
// serialized behind the same lock (spec §4.4 Concurrency).
type Worker struct {
	mu    sync.Mutex
	store *ring.Store
	idx   *index.Index
}

// New builds a Worker with a fresh Ring Store sized from cfg and an empty
// Index.
func New(cfg *config.C) *Worker {
	return &Worker{store: ring.NewStore(cfg), idx: index.New()}
}

// Rebuild replays every live ring record into a fresh Index, used after a
// snapshot restore (spec §4.4, §4.2 persist_if_due collaborator).
func (w *Worker) Rebuild() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.idx = index.New()
	for _, offset := range w.store.LoadOffsets() {
		data, err := w.store.GetEvent(offset)
		if err != nil {
			continue
		}
		pe := &parsed.Event{}
		if err = pe.UnmarshalBinary(data); err != nil {
			continue
		}
		w.indexLocked(pe, offset)
	}
	return nil
}

// AddEvent serializes pe's raw event and projection into the ring and
// updates the indexes (spec §4.4). A duplicate id is a no-op. Replaceable
// kinds supersede any older event sharing the same (author, kind[, d-tag])
// key; between two events with the same created_at, the one with the
// lexicographically greater id is kept.
func (w *Worker) AddEvent(pe *parsed.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := pe.Raw.IDString()
	if _, exists := w.idx.Offset(id); exists {
		return nil
	}

	dTag := pe.Raw.Tags.GetAll("d")
	dValue := ""
	if len(dTag) > 0 {
		dValue = dTag[0].Value()
	}
	replaceKey := index.ReplaceKeyFor(pe.Raw.Kind.K, pe.Raw.PubkeyString(), dValue)
	if replaceKey != "" {
		if oldID, ok := w.idx.Superseded(replaceKey); ok {
			oldOffset, _ := w.idx.Offset(oldID)
			oldData, err := w.store.GetEvent(oldOffset)
			if err == nil {
				old := &parsed.Event{}
				if err = old.UnmarshalBinary(oldData); err == nil {
					oldAt, newAt := old.Raw.CreatedAt.I64(), pe.Raw.CreatedAt.I64()
					if oldAt > newAt || (oldAt == newAt && old.Raw.IDString() >= id) {
						// the stored event is newer, or equally new with the
						// greater id; ignore this write.
						return nil
					}
				}
			}
			w.idx.Remove(oldID)
		}
	}

	data, err := pe.MarshalBinary()
	if err != nil {
		return err
	}
	offset, err := w.store.AddEventForKind(pe.Raw.Kind.K, data)
	if err != nil {
		return err
	}
	w.indexLocked(pe, offset)
	return nil
}

func (w *Worker) indexLocked(pe *parsed.Event, offset uint64) {
	id := pe.Raw.IDString()
	dTag := pe.Raw.Tags.GetAll("d")
	dValue := ""
	if len(dTag) > 0 {
		dValue = dTag[0].Value()
	}
	replaceKey := index.ReplaceKeyFor(pe.Raw.Kind.K, pe.Raw.PubkeyString(), dValue)
	w.idx.Add(id, pe.Raw, offset, replaceKey)
}

// ShardIDs returns every shard the Worker's Ring Store is configured with,
// for the persistence collaborator to know what to look for on restore
// before any snapshot has necessarily been taken yet.
func (w *Worker) ShardIDs() []ring.ShardID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.ShardIDs()
}

// Snapshot returns every shard's currently-live record payloads, keyed by
// shard id, for the persistence collaborator to serialize (spec §4.2
// persist_if_due). Takes the same lock AddEvent does, so a snapshot never
// observes a write half-applied.
func (w *Worker) Snapshot() (map[ring.ShardID][][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[ring.ShardID][][]byte)
	for _, id := range w.store.ShardIDs() {
		records, err := w.store.SnapshotShard(id)
		if err != nil {
			return nil, err
		}
		out[id] = records
	}
	return out, nil
}

// Restore replays a previously captured Snapshot back into the Worker's
// Ring Store shard by shard, then rebuilds the Index from the result.
// Intended for startup only, before any AddEvent call — it does not merge
// with whatever the Store already holds.
func (w *Worker) Restore(snapshot map[ring.ShardID][][]byte) error {
	w.mu.Lock()
	for id, records := range snapshot {
		if err := w.store.RestoreShard(id, records); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	return w.Rebuild()
}

// QueryEvents runs the planner for f and returns the matching records as
// their stored serialized bytes, ready for direct forwarding (spec §4.4).
// Records whose offset has been evicted or corrupted are dropped silently
// and pruned from the index.
func (w *Worker) QueryEvents(f *filter.F) ([][]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queryLocked(f)
}

func (w *Worker) queryLocked(f *filter.F) ([][]byte, error) {
	ids := w.idx.Plan(f)
	out := make([][]byte, 0, len(ids))
	for _, id := range ids {
		offset, ok := w.idx.Offset(id)
		if !ok {
			continue
		}
		data, err := w.store.GetEvent(offset)
		if err != nil {
			if errorf.Is(err, errorf.CorruptRecord) {
				w.idx.Remove(id)
				continue
			}
			return nil, err
		}
		pe := &parsed.Event{}
		if err = pe.UnmarshalBinary(data); err != nil {
			w.idx.Remove(id)
			continue
		}
		if !f.Matches(pe.Raw) {
			// ids-path and replayed-from-ring matches still need the
			// constraints the index can't encode (since/until/search).
			continue
		}
		out = append(out, data)
	}
	if f.Limit != nil && len(out) > *f.Limit {
		out = out[:*f.Limit]
	}
	return out, nil
}

// Batch pairs a Request with the cached records that answered it, for
// QueryEventsForRequests's cached_batches return value.
type Batch struct {
	Request *request.R
	Records [][]byte
}

// QueryEventsForRequests runs the planner for every request's filter
// (spec §4.4). A cache_first request that yields any result is dropped
// from the returned remaining slice instead of being forwarded to relays.
// When skipFiltered is true, any request (cache_first or not) that the
// cache already answered is also dropped from remaining, on the premise
// that the host doesn't need a duplicate relay round trip for data it
// just received from cache.
func (w *Worker) QueryEventsForRequests(
	reqs []*request.R, skipFiltered bool,
) (remaining []*request.R, cachedBatches []Batch, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, req := range reqs {
		if req.NoCache {
			remaining = append(remaining, req)
			continue
		}
		records, qerr := w.queryLocked(req.Filter)
		if qerr != nil {
			return nil, nil, qerr
		}
		if len(records) > 0 {
			cachedBatches = append(cachedBatches, Batch{Request: req, Records: records})
		}
		forward := true
		if req.CacheFirst && len(records) > 0 {
			forward = false
		} else if skipFiltered && len(records) > 0 {
			forward = false
		}
		if forward {
			remaining = append(remaining, req)
		}
	}
	return remaining, cachedBatches, nil
}

// Dropped returns the total number of ring records evicted across every
// shard, surfaced for metrics/logging.
func (w *Worker) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.store.Dropped()
}

// cashuTokenProjection mirrors the kind-7375 projection's JSON shape (the
// Parser Registry's CashuToken) to the extent aggregation needs: mint,
// proof set, deletions, and DLEQ outcome. Decoded locally rather than by
// importing the parser package, keeping parsed.Event's projection opaque
// to the Cache Worker the same way the rest of this package treats it.
type cashuTokenProjection struct {
	MintURL     string         `json:"mint_url"`
	Proofs      []*cashu.Proof `json:"proofs,omitempty"`
	DeletedIDs  []string       `json:"deleted_ids,omitempty"`
	DLEQChecked bool           `json:"dleq_checked,omitempty"`
	DLEQValid   bool           `json:"dleq_valid,omitempty"`
}

// MintProofs is one mint's unspent proof set, SPEC_FULL.md's `Proofs{mint,
// proofs}` host message (§6.2) content.
type MintProofs struct {
	Mint   string
	Proofs []*cashu.Proof
}

// AggregateProofs summarizes every cached kind-7375 token event matching f
// into a `Proofs{mint, proofs}` entry per mint (SPEC_FULL.md's Cashu
// wallet aggregation supplement), grounded on database/query-events.go's
// result-assembly pattern generalized from "collect matching rows" to
// "collect and fold matching rows by a grouping key". A token event's
// deleted_ids names the event ids of earlier token events it supersedes
// (cashu/proof.go's TokenContent.Del) — once spent, a wallet re-issues the
// unspent change as a fresh kind-7375 event and marks the old one deleted
// wholesale, so this aggregation drops a superseded event's entire proof
// set rather than matching individual proofs. An event DLEQ-checked and
// found invalid is excluded outright, and a kind-7375 event that failed
// to decrypt (empty Projection) contributes nothing.
func (w *Worker) AggregateProofs(f *filter.F) ([]MintProofs, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	records, err := w.queryLocked(f)
	if err != nil {
		return nil, err
	}

	type tokenEvent struct {
		id     string
		mint   string
		proofs []*cashu.Proof
	}
	var events []tokenEvent
	superseded := map[string]bool{}
	mintOrder := make([]string, 0)
	seenMint := map[string]bool{}

	for _, data := range records {
		pe := &parsed.Event{}
		if err = pe.UnmarshalBinary(data); err != nil {
			continue
		}
		if pe.Raw.Kind.K != 7375 || len(pe.Projection) == 0 {
			continue
		}
		var tok cashuTokenProjection
		if err = json.Unmarshal(pe.Projection, &tok); err != nil {
			continue
		}
		if tok.MintURL == "" || (tok.DLEQChecked && !tok.DLEQValid) {
			continue
		}
		for _, id := range tok.DeletedIDs {
			superseded[id] = true
		}
		events = append(events, tokenEvent{id: pe.Raw.IDString(), mint: tok.MintURL, proofs: tok.Proofs})
		if !seenMint[tok.MintURL] {
			seenMint[tok.MintURL] = true
			mintOrder = append(mintOrder, tok.MintURL)
		}
	}

	byMint := map[string][]*cashu.Proof{}
	for _, ev := range events {
		if superseded[ev.id] {
			continue
		}
		byMint[ev.mint] = append(byMint[ev.mint], ev.proofs...)
	}

	out := make([]MintProofs, 0, len(mintOrder))
	for _, mint := range mintOrder {
		proofs := byMint[mint]
		if len(proofs) == 0 {
			continue
		}
		out = append(out, MintProofs{Mint: mint, Proofs: proofs})
	}
	return out, nil
}
