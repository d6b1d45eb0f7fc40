package pipeline

import (
	"github.com/dgraph-io/ristretto/v2"

	"nostrengine.dev/errorf"
)

// Dedup drops events whose id has already passed through, bounded by an
// LRU/sized set of recent ids (spec §4.10: "Deduplication(max): an
// LRU/sized set of recent ids; on duplicate, Drop."). Grounded on
// nostr-worker/src/pipeline/pipes/deduplication.rs's DeduplicationPipe,
// which tracks seen ids in a plain HashSet that simply stops recording new
// entries once max_size is reached — meaning dedup silently goes stale for
// the newest arrivals under sustained load, which conflicts with the
// spec's explicit "LRU" wording. This engine instead backs the seen-set
// with the teacher's github.com/dgraph-io/ristretto/v2 cache (declared in
// go.mod but, in the examples retrieved for this spec, never actually
// wired into any component) so the set has real eviction under
// sustained load rather than freezing once full.
type Dedup struct {
	seen    *ristretto.Cache[string, struct{}]
	maxSize int64
}

// NewDedup builds a Dedup pipe that tracks up to maxSize recent ids.
func NewDedup(maxSize int) (*Dedup, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: int64(maxSize) * 10,
		MaxCost:     int64(maxSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, errorf.C(errorf.CryptoError, "dedup: build cache: %v", err)
	}
	return &Dedup{seen: cache, maxSize: int64(maxSize)}, nil
}

func (d *Dedup) Process(e Event) (Output, error) {
	id := string(e.ID)
	if _, ok := d.seen.Get(id); ok {
		return Drop(), nil
	}
	d.seen.Set(id, struct{}{}, 1)
	// ristretto buffers Set; wait so an immediate duplicate is seen.
	d.seen.Wait()
	return Forward(e), nil
}

func (d *Dedup) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	return DefaultProcessCachedBatch(d, batch)
}

func (d *Dedup) Name() string             { return "Deduplication" }
func (d *Dedup) CanDirectOutput() bool    { return false }
func (d *Dedup) RunForCachedEvents() bool { return true }

// Close releases the cache's background goroutines. Call when the owning
// Pipeline/subscription is torn down.
func (d *Dedup) Close() { d.seen.Close() }
