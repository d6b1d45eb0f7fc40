// Package persist implements the Ring Store's persist/restore collaborator
// (spec §4.2, §6's persist_if_due contract): an opportunistic snapshot of
// every shard's live records to disk, and the startup-time restore that
// replays a prior snapshot back into a fresh Cache Worker before it starts
// serving. Grounded on the teacher's database package's badger.Open/Update
// usage, generalized from the teacher's full secondary-index store down to
// a single snapshot blob per shard, since the Ring Store's own Index is
// rebuilt in memory from the restored records (cache.Worker.Restore calls
// Rebuild) rather than persisted itself.
package persist

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"nostrengine.dev/cache"
	"nostrengine.dev/config"
	"nostrengine.dev/errorf"
	"nostrengine.dev/log"
	"nostrengine.dev/ring"
)

// shardKey is the badger key one shard's snapshot blob is stored under.
func shardKey(id ring.ShardID) []byte {
	return []byte{'s', 'h', 'a', 'r', 'd', byte(id)}
}

// Persistor owns the badger handle backing the Ring Store's snapshots and
// tracks the opportunistic persist_if_due cadence.
type Persistor struct {
	db       *badger.DB
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// Open opens (creating if absent) the badger store at cfg.CacheDir.
func Open(cfg *config.C) (*Persistor, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, errorf.C(errorf.NotInitialized, "persist: create cache dir %s: %v", cfg.CacheDir, err)
	}
	db, err := badger.Open(badger.DefaultOptions(cfg.CacheDir))
	if err != nil {
		return nil, errorf.C(errorf.NotInitialized, "persist: open badger at %s: %v", cfg.CacheDir, err)
	}
	return &Persistor{db: db, interval: cfg.PersistInterval}, nil
}

// Close releases the badger handle.
func (p *Persistor) Close() error {
	return p.db.Close()
}

// PersistIfDue snapshots w's shards and writes them to disk if at least
// p.interval has elapsed since the last persist (spec §4.2: "opportunistic",
// not on every write). Callers typically call this after every AddEvent, or
// on a timer — either way the interval check makes repeated calls cheap.
func (p *Persistor) PersistIfDue(w *cache.Worker) error {
	p.mu.Lock()
	due := time.Since(p.last) >= p.interval
	p.mu.Unlock()
	if !due {
		return nil
	}
	return p.Persist(w)
}

// Persist snapshots w's shards and writes them to disk unconditionally,
// regardless of the interval — used for a clean shutdown, where the host
// wants the freshest possible snapshot rather than whatever PersistIfDue
// last wrote.
func (p *Persistor) Persist(w *cache.Worker) error {
	snapshot, err := w.Snapshot()
	if err != nil {
		return err
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		for id, records := range snapshot {
			blob := encodeShard(records)
			if err := txn.Set(shardKey(id), blob); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errorf.C(errorf.NotInitialized, "persist: write snapshot: %v", err)
	}
	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()
	log.D.F("persist: snapshot written (%d shards)", len(snapshot))
	return nil
}

// Restore reads the last snapshot from disk, if any, and replays it into w
// (cache.Worker.Restore, which also rebuilds the Index). A cold start with
// no prior snapshot is not an error — w simply starts empty.
func (p *Persistor) Restore(w *cache.Worker) error {
	snapshot := make(map[ring.ShardID][][]byte)
	err := p.db.View(func(txn *badger.Txn) error {
		for _, id := range w.ShardIDs() {
			item, err := txn.Get(shardKey(id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			blob, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			records, err := decodeShard(blob)
			if err != nil {
				return err
			}
			snapshot[id] = records
		}
		return nil
	})
	if err != nil {
		return errorf.C(errorf.CorruptRecord, "persist: read snapshot: %v", err)
	}
	if len(snapshot) == 0 {
		return nil
	}
	return w.Restore(snapshot)
}

// encodeShard/decodeShard frame a shard's ordered record payloads as a
// simple length-prefixed sequence, the same convention parsed.Event and
// wireenv already use for this engine's own binary records.
func encodeShard(records [][]byte) []byte {
	var buf bytes.Buffer
	var tmp [4]byte
	for _, rec := range records {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(rec)))
		buf.Write(tmp[:])
		buf.Write(rec)
	}
	return buf.Bytes()
}

func decodeShard(blob []byte) ([][]byte, error) {
	r := bytes.NewReader(blob)
	var out [][]byte
	for {
		var tmp [4]byte
		_, err := io.ReadFull(r, tmp[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint32(tmp[:])
		rec := make([]byte, n)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
