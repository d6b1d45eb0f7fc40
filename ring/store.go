package ring

import (
	"sort"

	"nostrengine.dev/config"
	"nostrengine.dev/errorf"
)

// ShardID names one of the Ring Store's dedicated buffers. Events are
// routed to a shard by kind (spec §4.2): hot, high-volume, replaceable
// kinds get their own small ring so a burst of profile updates or DMs
// can't evict unrelated text notes from the default shard.
type ShardID uint8

const (
	ShardDefault  ShardID = 0
	ShardKind0    ShardID = 1
	ShardKind4    ShardID = 2
	ShardKind7375 ShardID = 3
)

// shardBits/innerBits split a 64-bit composite offset into an 8-bit shard
// id and a 56-bit position within that shard's buffer (spec §4.2, §6.4).
const (
	shardBits = 8
	innerBits = 64 - shardBits
	innerMask = (uint64(1) << innerBits) - 1
)

// ShardForKind routes a kind number to its dedicated shard, falling back to
// ShardDefault for anything not singled out.
func ShardForKind(k uint16) ShardID {
	switch k {
	case 0:
		return ShardKind0
	case 4:
		return ShardKind4
	case 7375:
		return ShardKind7375
	default:
		return ShardDefault
	}
}

// PackOffset combines a shard and its inner byte offset into the single
// uint64 composite offset the Index stores per event.
func PackOffset(shard ShardID, inner uint64) uint64 {
	return (uint64(shard) << innerBits) | (inner & innerMask)
}

// UnpackOffset splits a composite offset back into its shard and inner
// offset.
func UnpackOffset(composite uint64) (ShardID, uint64) {
	shard := ShardID((composite >> innerBits) & 0xff)
	inner := composite & innerMask
	return shard, inner
}

// Store fans writes and reads out across the four dedicated shards.
type Store struct {
	shards map[ShardID]*Buffer
}

// NewStore builds a Store with one Buffer per shard, sized from cfg.
func NewStore(cfg *config.C) *Store {
	return &Store{
		shards: map[ShardID]*Buffer{
			ShardDefault:  NewBuffer(uint32(cfg.RingShardDefaultBytes)),
			ShardKind0:    NewBuffer(uint32(cfg.RingShardKind0Bytes)),
			ShardKind4:    NewBuffer(uint32(cfg.RingShardKind4Bytes)),
			ShardKind7375: NewBuffer(uint32(cfg.RingShardKind7375Bytes)),
		},
	}
}

func (s *Store) shardFor(id ShardID) (*Buffer, error) {
	b, ok := s.shards[id]
	if !ok {
		return nil, errorf.C(errorf.NotInitialized, "shard %d not configured", id)
	}
	return b, nil
}

// AddEventForKind writes data (the event's binary encoding) into the shard
// routed for kind, returning the composite offset the Index should retain.
func (s *Store) AddEventForKind(kind uint16, data []byte) (offset uint64, err error) {
	id := ShardForKind(kind)
	b, err := s.shardFor(id)
	if err != nil {
		return 0, err
	}
	inner, _, err := b.Write(data)
	if err != nil {
		return 0, err
	}
	return PackOffset(id, uint64(inner)), nil
}

// GetEvent reads back the raw bytes previously stored at offset. It
// returns a CorruptRecord error if the record has since been evicted or
// overwritten, which callers should treat as a cache miss rather than a
// fatal error.
func (s *Store) GetEvent(offset uint64) (data []byte, err error) {
	id, inner := UnpackOffset(offset)
	b, err := s.shardFor(id)
	if err != nil {
		return nil, err
	}
	data, _, err = b.ReadAt(uint32(inner))
	return data, err
}

// LoadOffsets returns the composite offsets of every record currently live
// across all shards, newest-seq-last within each shard. Used to rebuild the
// Index after a restart (spec §4.4).
func (s *Store) LoadOffsets() []uint64 {
	ids := make([]ShardID, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []uint64
	for _, id := range ids {
		for _, ref := range s.shards[id].LoadEvents() {
			out = append(out, PackOffset(id, uint64(ref.Offset)))
		}
	}
	return out
}

// ShardIDs returns every configured shard id, in a stable order, for the
// persistence collaborator to iterate.
func (s *Store) ShardIDs() []ShardID {
	ids := make([]ShardID, 0, len(s.shards))
	for id := range s.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SnapshotShard returns shard id's currently-live record payloads, oldest
// first (spec §4.2 persist_if_due).
func (s *Store) SnapshotShard(id ShardID) ([][]byte, error) {
	b, err := s.shardFor(id)
	if err != nil {
		return nil, err
	}
	return b.Snapshot(), nil
}

// RestoreShard replays records (as previously returned by SnapshotShard, in
// the same oldest-first order) directly into shard id, bypassing the
// kind-based routing AddEventForKind does — the persistence collaborator
// already knows which shard each record came from. Used only at startup,
// before the Cache Worker's Index is rebuilt from the restored offsets.
func (s *Store) RestoreShard(id ShardID, records [][]byte) error {
	b, err := s.shardFor(id)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if _, _, werr := b.Write(rec); werr != nil {
			return werr
		}
	}
	return nil
}

// Dropped returns the total number of records evicted across every shard.
func (s *Store) Dropped() uint64 {
	var total uint64
	for _, b := range s.shards {
		total += b.Dropped()
	}
	return total
}
