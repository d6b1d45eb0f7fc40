// Package ring implements the append-only ring buffer the Cache Worker uses
// to hold a bounded, recent window of raw event bytes (spec §4.2, §6.4).
// Grounded on the byte-level framing of the original implementation's
// ByteRingBuffer (ring_buffer.rs) and the shard routing of
// ShardedRingBufferStorage (sharded_storage.rs), re-expressed over a plain
// Go []byte guarded by a mutex instead of a JS SharedArrayBuffer/DataView
// pair.
package ring

import (
	"encoding/binary"
	"sync"

	"nostrengine.dev/errorf"
)

// dataStart reserves the first 32 bytes of the buffer for the header
// (capacity, head, tail, seq at offsets 0/4/8/12); the remaining 16 bytes
// are unused padding, matching the original layout.
const dataStart = 32

// headerLen is the fixed 8-byte per-record sub-header (two reserved u16
// fields followed by a u32 sequence number) written between the length
// prefix and the payload.
const headerLen = 8

// Buffer is a single append-only ring of capacity bytes. Every record is
// framed as:
//
//	[ u32 len ][ u16 0 ][ u16 0 ][ u32 seq ][ payload ][ u32 len ]
//
// where len = headerLen + len(payload). The leading and trailing length
// fields let a reader detect a torn or corrupted record by comparing them.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	capacity uint32
	head     uint32
	tail     uint32
	seq      uint32
	dropped  uint64
}

// NewBuffer allocates a ring with room for capacity bytes of framed
// records.
func NewBuffer(capacity uint32) *Buffer {
	b := &Buffer{data: make([]byte, dataStart+capacity), capacity: capacity}
	binary.LittleEndian.PutUint32(b.data[0:4], capacity)
	return b
}

// Ref identifies a record inside a Buffer by its header's byte offset and
// the monotonic sequence number it was written with.
type Ref struct {
	Offset uint32
	Seq    uint32
}

// Capacity returns the buffer's total byte capacity.
func (b *Buffer) Capacity() uint32 { return b.capacity }

// Dropped returns the cumulative count of records evicted to make room for
// newer writes.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// HasRecords reports whether the buffer currently holds at least one
// record.
func (b *Buffer) HasRecords() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head != b.tail
}

func (b *Buffer) freeSpaceLocked() uint32 {
	if b.capacity == 0 {
		return 0
	}
	used := (b.head + b.capacity - b.tail) % b.capacity
	if used > b.capacity {
		return 0
	}
	return b.capacity - used
}

// Write appends payload as a new record, evicting the oldest record(s) to
// make room if the buffer is full (spec §4.2 drop-oldest-on-full). It
// returns the byte offset of the record's header, usable later with
// ReadAt, and the monotonic sequence number assigned to it.
func (b *Buffer) Write(payload []byte) (offset uint32, seq uint32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := uint32(len(payload))
	recLen := headerLen + n
	total := 4 + recLen + 4
	// A full ring would leave head == tail, which reads as empty, so a
	// record never takes the last free byte.
	if total >= b.capacity {
		return 0, 0, errorf.C(
			errorf.StorageFull,
			"record of %d bytes exceeds shard capacity %d", n, b.capacity,
		)
	}

	var droppedThisWrite uint64
	for b.freeSpaceLocked() <= total {
		if !b.skipRecordLocked() {
			b.dropped += droppedThisWrite + 1
			return 0, 0, errorf.C(errorf.StorageFull, "cannot make room in ring buffer")
		}
		droppedThisWrite++
	}

	mySeq := b.seq + 1
	b.setSeqLocked(mySeq)

	writePos := b.head
	offset = writePos

	b.putU32(writePos, recLen)
	writePos = (writePos + 4) % b.capacity
	b.putU16(writePos, 0)
	writePos = (writePos + 2) % b.capacity
	b.putU16(writePos, 0)
	writePos = (writePos + 2) % b.capacity
	b.putU32(writePos, mySeq)
	writePos = (writePos + 4) % b.capacity

	b.copyIn(writePos, payload)
	writePos = (writePos + n) % b.capacity

	b.putU32(writePos, recLen)
	writePos = (writePos + 4) % b.capacity

	b.setHeadLocked(writePos)
	b.dropped += droppedThisWrite
	return offset, mySeq, nil
}

// ReadAt returns the payload and sequence number of the record whose
// header starts at offset, without disturbing the buffer's head/tail. It
// returns a CorruptRecord error if the trailing length no longer matches
// the header — typically because the record has since been overwritten.
func (b *Buffer) ReadAt(offset uint32) (payload []byte, seq uint32, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readAtLocked(offset)
}

func (b *Buffer) readAtLocked(offset uint32) (payload []byte, seq uint32, err error) {
	if b.capacity == 0 || offset >= b.capacity {
		return nil, 0, errorf.C(errorf.CorruptRecord, "offset %d out of range", offset)
	}
	length := b.getU32(offset)
	if length < headerLen {
		return nil, 0, errorf.C(errorf.CorruptRecord, "implausible record length %d at offset %d", length, offset)
	}
	trailerPos := (offset + 4 + length) % b.capacity
	trailer := b.getU32(trailerPos)
	if trailer != length {
		return nil, 0, errorf.C(
			errorf.CorruptRecord,
			"trailer %d does not match header %d at offset %d", trailer, length, offset,
		)
	}
	body := make([]byte, length)
	b.copyOut((offset+4)%b.capacity, body)
	seq = binary.LittleEndian.Uint32(body[4:8])
	payload = body[8:]
	return payload, seq, nil
}

// skipRecordLocked discards the oldest record by advancing tail past it,
// reporting whether a record was actually present to skip.
func (b *Buffer) skipRecordLocked() bool {
	readPos := b.tail
	if readPos == b.head {
		return false
	}
	length := b.getU32(readPos)
	if length == 0 {
		return false
	}
	trailerPos := (readPos + 4 + length) % b.capacity
	trailer := b.getU32(trailerPos)
	if trailer != length {
		return false
	}
	advance := 4 + length + 4
	b.setTailLocked((b.tail + advance) % b.capacity)
	return true
}

// Snapshot returns every currently-live record's payload, oldest first, for
// the persistence collaborator to serialize (spec §4.2 persist_if_due).
func (b *Buffer) Snapshot() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	refs := make([]Ref, 0)
	pos := b.tail
	for pos != b.head {
		length := b.getU32(pos)
		if length < headerLen {
			break
		}
		trailerPos := (pos + 4 + length) % b.capacity
		if b.getU32(trailerPos) != length {
			break
		}
		refs = append(refs, Ref{Offset: pos})
		pos = (pos + 4 + length + 4) % b.capacity
	}
	out := make([][]byte, 0, len(refs))
	for _, ref := range refs {
		payload, _, err := b.readAtLocked(ref.Offset)
		if err != nil {
			continue
		}
		out = append(out, payload)
	}
	return out
}

// LoadEvents walks every currently-live record from tail to head without
// consuming them, used to rebuild the Index on startup (spec §4.4).
func (b *Buffer) LoadEvents() (refs []Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos := b.tail
	for pos != b.head {
		length := b.getU32(pos)
		if length < headerLen {
			break
		}
		trailerPos := (pos + 4 + length) % b.capacity
		trailer := b.getU32(trailerPos)
		if trailer != length {
			break
		}
		var seqBuf [4]byte
		b.copyOut((pos+8)%b.capacity, seqBuf[:])
		refs = append(refs, Ref{Offset: pos, Seq: binary.LittleEndian.Uint32(seqBuf[:])})
		advance := 4 + length + 4
		pos = (pos + advance) % b.capacity
	}
	return refs
}

func (b *Buffer) setHeadLocked(v uint32) {
	b.head = v % b.capacity
	binary.LittleEndian.PutUint32(b.data[4:8], b.head)
}

func (b *Buffer) setTailLocked(v uint32) {
	b.tail = v % b.capacity
	binary.LittleEndian.PutUint32(b.data[8:12], b.tail)
}

func (b *Buffer) setSeqLocked(v uint32) {
	b.seq = v
	binary.LittleEndian.PutUint32(b.data[12:16], v)
}

func (b *Buffer) putU32(pos, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.copyIn(pos, tmp[:])
}

func (b *Buffer) putU16(pos uint32, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	b.copyIn(pos, tmp[:])
}

func (b *Buffer) getU32(pos uint32) uint32 {
	var tmp [4]byte
	b.copyOut(pos, tmp[:])
	return binary.LittleEndian.Uint32(tmp[:])
}

// copyIn and copyOut perform wraparound-safe bulk copies into and out of
// the ring's data region. Every multi-byte field write goes through these
// (unlike the original's fixed-size DataView field writes, which assumed
// the wraparound boundary never fell inside a 2- or 4-byte field); this
// closes a latent out-of-bounds edge case in the source implementation.
func (b *Buffer) copyIn(pos uint32, src []byte) {
	remaining := uint32(len(src))
	srcOff := uint32(0)
	tgt := pos
	for remaining > 0 {
		spaceToEnd := b.capacity - (tgt % b.capacity)
		chunk := remaining
		if spaceToEnd < chunk {
			chunk = spaceToEnd
		}
		tgtAbs := dataStart + (tgt % b.capacity)
		copy(b.data[tgtAbs:tgtAbs+chunk], src[srcOff:srcOff+chunk])
		remaining -= chunk
		srcOff += chunk
		tgt += chunk
	}
}

func (b *Buffer) copyOut(pos uint32, dst []byte) {
	remaining := uint32(len(dst))
	dstOff := uint32(0)
	src := pos
	for remaining > 0 {
		spaceToEnd := b.capacity - (src % b.capacity)
		chunk := remaining
		if spaceToEnd < chunk {
			chunk = spaceToEnd
		}
		srcAbs := dataStart + (src % b.capacity)
		copy(dst[dstOff:dstOff+chunk], b.data[srcAbs:srcAbs+chunk])
		remaining -= chunk
		dstOff += chunk
		src += chunk
	}
}
