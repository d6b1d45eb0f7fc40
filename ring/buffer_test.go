package ring

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := NewBuffer(256)
	off, seq, err := b.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), seq)

	payload, gotSeq, err := b.ReadAt(off)
	require.NoError(t, err)
	require.Equal(t, uint32(1), gotSeq)
	require.True(t, bytes.Equal(payload, []byte("hello world")))
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	b := NewBuffer(64)
	var last uint32
	for i := 0; i < 20; i++ {
		off, _, err := b.Write([]byte("xxxxxxxxxx"))
		require.NoError(t, err)
		last = off
	}
	require.True(t, b.Dropped() > 0)
	// the most recent record must still be readable
	_, _, err := b.ReadAt(last)
	require.NoError(t, err)
}

func TestBufferRejectsOversizedRecord(t *testing.T) {
	b := NewBuffer(16)
	_, _, err := b.Write(make([]byte, 100))
	require.Error(t, err)
}

func TestBufferWraparoundPreservesPayload(t *testing.T) {
	b := NewBuffer(64)
	var offsets []uint32
	for i := 0; i < 10; i++ {
		off, _, err := b.Write([]byte{byte(i), byte(i), byte(i)})
		require.NoError(t, err)
		offsets = append(offsets, off)
	}
	// only the most recent few survive; confirm at least one still decodes
	// cleanly rather than panicking on a wraparound boundary.
	found := false
	for _, off := range offsets {
		if payload, _, err := b.ReadAt(off); err == nil {
			found = true
			require.Len(t, payload, 3)
		}
	}
	require.True(t, found)
}

func TestLoadEventsWalksLiveRecords(t *testing.T) {
	b := NewBuffer(256)
	for i := 0; i < 3; i++ {
		_, _, err := b.Write([]byte("event"))
		require.NoError(t, err)
	}
	refs := b.LoadEvents()
	require.Len(t, refs, 3)
	require.Equal(t, uint32(1), refs[0].Seq)
	require.Equal(t, uint32(3), refs[2].Seq)
}

func TestBufferSnapshotReturnsLiveRecordsOldestFirst(t *testing.T) {
	b := NewBuffer(256)
	for i := 0; i < 3; i++ {
		require.NoError(t, writeN(b, i))
	}
	snap := b.Snapshot()
	require.Len(t, snap, 3)
	for i, payload := range snap {
		require.Equal(t, []byte{byte(i)}, payload)
	}
}

func writeN(b *Buffer, i int) error {
	_, _, err := b.Write([]byte{byte(i)})
	return err
}

func TestPackUnpackOffsetRoundTrip(t *testing.T) {
	off := PackOffset(ShardKind4, 123456)
	shard, inner := UnpackOffset(off)
	require.Equal(t, ShardKind4, shard)
	require.Equal(t, uint64(123456), inner)
}

func TestShardForKindRouting(t *testing.T) {
	require.Equal(t, ShardKind0, ShardForKind(0))
	require.Equal(t, ShardKind4, ShardForKind(4))
	require.Equal(t, ShardKind7375, ShardForKind(7375))
	require.Equal(t, ShardDefault, ShardForKind(1))
}
