package ring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/config"
)

func testStoreConfig() *config.C {
	return &config.C{
		RingShardDefaultBytes:  4096,
		RingShardKind0Bytes:    4096,
		RingShardKind4Bytes:    4096,
		RingShardKind7375Bytes: 4096,
	}
}

func TestSnapshotRestoreShardRoundTrip(t *testing.T) {
	s := NewStore(testStoreConfig())
	_, err := s.AddEventForKind(7375, []byte("token-a"))
	require.NoError(t, err)
	_, err = s.AddEventForKind(7375, []byte("token-b"))
	require.NoError(t, err)

	snap, err := s.SnapshotShard(ShardKind7375)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("token-a"), []byte("token-b")}, snap)

	s2 := NewStore(testStoreConfig())
	require.NoError(t, s2.RestoreShard(ShardKind7375, snap))

	offsets := s2.LoadOffsets()
	require.Len(t, offsets, 2)
	data, err := s2.GetEvent(offsets[0])
	require.NoError(t, err)
	require.Equal(t, []byte("token-a"), data)
}

func TestShardIDsCoversAllFourShards(t *testing.T) {
	s := NewStore(testStoreConfig())
	ids := s.ShardIDs()
	require.ElementsMatch(t, []ShardID{ShardDefault, ShardKind0, ShardKind4, ShardKind7375}, ids)
}
