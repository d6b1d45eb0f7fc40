package index

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/hex"
	"nostrengine.dev/kind"
	"nostrengine.dev/tag"
	"nostrengine.dev/timestamp"
)

func newEvent(id, pubkey string, k uint16, createdAt int64, tt ...*tag.T) *event.E {
	ev := event.New()
	ev.ID = []byte(id)
	ev.Pubkey = []byte(pubkey)
	ev.Kind = &kind.T{K: k}
	ev.CreatedAt = timestamp.FromUnix(createdAt)
	for _, t := range tt {
		ev.Tags.AppendTags(t)
	}
	return ev
}

func TestIndexAddAndOffset(t *testing.T) {
	ix := New()
	ev := newEvent("id1", "pub1", 1, 100)
	ok := ix.Add("id1", ev, 42, "")
	require.True(t, ok)

	off, found := ix.Offset("id1")
	require.True(t, found)
	require.Equal(t, uint64(42), off)
	require.Equal(t, 1, ix.Len())
}

func TestIndexAddDuplicateIsNoop(t *testing.T) {
	ix := New()
	ev := newEvent("id1", "pub1", 1, 100)
	require.True(t, ix.Add("id1", ev, 1, ""))
	require.False(t, ix.Add("id1", ev, 2, ""))
	require.Equal(t, 1, ix.Len())
}

func TestPlanByIds(t *testing.T) {
	ix := New()
	ix.Add("id1", newEvent("id1", "pub1", 1, 100), 1, "")
	ix.Add("id2", newEvent("id2", "pub1", 1, 200), 2, "")

	f := filter.New()
	f.Ids = []string{"id2", "id1", "missing"}
	got := ix.Plan(f)
	require.Equal(t, []string{"id2", "id1"}, got)
}

func TestPlanIntersectsKindAndAuthor(t *testing.T) {
	ix := New()
	ix.Add("id1", newEvent("id1", "pubA", 1, 100), 1, "")
	ix.Add("id2", newEvent("id2", "pubB", 1, 200), 2, "")
	ix.Add("id3", newEvent("id3", "pubA", 2, 300), 3, "")

	f := filter.New()
	f.Kinds = []uint16{1}
	f.Authors = []string{hex.Enc([]byte("pubA"))}
	got := ix.Plan(f)
	require.Equal(t, []string{"id1"}, got)
}

func TestPlanEmptyRequiredSetShortCircuits(t *testing.T) {
	ix := New()
	ix.Add("id1", newEvent("id1", "pubA", 1, 100), 1, "")

	f := filter.New()
	f.Kinds = []uint16{999}
	got := ix.Plan(f)
	require.Nil(t, got)
}

func TestPlanByTag(t *testing.T) {
	ix := New()
	ix.Add("id1", newEvent("id1", "pubA", 1, 100, tag.New("e", "target")), 1, "")
	ix.Add("id2", newEvent("id2", "pubA", 1, 200, tag.New("e", "other")), 2, "")

	f := filter.New()
	f.SetTag("e", "target")
	got := ix.Plan(f)
	require.Equal(t, []string{"id1"}, got)
}

func TestPlanSortsNewestFirstWithIdTiebreak(t *testing.T) {
	ix := New()
	ix.Add("idB", newEvent("idB", "pubA", 1, 100), 1, "")
	ix.Add("idA", newEvent("idA", "pubA", 1, 100), 2, "")
	ix.Add("idC", newEvent("idC", "pubA", 1, 200), 3, "")

	f := filter.New()
	f.Kinds = []uint16{1}
	got := ix.Plan(f)
	require.Equal(t, []string{"idC", "idA", "idB"}, got)
}

func TestReplaceKeyForNonReplaceableKind(t *testing.T) {
	require.Equal(t, "", ReplaceKeyFor(1, "pub", ""))
}

func TestRemoveDropsFromAllSets(t *testing.T) {
	ix := New()
	ix.Add("id1", newEvent("id1", "pubA", 1, 100, tag.New("e", "v")), 1, "")
	ix.Remove("id1")

	_, found := ix.Offset("id1")
	require.False(t, found)
	require.Equal(t, 0, ix.Len())

	f := filter.New()
	f.Kinds = []uint16{1}
	require.Empty(t, ix.Plan(f))
}
