package persist

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"nostrengine.dev/cache"
	"nostrengine.dev/config"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/kind"
	"nostrengine.dev/parsed"
	"nostrengine.dev/timestamp"
)

func testConfig() *config.C {
	return &config.C{
		RingShardDefaultBytes:  65536,
		RingShardKind0Bytes:    4096,
		RingShardKind4Bytes:    4096,
		RingShardKind7375Bytes: 4096,
	}
}

func inMemoryPersistor(t *testing.T) *Persistor {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Persistor{db: db}
}

func signedEvent(t *testing.T, id, pubkey string, k uint16, createdAt int64, content string) *event.E {
	t.Helper()
	ev := event.New()
	ev.ID = []byte(padTo32(id))
	ev.Pubkey = []byte(padTo32(pubkey))
	ev.Kind = &kind.T{K: k}
	ev.CreatedAt = timestamp.FromUnix(createdAt)
	ev.Content = []byte(content)
	ev.Sig = make([]byte, 64)
	return ev
}

func padTo32(s string) string {
	b := make([]byte, 32)
	copy(b, s)
	return string(b)
}

func TestPersistThenRestoreRoundTrip(t *testing.T) {
	p := inMemoryPersistor(t)

	w := cache.New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	require.NoError(t, p.Persist(w))

	w2 := cache.New(testConfig())
	require.NoError(t, p.Restore(w2))

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w2.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := &parsed.Event{}
	require.NoError(t, got.UnmarshalBinary(records[0]))
	require.Equal(t, "hello", string(got.Raw.Content))
}

func TestRestoreWithNoPriorSnapshotIsNotAnError(t *testing.T) {
	p := inMemoryPersistor(t)
	w := cache.New(testConfig())
	require.NoError(t, p.Restore(w))

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPersistIfDueSkipsWithinInterval(t *testing.T) {
	p := inMemoryPersistor(t)
	p.interval = time.Hour
	w := cache.New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	require.NoError(t, p.PersistIfDue(w))
	require.False(t, p.last.IsZero())

	firstStamp := p.last
	require.NoError(t, p.PersistIfDue(w))
	require.Equal(t, firstStamp, p.last)
}
