package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/config"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/kind"
	"nostrengine.dev/parsed"
	"nostrengine.dev/request"
	"nostrengine.dev/tag"
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

func signedEvent(t *testing.T, id, pubkey string, k uint16, createdAt int64, content string, tt ...*tag.T) *event.E {
	t.Helper()
	ev := event.New()
	ev.ID = []byte(padTo32(id))
	ev.Pubkey = []byte(padTo32(pubkey))
	ev.Kind = &kind.T{K: k}
	ev.CreatedAt = timestamp.FromUnix(createdAt)
	ev.Content = []byte(content)
	ev.Sig = make([]byte, 64)
	for _, tg := range tt {
		ev.Tags.AppendTags(tg)
	}
	return ev
}

func padTo32(s string) string {
	b := make([]byte, 32)
	copy(b, s)
	return string(b)
}

func TestAddEventAndQueryRoundTrip(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	pe := parsed.New(ev, "text_note", nil)

	require.NoError(t, w.AddEvent(pe))

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := &parsed.Event{}
	require.NoError(t, got.UnmarshalBinary(records[0]))
	require.Equal(t, "hello", string(got.Raw.Content))
}

func TestAddEventDuplicateIsNoop(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	pe := parsed.New(ev, "text_note", nil)

	require.NoError(t, w.AddEvent(pe))
	require.NoError(t, w.AddEvent(pe))

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestReplaceableKindSupersedesOlder(t *testing.T) {
	w := New(testConfig())
	older := signedEvent(t, "id1", "pubA", 0, 100, "old profile")
	newer := signedEvent(t, "id2", "pubA", 0, 200, "new profile")

	require.NoError(t, w.AddEvent(parsed.New(older, "profile", nil)))
	require.NoError(t, w.AddEvent(parsed.New(newer, "profile", nil)))

	f := filter.New()
	f.Kinds = []uint16{0}
	f.Authors = []string{newer.PubkeyString()}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := &parsed.Event{}
	require.NoError(t, got.UnmarshalBinary(records[0]))
	require.Equal(t, "new profile", string(got.Raw.Content))
}

func TestReplaceableKindIgnoresStaleWrite(t *testing.T) {
	w := New(testConfig())
	newer := signedEvent(t, "id2", "pubA", 0, 200, "new profile")
	older := signedEvent(t, "id1", "pubA", 0, 100, "old profile")

	require.NoError(t, w.AddEvent(parsed.New(newer, "profile", nil)))
	require.NoError(t, w.AddEvent(parsed.New(older, "profile", nil)))

	f := filter.New()
	f.Kinds = []uint16{0}
	f.Authors = []string{newer.PubkeyString()}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := &parsed.Event{}
	require.NoError(t, got.UnmarshalBinary(records[0]))
	require.Equal(t, "new profile", string(got.Raw.Content))
}

func TestQueryEventsForRequestsCacheFirstNotForwarded(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	f := filter.New()
	f.Kinds = []uint16{1}
	req := request.New(f)
	req.CacheFirst = true

	remaining, batches, err := w.QueryEventsForRequests([]*request.R{req}, false)
	require.NoError(t, err)
	require.Empty(t, remaining)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 1)
}

func TestQueryEventsForRequestsMissPreservesRequest(t *testing.T) {
	w := New(testConfig())

	f := filter.New()
	f.Kinds = []uint16{1}
	req := request.New(f)
	req.CacheFirst = true

	remaining, batches, err := w.QueryEventsForRequests([]*request.R{req}, false)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Empty(t, batches)
}

func TestQueryEventsForRequestsNoCacheAlwaysForwards(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	f := filter.New()
	f.Kinds = []uint16{1}
	req := request.New(f)
	req.NoCache = true

	remaining, batches, err := w.QueryEventsForRequests([]*request.R{req}, false)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Empty(t, batches)
}

func TestRebuildRestoresIndexFromRing(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	require.NoError(t, w.Rebuild())

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	w := New(testConfig())
	ev := signedEvent(t, "id1", "pubA", 1, 100, "hello")
	require.NoError(t, w.AddEvent(parsed.New(ev, "text_note", nil)))

	snap, err := w.Snapshot()
	require.NoError(t, err)

	w2 := New(testConfig())
	require.NoError(t, w2.Restore(snap))

	f := filter.New()
	f.Kinds = []uint16{1}
	records, err := w2.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := &parsed.Event{}
	require.NoError(t, got.UnmarshalBinary(records[0]))
	require.Equal(t, "hello", string(got.Raw.Content))
}

func TestAggregateProofsGroupsByMintAndExcludesSuperseded(t *testing.T) {
	w := New(testConfig())

	ev1 := signedEvent(t, "id1", "pubA", 7375, 100, "")
	tok1 := `{"mint_url":"https://mint.example","proofs":[{"amount":4,"secret":"s1","C":"c1"}],"decrypted":true}`
	require.NoError(t, w.AddEvent(parsed.New(ev1, "cashu_token", []byte(tok1))))

	ev2 := signedEvent(t, "id2", "pubA", 7375, 200, "")
	tok2 := fmt.Sprintf(`{"mint_url":"https://mint.example","proofs":[{"amount":2,"secret":"s2","C":"c2"}],"deleted_ids":[%q],"decrypted":true}`, ev1.IDString())
	require.NoError(t, w.AddEvent(parsed.New(ev2, "cashu_token", []byte(tok2))))

	f := filter.New()
	f.Kinds = []uint16{7375}
	groups, err := w.AggregateProofs(f)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, "https://mint.example", groups[0].Mint)
	require.Len(t, groups[0].Proofs, 1)
	require.Equal(t, "s2", groups[0].Proofs[0].Secret)
}

func TestAggregateProofsExcludesInvalidDLEQ(t *testing.T) {
	w := New(testConfig())

	tok := `{"mint_url":"https://mint.example","proofs":[{"amount":4,"secret":"s1","C":"c1"}],"decrypted":true,"dleq_checked":true,"dleq_valid":false}`
	ev := signedEvent(t, "id1", "pubA", 7375, 100, "")
	require.NoError(t, w.AddEvent(parsed.New(ev, "cashu_token", []byte(tok))))

	f := filter.New()
	f.Kinds = []uint16{7375}
	groups, err := w.AggregateProofs(f)
	require.NoError(t, err)
	require.Empty(t, groups)
}
