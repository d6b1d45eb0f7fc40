package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostrengine.dev/cache"
	"nostrengine.dev/config"
	"nostrengine.dev/event"
	"nostrengine.dev/filter"
	"nostrengine.dev/kind"
	"nostrengine.dev/parser"
	"nostrengine.dev/persist"
	"nostrengine.dev/ring"
	"nostrengine.dev/timestamp"
)

func newFilterKind1() *filter.F {
	f := filter.New()
	f.Kinds = []uint16{1}
	return f
}

func testConfig() *config.C {
	return &config.C{
		RingShardDefaultBytes:  65536,
		RingShardKind0Bytes:    4096,
		RingShardKind4Bytes:    4096,
		RingShardKind7375Bytes: 4096,
		SubscriptionRingBytes:  65536,
	}
}

func signedEvent(t *testing.T, id string, k uint16, content string) *event.E {
	t.Helper()
	ev := event.New()
	ev.ID = make([]byte, 32)
	copy(ev.ID, id)
	ev.Pubkey = make([]byte, 32)
	copy(ev.Pubkey, "pubA")
	ev.Kind = &kind.T{K: k}
	ev.CreatedAt = timestamp.FromUnix(100)
	ev.Content = []byte(content)
	ev.Sig = make([]byte, 64)
	return ev
}

func managerWithSub(t *testing.T, cfg *config.C, worker *cache.Worker, subID string) *Manager {
	t.Helper()
	m := &Manager{cfg: cfg, worker: worker, parser: parser.New(nil), subs: map[string]*subscription{}}
	pl, dedup, err := buildPipeline(cfg, SubscriptionConfig{}, m.parser, worker, subID, nil)
	require.NoError(t, err)
	m.subs[subID] = &subscription{
		id:            subID,
		pl:            pl,
		dedup:         dedup,
		out:           ring.NewBuffer(uint32(cfg.SubscriptionRingBytes)),
		pendingRelays: map[string]bool{},
		eosedRelays:   map[string]bool{},
	}
	return m
}

func TestShutdownWithNoPersistorIsNoop(t *testing.T) {
	m := managerWithSub(t, testConfig(), cache.New(testConfig()), "sub1")
	require.NoError(t, m.Shutdown())
}

func TestEventPersistsThroughWiredPersistor(t *testing.T) {
	cfg := testConfig()
	worker := cache.New(cfg)
	m := managerWithSub(t, cfg, worker, "sub1")

	pcfg := *cfg
	pcfg.CacheDir = t.TempDir()
	pcfg.PersistInterval = 0
	p, err := persist.Open(&pcfg)
	require.NoError(t, err)
	m.UsePersistor(p)

	m.Event("wss://relay.example", "sub1", signedEvent(t, "id1", 1, "hello"))
	require.NoError(t, m.Shutdown())

	worker2 := cache.New(cfg)
	p2, err := persist.Open(&pcfg)
	require.NoError(t, err)
	defer p2.Close()
	require.NoError(t, p2.Restore(worker2))

	f := newFilterKind1()
	records, err := worker2.QueryEvents(f)
	require.NoError(t, err)
	require.Len(t, records, 1)
}
