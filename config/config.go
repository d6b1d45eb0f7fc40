// Package config provides the engine's go-simpler.org/env configuration
// table: relay pool defaults, ring/shard sizing, and backoff constants.
package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"go-simpler.org/env"

	"nostrengine.dev/chk"
	"nostrengine.dev/log"
	"nostrengine.dev/lol"
)

// C is the engine's runtime configuration, read from the environment. A host
// embedding the engine constructs this once at startup; nothing here is
// reloaded at runtime.
type C struct {
	AppName string `env:"NOSTR_ENGINE_APP_NAME" default:"nostrengine"`

	LogLevel string `env:"NOSTR_ENGINE_LOG_LEVEL" default:"info" usage:"fatal error warn info debug trace"`

	DefaultRelays []string `env:"NOSTR_ENGINE_DEFAULT_RELAYS" default:"wss://relay.damus.io,wss://nos.lol" usage:"fallback relay set used when a publish target set cannot be derived"`

	CacheDir string `env:"NOSTR_ENGINE_CACHE_DIR" default:".nostrengine-cache" usage:"badger snapshot directory for the ring store persistence collaborator"`

	RingShardDefaultBytes int `env:"NOSTR_ENGINE_RING_DEFAULT_BYTES" default:"8388608" usage:"ring capacity in bytes for the default shard"`
	RingShardKind0Bytes   int `env:"NOSTR_ENGINE_RING_KIND0_BYTES" default:"1048576" usage:"ring capacity in bytes for the kind-0 (profile) shard"`
	RingShardKind4Bytes   int `env:"NOSTR_ENGINE_RING_KIND4_BYTES" default:"1048576" usage:"ring capacity in bytes for the kind-4 (DM) shard"`
	RingShardKind7375Bytes int `env:"NOSTR_ENGINE_RING_KIND7375_BYTES" default:"1048576" usage:"ring capacity in bytes for the kind-7375 (Cashu token) shard"`
	PersistInterval       time.Duration `env:"NOSTR_ENGINE_PERSIST_INTERVAL" default:"10s" usage:"minimum interval between opportunistic ring snapshots"`

	ConnectTimeout time.Duration `env:"NOSTR_ENGINE_CONNECT_TIMEOUT" default:"10s"`
	IdleTimeout    time.Duration `env:"NOSTR_ENGINE_IDLE_TIMEOUT" default:"5m"`
	PublishTimeout time.Duration `env:"NOSTR_ENGINE_PUBLISH_TIMEOUT" default:"10s"`

	BackoffBase       time.Duration `env:"NOSTR_ENGINE_BACKOFF_BASE" default:"300ms"`
	BackoffMultiplier float64       `env:"NOSTR_ENGINE_BACKOFF_MULTIPLIER" default:"1.6"`
	BackoffCap        time.Duration `env:"NOSTR_ENGINE_BACKOFF_CAP" default:"10s"`
	BackoffJitter     float64       `env:"NOSTR_ENGINE_BACKOFF_JITTER" default:"0.1"`
	BackoffMaxRetries int           `env:"NOSTR_ENGINE_BACKOFF_MAX_RETRIES" default:"2"`
	CooldownWindow    time.Duration `env:"NOSTR_ENGINE_COOLDOWN_WINDOW" default:"60s"`

	SubscriptionRingBytes int `env:"NOSTR_ENGINE_SUB_RING_BYTES" default:"1048576" usage:"per-subscription output ring buffer capacity"`
	MaxProjectionBytes    int `env:"NOSTR_ENGINE_MAX_PROJECTION_BYTES" default:"524288" usage:"SerializeEvents refuses payloads larger than this"`
}

// New loads configuration from the environment, applying the defaults above
// for anything unset.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.E(err) {
		return
	}
	log.SetLogLevel(lol.GetLogLevel(cfg.LogLevel))
	return
}

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice is a collection of key/value pairs, sortable by key.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// EnvKV turns a struct tagged with `env` keys into a flat key/value list
// suitable for printing as a .env file.
func EnvKV(cfg any) (m KVSlice) {
	t := reflect.TypeOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		k := t.Field(i).Tag.Get("env")
		if k == "" {
			continue
		}
		v := reflect.ValueOf(cfg).Field(i).Interface()
		var val string
		switch vv := v.(type) {
		case string:
			val = vv
		case int, bool, time.Duration, float64:
			val = fmt.Sprint(vv)
		case []string:
			if len(vv) > 0 {
				val = strings.Join(vv, ",")
			}
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv renders the key/values of a config.C to a provided io.Writer.
func PrintEnv(cfg *C, printer io.Writer) {
	kvs := EnvKV(*cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(printer, "%s=%s\n", v.Key, v.Value)
	}
}

// PrintHelp outputs the configuration options and defaults to printer.
func PrintHelp(cfg *C, printer io.Writer) {
	_, _ = fmt.Fprintf(printer, "%s\n\n", cfg.AppName)
	_, _ = fmt.Fprintf(
		printer, "Environment variables that configure %s:\n\n", cfg.AppName,
	)
	env.Usage(cfg, printer, &env.Options{SliceSep: ","})
	_, _ = fmt.Fprintln(printer, "\ncurrent configuration:")
	PrintEnv(cfg, printer)
	_, _ = fmt.Fprintln(printer)
}

// HelpRequested returns true if the first CLI argument requests help.
func HelpRequested() bool {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "help", "-h", "--help", "-help", "?":
			return true
		}
	}
	return false
}
