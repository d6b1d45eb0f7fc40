// Command nostrengine is a minimal host embedding the client engine: it
// loads configuration, opens the persisted ring snapshot, subscribes to
// one filter across the configured relay set, and prints whatever the
// Network Manager's pipeline delivers until interrupted. Real hosts embed
// the network, cache, and signer packages directly rather than shelling
// out to this binary; it exists to exercise the wiring end to end the way
// the teacher's own main.go exercised its relay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"nostrengine.dev/cache"
	"nostrengine.dev/chk"
	"nostrengine.dev/config"
	"nostrengine.dev/connreg"
	"nostrengine.dev/filter"
	"nostrengine.dev/log"
	"nostrengine.dev/lol"
	"nostrengine.dev/network"
	"nostrengine.dev/parsed"
	"nostrengine.dev/parser"
	"nostrengine.dev/persist"
	"nostrengine.dev/request"
	"nostrengine.dev/signer"
)

func main() {
	var err error
	var cfg *config.C
	if cfg, err = config.New(); chk.E(err) {
		config.PrintHelp(cfg, os.Stderr)
		os.Exit(1)
	}
	log.SetLogLevel(lol.GetLogLevel(cfg.LogLevel))
	log.I.F("starting %s", cfg.AppName)

	sk := secp256k1.GeneratePrivateKey().Serialize()
	local, err := signer.NewLocal(sk)
	if chk.E(err) {
		os.Exit(1)
	}
	svc := signer.NewService(local)

	worker := cache.New(cfg)

	persistor, err := persist.Open(cfg)
	if chk.E(err) {
		os.Exit(1)
	}
	if err = persistor.Restore(worker); chk.E(err) {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	registry := connreg.New(ctx, cfg, svc)
	parserReg := parser.New(svc)
	manager := network.New(cfg, worker, registry, parserReg)
	manager.UsePersistor(persistor)
	registry = applyDispatcher(registry, manager)

	f := filter.New()
	f.Kinds = []uint16{1}
	req := request.New(f)
	if err = manager.Subscribe(ctx, "main", []*request.R{req}, network.SubscriptionConfig{}); chk.E(err) {
		os.Exit(1)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.I.Ln("shutting down")
		manager.Unsubscribe(ctx, "main")
		registry.Shutdown()
		if err := manager.Shutdown(); chk.E(err) {
			// already logged by chk.E; nothing more to do on the way out
		}
		cancel()
		os.Exit(0)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		records, dropped, err := manager.Read("main")
		if chk.W(err) {
			continue
		}
		if dropped > 0 {
			log.W.F("main: dropped %d records", dropped)
		}
		for _, rec := range records {
			printRecord(rec)
		}
	}
}

func applyDispatcher(r *connreg.Registry, m *network.Manager) *connreg.Registry {
	connreg.WithDispatcher(m).ApplyRegistryOption(r)
	return r
}

func printRecord(rec []byte) {
	pe := &parsed.Event{}
	if err := pe.UnmarshalBinary(rec); err != nil {
		fmt.Fprintf(os.Stderr, "main: malformed record: %v\n", err)
		return
	}
	fmt.Printf("%s %x %s\n", pe.Kind, pe.Raw.ID, pe.Raw.Content)
}
