package network

import (
	"nostrengine.dev/cache"
	"nostrengine.dev/config"
	"nostrengine.dev/parser"
	"nostrengine.dev/pipeline"
	"nostrengine.dev/request"
)

// NpubLimiterConfig mirrors pipeline.NewNpubLimiter's arguments for use in a
// SubscriptionConfig.
type NpubLimiterConfig struct {
	Kind          uint16
	LimitPerNpub  int
	MaxTotalNpubs int
}

// SubscriptionConfig selects which pipeline Subscribe builds (spec §4.11
// step 1: "construct pipeline per SubscriptionConfig" — the spec names the
// concept but leaves its shape to the implementation). The zero value
// builds the ingest default: Deduplication → Parse → SaveToDb →
// SerializeEvents.
type SubscriptionConfig struct {
	// Mute, present, adds a MuteFilter stage ahead of Parse.
	Mute *pipeline.MuteCriteria
	// NpubLimiter, present, bounds per-author fanout for one kind ahead of
	// Parse.
	NpubLimiter *NpubLimiterConfig
	// ProofVerification gates kinds 7375/9321 on a valid DLEQ proof ahead
	// of SaveToDb, dropping invalid proofs rather than caching them.
	ProofVerification bool
	MaxProofs         int
	// CounterKinds, non-empty, builds a Counter-terminated pipeline instead
	// of the SerializeEvents-terminated default: the subscription only
	// emits per-kind counts, never forwards events to the ring.
	CounterKinds []uint16
	SelfPubkey   string
}

// buildPipeline constructs sc's pipeline for subID, returning the
// Deduplication pipe separately so Unsubscribe can release its cache.
// onFollowups, when non-nil, is wired to the Parse stage as the sink for a
// parsed event's derived follow-up Requests (SPEC_FULL.md's parser
// requests-derivation supplement).
func buildPipeline(cfg *config.C, sc SubscriptionConfig, registry *parser.Registry, worker *cache.Worker, subID string, onFollowups func([]*request.R)) (*pipeline.Pipeline, *pipeline.Dedup, error) {
	dedup, err := pipeline.NewDedup(10000)
	if err != nil {
		return nil, nil, err
	}

	pipes := []pipeline.Pipe{dedup}
	if sc.NpubLimiter != nil {
		pipes = append(pipes, pipeline.NewNpubLimiter(sc.NpubLimiter.Kind, sc.NpubLimiter.LimitPerNpub, sc.NpubLimiter.MaxTotalNpubs))
	}
	if sc.Mute != nil {
		pipes = append(pipes, pipeline.NewMuteFilter(*sc.Mute))
	}
	parsePipe := pipeline.NewParse(registry)
	if onFollowups != nil {
		parsePipe.OnRequests(onFollowups)
	}
	pipes = append(pipes, parsePipe)

	if len(sc.CounterKinds) > 0 {
		pipes = append(pipes, pipeline.NewCounter(sc.SelfPubkey, sc.CounterKinds...))
		pl, perr := pipeline.New(pipes, subID)
		return pl, dedup, perr
	}

	if sc.ProofVerification {
		pipes = append(pipes, pipeline.NewProofVerification(sc.MaxProofs))
	}
	pipes = append(pipes, pipeline.NewSaveToDb(worker))
	pipes = append(pipes, pipeline.NewSerializeEvents(subID, cfg.MaxProjectionBytes))
	pl, perr := pipeline.New(pipes, subID)
	return pl, dedup, perr
}
