package pipeline

import (
	"nostrengine.dev/cache"
	"nostrengine.dev/parser"
)

// Default builds the ingest pipeline every ordinary subscription uses:
// Deduplication → Parse → SaveToDb → SerializeEvents (spec §4.10's
// required-pipes list in delivery order), grounded on Rust's
// Pipeline::default() constructor.
func Default(registry *parser.Registry, worker *cache.Worker, subscriptionID string, maxProjectionBytes int) (*Pipeline, error) {
	dedup, err := NewDedup(10000)
	if err != nil {
		return nil, err
	}
	return New([]Pipe{
		dedup,
		NewParse(registry),
		NewSaveToDb(worker),
		NewSerializeEvents(subscriptionID, maxProjectionBytes),
	}, subscriptionID)
}

// ProofVerificationPipeline builds the standalone pipeline a host uses to
// check Cashu proofs on demand without persisting or serializing the
// event: Deduplication → KindFilter(7375, 9321) → Parse →
// ProofVerification(maxProofs), grounded on Rust's
// Pipeline::proof_verification() constructor.
func ProofVerificationPipeline(registry *parser.Registry, subscriptionID string, maxProofs int) (*Pipeline, error) {
	dedup, err := NewDedup(10000)
	if err != nil {
		return nil, err
	}
	return New([]Pipe{
		dedup,
		NewKindFilter(9321, 7375),
		NewParse(registry),
		NewProofVerification(maxProofs),
	}, subscriptionID)
}
