package pipeline

import (
	"encoding/json"

	"nostrengine.dev/log"
)

// dleqFlags mirrors the two verification fields parser.CashuToken and
// parser.Nutzap's projections carry.
type dleqFlags struct {
	DLEQChecked bool `json:"dleq_checked"`
	DLEQValid   bool `json:"dleq_valid"`
}

// ProofVerification drops Cashu-bearing events (7375, 9321) the Parser
// Registry found to carry an invalid DLEQ proof, capping how many
// proof-bearing events per pipeline lifetime it inspects at maxProofs
// (spec §4.10: "ProofVerification(max): invokes DLEQ verifier for
// Cashu-bearing events (7375, 9321).").
//
// Absent from the retrieval pack's Rust originals — its source file
// (proof_verification.rs) is empty — so this pipe's behavior is designed
// from the spec text plus the DLEQ verification parser.Registry's
// parseCashuToken/parseNutzap already perform (§4.7) and encode into
// their projection's dleq_checked/dleq_valid fields: this pipe is the
// gate that turns an already-computed "invalid" into a Drop, rather than
// re-running DLEQ itself, since the Parse pipe ahead of it in
// Pipeline::proof_verification's ordering has already produced that
// projection.
type ProofVerification struct {
	maxProofs int
	checked   int
}

// NewProofVerification builds a ProofVerification pipe that stops
// inspecting proof-bearing events once it has seen maxProofs of them
// (0 means unbounded); later events in the same pipeline lifetime pass
// through unexamined rather than being dropped, since an unexamined
// event is strictly safer than a false rejection once the bound is
// reached.
func NewProofVerification(maxProofs int) *ProofVerification {
	return &ProofVerification{maxProofs: maxProofs}
}

func (v *ProofVerification) Process(e Event) (Output, error) {
	if e.Parsed == nil {
		return Drop(), nil
	}
	switch e.Kind() {
	case 7375, 9321:
	default:
		return Forward(e), nil
	}
	if v.maxProofs > 0 && v.checked >= v.maxProofs {
		return Forward(e), nil
	}
	v.checked++

	var flags dleqFlags
	if err := json.Unmarshal(e.Parsed.Projection, &flags); err != nil {
		return Forward(e), nil
	}
	if flags.DLEQChecked && !flags.DLEQValid {
		log.D.F("pipeline: dropping %x: DLEQ proof verification failed", e.ID)
		return Drop(), nil
	}
	return Forward(e), nil
}

func (v *ProofVerification) ProcessCachedBatch(batch [][]byte) ([][]byte, error) {
	return DefaultProcessCachedBatch(v, batch)
}

func (v *ProofVerification) Name() string             { return "ProofVerification" }
func (v *ProofVerification) CanDirectOutput() bool    { return false }
func (v *ProofVerification) RunForCachedEvents() bool { return true }
