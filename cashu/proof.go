// Package cashu holds the Cashu ecash types the engine needs to read out
// of nutzap (kind 9321) and token (kind 7375) events, and the NUT-12 DLEQ
// verifier that validates them offline (spec §4.7). Grounded on the data
// shape of original_source's nostr-main/src/proof.rs ProofUnion/DleqProof
// (a loosely-typed JSON proof with an optional dleq sub-object), adapted
// into concrete Go structs since this engine's projections are strongly
// typed (spec §4.5) rather than serde_json::Value-backed.
package cashu

// DleqProof is the NUT-12 proof attached to a token: e (challenge), s
// (response), and an optional r (blinding factor), present when the proof
// accompanies a user-to-user transfer rather than a freshly-minted token.
type DleqProof struct {
	E string `json:"e"`
	S string `json:"s"`
	R string `json:"r,omitempty"`
}

// Proof is a single Cashu ecash proof (NUT-00), covering both the V3 and
// V4 token encodings; Id is the keyset id needed to look up the mint's
// public key for Amount.
type Proof struct {
	Amount       uint64     `json:"amount"`
	Secret       string     `json:"secret"`
	C            string     `json:"C"`
	Id           string     `json:"id,omitempty"`
	DLEQ         *DleqProof `json:"dleq,omitempty"`
	P2PKSigs     []string   `json:"p2pksigs,omitempty"`
	HTLCPreimage string     `json:"htlcpreimage,omitempty"`
}

// HasDLEQ reports whether p carries a DLEQ proof to verify.
func (p *Proof) HasDLEQ() bool { return p.DLEQ != nil }

// TokenContent is the decrypted JSON body of a kind-7375 token event,
// grounded on original_source/src/parser/src/parser/kind7375.rs's Rust
// TokenContent: a mint URL, the proofs it issued, and the ids of any
// earlier token events these proofs supersede.
type TokenContent struct {
	Mint   string   `json:"mint"`
	Proofs []*Proof `json:"proofs"`
	Del    []string `json:"del,omitempty"`
}
