package parser

import (
	"encoding/json"

	"nostrengine.dev/cashu"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/request"
)

// CashuQuote is the kind-7374 projection: a pending mint quote, grounded on
// original_source's kind7374.rs.
type CashuQuote struct {
	MintURL    string `json:"mint_url"`
	Expiration int64  `json:"expiration,omitempty"`
	QuoteID    string `json:"quote_id,omitempty"`
	Decrypted  bool   `json:"decrypted"`
}

func (r *Registry) parseCashuQuote(ev *event.E) (*CashuQuote, []*request.R, error) {
	mintTag := firstTagValue(ev.Tags, "mint")
	if mintTag == "" {
		return nil, nil, errMissingField("cashu quote must have a mint tag")
	}
	out := &CashuQuote{MintURL: mintTag}
	if expTag := firstTagValue(ev.Tags, "expiration"); expTag != "" {
		out.Expiration = parseUnixSeconds(expTag)
	}
	if pt, ok := decryptWithFallback(r.svc, ev.Pubkey, string(ev.Content)); ok {
		out.Decrypted = true
		out.QuoteID = string(pt)
	}
	return out, nil, nil
}

// prepareCashuQuote requires a mint tag (kind7374.rs's prepare_kind_7374
// validation), then self-encrypts the quote id content before signing.
func (r *Registry) prepareCashuQuote(tpl *event.Template) (*event.E, error) {
	if firstTagValue(tpl.Tags, "mint") == "" {
		return nil, errorf.C(errorf.MissingField, "kind 7374 template must have a mint tag")
	}
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}

// CashuToken is the kind-7375 projection: an unspent proof set for one
// mint, grounded on kind7375.rs / the shared TokenContent shape.
type CashuToken struct {
	MintURL     string         `json:"mint_url"`
	Proofs      []*cashu.Proof `json:"proofs,omitempty"`
	DeletedIDs  []string       `json:"deleted_ids,omitempty"`
	Decrypted   bool           `json:"decrypted"`
	DLEQChecked bool           `json:"dleq_checked,omitempty"`
	DLEQValid   bool           `json:"dleq_valid,omitempty"`
}

func (r *Registry) parseCashuToken(ev *event.E) (*CashuToken, []*request.R, error) {
	out := &CashuToken{}
	pt, ok := decryptWithFallback(r.svc, ev.Pubkey, string(ev.Content))
	if !ok {
		return out, nil, nil
	}
	var tc cashu.TokenContent
	if err := json.Unmarshal(pt, &tc); err != nil {
		return out, nil, nil
	}
	out.Decrypted = true
	out.MintURL = tc.Mint
	out.Proofs = tc.Proofs
	out.DeletedIDs = tc.Del
	r.verifyProofDLEQ(out.Proofs, tc.Mint, &out.DLEQChecked, &out.DLEQValid)
	return out, nil, nil
}

// prepareCashuToken validates the template content decodes to a
// TokenContent with a mint and at least one proof (kind7375.rs's
// prepare_kind_7375 validation), then encrypts and signs.
func (r *Registry) prepareCashuToken(tpl *event.Template) (*event.E, error) {
	var tc cashu.TokenContent
	if err := json.Unmarshal(tpl.Content, &tc); err != nil {
		return nil, errorf.C(errorf.InvalidFormat, "invalid token content: %v", err)
	}
	if tc.Mint == "" {
		return nil, errorf.C(errorf.MissingField, "token content must specify a mint")
	}
	if len(tc.Proofs) == 0 {
		return nil, errorf.C(errorf.MissingField, "token content must include at least one proof")
	}
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}

// CashuTokenHistory is the kind-7376 projection: a spending-history record
// referencing the token events it consumed/created. Absent from the
// retrieval pack's Rust originals (see DESIGN.md); built from NIP-60's
// published shape (a "direction" tag plus e-tag refs marked
// created/destroyed) rather than translated from existing code.
type CashuTokenHistory struct {
	Direction string   `json:"direction,omitempty"`
	Amount    int64    `json:"amount,omitempty"`
	Created   []string `json:"created,omitempty"`
	Destroyed []string `json:"destroyed,omitempty"`
	Redeemed  []string `json:"redeemed,omitempty"`
	Decrypted bool     `json:"decrypted"`
}

type cashuHistoryContent struct {
	Direction string `json:"direction"`
	Amount    int64  `json:"amount"`
}

func (r *Registry) parseCashuTokenHistory(ev *event.E) (*CashuTokenHistory, []*request.R, error) {
	out := &CashuTokenHistory{}
	for _, t := range ev.Tags.GetAll("e") {
		if t.Len() < 2 {
			continue
		}
		marker := ""
		if t.Len() >= 3 {
			marker = t.At(2)
		}
		switch marker {
		case "created":
			out.Created = append(out.Created, t.At(1))
		case "destroyed":
			out.Destroyed = append(out.Destroyed, t.At(1))
		case "redeemed":
			out.Redeemed = append(out.Redeemed, t.At(1))
		default:
			out.Destroyed = append(out.Destroyed, t.At(1))
		}
	}
	if pt, ok := decryptWithFallback(r.svc, ev.Pubkey, string(ev.Content)); ok {
		var hc cashuHistoryContent
		if err := json.Unmarshal(pt, &hc); err == nil {
			out.Decrypted = true
			out.Direction = hc.Direction
			out.Amount = hc.Amount
		}
	}
	return out, nil, nil
}

func (r *Registry) prepareCashuTokenHistory(tpl *event.Template) (*event.E, error) {
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}

// Nutzap is the kind-9321 projection (NIP-61): an ecash payment sent
// directly in an event, with the recipient's proofs attached in the clear
// (nutzaps are not encrypted — the p tag names a public recipient) and
// their DLEQ proofs checked against the mint's published keys when known.
// Absent from the retrieval pack's Rust originals (see DESIGN.md); built
// from NIP-61's published tag/content shape.
type Nutzap struct {
	MintURL     string         `json:"mint_url"`
	Proofs      []*cashu.Proof `json:"proofs,omitempty"`
	Recipient   string         `json:"recipient,omitempty"`
	EventID     string         `json:"event_id,omitempty"`
	Content     string         `json:"content,omitempty"`
	DLEQChecked bool           `json:"dleq_checked,omitempty"`
	DLEQValid   bool           `json:"dleq_valid,omitempty"`
}

func (r *Registry) parseNutzap(ev *event.E) (*Nutzap, []*request.R, error) {
	mintTag := firstTagValue(ev.Tags, "u")
	if mintTag == "" {
		return nil, nil, errMissingField("nutzap must have a u (mint) tag")
	}
	out := &Nutzap{MintURL: mintTag, Content: string(ev.Content)}
	for _, t := range ev.Tags.GetAll("proof") {
		if t.Len() < 2 {
			continue
		}
		var p cashu.Proof
		if err := json.Unmarshal([]byte(t.At(1)), &p); err == nil {
			out.Proofs = append(out.Proofs, &p)
		}
	}
	if pTag := lastTag(ev.Tags, "p"); pTag != nil && pTag.Len() >= 2 {
		out.Recipient = pTag.At(1)
	}
	if eTag := lastTag(ev.Tags, "e"); eTag != nil && eTag.Len() >= 2 {
		out.EventID = eTag.At(1)
	}
	r.verifyProofDLEQ(out.Proofs, mintTag, &out.DLEQChecked, &out.DLEQValid)

	var reqs []*request.R
	if out.Recipient != "" {
		reqs = append(reqs, profileRequest(out.Recipient))
	}
	return out, reqs, nil
}

// prepareNutzap encrypts then signs (spec §4.5's Preparation paragraph
// lists 9321 among the privacy kinds), even though NIP-61 nutzaps are
// published in the clear elsewhere in the ecosystem so mints and
// recipients can verify proofs without holding the sender's key — this
// engine follows the spec text as written rather than NIP-61 convention.
func (r *Registry) prepareNutzap(tpl *event.Template) (*event.E, error) {
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}

// verifyProofDLEQ checks every DLEQ-bearing proof against the mint's known
// keyset public key (spec §4.7). MintKeys has no entry for mintURL when
// the host hasn't fetched the mint's keyset yet; proofs are then left
// unverified rather than rejected, matching the tolerant "decrypted=false
// on failure" posture the spec applies to every privacy kind.
func (r *Registry) verifyProofDLEQ(proofs []*cashu.Proof, mintURL string, checked, valid *bool) {
	key, ok := r.MintKeys[mintURL]
	if !ok {
		return
	}
	for _, p := range proofs {
		if !p.HasDLEQ() {
			continue
		}
		*checked = true
		ok, err := cashu.VerifyDLEQ(p, key)
		if err != nil || !ok {
			*valid = false
			return
		}
	}
	if *checked {
		*valid = true
	}
}

func parseUnixSeconds(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
