package parser

import (
	"encoding/json"

	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/hex"
	"nostrengine.dev/request"
)

// parseNostrTagsJSON decodes a kind-17375 decrypted body (a JSON array of
// string-array tags, kind17375.rs's NostrTags) tolerating malformed input
// by returning nil rather than erroring, matching the tolerant posture the
// rest of this package applies to decrypted content.
func parseNostrTagsJSON(b []byte) [][]string {
	var tt [][]string
	if err := json.Unmarshal(b, &tt); err != nil {
		return nil
	}
	return tt
}

// derivePubkeyHex returns the x-only public key hex for a 32-byte secret
// key hex, or "" if it doesn't decode to a valid key (kind17375.rs derives
// this the same way, via k256::schnorr::SigningKey).
func derivePubkeyHex(skHex string) string {
	sk, err := hex.Dec(skHex)
	if err != nil || len(sk) != 32 {
		return ""
	}
	pub, err := schnorr.PubFromSecret(sk)
	if err != nil {
		return ""
	}
	return hex.Enc(pub)
}

// MintInfo is one trusted mint entry of a kind-10019 wallet info event.
type MintInfo struct {
	URL       string   `json:"url"`
	BaseUnits []string `json:"base_units,omitempty"`
}

// WalletInfo is the kind-10019 projection (NIP-60): the public,
// unencrypted record of which mints a wallet trusts and where nutzaps
// should be sent, grounded on kind10019.rs.
type WalletInfo struct {
	TrustedMints []MintInfo `json:"trusted_mints"`
	P2PKPubkey   string     `json:"p2pk_pubkey,omitempty"`
	ReadRelays   []string   `json:"read_relays,omitempty"`
}

func (r *Registry) parseWalletInfo(ev *event.E) (*WalletInfo, []*request.R, error) {
	out := &WalletInfo{}
	for _, t := range ev.Tags.GetAll("relay") {
		if t.Len() >= 2 && t.At(1) != "" {
			out.ReadRelays = append(out.ReadRelays, t.At(1))
		}
	}
	for _, t := range ev.Tags.GetAll("mint") {
		if t.Len() < 2 || t.At(1) == "" {
			continue
		}
		mi := MintInfo{URL: t.At(1)}
		for i := 2; i < t.Len(); i++ {
			if v := t.At(i); v != "" {
				mi.BaseUnits = append(mi.BaseUnits, v)
			}
		}
		out.TrustedMints = append(out.TrustedMints, mi)
	}
	if pTag := lastTag(ev.Tags, "pubkey"); pTag != nil && pTag.Len() >= 2 {
		out.P2PKPubkey = pTag.At(1)
	}

	// spec §4.5: kind 10019 requires at least one mint tag and a pubkey
	// tag, else InvalidTag (kind10019.rs enforces the same pair on parse).
	if len(out.TrustedMints) == 0 || out.P2PKPubkey == "" {
		return nil, nil, errorf.C(errorf.InvalidTag, "kind 10019 missing required mint or pubkey tag")
	}
	return out, nil, nil
}

// prepareWalletInfo validates the required mint/pubkey tags (kind10019.rs's
// prepare_kind_10019 validation), then encrypts and signs: SPEC_FULL.md
// names 10019 among the privacy kinds requiring NIP-44 encryption before
// signing, which diverges from the Rust original (it signs the template
// as-is, leaving mint/pubkey tags public) — followed here because the
// spec text is explicit rather than silent on this kind.
func (r *Registry) prepareWalletInfo(tpl *event.Template) (*event.E, error) {
	hasMint, hasPubkey := false, false
	for _, t := range tpl.Tags.Tags {
		if t.Len() < 2 {
			continue
		}
		switch t.At(0) {
		case "mint":
			hasMint = true
		case "pubkey":
			hasPubkey = true
		}
	}
	if !hasMint {
		return nil, errorf.C(errorf.MissingField, "kind 10019 must include at least one mint tag")
	}
	if !hasPubkey {
		return nil, errorf.C(errorf.MissingField, "kind 10019 must include a pubkey tag")
	}
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}

// WalletEvent is the kind-17375 projection (NIP-60): the private wallet
// record of trusted mints and the P2PK keypair nutzaps are locked to,
// grounded on kind17375.rs.
type WalletEvent struct {
	Mints       []string `json:"mints,omitempty"`
	P2PKPrivKey string   `json:"p2pk_priv_key,omitempty"`
	P2PKPubkey  string   `json:"p2pk_pubkey,omitempty"`
	Decrypted   bool     `json:"decrypted"`
}

func (r *Registry) parseWalletEvent(ev *event.E) (*WalletEvent, []*request.R, error) {
	out := &WalletEvent{}
	if pt, ok := decryptWithFallback(r.svc, ev.Pubkey, string(ev.Content)); ok {
		out.Decrypted = true
		for _, t := range parseNostrTagsJSON(pt) {
			if len(t) < 2 {
				continue
			}
			switch t[0] {
			case "mint":
				out.Mints = appendUnique(out.Mints, t[1])
			case "privkey":
				out.P2PKPrivKey = t[1]
				out.P2PKPubkey = derivePubkeyHex(t[1])
			}
		}
	}
	// Unencrypted mint tags are also honored (kind17375.rs merges both
	// sources), for wallets published before NIP-60 mandated encryption.
	for _, t := range ev.Tags.GetAll("mint") {
		if t.Len() >= 2 && t.At(1) != "" {
			out.Mints = appendUnique(out.Mints, t.At(1))
		}
	}
	return out, nil, nil
}

func appendUnique(ss []string, v string) []string {
	for _, s := range ss {
		if s == v {
			return ss
		}
	}
	return append(ss, v)
}

// prepareWalletEvent validates the decrypted content carries a mint and a
// private key (kind17375.rs's prepare_kind_17375 validation) before
// encrypting and signing.
func (r *Registry) prepareWalletEvent(tpl *event.Template) (*event.E, error) {
	tt := parseNostrTagsJSON(tpl.Content)
	hasMint, hasPrivkey := false, false
	for _, t := range tt {
		if len(t) < 2 {
			continue
		}
		switch t[0] {
		case "mint":
			hasMint = true
		case "privkey":
			if len(t[1]) < 32 {
				return nil, errorf.C(errorf.InvalidFormat, "private key appears invalid")
			}
			hasPrivkey = true
		}
	}
	if !hasMint {
		return nil, errorf.C(errorf.MissingField, "wallet must include at least one mint")
	}
	if !hasPrivkey {
		return nil, errorf.C(errorf.MissingField, "wallet must include a private key")
	}
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}
