package parser

import (
	"sort"
	"strings"

	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/hex"
	"nostrengine.dev/request"
)

// DirectMessage is the kind-4 projection, grounded on
// original_source/src/parser/src/parser/kind4.rs's Kind4Parsed. Unlike the
// Rust original (NIP-04 only), decryption here tries NIP-44 first and falls
// back to NIP-04, per spec §4.5's explicit "NIP-44 preferred, NIP-04
// fallback" rule for this kind.
type DirectMessage struct {
	ChatID           string         `json:"chat_id"`
	Recipient        string         `json:"recipient"`
	Decrypted        bool           `json:"decrypted"`
	DecryptedContent string         `json:"decrypted_content,omitempty"`
	ParsedContent    []ContentBlock `json:"parsed_content,omitempty"`
}

func chatID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "_")
}

func (r *Registry) parseDirectMessage(ev *event.E) (*DirectMessage, []*request.R, error) {
	pTag := lastTag(ev.Tags, "p")
	if pTag == nil || pTag.Len() < 2 || pTag.At(1) == "" {
		return nil, nil, errMissingField("direct message must have a p tag")
	}
	recipient := pTag.At(1)
	sender := hex.Enc(ev.Pubkey)

	out := &DirectMessage{
		ChatID:    chatID(sender, recipient),
		Recipient: recipient,
	}

	reqs := []*request.R{profileRequest(sender), profileRequest(recipient)}

	recipientBytes, err := hex.Dec(recipient)
	if err == nil {
		if pt, ok := decryptWithFallback(r.svc, recipientBytes, string(ev.Content)); ok {
			out.Decrypted = true
			out.DecryptedContent = string(pt)
			out.ParsedContent = parseContent(string(pt))
		}
	}

	return out, reqs, nil
}

func (r *Registry) prepareDirectMessage(tpl *event.Template) (*event.E, error) {
	pTag := lastTag(tpl.Tags, "p")
	if pTag == nil || pTag.Len() < 2 || pTag.At(1) == "" {
		return nil, errorf.C(errorf.MissingField, "direct message template must have a p tag")
	}
	peerPub, err := hex.Dec(pTag.At(1))
	if err != nil {
		return nil, errorf.C(errorf.InvalidFormat, "recipient pubkey: %v", err)
	}
	enc, err := r.encryptTemplate(tpl, peerPub)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}
