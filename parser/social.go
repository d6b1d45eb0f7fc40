package parser

import (
	"strconv"
	"strings"

	"nostrengine.dev/event"
	"nostrengine.dev/hex"
	"nostrengine.dev/request"
)

// LiveActivityRef is the required "a" tag a kind-1311 message anchors to:
// a reference to its kind-30311 live activity.
type LiveActivityRef struct {
	Kind       uint16 `json:"kind"`
	Pubkey     string `json:"pubkey"`
	Identifier string `json:"identifier"`
	Relay      string `json:"relay,omitempty"`
}

// LiveChat is the kind-1311 projection (NIP-53), grounded on kind1311.rs.
type LiveChat struct {
	ParsedContent []ContentBlock   `json:"parsed_content"`
	Activity      LiveActivityRef  `json:"activity"`
	ThreadRefs    []string         `json:"thread_refs,omitempty"`
	Mentions      []ProfilePointer `json:"mentions,omitempty"`
}

func (r *Registry) parseLiveChat(ev *event.E) (*LiveChat, []*request.R, error) {
	var activity *LiveActivityRef
	for _, t := range ev.Tags.GetAll("a") {
		if t.Len() < 2 {
			continue
		}
		parts := strings.SplitN(t.At(1), ":", 3)
		if len(parts) != 3 {
			continue
		}
		n, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil || n != 30311 {
			continue
		}
		a := &LiveActivityRef{Kind: uint16(n), Pubkey: parts[1], Identifier: parts[2]}
		if t.Len() >= 3 {
			a.Relay = t.At(2)
		}
		activity = a
		break
	}
	if activity == nil {
		return nil, nil, errMissingField("kind 1311 requires an a tag referencing a live activity")
	}

	out := &LiveChat{
		ParsedContent: parseContent(string(ev.Content)),
		Activity:      *activity,
		Mentions:      extractMentions(ev),
	}
	for _, t := range ev.Tags.GetAll("e") {
		if t.Len() >= 2 && t.At(1) != "" {
			out.ThreadRefs = append(out.ThreadRefs, t.At(1))
		}
	}

	var reqs []*request.R
	for _, m := range out.Mentions {
		reqs = append(reqs, profileRequest(m.Pubkey))
	}
	return out, reqs, nil
}

// ZapReceipt is the kind-9735 projection (NIP-57): a relay-attested
// confirmation that a zap request's invoice was paid. Absent from the
// retrieval pack's Rust originals (see DESIGN.md); built from NIP-57's
// published tag shape (bolt11/description/preimage tags plus the zapped
// event/profile reference) rather than translated from existing code.
type ZapReceipt struct {
	Bolt11      string `json:"bolt11,omitempty"`
	Description string `json:"description,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	EventID     string `json:"event_id,omitempty"`
	Sender      string `json:"sender,omitempty"`
}

func (r *Registry) parseZapReceipt(ev *event.E) (*ZapReceipt, []*request.R, error) {
	out := &ZapReceipt{
		Bolt11:      firstTagValue(ev.Tags, "bolt11"),
		Description: firstTagValue(ev.Tags, "description"),
		Preimage:    firstTagValue(ev.Tags, "preimage"),
		Recipient:   firstTagValue(ev.Tags, "p"),
		EventID:     firstTagValue(ev.Tags, "e"),
	}
	if out.Recipient == "" {
		return nil, nil, errMissingField("zap receipt must have a p tag")
	}
	// The paying user's pubkey rides inside the embedded zap-request event
	// (kind 9734) the description tag carries, not as a top-level field;
	// this engine treats that description JSON as opaque content for hosts
	// to decode, matching spec §4.5's "no markdown/content parsing" stance
	// on kinds it doesn't otherwise tokenize.
	if pk := firstTagValue(ev.Tags, "P"); pk != "" {
		out.Sender = pk
	}

	var reqs []*request.R
	reqs = append(reqs, profileRequest(out.Recipient))
	if out.Sender != "" {
		reqs = append(reqs, profileRequest(out.Sender))
	}
	return out, reqs, nil
}

// LongForm is the kind-30023 projection (NIP-23), grounded on kind30023.rs.
type LongForm struct {
	Slug        string   `json:"slug,omitempty"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Image       string   `json:"image,omitempty"`
	Canonical   string   `json:"canonical,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	PublishedAt int64    `json:"published_at,omitempty"`
	Naddr       string   `json:"naddr,omitempty"`
	Content     string   `json:"content"`
}

func (r *Registry) parseLongForm(ev *event.E) (*LongForm, []*request.R, error) {
	out := &LongForm{
		Slug:      firstTagValue(ev.Tags, "d"),
		Title:     firstTagValue(ev.Tags, "title"),
		Summary:   firstTagValue(ev.Tags, "summary"),
		Image:     firstTagValue(ev.Tags, "image"),
		Canonical: firstTagValue(ev.Tags, "canonical"),
		Topics:    ev.Tags.Values("t"),
		Content:   string(ev.Content),
	}
	if p := firstTagValue(ev.Tags, "published_at"); p != "" {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			out.PublishedAt = n
		}
	}
	if out.Slug != "" {
		out.Naddr = "30023:" + hex.Enc(ev.Pubkey) + ":" + out.Slug
	}
	return out, nil, nil
}
