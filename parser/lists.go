package parser

import (
	"strconv"
	"strings"

	"nostrengine.dev/event"
	"nostrengine.dev/request"
)

// Coordinate is one "a" tag entry: "kind:pubkey:d" plus an optional relay
// hint, grounded on kind_list.rs's parse_coordinate.
type Coordinate struct {
	Kind   uint16   `json:"kind"`
	Pubkey string   `json:"pubkey"`
	D      string   `json:"d"`
	Relays []string `json:"relays,omitempty"`
}

// ListProjection is the unified NIP-51 list/set projection, covering the
// 10000..19999 and 30000..39999 ranges plus the 39089 follow-pack kind,
// grounded on kind_list.rs's ListParsed.
type ListProjection struct {
	ListKind  uint16       `json:"list_kind"`
	D         string       `json:"d,omitempty"`
	Title     string       `json:"title,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	Image     string       `json:"image,omitempty"`
	Topics    []string     `json:"topics,omitempty"`
	People    []string     `json:"people,omitempty"`
	Events    []string     `json:"events,omitempty"`
	Addresses []Coordinate `json:"addresses,omitempty"`
	Decrypted bool         `json:"decrypted,omitempty"`
}

func parseCoordinate(coord, relayHint string) (Coordinate, bool) {
	parts := strings.SplitN(coord, ":", 3)
	if len(parts) != 3 {
		return Coordinate{}, false
	}
	n, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return Coordinate{}, false
	}
	c := Coordinate{Kind: uint16(n), Pubkey: parts[1], D: parts[2]}
	if relayHint != "" {
		c.Relays = []string{relayHint}
	}
	return c, true
}

// parseList parses the tag-derived entries common to every NIP-51 list
// (spec §4.5: "extract d identifier, p/e entries, and a-coordinates
// kind:pubkey:d[:relay]"). Some list kinds (e.g. the private mute list,
// kind 10000) additionally carry an encrypted "private" entry set in
// content; when content is present, it is decrypted the same tolerant way
// every other privacy kind is and merged into the same People/Events/
// Addresses slices, since hosts consume the union regardless of source.
func (r *Registry) parseList(ev *event.E) (*ListProjection, []*request.R, error) {
	out := &ListProjection{
		ListKind: ev.Kind.K,
		D:        firstTagValue(ev.Tags, "d"),
		Title:    firstTagValue(ev.Tags, "title"),
		Image:    firstTagValue(ev.Tags, "image"),
		Topics:   ev.Tags.Values("t"),
	}
	out.Summary = firstTagValue(ev.Tags, "summary")
	if out.Summary == "" {
		out.Summary = firstTagValue(ev.Tags, "description")
	}

	for _, t := range ev.Tags.GetAll("p") {
		if t.Len() >= 2 && t.At(1) != "" {
			out.People = append(out.People, t.At(1))
		}
	}
	for _, t := range ev.Tags.GetAll("e") {
		if t.Len() >= 2 && t.At(1) != "" {
			out.Events = append(out.Events, t.At(1))
		}
	}
	for _, t := range ev.Tags.GetAll("a") {
		if t.Len() < 2 {
			continue
		}
		relay := ""
		if t.Len() >= 3 {
			relay = t.At(2)
		}
		if c, ok := parseCoordinate(t.At(1), relay); ok {
			out.Addresses = append(out.Addresses, c)
		}
	}

	if len(ev.Content) > 0 {
		if pt, ok := decryptWithFallback(r.svc, ev.Pubkey, string(ev.Content)); ok {
			out.Decrypted = true
			for _, t := range parseNostrTagsJSON(pt) {
				if len(t) < 2 {
					continue
				}
				switch t[0] {
				case "p":
					out.People = appendUnique(out.People, t[1])
				case "e":
					out.Events = appendUnique(out.Events, t[1])
				case "a":
					relay := ""
					if len(t) >= 3 {
						relay = t[2]
					}
					if c, ok := parseCoordinate(t[1], relay); ok {
						out.Addresses = append(out.Addresses, c)
					}
				}
			}
		}
	}

	return out, nil, nil
}

// prepareList encrypts content (when present — public lists publish an
// empty body) and signs, matching SPEC_FULL.md's inclusion of the NIP-51
// family among the privacy kinds requiring encryption before signing.
func (r *Registry) prepareList(tpl *event.Template) (*event.E, error) {
	if len(tpl.Content) == 0 {
		return r.signTemplate(tpl)
	}
	enc, err := r.encryptTemplate(tpl, nil)
	if err != nil {
		return nil, err
	}
	return r.signTemplate(enc)
}
