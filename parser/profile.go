package parser

import (
	"encoding/json"
	"strings"

	"nostrengine.dev/event"
	"nostrengine.dev/hex"
	"nostrengine.dev/relayurl"
	"nostrengine.dev/request"
)

// Profile is the kind-0 projection, grounded on
// nostr-worker/src/parser/kind0.rs's Kind0Parsed: the common field set plus
// the alternate-naming fallbacks some clients publish instead of the
// canonical ones.
type Profile struct {
	Pubkey      string `json:"pubkey"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Banner      string `json:"banner,omitempty"`
	About       string `json:"about,omitempty"`
	Website     string `json:"website,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	Lud06       string `json:"lud06,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Github      string `json:"github,omitempty"`
	Twitter     string `json:"twitter,omitempty"`
	Mastodon    string `json:"mastodon,omitempty"`
	Nostr       string `json:"nostr,omitempty"`

	// Alternate field names some clients publish instead of the above.
	DisplayNameAlt string `json:"display_name_alt,omitempty"`
	Username       string `json:"username,omitempty"`
	Bio            string `json:"bio,omitempty"`
	Image          string `json:"image,omitempty"`
	Avatar         string `json:"avatar,omitempty"`
	Background     string `json:"background,omitempty"`
}

func (r *Registry) parseProfile(ev *event.E) (*Profile, []*request.R, error) {
	p := &Profile{Pubkey: hex.Enc(ev.Pubkey)}

	if len(ev.Content) > 0 {
		var raw map[string]string
		if err := json.Unmarshal(ev.Content, &raw); err == nil {
			for k, v := range raw {
				if v == "" {
					continue
				}
				switch k {
				case "name":
					p.Name = v
				case "display_name":
					p.DisplayName = v
				case "displayName":
					p.DisplayNameAlt = v
				case "username":
					p.Username = v
				case "picture":
					p.Picture = v
				case "image":
					p.Image = v
				case "avatar":
					p.Avatar = v
				case "banner":
					p.Banner = v
				case "background":
					p.Background = v
				case "about":
					p.About = v
				case "bio":
					p.Bio = v
				case "website":
					p.Website = v
				case "nip05":
					p.Nip05 = v
				case "lud06":
					p.Lud06 = v
				case "lud16":
					p.Lud16 = v
				case "github":
					p.Github = v
				case "twitter":
					p.Twitter = v
				case "mastodon":
					p.Mastodon = v
				case "nostr":
					p.Nostr = v
				}
			}
		}
	}

	// Fallback: name <- display_name <- displayName (spec §4.5 kind 0 note).
	if p.Name == "" {
		switch {
		case p.DisplayName != "":
			p.Name = p.DisplayName
		case p.DisplayNameAlt != "":
			p.Name = p.DisplayNameAlt
		}
	}

	return p, nil, nil
}

// Contact is one entry of a kind-3 follow list, grounded on
// rust-worker/src/parser/kind3.rs's Contact/Kind3Parsed.
type Contact struct {
	Pubkey  string `json:"pubkey"`
	Relay   string `json:"relay,omitempty"`
	Petname string `json:"petname,omitempty"`
}

type Contacts struct {
	Contacts []Contact `json:"contacts"`
}

func (r *Registry) parseContacts(ev *event.E) (*Contacts, []*request.R, error) {
	out := &Contacts{}
	for _, t := range ev.Tags.GetAll("p") {
		if t.Len() < 2 {
			continue
		}
		c := Contact{Pubkey: t.At(1)}
		if t.Len() >= 3 && t.At(2) != "" {
			c.Relay = t.At(2)
		}
		if t.Len() >= 4 && t.At(3) != "" {
			c.Petname = t.At(3)
		}
		out.Contacts = append(out.Contacts, c)
	}
	return out, nil, nil
}

// RelayInfo is one entry of a kind-10002 relay list (NIP-65).
type RelayInfo struct {
	URL   string `json:"url"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

type RelayList struct {
	Relays []RelayInfo `json:"relays"`
}

// normalizeRelayURL applies the wss-default normalization spec §4.5
// names for kind 10002, grounded on rust-worker/src/parser/kind10002.rs's
// normalize_relay_url.
func normalizeRelayURL(u string) string {
	n, ok := relayurl.Normalize(u)
	if !ok {
		return ""
	}
	return n
}

func (r *Registry) parseRelayList(ev *event.E) (*RelayList, []*request.R, error) {
	dedup := map[string]RelayInfo{}
	order := make([]string, 0, 4)
	for _, t := range ev.Tags.GetAll("r") {
		if t.Len() < 2 || t.At(1) == "" {
			continue
		}
		u := normalizeRelayURL(t.At(1))
		if u == "" {
			continue
		}
		marker := ""
		if t.Len() >= 3 {
			marker = strings.ToLower(t.At(2))
		}
		if _, ok := dedup[u]; !ok {
			order = append(order, u)
		}
		dedup[u] = RelayInfo{
			URL:   u,
			Read:  marker == "" || marker == "read",
			Write: marker == "" || marker == "write",
		}
	}
	out := &RelayList{Relays: make([]RelayInfo, 0, len(order))}
	for _, u := range order {
		out.Relays = append(out.Relays, dedup[u])
	}
	return out, nil, nil
}
