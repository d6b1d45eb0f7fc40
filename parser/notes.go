package parser

import (
	"strconv"
	"strings"

	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	"nostrengine.dev/hex"
	"nostrengine.dev/request"
)

// TextNote is the kind-1 projection (spec §4.5): content tokenized into
// blocks. Mentions and hashtags appear only as blocks in ParsedContent;
// there are no separate mention or hashtag fields.
type TextNote struct {
	ParsedContent []ContentBlock `json:"parsed_content"`
}

func (r *Registry) parseTextNote(ev *event.E) (*TextNote, []*request.R, error) {
	blocks := parseContent(string(ev.Content))
	var reqs []*request.R
	// Profile-fetch Requests for p-tag mentions (SPEC_FULL.md supplement).
	// Content-embedded npub/nprofile mentions are not resolved into
	// requests here: with no bech32 codec in the retrieval pack (see
	// DESIGN.md), their raw identifier can't be turned into a pubkey to
	// query for.
	for _, t := range ev.Tags.GetAll("p") {
		if t.Len() < 2 || t.At(1) == "" {
			continue
		}
		reqs = append(reqs, profileRequest(t.At(1)))
	}
	return &TextNote{ParsedContent: blocks}, reqs, nil
}

// Repost is the kind-6 projection. The nested event, when present in
// content, is stored as its own parsed projection (kind 1 only — spec
// §4.5); otherwise a follow-up Request fetches the referenced id (ground:
// original_source's kind6.rs).
type Repost struct {
	RepostedEvent *parsedNote `json:"reposted_event,omitempty"`
}

// parsedNote is the minimal boxed shape kept for a reposted event: just
// enough of the original to render without re-deriving requests for it.
type parsedNote struct {
	ID        string    `json:"id"`
	Pubkey    string    `json:"pubkey"`
	CreatedAt int64     `json:"created_at"`
	TextNote  TextNote  `json:"text_note"`
}

func (r *Registry) parseRepost(ev *event.E) (*Repost, []*request.R, error) {
	eTag := lastTag(ev.Tags, "e")
	var reqs []*request.R
	out := &Repost{}

	if len(ev.Content) > 0 {
		nested := event.New()
		if _, err := nested.Unmarshal(ev.Content); err == nil && nested.Kind != nil && nested.Kind.K == 1 && len(nested.ID) > 0 {
			tn, _, _ := r.parseTextNote(nested)
			out.RepostedEvent = &parsedNote{
				ID:        hex.Enc(nested.ID),
				Pubkey:    hex.Enc(nested.Pubkey),
				CreatedAt: nested.CreatedAt.I64(),
				TextNote:  *tn,
			}
		}
	}

	if out.RepostedEvent == nil {
		if eTag == nil || eTag.Len() < 2 {
			return nil, nil, errMissingField("repost must have at least one e tag")
		}
		relayHint := ""
		if eTag.Len() >= 3 {
			relayHint = eTag.At(2)
		}
		reqs = append(reqs, eventRequest(eTag.At(1), relayHint))
	}

	return out, reqs, nil
}

// ReactionType classifies a kind-7/17 reaction's content (ground:
// kind7.rs/kind17.rs).
type ReactionType string

const (
	ReactionLike    ReactionType = "like"
	ReactionDislike ReactionType = "dislike"
	ReactionEmoji   ReactionType = "emoji"
	ReactionCustom  ReactionType = "custom"
)

type Emoji struct {
	Shortcode string `json:"shortcode"`
	URL       string `json:"url"`
}

// Reaction is the shared projection for kind 7 (event reaction) and kind 17
// (website reaction, NIP-25 sibling). EventID/Pubkey/EventKind/Target are
// left empty for kind 17, which reacts to a URL rather than an event.
type Reaction struct {
	Type             ReactionType `json:"type"`
	EventID          string       `json:"event_id,omitempty"`
	Pubkey           string       `json:"pubkey,omitempty"`
	EventKind        *uint16      `json:"event_kind,omitempty"`
	Emoji            *Emoji       `json:"emoji,omitempty"`
	TargetCoordinate string       `json:"target_coordinate,omitempty"`
	URL              string       `json:"url,omitempty"`
}

func classifyReaction(content string) ReactionType {
	switch {
	case content == "+" || content == "":
		return ReactionLike
	case content == "-":
		return ReactionDislike
	case strings.HasPrefix(content, ":") && strings.HasSuffix(content, ":") && len(content) > 2:
		return ReactionEmoji
	default:
		return ReactionCustom
	}
}

func parseEmoji(ev *event.E, content string) *Emoji {
	shortcode := content[1 : len(content)-1]
	if shortcode == "" {
		return nil
	}
	for _, t := range ev.Tags.GetAll("emoji") {
		if t.Len() >= 3 && t.At(1) == shortcode {
			return &Emoji{Shortcode: shortcode, URL: t.At(2)}
		}
	}
	return nil
}

func (r *Registry) parseReaction(ev *event.E, targeted bool) (*Reaction, []*request.R, error) {
	content := string(ev.Content)
	reactionType := classifyReaction(content)
	out := &Reaction{Type: reactionType}
	if reactionType == ReactionEmoji {
		out.Emoji = parseEmoji(ev, content)
	}

	if !targeted {
		found := false
		for _, t := range ev.Tags.GetAll("r") {
			if t.Len() >= 2 {
				out.URL = t.At(1)
				found = true
				break
			}
		}
		if !found {
			return nil, nil, errMissingField("kind 17 must have an r tag")
		}
		return out, nil, nil
	}

	eTag := lastTag(ev.Tags, "e")
	if eTag == nil || eTag.Len() < 2 {
		return nil, nil, errMissingField("reaction must have at least one e tag")
	}
	out.EventID = eTag.At(1)

	if pTag := lastTag(ev.Tags, "p"); pTag != nil && pTag.Len() >= 2 {
		out.Pubkey = pTag.At(1)
	}
	if kTag := lastTag(ev.Tags, "k"); kTag != nil && kTag.Len() >= 2 {
		if n, err := strconv.ParseUint(kTag.At(1), 10, 16); err == nil {
			v := uint16(n)
			out.EventKind = &v
		}
	}
	if aTag := lastTag(ev.Tags, "a"); aTag != nil && aTag.Len() >= 2 {
		out.TargetCoordinate = aTag.At(1)
	}

	var reqs []*request.R
	if out.Pubkey != "" {
		reqs = append(reqs, profileRequest(out.Pubkey))
	}
	return out, reqs, nil
}

// ProfilePointer is a p-tag reference with an optional relay hint.
type ProfilePointer struct {
	Pubkey string   `json:"pubkey"`
	Relays []string `json:"relays,omitempty"`
}

func extractMentions(ev *event.E) []ProfilePointer {
	var out []ProfilePointer
	for _, t := range ev.Tags.GetAll("p") {
		if t.Len() < 2 {
			continue
		}
		p := ProfilePointer{Pubkey: t.At(1)}
		if t.Len() >= 3 && t.At(2) != "" {
			p.Relays = []string{t.At(2)}
		}
		out = append(out, p)
	}
	return out
}

// ImetaData is one "imeta" tag's decoded fields (ground: kind20.rs).
type ImetaData struct {
	URL           string   `json:"url"`
	MimeType      string   `json:"mime_type,omitempty"`
	Dim           string   `json:"dim,omitempty"`
	Alt           string   `json:"alt,omitempty"`
	Blurhash      string   `json:"blurhash,omitempty"`
	Hash          string   `json:"hash,omitempty"`
	Fallback      []string `json:"fallback,omitempty"`
	AnnotateUser  string   `json:"annotate_user,omitempty"`
}

func imetaFields(t []string) map[string][]string {
	out := map[string][]string{}
	for _, f := range t[1:] {
		key, value, ok := strings.Cut(f, " ")
		if !ok {
			continue
		}
		out[key] = append(out[key], strings.TrimSpace(value))
	}
	return out
}

func first(m map[string][]string, key string) string {
	if v := m[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func extractImeta(ev *event.E) []ImetaData {
	var out []ImetaData
	for _, t := range ev.Tags.GetAll("imeta") {
		ss := t.ToStrings()
		if len(ss) < 2 {
			continue
		}
		f := imetaFields(ss)
		url := first(f, "url")
		if url == "" {
			continue
		}
		out = append(out, ImetaData{
			URL:          url,
			MimeType:     first(f, "m"),
			Dim:          first(f, "dim"),
			Alt:          first(f, "alt"),
			Blurhash:     first(f, "blurhash"),
			Hash:         first(f, "x"),
			Fallback:     f["fallback"],
			AnnotateUser: first(f, "annotate-user"),
		})
	}
	return out
}

// Picture is the kind-20 projection (NIP-68).
type Picture struct {
	Title           string           `json:"title,omitempty"`
	Description     string           `json:"description"`
	Images          []ImetaData      `json:"images,omitempty"`
	ContentWarning  string           `json:"content_warning,omitempty"`
	Location        string           `json:"location,omitempty"`
	Geohash         string           `json:"geohash,omitempty"`
	Hashtags        []string         `json:"hashtags,omitempty"`
	Mentions        []ProfilePointer `json:"mentions,omitempty"`
}

func (r *Registry) parsePicture(ev *event.E) (*Picture, []*request.R, error) {
	return &Picture{
		Title:          firstTagValue(ev.Tags, "title"),
		Description:    string(ev.Content),
		Images:         extractImeta(ev),
		ContentWarning: firstTagValue(ev.Tags, "content-warning"),
		Location:       firstTagValue(ev.Tags, "location"),
		Geohash:        firstTagValue(ev.Tags, "g"),
		Hashtags:       ev.Tags.Values("t"),
		Mentions:       extractMentions(ev),
	}, nil, nil
}

// VideoVariant is one "imeta" tag's decoded fields for a kind-22 video
// (ground: kind22.rs), a superset of ImetaData with duration/bitrate.
type VideoVariant struct {
	URL      string   `json:"url"`
	MimeType string   `json:"mime_type,omitempty"`
	Dim      string   `json:"dim,omitempty"`
	Blurhash string   `json:"blurhash,omitempty"`
	Hash     string   `json:"hash,omitempty"`
	Duration float64  `json:"duration,omitempty"`
	Bitrate  uint64   `json:"bitrate,omitempty"`
	Image    string   `json:"image,omitempty"`
	Fallback []string `json:"fallback,omitempty"`
}

func extractVideoImeta(ev *event.E) []VideoVariant {
	var out []VideoVariant
	for _, t := range ev.Tags.GetAll("imeta") {
		ss := t.ToStrings()
		if len(ss) < 2 {
			continue
		}
		f := imetaFields(ss)
		url := first(f, "url")
		if url == "" {
			continue
		}
		v := VideoVariant{
			URL:      url,
			MimeType: first(f, "m"),
			Dim:      first(f, "dim"),
			Blurhash: first(f, "blurhash"),
			Hash:     first(f, "x"),
			Image:    first(f, "image"),
			Fallback: f["fallback"],
		}
		if d := first(f, "duration"); d != "" {
			if fv, err := strconv.ParseFloat(d, 64); err == nil {
				v.Duration = fv
			}
		}
		if b := first(f, "bitrate"); b != "" {
			if bv, err := strconv.ParseUint(b, 10, 64); err == nil {
				v.Bitrate = bv
			}
		}
		out = append(out, v)
	}
	return out
}

// Video is the kind-22 projection (NIP-71 short-form video).
type Video struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Videos         []VideoVariant   `json:"videos,omitempty"`
	Alt            string           `json:"alt,omitempty"`
	ContentWarning string           `json:"content_warning,omitempty"`
	Duration       float64          `json:"duration,omitempty"`
	PublishedAt    int64            `json:"published_at,omitempty"`
	Hashtags       []string         `json:"hashtags,omitempty"`
	Participants   []ProfilePointer `json:"participants,omitempty"`
}

func (r *Registry) parseVideo(ev *event.E) (*Video, []*request.R, error) {
	out := &Video{
		Title:          firstTagValue(ev.Tags, "title"),
		Description:    string(ev.Content),
		Videos:         extractVideoImeta(ev),
		Alt:            firstTagValue(ev.Tags, "alt"),
		ContentWarning: firstTagValue(ev.Tags, "content-warning"),
		Hashtags:       ev.Tags.Values("t"),
		Participants:   extractMentions(ev),
	}
	if d := firstTagValue(ev.Tags, "duration"); d != "" {
		if fv, err := strconv.ParseFloat(d, 64); err == nil {
			out.Duration = fv
		}
	}
	if p := firstTagValue(ev.Tags, "published_at"); p != "" {
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			out.PublishedAt = n
		}
	}
	return out, nil, nil
}

// ThreadComment is the kind-1111 projection (NIP-22): a comment anchored to
// a root scope and, when replying to another comment, a parent scope.
// Absent from the retrieval pack (see DESIGN.md); built directly from
// NIP-22's published tag shape (uppercase root tags, lowercase parent
// tags).
type ThreadComment struct {
	ParsedContent []ContentBlock `json:"parsed_content"`
	RootEventID   string         `json:"root_event_id,omitempty"`
	RootKind      string         `json:"root_kind,omitempty"`
	RootPubkey    string         `json:"root_pubkey,omitempty"`
	RootAddress   string         `json:"root_address,omitempty"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	ParentKind    string         `json:"parent_kind,omitempty"`
	ParentPubkey  string         `json:"parent_pubkey,omitempty"`
	ParentAddress string         `json:"parent_address,omitempty"`
}

func (r *Registry) parseThreadComment(ev *event.E) (*ThreadComment, []*request.R, error) {
	out := &ThreadComment{
		ParsedContent: parseContent(string(ev.Content)),
		RootEventID:   firstTagValue(ev.Tags, "E"),
		RootKind:      firstTagValue(ev.Tags, "K"),
		RootPubkey:    firstTagValue(ev.Tags, "P"),
		RootAddress:   firstTagValue(ev.Tags, "A"),
		ParentEventID: firstTagValue(ev.Tags, "e"),
		ParentKind:    firstTagValue(ev.Tags, "k"),
		ParentPubkey:  firstTagValue(ev.Tags, "p"),
		ParentAddress: firstTagValue(ev.Tags, "a"),
	}
	var reqs []*request.R
	if out.ParentPubkey != "" {
		reqs = append(reqs, profileRequest(out.ParentPubkey))
	}
	return out, reqs, nil
}

// errMissingField is a tiny convenience matching the MissingField taxonomy
// code (spec §7) used throughout this package's parsers.
func errMissingField(format string, args ...any) error {
	return errorf.C(errorf.MissingField, format, args...)
}
