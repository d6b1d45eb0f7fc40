package parser

import "regexp"

// BlockType names the shape of a ContentBlock (spec §4.5 kind 1 behavior
// note: "parse content into blocks {text, mention(nprofile/npub), event
// ref, hashtag, url}").
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockMention  BlockType = "mention"
	BlockEventRef BlockType = "event_ref"
	BlockHashtag  BlockType = "hashtag"
	BlockURL      BlockType = "url"
)

// ContentBlock is one segment of a tokenized event content string.
type ContentBlock struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
	// Ident is the bech32 identifier (without an "nostr:" prefix) for a
	// mention or event_ref block. The retrieval pack has no bech32 codec
	// to ground a decode of this into raw pubkey/event-id bytes (see
	// DESIGN.md), so it is carried as-is for the host to resolve.
	Ident string `json:"ident,omitempty"`
	// Hashtag is the tag text (without the leading '#') for a hashtag
	// block.
	Hashtag string `json:"hashtag,omitempty"`
}

// tokenRe finds the spans of content that are not plain text: bare URLs,
// nostr: URIs (with or without the scheme prefix) carrying one of the
// bech32 entity prefixes, and hashtags.
var tokenRe = regexp.MustCompile(
	`https?://[^\s]+` +
		`|nostr:(?:npub1|nprofile1|note1|nevent1|naddr1)[a-zA-Z0-9]+` +
		`|\b(?:npub1|nprofile1|note1|nevent1|naddr1)[a-zA-Z0-9]+` +
		`|#\w+`,
)

// parseContent tokenizes a text-note content string into the block shapes
// spec §4.5 names for kind 1 (and, by the same rule, kind 1311's chat
// text). No concrete source in the retrieval pack implements this (the
// Rust predecessor's content.rs was not part of the retrieval — see
// DESIGN.md), so the tokenizer is built directly from the spec's textual
// description rather than translated from existing code.
func parseContent(content string) []ContentBlock {
	matches := tokenRe.FindAllStringIndex(content, -1)
	var blocks []ContentBlock
	pos := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if start > pos {
			blocks = append(blocks, ContentBlock{Type: BlockText, Text: content[pos:start]})
		}
		blocks = append(blocks, classifyToken(content[start:end]))
		pos = end
	}
	if pos < len(content) {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: content[pos:]})
	}
	return blocks
}

func classifyToken(tok string) ContentBlock {
	switch {
	case tok[0] == '#':
		return ContentBlock{Type: BlockHashtag, Text: tok, Hashtag: tok[1:]}
	case len(tok) >= 4 && tok[:4] == "http":
		return ContentBlock{Type: BlockURL, Text: tok}
	default:
		ident := tok
		if len(ident) >= 6 && ident[:6] == "nostr:" {
			ident = ident[6:]
		}
		if hasPrefix(ident, "npub1") || hasPrefix(ident, "nprofile1") {
			return ContentBlock{Type: BlockMention, Text: tok, Ident: ident}
		}
		return ContentBlock{Type: BlockEventRef, Text: tok, Ident: ident}
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
