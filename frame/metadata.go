package frame

import (
	"fmt"
	"strings"
)

// Metadata fragments sent during subscription setup. Peers match these by
// substring, not by XML parsing, so the exact spelling matters more than
// well-formedness.
const (
	SubscribeMetadata = `<OMTSubscribe Metadata="true" />`
	SubscribeVideo    = `<OMTSubscribe Video="true" />`
	SubscribeAudio    = `<OMTSubscribe Audio="true" />`
)

// SettingsQuality builds the quality request fragment, e.g.
// `<OMTSettings Quality="Default" />`.
func SettingsQuality(quality string) string {
	return fmt.Sprintf(`<OMTSettings Quality="%s" />`, quality)
}

// Tally builds the tally fragment carrying preview/program state.
func Tally(preview, program bool) string {
	return fmt.Sprintf(`<OMTTally Preview="%t" Program="%t" />`, preview, program)
}

// Info builds the source announcement sent to every new client.
func Info(sourceName string) string {
	return fmt.Sprintf(`<OMTInfo Name="%s" />`, sourceName)
}

// MetadataText converts a metadata payload to text, trimming the NUL
// terminator or padding some senders append.
func MetadataText(payload []byte) string {
	return strings.TrimRight(string(payload), "\x00")
}

// HasToken reports whether the metadata text contains every given token,
// case-insensitively. This is the substring matching the protocol
// specifies; the fragments are XML-shaped but are never parsed as XML.
func HasToken(meta string, tokens ...string) bool {
	lower := strings.ToLower(meta)
	for _, tok := range tokens {
		if !strings.Contains(lower, strings.ToLower(tok)) {
			return false
		}
	}
	return true
}

// AttrValue extracts the value of a name="value" attribute from a metadata
// fragment, case-insensitive on the name. Returns "" when absent.
func AttrValue(meta, name string) string {
	lower := strings.ToLower(meta)
	key := strings.ToLower(name) + `="`
	i := strings.Index(lower, key)
	if i < 0 {
		return ""
	}
	rest := meta[i+len(key):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// ParseTally extracts the preview/program pair from a tally fragment.
func ParseTally(meta string) (preview, program bool) {
	preview = strings.EqualFold(AttrValue(meta, "Preview"), "true")
	program = strings.EqualFold(AttrValue(meta, "Program"), "true")
	return preview, program
}
