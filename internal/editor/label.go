package editor

import (
	"strings"
	"unicode"
)

const DefaultLabelPrefix = "sw-"

// CanonicalPrefix puts a configured prefix in the form NormalizeLabel
// produces: "SW", "sw--" and "Sw " all become "sw-". A blank prefix, or one
// with nothing left after normalizing, yields DefaultLabelPrefix.
func CanonicalPrefix(prefix string) string {
	p := NormalizeLabel("", prefix)
	if p == "" {
		return DefaultLabelPrefix
	}
	return p + "-"
}

// NormalizeLabel lower-cases raw, breaks camel case and whitespace runs
// into single hyphens, and makes sure the result starts with prefix.
// For a prefix in CanonicalPrefix form, applying it to its own output
// returns the same string.
func NormalizeLabel(prefix, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(prefix) + len(raw) + 4)
	var prev rune
	pendingHyphen := false
	for i, r := range raw {
		if unicode.IsSpace(r) || r == '-' {
			pendingHyphen = b.Len() > 0
			prev = r
			continue
		}
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
			pendingHyphen = true
		}
		if pendingHyphen {
			b.WriteByte('-')
			pendingHyphen = false
		}
		b.WriteRune(unicode.ToLower(r))
		prev = r
	}
	out := b.String()
	if out == "" {
		return ""
	}
	if prefix != "" && !strings.HasPrefix(out, prefix) {
		out = prefix + out
	}
	return out
}
