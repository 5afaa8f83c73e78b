package memory

import (
	"strings"
	"unicode"
)

// NormalizeTag case-folds a tag and hyphen-normalizes it: a leading '#' is
// dropped, whitespace and underscores become hyphens, and repeated or
// surrounding hyphens are removed. "#Q3 Planning" becomes "q3-planning".
func NormalizeTag(tag string) string {
	tag = strings.TrimLeft(strings.TrimSpace(tag), "#")

	var b strings.Builder
	b.Grow(len(tag))
	lastHyphen := true // suppresses leading hyphens
	for _, r := range strings.ToLower(tag) {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
			continue
		}
		b.WriteRune(r)
		lastHyphen = false
	}
	return strings.TrimRight(b.String(), "-")
}

// NormalizeTags normalizes every tag, dropping empties and duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		n := NormalizeTag(t)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
