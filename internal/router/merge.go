package router

import (
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/google/uuid"
)

// idNamespace seeds the name-based ids of journal entries and interactions.
var idNamespace = uuid.MustParse("6f0c3b1e-4a52-4d7e-9c1a-2b8e5f7d9a30")

// journalID is stable for (date, memory, title), so re-applies collapse.
func journalID(date, memoryID, title string) string {
	return uuid.NewSHA1(idNamespace, []byte("journal\x00"+date+"\x00"+memoryID+"\x00"+strings.ToLower(title))).String()
}

// interactionID is stable for the memory and the event content.
func interactionID(memoryID string, ev intel.InteractionUpdate) string {
	key := strings.Join([]string{"interaction", memoryID, strings.ToLower(ev.Kind), ev.Summary, ev.Date}, "\x00")
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// mergeList appends the items of add not already in base, comparing
// case-insensitively. It reports whether anything was added.
func mergeList(base, add []string) ([]string, bool) {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	changed := false
	for _, s := range add {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		base = append(base, s)
		changed = true
	}
	return base, changed
}

// setString overwrites *dst with v when v is non-empty and different.
func setString(dst *string, v string) bool {
	if v == "" || *dst == v {
		return false
	}
	*dst = v
	return true
}

// mergeClient patches c with u and reports whether anything changed. u.Name
// is expected with whitespace collapsed.
func mergeClient(c *intel.ClientProfile, u intel.ClientUpdate) bool {
	changed := false
	if !strings.EqualFold(strings.Join(strings.Fields(c.Name), " "), u.Name) {
		changed = setString(&c.Name, u.Name)
	}
	changed = setString(&c.Company, u.Company) || changed
	changed = setString(&c.Role, u.Role) || changed
	changed = setString(&c.Personality, u.Personality) || changed
	changed = setString(&c.Notes, u.Notes) || changed

	var added bool
	c.PainPoints, added = mergeList(c.PainPoints, u.PainPoints)
	changed = added || changed
	c.Goals, added = mergeList(c.Goals, u.Goals)
	changed = added || changed
	c.Preferences, added = mergeList(c.Preferences, u.Preferences)
	return added || changed
}

// mergeBrand patches b with u. Fields absent from u are never cleared.
func mergeBrand(b *intel.Brand, u intel.BrandUpdate) bool {
	changed := setString(&b.Name, u.Name)
	changed = setString(&b.Voice, u.Voice) || changed
	changed = setString(&b.Audience, u.Audience) || changed
	changed = setString(&b.Positioning, u.Positioning) || changed
	changed = setString(&b.Notes, u.Notes) || changed

	var added bool
	b.Values, added = mergeList(b.Values, u.Values)
	changed = added || changed
	b.Offerings, added = mergeList(b.Offerings, u.Offerings)
	return added || changed
}
