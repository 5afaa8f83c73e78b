package selector

import (
	"strings"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// FormatPrimer renders one line per memory:
//
//	- 2024-05-01 • Discussed Q3 pricing (#pricing #q3)
//
// Dates are UTC. At most Config.PrimerTagsPerLine tags are shown and the
// parenthesized group is omitted when a memory has none.
func (s *Selector) FormatPrimer(memories []memory.Memory) string {
	var b strings.Builder
	for _, m := range memories {
		s.writeLine(&b, m.Timestamp, m.Summary, m.Tags)
	}
	return b.String()
}

// FormatPerformerPrimer renders performer memories like FormatPrimer.
func (s *Selector) FormatPerformerPrimer(memories []memory.PerformerMemory) string {
	var b strings.Builder
	for _, m := range memories {
		s.writeLine(&b, m.Timestamp, m.Summary, m.Tags)
	}
	return b.String()
}

func (s *Selector) writeLine(b *strings.Builder, ts time.Time, summary string, tags []string) {
	b.WriteString("- ")
	b.WriteString(ts.UTC().Format("2006-01-02"))
	b.WriteString(" • ")
	b.WriteString(strings.Join(strings.Fields(summary), " "))

	if n := min(len(tags), s.cfg.PrimerTagsPerLine); n > 0 {
		b.WriteString(" (")
		for i, t := range tags[:n] {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteByte('#')
			b.WriteString(t)
		}
		b.WriteByte(')')
	}
	b.WriteByte('\n')
}
