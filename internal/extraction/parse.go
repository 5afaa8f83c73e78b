package extraction

import (
	"errors"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/tidwall/gjson"
)

var (
	errInvalidJSON = errors.New("response is not valid JSON")
	errNotObject   = errors.New("response is not a JSON object")
)

// ParseResult decodes a provider response. Only an invalid document or a
// non-object top level is an error: every field is type-checked on its own
// and defaulted when missing or malformed. rerankedRelevance defaults to
// the memory's current relevance.
func ParseResult(raw string, m memory.Memory) (intel.ProcessingResult, error) {
	raw = stripFences(raw)
	if !gjson.Valid(raw) {
		return intel.ProcessingResult{}, errInvalidJSON
	}
	root := gjson.Parse(raw)
	if !root.IsObject() {
		return intel.ProcessingResult{}, errNotObject
	}

	res := intel.ProcessingResult{
		ClientUpdates:        parseClients(root.Get("clientUpdates")),
		BrandUpdates:         parseBrand(root.Get("brandUpdates")),
		PerformerUpdates:     parsePerformers(root.Get("performerUpdates")),
		CalendarEntries:      parseCalendar(root.Get("calendarEntries")),
		KnowledgeConnections: parseKnowledge(root.Get("knowledgeConnections")),
		InteractionEvents:    parseInteractions(root.Get("interactionEvents")),
		RerankedRelevance:    memory.ClampRelevance(m.Relevance),
		Reasoning:            getString(root, "reasoning"),
	}
	if r := root.Get("rerankedRelevance"); r.Type == gjson.Number {
		res.RerankedRelevance = memory.ClampRelevance(r.Float())
	}
	return res, nil
}

// stripFences removes a surrounding ```json ... ``` block.
func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```")
	if nl := strings.IndexByte(raw, '\n'); nl >= 0 {
		raw = raw[nl+1:]
	} else {
		raw = strings.TrimPrefix(raw, "json")
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}

func getString(v gjson.Result, key string) string {
	r := v.Get(key)
	if r.Type != gjson.String {
		return ""
	}
	return strings.TrimSpace(r.Str)
}

// getStrings accepts an array of strings or a single string.
func getStrings(v gjson.Result, key string) []string {
	r := v.Get(key)
	switch {
	case r.Type == gjson.String:
		if s := strings.TrimSpace(r.Str); s != "" {
			return []string{s}
		}
		return nil
	case r.IsArray():
		var out []string
		for _, item := range r.Array() {
			if item.Type != gjson.String {
				continue
			}
			if s := strings.TrimSpace(item.Str); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func getNumber(v gjson.Result, key string) float64 {
	r := v.Get(key)
	if r.Type != gjson.Number {
		return 0
	}
	return r.Float()
}

// objects returns the object elements of an array value, or none.
func objects(v gjson.Result) []gjson.Result {
	if !v.IsArray() {
		return nil
	}
	var out []gjson.Result
	for _, item := range v.Array() {
		if item.IsObject() {
			out = append(out, item)
		}
	}
	return out
}

func parseClients(v gjson.Result) []intel.ClientUpdate {
	out := []intel.ClientUpdate{}
	for _, o := range objects(v) {
		u := intel.ClientUpdate{
			ID:          getString(o, "id"),
			Name:        getString(o, "name"),
			Company:     getString(o, "company"),
			Role:        getString(o, "role"),
			PainPoints:  getStrings(o, "painPoints"),
			Goals:       getStrings(o, "goals"),
			Personality: getString(o, "personality"),
			Preferences: getStrings(o, "preferences"),
			Notes:       getString(o, "notes"),
		}
		if u.ID == "" && u.Name == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

func parseBrand(v gjson.Result) *intel.BrandUpdate {
	if !v.IsObject() {
		return nil
	}
	b := intel.BrandUpdate{
		Name:        getString(v, "name"),
		Voice:       getString(v, "voice"),
		Audience:    getString(v, "audience"),
		Positioning: getString(v, "positioning"),
		Values:      getStrings(v, "values"),
		Offerings:   getStrings(v, "offerings"),
		Notes:       getString(v, "notes"),
	}
	if b.Empty() {
		return nil
	}
	return &b
}

func parsePerformers(v gjson.Result) []intel.PerformerUpdate {
	out := []intel.PerformerUpdate{}
	for _, o := range objects(v) {
		u := intel.PerformerUpdate{
			PerformerID: getString(o, "performerId"),
			Role:        getString(o, "role"),
			Description: getString(o, "description"),
		}
		if u.PerformerID == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

func parseCalendar(v gjson.Result) []intel.CalendarEntry {
	out := []intel.CalendarEntry{}
	for _, o := range objects(v) {
		e := intel.CalendarEntry{
			Date:        getString(o, "date"),
			Title:       getString(o, "title"),
			Description: getString(o, "description"),
			Time:        getString(o, "time"),
		}
		if e.Date == "" || e.Title == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func parseKnowledge(v gjson.Result) []intel.KnowledgeConnection {
	out := []intel.KnowledgeConnection{}
	for _, o := range objects(v) {
		c := intel.KnowledgeConnection{
			Source:   getString(o, "source"),
			Relation: getString(o, "relation"),
			Target:   getString(o, "target"),
			Tags:     getStrings(o, "tags"),
		}
		if c.Source == "" || c.Relation == "" || c.Target == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

func parseInteractions(v gjson.Result) []intel.InteractionUpdate {
	out := []intel.InteractionUpdate{}
	for _, o := range objects(v) {
		e := intel.InteractionUpdate{
			Kind:         getString(o, "kind"),
			Summary:      getString(o, "summary"),
			Participants: getStrings(o, "participants"),
			Sentiment:    getString(o, "sentiment"),
			Intrigue:     memory.ClampRelevance(getNumber(o, "intrigue")),
			Date:         getString(o, "date"),
		}
		if e.Summary == "" {
			continue
		}
		if e.Kind == "" {
			e.Kind = "conversation"
		}
		out = append(out, e)
	}
	return out
}
