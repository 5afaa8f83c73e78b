package extraction

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

const systemPrompt = `You extract structured business intelligence from a stored conversation memory.
Only report facts stated or clearly implied in the memory. Reuse ids and names from the
provided client profiles, performer roster and knowledge entities when they match.
Leave arrays empty when nothing applies. Respond with JSON only.`

// Context is what the provider sees besides the memory itself.
type Context struct {
	Clients    []intel.ClientProfile
	Brand      *intel.Brand
	Performers []intel.Performer
	Knowledge  []intel.KnowledgeEntity
}

type promptClient struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Role    string `json:"role,omitempty"`
}

type promptPerformer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

type promptEntity struct {
	Name      string   `json:"name"`
	Relations []string `json:"relations,omitempty"`
}

type promptPayload struct {
	MemorySummary       string            `json:"memorySummary"`
	Tags                []string          `json:"tags"`
	Relevance           float64           `json:"currentRelevance"`
	ConversationSnippet string            `json:"conversationSnippet"`
	ClientProfiles      []promptClient    `json:"clientProfiles"`
	BrandRecord         *intel.Brand      `json:"brandRecord"`
	PerformerRoster     []promptPerformer `json:"performerRoster"`
	KnowledgeEntities   []promptEntity    `json:"knowledgeEntities"`
}

// BuildPrompt renders the user prompt for m. snippet is the conversation
// snippet after scrubbing. Every list is truncated to its configured bound.
func BuildPrompt(m memory.Memory, snippet string, ectx Context, cfg Config) (string, error) {
	payload := promptPayload{
		MemorySummary:       m.Summary,
		Tags:                m.Tags,
		Relevance:           m.Relevance,
		ConversationSnippet: truncate(snippet, cfg.MaxSnippetChars),
		ClientProfiles:      []promptClient{},
		BrandRecord:         ectx.Brand,
		PerformerRoster:     []promptPerformer{},
		KnowledgeEntities:   []promptEntity{},
	}

	for _, c := range ectx.Clients[:min(len(ectx.Clients), cfg.MaxClients)] {
		payload.ClientProfiles = append(payload.ClientProfiles, promptClient{
			ID: c.ID, Name: c.Name, Company: c.Company, Role: c.Role,
		})
	}
	for _, p := range ectx.Performers[:min(len(ectx.Performers), cfg.MaxPerformers)] {
		payload.PerformerRoster = append(payload.PerformerRoster, promptPerformer{
			ID: p.ID, Name: p.Name, Role: p.Role, Description: p.Description,
		})
	}
	for _, e := range ectx.Knowledge[:min(len(ectx.Knowledge), cfg.MaxKnowledge)] {
		relations := make([]string, 0, len(e.Relationships))
		for rel := range e.Relationships {
			relations = append(relations, rel)
		}
		sort.Strings(relations)
		payload.KnowledgeEntities = append(payload.KnowledgeEntities, promptEntity{Name: e.Name, Relations: relations})
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt payload: %w", err)
	}

	var b strings.Builder
	b.WriteString("Analyze this memory and return the intelligence it contains.\n")
	b.WriteString("rerankedRelevance is your 0-10 judgement of how useful this memory is for future conversations.\n\n")
	b.Write(body)
	return b.String(), nil
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
