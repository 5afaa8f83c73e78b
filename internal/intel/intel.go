// Package intel defines the structured intelligence mined from memories: the
// ProcessingResult produced by extraction and the destination records the
// router writes it into.
package intel

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a destination record does not exist.
var ErrNotFound = errors.New("record not found")

// ProcessingResult is the structured output of extraction over one memory.
// It is never persisted; it lives until applied.
type ProcessingResult struct {
	ClientUpdates        []ClientUpdate        `json:"clientUpdates"`
	BrandUpdates         *BrandUpdate          `json:"brandUpdates,omitempty"`
	PerformerUpdates     []PerformerUpdate     `json:"performerUpdates"`
	CalendarEntries      []CalendarEntry       `json:"calendarEntries"`
	KnowledgeConnections []KnowledgeConnection `json:"knowledgeConnections"`
	InteractionEvents    []InteractionUpdate   `json:"interactionEvents"`
	RerankedRelevance    float64               `json:"rerankedRelevance"`
	Reasoning            string                `json:"reasoning"`
}

// ClientUpdate patches a client profile. Empty fields are left unchanged and
// list fields are merged.
type ClientUpdate struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Company     string   `json:"company,omitempty"`
	Role        string   `json:"role,omitempty"`
	PainPoints  []string `json:"painPoints,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Preferences []string `json:"preferences,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// BrandUpdate patches the brand singleton.
type BrandUpdate struct {
	Name        string   `json:"name,omitempty"`
	Voice       string   `json:"voice,omitempty"`
	Audience    string   `json:"audience,omitempty"`
	Positioning string   `json:"positioning,omitempty"`
	Values      []string `json:"values,omitempty"`
	Offerings   []string `json:"offerings,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// Empty reports whether the update carries no field.
func (b BrandUpdate) Empty() bool {
	return b.Name == "" && b.Voice == "" && b.Audience == "" && b.Positioning == "" &&
		len(b.Values) == 0 && len(b.Offerings) == 0 && b.Notes == ""
}

// PerformerUpdate patches a performer's role and description.
type PerformerUpdate struct {
	PerformerID string `json:"performerId"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

// CalendarEntry is a dated journal item mentioned in a memory.
type CalendarEntry struct {
	Date        string `json:"date"` // YYYY-MM-DD
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Time        string `json:"time,omitempty"`
}

// KnowledgeConnection is a typed edge between two named entities.
type KnowledgeConnection struct {
	Source   string   `json:"source"`
	Relation string   `json:"relation"`
	Target   string   `json:"target"`
	Tags     []string `json:"tags,omitempty"`
}

// InteractionUpdate is an interaction event found in a memory.
type InteractionUpdate struct {
	Kind         string   `json:"kind"`
	Summary      string   `json:"summary"`
	Participants []string `json:"participants,omitempty"`
	Sentiment    string   `json:"sentiment,omitempty"`
	Intrigue     float64  `json:"intrigue,omitempty"`
	Date         string   `json:"date,omitempty"`
}

// ClientProfile is a stored client.
type ClientProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Company     string    `json:"company,omitempty"`
	Role        string    `json:"role,omitempty"`
	PainPoints  []string  `json:"painPoints"`
	Goals       []string  `json:"goals"`
	Personality string    `json:"personality,omitempty"`
	Preferences []string  `json:"preferences"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Brand is the brand intelligence singleton.
type Brand struct {
	Name        string    `json:"name,omitempty"`
	Voice       string    `json:"voice,omitempty"`
	Audience    string    `json:"audience,omitempty"`
	Positioning string    `json:"positioning,omitempty"`
	Values      []string  `json:"values"`
	Offerings   []string  `json:"offerings"`
	Notes       string    `json:"notes,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Performer is a roster member.
type Performer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        string    `json:"role,omitempty"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// JournalEntry is a calendar item keyed by (date, source memory, title).
type JournalEntry struct {
	ID             string    `json:"id"`
	Date           string    `json:"date"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Time           string    `json:"time,omitempty"`
	SourceMemoryID string    `json:"sourceMemoryId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// KnowledgeEntity is a node of the knowledge graph. Relationships map a
// relation type to its target names and only ever grow.
type KnowledgeEntity struct {
	Name                   string              `json:"name"`
	Relationships          map[string][]string `json:"relationships"`
	SourceTags             []string            `json:"sourceTags"`
	LastSeenConversationID string              `json:"lastSeenConversationId,omitempty"`
	CreatedAt              time.Time           `json:"createdAt"`
	UpdatedAt              time.Time           `json:"updatedAt"`
}

// InteractionEvent is a stored interaction, identified by a hash of its
// source memory and content.
type InteractionEvent struct {
	ID           string    `json:"id"`
	MemoryID     string    `json:"memoryId"`
	Kind         string    `json:"kind"`
	Summary      string    `json:"summary"`
	Participants []string  `json:"participants"`
	Sentiment    string    `json:"sentiment,omitempty"`
	Intrigue     float64   `json:"intrigue"`
	Date         string    `json:"date,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuditRecord summarizes one apply for the intelligence feed.
type AuditRecord struct {
	ID                string            `json:"id"`
	MemoryID          string            `json:"memoryId"`
	CreatedAt         time.Time         `json:"createdAt"`
	PreviousRelevance float64           `json:"previousRelevance"`
	Relevance         float64           `json:"relevance"`
	Reasoning         string            `json:"reasoning,omitempty"`
	Applied           map[string]int    `json:"applied"`
	Failures          map[string]string `json:"failures,omitempty"`
}

// Status is the processing status of a memory.
type Status string

const (
	StatusPending Status = "pending"
	StatusApplied Status = "applied"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// ProcessingState tracks extraction attempts for a memory outside the memory
// record itself.
type ProcessingState struct {
	MemoryID  string    `json:"memoryId"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
