// Package memory defines memory records, tag normalization and the ingestion
// service that persists memories and keeps the tag score index current.
package memory

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinTags and MaxTags bound the tag count of every stored memory.
	MinTags = 1
	MaxTags = 6

	// MaxRelevance is the upper bound of Memory.Relevance.
	MaxRelevance = 10.0
)

// ErrNotFound is returned when a memory does not exist.
var ErrNotFound = errors.New("memory not found")

// Memory is a tagged summary of a conversational exchange.
type Memory struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	Summary             string    `json:"summary"`
	Tags                []string  `json:"tags"`
	ConversationSnippet string    `json:"conversationSnippet,omitempty"`
	Relevance           float64   `json:"relevance"`
	KnowledgeRefs       []string  `json:"knowledgeRefs,omitempty"`
	MetaTags            []string  `json:"metaTags,omitempty"`
}

// PerformerMemory is a memory scoped to a single performer.
type PerformerMemory struct {
	ID                string    `json:"id"`
	PerformerID       string    `json:"performerId"`
	Timestamp         time.Time `json:"timestamp"`
	Summary           string    `json:"summary"`
	Tags              []string  `json:"tags"`
	TranscriptSnippet string    `json:"transcriptSnippet,omitempty"`
	Relevance         float64   `json:"relevance"`
	MetaTags          []string  `json:"metaTags,omitempty"`
}

// Patch describes an edit to a memory. Nil fields are left unchanged.
type Patch struct {
	Summary   *string  `json:"summary,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Relevance *float64 `json:"relevance,omitempty"`
}

// ListOptions pages through memories, newest first. Limit 0 means all.
type ListOptions struct {
	Limit  int
	Offset int
}

// ValidationError reports a malformed memory.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid memory %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
