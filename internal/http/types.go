package http

import (
	"github.com/fyrsmithlabs/memoryd/internal/intel"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/pipeline"
	"github.com/fyrsmithlabs/memoryd/internal/tagscore"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// List wraps collection responses.
type List[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) List[T] {
	if items == nil {
		items = []T{}
	}
	return List[T]{Items: items, Count: len(items)}
}

// SearchResult is one recall hit.
type SearchResult struct {
	Memory     memory.Memory `json:"memory"`
	Similarity float32       `json:"similarity"`
}

// ProcessBatchRequest is the request body for POST /api/v1/process. Empty
// ids processes the pending memories.
type ProcessBatchRequest struct {
	IDs []string `json:"ids,omitempty"`
}

// ProcessBatchResponse is the response body for POST /api/v1/process.
type ProcessBatchResponse struct {
	Outcomes []pipeline.Outcome   `json:"outcomes"`
	Counts   map[intel.Status]int `json:"counts"`
}

// TagsResponse is the response body for GET /api/v1/tags, highest score first.
type TagsResponse struct {
	Tags []tagscore.TagScore `json:"tags"`
}
