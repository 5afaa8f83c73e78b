package router

import (
	"errors"
	"fmt"
)

// Destination names used in reports, audit records and errors.
const (
	DestClients         = "clients"
	DestBrand           = "brand"
	DestPerformers      = "performers"
	DestJournal         = "journal"
	DestKnowledge       = "knowledge"
	DestKnowledgeMirror = "knowledge-mirror"
	DestInteractions    = "interactions"
	DestRelevance       = "relevance"
)

// DestinationError is a failed write to one destination store.
type DestinationError struct {
	Destination string
	Err         error
}

func (e DestinationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Destination, e.Err)
}

func (e DestinationError) Unwrap() error {
	return e.Err
}

// ApplicationError is returned by Apply when the memory does not exist, or
// when at least one destination failed. Err joins the underlying errors, so
// errors.Is sees through it.
type ApplicationError struct {
	MemoryID string
	Failures []DestinationError
	Err      error
}

func (e *ApplicationError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("apply memory %s: %v", e.MemoryID, e.Err)
	}
	return fmt.Sprintf("apply memory %s: %d destination(s) failed: %v", e.MemoryID, len(e.Failures), e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

// IsApplicationError reports whether err is or wraps an *ApplicationError.
func IsApplicationError(err error) bool {
	var aerr *ApplicationError
	return errors.As(err, &aerr)
}

func newPartialError(memoryID string, failures []DestinationError) *ApplicationError {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return &ApplicationError{MemoryID: memoryID, Failures: failures, Err: errors.Join(errs...)}
}
