package extraction

import (
	"errors"
	"fmt"
)

// Reasons an extraction fails.
const (
	ReasonProvider = "provider call failed"
	ReasonParse    = "unparseable response"
)

// ExtractionError reports a failed provider call or a response that is not a
// JSON object. It never carries partial results.
type ExtractionError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extraction via %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("extraction via %s: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsExtractionError reports whether err is or wraps an *ExtractionError.
func IsExtractionError(err error) bool {
	var ee *ExtractionError
	return errors.As(err, &ee)
}

// retryableError marks a transient failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// retryableStatus reports whether an HTTP status is transient.
func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}
