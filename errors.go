package strata

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// NotFoundError reports that a named entity does not exist. Fetching or
// deleting a missing source surfaces it; the Retriever treats it as a
// skippable condition instead.
type NotFoundError struct {
	Entity string // "source", "content", "chunk"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Entity, e.ID)
}

// ValidationError reports invalid caller input or configuration, rejected
// before any I/O.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// PipelineError wraps an unexpected failure from one stage of the ingestion
// or retrieval pipeline (embed, index, store, ...).
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *PipelineError) Unwrap() error { return e.Err }

// ProviderError reports an embedding provider failure.
type ProviderError struct {
	Provider string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// HTTPError carries an upstream HTTP status so the retry wrapper can
// classify transient failures. RetryAfter is parsed from the Retry-After
// header when present.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses a Retry-After header value: either delay seconds
// or an HTTP-date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// WrapStage classifies err as a PipelineError for the given stage. Errors
// that already carry a classification (not-found, validation, pipeline) pass
// through untouched so callers can match on the original type.
func WrapStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var (
		nf *NotFoundError
		ve *ValidationError
		pe *PipelineError
	)
	if errors.As(err, &nf) || errors.As(err, &ve) || errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}
