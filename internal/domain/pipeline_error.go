package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderErrorKind is the closed set of failure kinds a provider call can map to.
type ProviderErrorKind string

const (
	KindTimeout         ProviderErrorKind = "timeout"
	KindRateLimited     ProviderErrorKind = "rate_limited"
	KindInvalidResponse ProviderErrorKind = "invalid_response"
	KindUnauthorized    ProviderErrorKind = "unauthorized"
	KindUnavailable     ProviderErrorKind = "unavailable"
)

// Retryable reports whether the same provider may be tried again.
func (k ProviderErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindInvalidResponse
}

// Fallback reports whether the executor should move on to the next provider
// without retrying this one.
func (k ProviderErrorKind) Fallback() bool {
	return k == KindRateLimited || k == KindUnavailable
}

// ProviderError is a single failed provider call.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	StatusCode int
	Err        error
}

func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provider %s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (http %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StageError is returned when every provider of a stage was exhausted
// or a non-recoverable provider error stopped the stage early.
type StageError struct {
	Stage     string
	LastKind  ProviderErrorKind
	Attempted []string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s) after providers [%s]", e.Stage, e.LastKind, strings.Join(e.Attempted, ", "))
}

func (e *StageError) Unwrap() error { return e.Err }

// PipelineError aborts a run. It wraps the fatal StageError, ErrDeadlineExceeded or ErrCancelled.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Stage == "" {
		return "pipeline aborted: " + e.Err.Error()
	}
	return fmt.Sprintf("pipeline aborted at stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Kind returns the originating provider error kind, if any.
func (e *PipelineError) Kind() ProviderErrorKind {
	var se *StageError
	if errors.As(e.Err, &se) {
		return se.LastKind
	}
	return ""
}

// ErrorClass tells callers who is at fault for a failed job.
type ErrorClass string

const (
	ClassClient   ErrorClass = "client"
	ClassUpstream ErrorClass = "upstream"
	ClassInternal ErrorClass = "internal"
)

// JobError is what the job store persists and sync callers receive.
type JobError struct {
	JobID   string
	Class   ErrorClass
	Kind    ProviderErrorKind
	Stage   string
	Message string
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

func (e *JobError) Unwrap() error { return e.Err }

// NewJobError classifies err and builds a message that never carries raw provider payloads.
func NewJobError(jobID string, err error) *JobError {
	je := &JobError{JobID: jobID, Class: Classify(err), Err: err}
	var pe *PipelineError
	if errors.As(err, &pe) {
		je.Stage = pe.Stage
		je.Kind = pe.Kind()
	}
	switch {
	case je.Kind != "":
		je.Message = fmt.Sprintf("stage %s failed: provider error %s", je.Stage, je.Kind)
	case errors.Is(err, ErrDeadlineExceeded):
		je.Message = ErrDeadlineExceeded.Error()
	case je.Class == ClassClient:
		je.Message = err.Error()
	default:
		je.Message = "internal error"
	}
	return je
}

// Classify maps an error onto the caller-facing status class.
func Classify(err error) ErrorClass {
	var pe *ProviderError
	var se *StageError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnknownPlan),
		errors.Is(err, ErrNotFound), errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrJobTerminal), errors.Is(err, ErrCancelled):
		return ClassClient
	case errors.As(err, &se), errors.As(err, &pe), errors.Is(err, ErrDeadlineExceeded):
		return ClassUpstream
	default:
		return ClassInternal
	}
}
