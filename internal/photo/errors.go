package photo

import (
	"errors"
	"fmt"
)

// The error types below are returned unwrapped from Lambda handlers: the
// runtime reports the struct name as errorType, and the state machine's
// Retry and Catch clauses match on it.

// ValidationError reports a malformed request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NotAnUploadError reports an object key outside an upload directory.
// The ingress trigger treats it as a no-op.
type NotAnUploadError struct {
	Key string
}

func (e *NotAnUploadError) Error() string {
	return fmt.Sprintf("not an upload key: %s", e.Key)
}

// ImageProcessingError reports a Resize stage failure: missing source,
// undecodable image, or derived objects that could not be stored.
type ImageProcessingError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ImageProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("image processing %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("image processing %s: %s", e.Key, e.Reason)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageIdentifyError reports an Identify stage failure such as an empty body
// or an unrecognized image header.
type ImageIdentifyError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ImageIdentifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identify %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("identify %s: %s", e.Key, e.Reason)
}

func (e *ImageIdentifyError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failure of a downstream service (label
// detection, record store, orchestrator). Retry policy belongs to the caller.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// ConflictError reports that a conditional write found the record in a state
// other than the one expected. Callers treat it as a benign no-op.
type ConflictError struct {
	ID     string
	Expect Status
	Actual Status
}

func (e *ConflictError) Error() string {
	if e.Actual != "" {
		return fmt.Sprintf("photo %s: expected status %s, found %s", e.ID, e.Expect, e.Actual)
	}
	if e.Expect != "" {
		return fmt.Sprintf("photo %s: expected status %s", e.ID, e.Expect)
	}
	return fmt.Sprintf("photo %s: already exists", e.ID)
}

// IsConflict reports whether err is or wraps a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
