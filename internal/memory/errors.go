package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an unknown node id referenced by a request.
var ErrNotFound = errors.New("node not found")

// ErrPayloadUnavailable reports a re-perception request against a node whose
// raw payload has already been evicted.
var ErrPayloadUnavailable = errors.New("payload unavailable")

// ValidationError reports malformed or missing fields on input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ExternalServiceError wraps a failed or timed-out collaborator call. It is
// always caught inside the component that made the call and downgraded to a
// local fallback; it never crosses a component boundary.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
