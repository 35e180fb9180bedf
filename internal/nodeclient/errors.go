// https://github.com/relaysync/core

package nodeclient

import "fmt"

// NotFoundKind distinguishes the kind of entity a NotFoundError refers
// to, since the Worker reacts differently to a missing item (schedule
// a policy-governed retry) than a missing user (fail permanently).
type NotFoundKind string

const (
	NotFoundUser NotFoundKind = "user"
	NotFoundItem NotFoundKind = "item"
)

// NotFoundError is a logical absence response from the node: a 404, or
// an empty result from a list/search endpoint.
type NotFoundError struct {
	Kind NotFoundKind
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node client: %s not found", e.Kind)
}

// TransientError wraps a 5xx, connection, or timeout failure. The
// Worker retries these against the Policy Engine's budget.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("node client: transient failure: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError wraps a 4xx (other than 404/401) or schema failure.
// The Worker fails the event immediately without retry.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("node client: permanent failure: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// UnauthorizedError means the configured api key was rejected. The
// Worker reports this to the Supervisor to degrade node readiness.
type UnauthorizedError struct {
	Cause error
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("node client: unauthorized: %v", e.Cause)
}

func (e *UnauthorizedError) Unwrap() error { return e.Cause }

func asNotFound(kind NotFoundKind) error { return &NotFoundError{Kind: kind} }
func asTransient(cause error) error      { return &TransientError{Cause: cause} }
func asPermanent(cause error) error      { return &PermanentError{Cause: cause} }
func asUnauthorized(cause error) error   { return &UnauthorizedError{Cause: cause} }
