// Package delivery sends journey messages to an external delivery provider.
// The engine guarantees at-least-once step execution, so the sender carries a
// dedup key on every request and the provider is expected to treat it as an
// idempotency token.
package delivery

import (
	"context"
	"errors"
	"fmt"
)

// Request describes one message send on behalf of a journey run.
type Request struct {
	DedupKey   string            `json:"dedup_key"`
	EntityID   string            `json:"entity_id"`
	TemplateID string            `json:"template_id"`
	ProfileID  string            `json:"profile_id,omitempty"`
	Channel    string            `json:"channel"`
	Variables  map[string]any    `json:"variables,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// DedupKey derives the idempotency token for a run/node pair. The same run
// re-executing the same email node always produces the same key.
func DedupKey(runID, nodeID string) string {
	return fmt.Sprintf("%s:%s:delivered", runID, nodeID)
}

// Sender delivers a single message. Implementations classify failures as
// transient or fatal via the error types in this package; any other error is
// treated as transient.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

// TransientError marks a failure worth retrying, such as a provider timeout
// or a 5xx response.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient delivery error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that no retry can fix, such as a rejected
// template or a malformed recipient.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal delivery error: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err should stop retrying.
func IsFatal(err error) bool {
	var fatal *FatalError

	return errors.As(err, &fatal)
}

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}
