package models

import "time"

// StepKind classifies entries in a run's append-only step history.
type StepKind string

const (
	StepKindEntered        StepKind = "entered"         // Run advanced onto a node
	StepKindDelivered      StepKind = "delivered"       // Message handed to the delivery subsystem
	StepKindWaitStarted    StepKind = "wait_started"    // Durable timer armed
	StepKindBranch         StepKind = "branch"          // Split condition evaluated
	StepKindRetryScheduled StepKind = "retry_scheduled" // Transient delivery failure, backoff armed
	StepKindCompleted      StepKind = "completed"       // Run reached an exit node
	StepKindExited         StepKind = "exited"          // Run force-exited (journey archived)
	StepKindFailed         StepKind = "failed"          // Run terminally failed
)

// StepRecord is one row of a run's step history. History is append-only and
// serves both the activity feed and idempotency checks: (RunID, NodeID,
// StepKindDelivered) is the delivery dedup key.
type StepRecord struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"     validate:"required"`
	JourneyID string     `json:"journey_id" validate:"required"`
	NodeID    string     `json:"node_id"`
	Kind      StepKind   `json:"kind"       validate:"required"`
	Branch    EdgeBranch `json:"branch,omitempty"`
	Attempt   int        `json:"attempt,omitempty"`
	Cause     string     `json:"cause,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
