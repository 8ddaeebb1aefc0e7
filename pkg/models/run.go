package models

import "time"

// RunState represents the execution state of a journey run.
type RunState string

const (
	RunStatePending   RunState = "pending"   // Ready for a worker to lease
	RunStateRunning   RunState = "running"   // Leased by exactly one worker
	RunStateWaiting   RunState = "waiting"   // Durable timer armed (wait or retry backoff)
	RunStateCompleted RunState = "completed" // Terminal: reached an exit node
	RunStateExited    RunState = "exited"    // Terminal: removed before completion
	RunStateFailed    RunState = "failed"    // Terminal: delivery or structural failure
)

// JourneyRun is one execution instance of a journey for one entity. The row
// is the sole mutable shared resource per run; every mutation goes through an
// optimistic-lock compare-and-swap on Version.
type JourneyRun struct {
	ID            string     `json:"id"`
	JourneyID     string     `json:"journey_id" validate:"required"`
	EntityID      string     `json:"entity_id"  validate:"required"`
	CurrentNodeID string     `json:"current_node_id"`
	State         RunState   `json:"state"`
	ResumeAt      *time.Time `json:"resume_at,omitempty"`
	LeaseOwner    *string    `json:"lease_owner,omitempty"`
	LeaseExpires  *time.Time `json:"lease_expires_at,omitempty"`
	Attempts      int        `json:"attempts"`
	Version       int64      `json:"version"`
	FailureCause  string     `json:"failure_cause,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run can never advance again.
func (r *JourneyRun) IsTerminal() bool {
	switch r.State {
	case RunStateCompleted, RunStateExited, RunStateFailed:
		return true
	default:
		return false
	}
}

// Leased reports whether an unexpired lease is held on the run.
func (r *JourneyRun) Leased(now time.Time) bool {
	return r.LeaseOwner != nil && r.LeaseExpires != nil && r.LeaseExpires.After(now)
}

// ReleaseLease clears the lease columns. The caller persists the change
// through the versioned write.
func (r *JourneyRun) ReleaseLease() {
	r.LeaseOwner = nil
	r.LeaseExpires = nil
}
