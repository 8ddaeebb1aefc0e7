// Package models defines the core domain models for journey execution.
package models

import "time"

// JourneyStatus represents the lifecycle state of a journey.
type JourneyStatus string

const (
	JourneyStatusDraft    JourneyStatus = "draft"    // Editable, not executable
	JourneyStatusActive   JourneyStatus = "active"   // Executable, definition immutable
	JourneyStatusPaused   JourneyStatus = "paused"   // No new leases granted
	JourneyStatusArchived JourneyStatus = "archived" // Terminal, open runs force-exited
)

// Definition is the user-authored journey graph: a tagged node list plus an
// edge list. It is treated as data; the executor switches on node types.
type Definition struct {
	Nodes []*JourneyNode `json:"nodes" validate:"required,min=2,dive"`
	Edges []*JourneyEdge `json:"edges" validate:"required,min=1,dive"`
}

// EdgeBranch labels the outgoing edges of a split node.
type EdgeBranch string

const (
	BranchYes EdgeBranch = "yes"
	BranchNo  EdgeBranch = "no"
)

// JourneyEdge connects two nodes. Branch is set iff the source is a split.
type JourneyEdge struct {
	ID     string     `json:"id"     validate:"required"`
	Source string     `json:"source" validate:"required"`
	Target string     `json:"target" validate:"required"`
	Branch EdgeBranch `json:"branch,omitempty"`
}

// Journey is a user-authored graph describing a multi-step automated workflow
// for audience members. Active journeys' definitions are immutable; edits
// require a new draft so in-flight runs stay consistent.
type Journey struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"   validate:"required,min=3"`
	Status           JourneyStatus `json:"status" validate:"required"`
	RunMultipleTimes bool          `json:"run_multiple_times"`
	Definition       Definition    `json:"definition"`
	Owner            string        `json:"owner"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	ArchivedAt       *time.Time    `json:"archived_at,omitempty"`
}

// IsExecutable reports whether the scheduler may lease this journey's runs.
func (j *Journey) IsExecutable() bool {
	return j.Status == JourneyStatusActive
}

// TriggerNode returns the journey's trigger node, if present.
func (j *Journey) TriggerNode() (*JourneyNode, bool) {
	for _, node := range j.Definition.Nodes {
		if node.Type == NodeTypeTrigger {
			return node, true
		}
	}

	return nil, false
}
