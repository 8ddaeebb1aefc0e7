// Package metrics maintains per-journey counters derived from run
// transitions. Counters are monotonic and updated after the owning state
// change is persisted, so a crash between the write and the counter bump can
// only undercount, never corrupt run state.
package metrics

import (
	"context"
	"time"
)

// Counter field names shared by every store implementation.
const (
	CounterEntered   = "entered"
	CounterCompleted = "completed"
	CounterExited    = "exited"
	CounterFailed    = "failed"
	CounterDelivered = "delivered"
)

// Store persists journey counters and completion timing.
type Store interface {
	Increment(ctx context.Context, journeyID, counter string, delta int64) error
	RecordCompletion(ctx context.Context, journeyID string, duration time.Duration) error
	NodeIncrement(ctx context.Context, journeyID, nodeID, counter string, delta int64) error
	Snapshot(ctx context.Context, journeyID string) (*JourneyMetrics, error)
}

// NodeMetrics carries per-node counters inside a snapshot.
type NodeMetrics struct {
	NodeID    string `json:"node_id"`
	Entered   int64  `json:"entered"`
	Delivered int64  `json:"delivered"`
}

// JourneyMetrics is the read model served by the API.
type JourneyMetrics struct {
	JourneyID       string        `json:"journey_id"`
	Entered         int64         `json:"entered"`
	Completed       int64         `json:"completed"`
	Exited          int64         `json:"exited"`
	Failed          int64         `json:"failed"`
	Delivered       int64         `json:"delivered"`
	MeanCompletion  time.Duration `json:"mean_completion_ns"`
	CompletionCount int64         `json:"completion_count"`
	Nodes           []NodeMetrics `json:"nodes,omitempty"`
}

// CompletionRate returns completed / entered, or 0 when nothing entered yet.
func (m *JourneyMetrics) CompletionRate() float64 {
	if m.Entered == 0 {
		return 0
	}

	return float64(m.Completed) / float64(m.Entered)
}
