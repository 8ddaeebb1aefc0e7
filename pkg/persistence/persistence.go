// Package persistence provides the storage abstraction for journeys, runs,
// segments, entities, and step history.
package persistence

import (
	"context"
	"time"

	"github.com/voyagehq/voyage/pkg/models"
)

// Persistence is the engine's storage contract. Run mutation goes through
// UpdateRun's version compare-and-swap; LeaseRuns is the only other write
// path that touches lease columns.
type Persistence interface {
	JourneyStore
	SegmentStore
	EntityStore
	RunStore
	StepStore

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type JourneyStore interface {
	Journeys(ctx context.Context) ([]*models.Journey, error)
	JourneysByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error)
	JourneyByID(ctx context.Context, id string) (*models.Journey, error)
	SaveJourney(ctx context.Context, journey *models.Journey) error
}

type SegmentStore interface {
	Segments(ctx context.Context) ([]*models.Segment, error)
	SegmentByID(ctx context.Context, id string) (*models.Segment, error)
	SaveSegment(ctx context.Context, segment *models.Segment) error
	DeleteSegment(ctx context.Context, id string) error
}

type EntityStore interface {
	EntityByID(ctx context.Context, id string) (*models.Entity, error)
	EntityByExternalID(ctx context.Context, externalID string) (*models.Entity, error)
	SaveEntity(ctx context.Context, entity *models.Entity) error
	AppendEvent(ctx context.Context, event *models.Event) error
	EventsByEntity(ctx context.Context, entityID string) ([]*models.Event, error)
}

type RunStore interface {
	CreateRun(ctx context.Context, run *models.JourneyRun) error
	RunByID(ctx context.Context, id string) (*models.JourneyRun, error)
	RunsByJourney(ctx context.Context, journeyID string) ([]*models.JourneyRun, error)

	// HasOpenRun reports whether a non-terminal run exists for the pair;
	// the trigger dispatcher uses it to keep run-once journeys at a single
	// in-flight run. Terminal runs never count.
	HasOpenRun(ctx context.Context, journeyID, entityID string) (bool, error)

	// LeaseRuns atomically claims up to max due runs for workerID: state
	// pending, or waiting with an elapsed resume time, journey active, no
	// unexpired lease. Claimed runs come back in state running with the
	// lease columns set and the version already bumped.
	LeaseRuns(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, max int) ([]*models.JourneyRun, error)

	// UpdateRun persists the run iff the stored version still equals
	// expectedVersion, bumping the version on success. Returns
	// ErrVersionConflict otherwise.
	UpdateRun(ctx context.Context, run *models.JourneyRun, expectedVersion int64) error

	// ExitOpenRuns force-exits every non-terminal run of a journey
	// (archive policy) and returns the runs it transitioned.
	ExitOpenRuns(ctx context.Context, journeyID string, now time.Time) ([]*models.JourneyRun, error)

	// StarvedRuns returns waiting runs whose resume time elapsed more
	// than threshold ago; surfaced as operational alerts, not errors.
	StarvedRuns(ctx context.Context, now time.Time, threshold time.Duration) ([]*models.JourneyRun, error)
}

type StepStore interface {
	AppendStep(ctx context.Context, step *models.StepRecord) error
	StepsByRun(ctx context.Context, runID string) ([]*models.StepRecord, error)

	// HasDeliveredStep checks the delivery dedup key (runID, nodeID) so a
	// re-leased step never resends a message that already went out.
	HasDeliveredStep(ctx context.Context, runID, nodeID string) (bool, error)

	RecentSteps(ctx context.Context, journeyID string, limit int) ([]*models.StepRecord, error)
}
