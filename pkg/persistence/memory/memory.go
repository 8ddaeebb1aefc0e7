// Package memory provides an in-memory persistence implementation with the
// same compare-and-swap semantics as the SQL backends. Used by unit tests
// and the memory:// DSN for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

type Persistence struct {
	mu sync.Mutex

	journeys map[string]*models.Journey
	segments map[string]*models.Segment
	entities map[string]*models.Entity
	events   map[string][]*models.Event
	runs     map[string]*models.JourneyRun
	steps    []*models.StepRecord
}

func NewPersistence() *Persistence {
	return &Persistence{
		journeys: make(map[string]*models.Journey),
		segments: make(map[string]*models.Segment),
		entities: make(map[string]*models.Entity),
		events:   make(map[string][]*models.Event),
		runs:     make(map[string]*models.JourneyRun),
	}
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	return nil
}

func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

// Journeys

func (p *Persistence) Journeys(ctx context.Context) ([]*models.Journey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	journeys := make([]*models.Journey, 0, len(p.journeys))
	for _, j := range p.journeys {
		copied := *j
		journeys = append(journeys, &copied)
	}

	sort.Slice(journeys, func(i, k int) bool {
		return journeys[i].CreatedAt.Before(journeys[k].CreatedAt)
	})

	return journeys, nil
}

func (p *Persistence) JourneysByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error) {
	all, err := p.Journeys(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Journey, 0)

	for _, j := range all {
		if j.Status == status {
			filtered = append(filtered, j)
		}
	}

	return filtered, nil
}

func (p *Persistence) JourneyByID(ctx context.Context, id string) (*models.Journey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	journey, ok := p.journeys[id]
	if !ok {
		return nil, persistence.ErrJourneyNotFound
	}

	copied := *journey

	return &copied, nil
}

func (p *Persistence) SaveJourney(ctx context.Context, journey *models.Journey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if journey.ID == "" {
		journey.ID = uuid.New().String()
	}

	copied := *journey
	p.journeys[journey.ID] = &copied

	return nil
}

// Segments

func (p *Persistence) Segments(ctx context.Context) ([]*models.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segments := make([]*models.Segment, 0, len(p.segments))
	for _, s := range p.segments {
		copied := *s
		segments = append(segments, &copied)
	}

	sort.Slice(segments, func(i, k int) bool {
		return segments[i].CreatedAt.Before(segments[k].CreatedAt)
	})

	return segments, nil
}

func (p *Persistence) SegmentByID(ctx context.Context, id string) (*models.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	segment, ok := p.segments[id]
	if !ok {
		return nil, persistence.ErrSegmentNotFound
	}

	copied := *segment

	return &copied, nil
}

func (p *Persistence) SaveSegment(ctx context.Context, segment *models.Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if segment.ID == "" {
		segment.ID = uuid.New().String()
	}

	copied := *segment
	p.segments[segment.ID] = &copied

	return nil
}

func (p *Persistence) DeleteSegment(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.segments[id]; !ok {
		return persistence.ErrSegmentNotFound
	}

	delete(p.segments, id)

	return nil
}

// Entities and events

func (p *Persistence) EntityByID(ctx context.Context, id string) (*models.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entity, ok := p.entities[id]
	if !ok {
		return nil, persistence.ErrEntityNotFound
	}

	copied := *entity

	return &copied, nil
}

func (p *Persistence) EntityByExternalID(ctx context.Context, externalID string) (*models.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entity := range p.entities {
		if entity.ExternalID == externalID {
			copied := *entity

			return &copied, nil
		}
	}

	return nil, persistence.ErrEntityNotFound
}

func (p *Persistence) SaveEntity(ctx context.Context, entity *models.Entity) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entity.ID == "" {
		entity.ID = uuid.New().String()
	}

	copied := *entity
	p.entities[entity.ID] = &copied

	return nil
}

func (p *Persistence) AppendEvent(ctx context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	copied := *event
	p.events[event.EntityID] = append(p.events[event.EntityID], &copied)

	return nil
}

func (p *Persistence) EventsByEntity(ctx context.Context, entityID string) ([]*models.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	events := make([]*models.Event, 0, len(p.events[entityID]))
	for _, evt := range p.events[entityID] {
		copied := *evt
		events = append(events, &copied)
	}

	return events, nil
}

// Runs

func (p *Persistence) CreateRun(ctx context.Context, run *models.JourneyRun) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}

	copied := *run
	p.runs[run.ID] = &copied

	return nil
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.JourneyRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	run, ok := p.runs[id]
	if !ok {
		return nil, persistence.ErrRunNotFound
	}

	copied := *run

	return &copied, nil
}

func (p *Persistence) RunsByJourney(ctx context.Context, journeyID string) ([]*models.JourneyRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runs := make([]*models.JourneyRun, 0)

	for _, run := range p.runs {
		if run.JourneyID == journeyID {
			copied := *run
			runs = append(runs, &copied)
		}
	}

	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})

	return runs, nil
}

func (p *Persistence) HasOpenRun(ctx context.Context, journeyID, entityID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, run := range p.runs {
		if run.JourneyID == journeyID && run.EntityID == entityID && !run.IsTerminal() {
			return true, nil
		}
	}

	return false, nil
}

func (p *Persistence) LeaseRuns(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, max int) ([]*models.JourneyRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	due := make([]*models.JourneyRun, 0)

	for _, run := range p.runs {
		journey, ok := p.journeys[run.JourneyID]
		if !ok || !journey.IsExecutable() {
			continue
		}

		if run.Leased(now) {
			continue
		}

		switch run.State {
		case models.RunStatePending:
			due = append(due, run)
		case models.RunStateWaiting, models.RunStateRunning:
			// Running with an expired lease means a worker crashed
			// mid-step; the run becomes leasable again.
			if run.State == models.RunStateWaiting && (run.ResumeAt == nil || run.ResumeAt.After(now)) {
				continue
			}

			due = append(due, run)
		}
	}

	sort.Slice(due, func(i, k int) bool {
		return dueTime(due[i]).Before(dueTime(due[k]))
	})

	if len(due) > max {
		due = due[:max]
	}

	leased := make([]*models.JourneyRun, 0, len(due))
	expires := now.Add(leaseFor)

	for _, run := range due {
		run.State = models.RunStateRunning
		run.LeaseOwner = &workerID
		run.LeaseExpires = &expires
		run.Version++
		run.UpdatedAt = now

		copied := *run
		leased = append(leased, &copied)
	}

	return leased, nil
}

func dueTime(run *models.JourneyRun) time.Time {
	if run.ResumeAt != nil {
		return *run.ResumeAt
	}

	return run.CreatedAt
}

func (p *Persistence) UpdateRun(ctx context.Context, run *models.JourneyRun, expectedVersion int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored, ok := p.runs[run.ID]
	if !ok {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrRunNotFound)
	}

	if stored.Version != expectedVersion {
		return persistence.NewRunError("UpdateRun", run.ID, persistence.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1

	copied := *run
	p.runs[run.ID] = &copied

	return nil
}

func (p *Persistence) ExitOpenRuns(ctx context.Context, journeyID string, now time.Time) ([]*models.JourneyRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	exited := make([]*models.JourneyRun, 0)

	for _, run := range p.runs {
		if run.JourneyID != journeyID || run.IsTerminal() {
			continue
		}

		run.State = models.RunStateExited
		run.ReleaseLease()
		run.ResumeAt = nil
		run.Version++
		run.UpdatedAt = now

		copied := *run
		exited = append(exited, &copied)
	}

	return exited, nil
}

func (p *Persistence) StarvedRuns(ctx context.Context, now time.Time, threshold time.Duration) ([]*models.JourneyRun, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	starved := make([]*models.JourneyRun, 0)
	cutoff := now.Add(-threshold)

	for _, run := range p.runs {
		if run.State == models.RunStateWaiting && run.ResumeAt != nil && run.ResumeAt.Before(cutoff) {
			copied := *run
			starved = append(starved, &copied)
		}
	}

	return starved, nil
}

// Step history

func (p *Persistence) AppendStep(ctx context.Context, step *models.StepRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	copied := *step
	p.steps = append(p.steps, &copied)

	return nil
}

func (p *Persistence) StepsByRun(ctx context.Context, runID string) ([]*models.StepRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := make([]*models.StepRecord, 0)

	for _, step := range p.steps {
		if step.RunID == runID {
			copied := *step
			steps = append(steps, &copied)
		}
	}

	return steps, nil
}

func (p *Persistence) HasDeliveredStep(ctx context.Context, runID, nodeID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, step := range p.steps {
		if step.RunID == runID && step.NodeID == nodeID && step.Kind == models.StepKindDelivered {
			return true, nil
		}
	}

	return false, nil
}

func (p *Persistence) RecentSteps(ctx context.Context, journeyID string, limit int) ([]*models.StepRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	steps := make([]*models.StepRecord, 0)

	for i := len(p.steps) - 1; i >= 0 && len(steps) < limit; i-- {
		if p.steps[i].JourneyID == journeyID {
			copied := *p.steps[i]
			steps = append(steps, &copied)
		}
	}

	return steps, nil
}
