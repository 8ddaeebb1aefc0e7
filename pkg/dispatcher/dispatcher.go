// Package dispatcher turns entity activity into journey runs. It ingests
// events and property changes, evaluates the triggers of every active
// journey, and creates a pending run positioned on the trigger's successor
// for each match.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/eventbus"
	"github.com/voyagehq/voyage/pkg/events"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
	"github.com/voyagehq/voyage/pkg/segment"
)

// Dispatcher evaluates journey triggers against entity activity.
type Dispatcher struct {
	persistence persistence.Persistence
	matcher     *segment.Matcher
	metrics     *metrics.Aggregator
	publisher   eventbus.EventPublisher
	clock       clock.Clock
	logger      *slog.Logger

	// wake nudges the local scheduler after dispatch; nil when the worker
	// runs in another process and relies on its poll interval.
	wake func()
}

func NewDispatcher(
	p persistence.Persistence,
	matcher *segment.Matcher,
	aggregator *metrics.Aggregator,
	publisher eventbus.EventPublisher,
	clk clock.Clock,
	wake func(),
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		matcher:     matcher,
		metrics:     aggregator,
		publisher:   publisher,
		clock:       clk,
		wake:        wake,
		logger:      logger.With("module", "dispatcher"),
	}
}

// RecordEvent appends an entity event and publishes it for trigger
// evaluation. The entity is created on first sight. Evaluation itself runs
// in the bus consumer, so ingestion latency never includes trigger fan-out.
func (d *Dispatcher) RecordEvent(ctx context.Context, externalID, name string, properties map[string]any, occurredAt time.Time) (*models.Event, error) {
	entity, err := d.ensureEntity(ctx, externalID)
	if err != nil {
		return nil, err
	}

	if occurredAt.IsZero() {
		occurredAt = d.clock.Now()
	}

	event := &models.Event{
		EntityID:   entity.ID,
		Name:       name,
		Properties: properties,
		Timestamp:  occurredAt,
	}

	err = d.persistence.AppendEvent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	d.publishEvent(ctx, entity.ID, events.EntityEventReceived{
		BaseEvent:  events.NewBaseEvent(events.EntityEventReceivedEvent, ""),
		EntityID:   entity.ID,
		EventName:  name,
		Properties: properties,
		OccurredAt: occurredAt,
	})

	return event, nil
}

// RecordProperties upserts entity properties and publishes the change for
// segment trigger evaluation.
func (d *Dispatcher) RecordProperties(ctx context.Context, externalID string, properties map[string]any) (*models.Entity, error) {
	entity, err := d.persistence.EntityByExternalID(ctx, externalID)

	switch {
	case err == nil:
		if entity.Properties == nil {
			entity.Properties = make(map[string]any, len(properties))
		}

		for key, value := range properties {
			entity.Properties[key] = value
		}
	case errors.Is(err, persistence.ErrEntityNotFound):
		entity = &models.Entity{ExternalID: externalID, Properties: properties}
	default:
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	err = d.persistence.SaveEntity(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to save entity: %w", err)
	}

	d.publishEvent(ctx, entity.ID, events.EntityPropertiesChanged{
		BaseEvent:  events.NewBaseEvent(events.EntityPropertiesChangedEvent, ""),
		EntityID:   entity.ID,
		Properties: entity.Properties,
	})

	return entity, nil
}

// OnEvent checks every active journey with an event trigger against the
// incoming event.
func (d *Dispatcher) OnEvent(ctx context.Context, entity *models.Entity, event *models.Event) error {
	active, err := d.persistence.JourneysByStatus(ctx, models.JourneyStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active journeys: %w", err)
	}

	entityEvents, err := d.persistence.EventsByEntity(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("failed to load entity events: %w", err)
	}

	for _, jrny := range active {
		trigger, ok := jrny.TriggerNode()
		if !ok || trigger.Trigger.Kind != models.TriggerKindEvent {
			continue
		}

		if trigger.Trigger.EventName != event.Name {
			continue
		}

		if !d.matcher.MatchesEventTrigger(entity, entityEvents, trigger.Trigger, event) {
			continue
		}

		err = d.dispatch(ctx, jrny, entity)
		if err != nil {
			return err
		}
	}

	return nil
}

// OnPropertiesChanged checks every active journey with a segment trigger
// against the entity's new state.
func (d *Dispatcher) OnPropertiesChanged(ctx context.Context, entity *models.Entity) error {
	active, err := d.persistence.JourneysByStatus(ctx, models.JourneyStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active journeys: %w", err)
	}

	entityEvents, err := d.persistence.EventsByEntity(ctx, entity.ID)
	if err != nil {
		return fmt.Errorf("failed to load entity events: %w", err)
	}

	for _, jrny := range active {
		trigger, ok := jrny.TriggerNode()
		if !ok || trigger.Trigger.Kind != models.TriggerKindSegment {
			continue
		}

		seg, err := d.persistence.SegmentByID(ctx, trigger.Trigger.SegmentID)
		if err != nil {
			d.logger.ErrorContext(ctx, "failed to load trigger segment",
				"journey_id", jrny.ID, "segment_id", trigger.Trigger.SegmentID, "error", err)

			continue
		}

		if !d.matcher.Matches(entity, entityEvents, seg, d.clock.Now()) {
			continue
		}

		err = d.dispatch(ctx, jrny, entity)
		if err != nil {
			return err
		}
	}

	return nil
}

// EvaluateSegment reports whether the entity currently belongs to the
// segment. Read-only; shares the matcher and clock the trigger paths use.
func (d *Dispatcher) EvaluateSegment(ctx context.Context, segmentID, externalID string) (bool, error) {
	seg, err := d.persistence.SegmentByID(ctx, segmentID)
	if err != nil {
		return false, err
	}

	entity, err := d.persistence.EntityByExternalID(ctx, externalID)
	if err != nil {
		return false, err
	}

	entityEvents, err := d.persistence.EventsByEntity(ctx, entity.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load entity events: %w", err)
	}

	return d.matcher.Matches(entity, entityEvents, seg, d.clock.Now()), nil
}

// dispatch creates a pending run. Run-once journeys skip entities with a
// run still in flight; once that run reaches a terminal state the entity may
// enter again. RunMultipleTimes journeys always get a new run.
func (d *Dispatcher) dispatch(ctx context.Context, jrny *models.Journey, entity *models.Entity) error {
	if !jrny.RunMultipleTimes {
		open, err := d.persistence.HasOpenRun(ctx, jrny.ID, entity.ID)
		if err != nil {
			return fmt.Errorf("failed to check open runs: %w", err)
		}

		if open {
			return nil
		}
	}

	graph := journey.NewGraph(jrny.Definition)

	entryNodeID, err := graph.EntryNodeID()
	if err != nil {
		return fmt.Errorf("journey %s has no entry node: %w", jrny.ID, err)
	}

	now := d.clock.Now()
	run := &models.JourneyRun{
		JourneyID:     jrny.ID,
		EntityID:      entity.ID,
		CurrentNodeID: entryNodeID,
		State:         models.RunStatePending,
		CreatedAt:     now,
	}

	err = d.persistence.CreateRun(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	step := &models.StepRecord{
		RunID:     run.ID,
		JourneyID: jrny.ID,
		NodeID:    entryNodeID,
		Kind:      models.StepKindEntered,
		CreatedAt: now,
	}

	err = d.persistence.AppendStep(ctx, step)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to record entry step", "run_id", run.ID, "error", err)
	}

	d.metrics.OnRunCreated(ctx, run)
	d.metrics.OnNodeEntered(ctx, run, entryNodeID)
	d.publishEvent(ctx, run.ID, events.RunCreated{
		BaseEvent: events.NewBaseEvent(events.RunCreatedEvent, jrny.ID),
		RunID:     run.ID,
		EntityID:  entity.ID,
		NodeID:    entryNodeID,
	})

	d.logger.InfoContext(ctx, "Run created",
		"run_id", run.ID, "journey_id", jrny.ID, "entity_id", entity.ID, "node_id", entryNodeID)

	if d.wake != nil {
		d.wake()
	}

	return nil
}

func (d *Dispatcher) ensureEntity(ctx context.Context, externalID string) (*models.Entity, error) {
	entity, err := d.persistence.EntityByExternalID(ctx, externalID)
	if err == nil {
		return entity, nil
	}

	if !errors.Is(err, persistence.ErrEntityNotFound) {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}

	entity = &models.Entity{ExternalID: externalID, Properties: map[string]any{}}

	err = d.persistence.SaveEntity(ctx, entity)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return entity, nil
}

func (d *Dispatcher) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if d.publisher == nil {
		return
	}

	err := d.publisher.Publish(ctx, key, event)
	if err != nil {
		d.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
