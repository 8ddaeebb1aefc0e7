// Package events defines event types and structures for journey lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const Topic = "voyage.events"                    // Topic for run lifecycle events
const EntityEventsTopic = "voyage.entity.events" // Topic for ingested entity activity

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Run lifecycle events.
	RunCreatedEvent      EventType = "run.created"
	RunTransitionedEvent EventType = "run.transitioned"
	RunCompletedEvent    EventType = "run.completed"
	RunExitedEvent       EventType = "run.exited"
	RunFailedEvent       EventType = "run.failed"

	// Journey lifecycle events.
	JourneyActivatedEvent EventType = "journey.activated"
	JourneyPausedEvent    EventType = "journey.paused"
	JourneyArchivedEvent  EventType = "journey.archived"

	// Entity activity events.
	EntityEventReceivedEvent     EventType = "entity.event.received"
	EntityPropertiesChangedEvent EventType = "entity.properties.changed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JourneyID string         `json:"journey_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type RunCreated struct {
	BaseEvent

	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	NodeID   string `json:"node_id"`
}

func (e RunCreated) GetType() EventType {
	return RunCreatedEvent
}

type RunTransitioned struct {
	BaseEvent

	RunID      string `json:"run_id"`
	EntityID   string `json:"entity_id"`
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	State      string `json:"state"`
	Branch     string `json:"branch,omitempty"`
}

func (e RunTransitioned) GetType() EventType {
	return RunTransitionedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID    string        `json:"run_id"`
	EntityID string        `json:"entity_id"`
	Duration time.Duration `json:"duration"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunExited struct {
	BaseEvent

	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	NodeID   string `json:"node_id"`
	Cause    string `json:"cause,omitempty"`
}

func (e RunExited) GetType() EventType {
	return RunExitedEvent
}

type RunFailed struct {
	BaseEvent

	RunID    string `json:"run_id"`
	EntityID string `json:"entity_id"`
	NodeID   string `json:"node_id"`
	Cause    string `json:"cause"`
	Attempts int    `json:"attempts"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// Journey lifecycle events

type JourneyActivated struct {
	BaseEvent

	JourneyName string `json:"journey_name"`
}

func (e JourneyActivated) GetType() EventType {
	return JourneyActivatedEvent
}

type JourneyPaused struct {
	BaseEvent
}

func (e JourneyPaused) GetType() EventType {
	return JourneyPausedEvent
}

type JourneyArchived struct {
	BaseEvent

	ExitedRuns int `json:"exited_runs"`
}

func (e JourneyArchived) GetType() EventType {
	return JourneyArchivedEvent
}

// Entity activity events

type EntityEventReceived struct {
	BaseEvent

	EntityID   string         `json:"entity_id"`
	EventName  string         `json:"event_name"`
	Properties map[string]any `json:"properties,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func (e EntityEventReceived) GetType() EventType {
	return EntityEventReceivedEvent
}

type EntityPropertiesChanged struct {
	BaseEvent

	EntityID   string         `json:"entity_id"`
	Properties map[string]any `json:"properties"`
}

func (e EntityPropertiesChanged) GetType() EventType {
	return EntityPropertiesChangedEvent
}

func NewBaseEvent(eventType EventType, journeyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		JourneyID: journeyID,
		Metadata:  make(map[string]any),
	}
}
