package models

import "time"

// Entity is an audience member: a property bag plus an ordered, append-only
// event history. The engine never deletes entities or events.
type Entity struct {
	ID         string         `json:"id"`
	ExternalID string         `json:"external_id" validate:"required"`
	Properties map[string]any `json:"properties"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Event is one behavioral data point recorded against an entity.
type Event struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id" validate:"required"`
	Name       string         `json:"name"      validate:"required"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
