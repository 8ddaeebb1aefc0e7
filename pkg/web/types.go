// Package web provides HTTP handlers and REST API endpoints for journey management.
package web

import (
	"time"

	"github.com/voyagehq/voyage/pkg/models"
)

// CreateJourneyRequest represents the request body for creating a new journey.
type CreateJourneyRequest struct {
	Name             string            `json:"name"  validate:"required,min=3"`
	Owner            string            `json:"owner" validate:"required"`
	RunMultipleTimes bool              `json:"run_multiple_times"`
	Definition       models.Definition `json:"definition"`
}

// UpdateJourneyRequest represents the request body for editing a draft journey.
type UpdateJourneyRequest struct {
	Name             string            `json:"name" validate:"required,min=3"`
	RunMultipleTimes bool              `json:"run_multiple_times"`
	Definition       models.Definition `json:"definition"`
}

// SaveSegmentRequest represents the request body for creating or updating a segment.
type SaveSegmentRequest struct {
	Name       string                    `json:"name" validate:"required,min=3"`
	Join       models.ConditionJoin      `json:"join,omitempty" validate:"omitempty,oneof=and or"`
	Conditions []models.SegmentCondition `json:"conditions"     validate:"required,min=1,dive"`
}

// EvaluateSegmentRequest represents a segment membership check for one entity.
type EvaluateSegmentRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
}

// IngestEventRequest represents one entity event posted to the ingestion endpoint.
type IngestEventRequest struct {
	ExternalID string         `json:"external_id" validate:"required"`
	Name       string         `json:"name"        validate:"required"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
}

// UpdatePropertiesRequest represents an entity property update.
type UpdatePropertiesRequest struct {
	Properties map[string]any `json:"properties" validate:"required"`
}
