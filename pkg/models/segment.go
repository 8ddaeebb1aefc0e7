package models

import "time"

// ConditionJoin is the combinator applied across a segment's top-level
// conditions. Kept configurable; the historical UI implied OR.
type ConditionJoin string

const (
	JoinAnd ConditionJoin = "and"
	JoinOr  ConditionJoin = "or"
)

// CriterionType discriminates property criteria from event criteria.
type CriterionType string

const (
	CriterionTypeProperty CriterionType = "property"
	CriterionTypeEvent    CriterionType = "event"
)

// CriterionOperator is the comparison applied by a single criterion.
type CriterionOperator string

const (
	// Property operators.
	OpEquals      CriterionOperator = "equals"
	OpNotEquals   CriterionOperator = "notEquals"
	OpContains    CriterionOperator = "contains"
	OpGreaterThan CriterionOperator = "greaterThan"
	OpLessThan    CriterionOperator = "lessThan"
	OpIn          CriterionOperator = "in"
	OpNotIn       CriterionOperator = "notIn"

	// Event operators.
	OpHasDone          CriterionOperator = "hasDone"
	OpHasNotDone       CriterionOperator = "hasNotDone"
	OpHasDoneWithin    CriterionOperator = "hasDoneWithin"
	OpHasNotDoneWithin CriterionOperator = "hasNotDoneWithin"
	OpHasDoneTimes     CriterionOperator = "hasDoneTimes"
)

// TimeUnit bounds windowed event operators.
type TimeUnit string

const (
	TimeUnitMinutes TimeUnit = "minutes"
	TimeUnitHours   TimeUnit = "hours"
	TimeUnitDays    TimeUnit = "days"
)

// SegmentCriterion is a single comparison over an entity's properties or
// event history. For property criteria Field names the property; for event
// criteria Field names the event.
type SegmentCriterion struct {
	Type      CriterionType     `json:"type"     validate:"required,oneof=property event"`
	Field     string            `json:"field"    validate:"required"`
	Operator  CriterionOperator `json:"operator" validate:"required"`
	Value     any               `json:"value,omitempty"`
	TimeValue int               `json:"time_value,omitempty"`
	TimeUnit  TimeUnit          `json:"time_unit,omitempty"`
}

// SegmentCondition groups criteria under a single logical operator,
// homogeneous per condition.
type SegmentCondition struct {
	Operator ConditionJoin      `json:"operator" validate:"required,oneof=and or"`
	Criteria []SegmentCriterion `json:"criteria" validate:"required,min=1,dive"`
}

// Segment is a named, reusable boolean condition over entities.
type Segment struct {
	ID         string             `json:"id"`
	Name       string             `json:"name" validate:"required,min=3"`
	Conditions []SegmentCondition `json:"conditions" validate:"required,min=1,dive"`
	Join       ConditionJoin      `json:"join,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// EffectiveJoin returns the top-level combinator, defaulting to OR.
func (s *Segment) EffectiveJoin() ConditionJoin {
	if s.Join == JoinAnd {
		return JoinAnd
	}

	return JoinOr
}
