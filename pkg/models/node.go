package models

import (
	"fmt"
	"time"
)

// NodeType discriminates the node payload union.
type NodeType string

const (
	NodeTypeTrigger NodeType = "trigger"
	NodeTypeWait    NodeType = "wait"
	NodeTypeEmail   NodeType = "email"
	NodeTypeSplit   NodeType = "split"
	NodeTypeExit    NodeType = "exit"
)

// TriggerKind selects how a journey is entered.
type TriggerKind string

const (
	TriggerKindEvent   TriggerKind = "event"
	TriggerKindSegment TriggerKind = "segment"
)

// TriggerSpec configures the journey's single entry node. Event triggers may
// additionally require Condition to hold at trigger time.
type TriggerSpec struct {
	Kind      TriggerKind       `json:"kind"       validate:"required,oneof=event segment"`
	EventName string            `json:"event_name,omitempty"`
	SegmentID string            `json:"segment_id,omitempty"`
	Condition *SegmentCondition `json:"condition,omitempty"`
}

// WaitUnit is the duration unit for relative waits.
type WaitUnit string

const (
	WaitUnitMinutes WaitUnit = "minutes"
	WaitUnitHours   WaitUnit = "hours"
	WaitUnitDays    WaitUnit = "days"
)

// WaitSpec configures a wait node: either a relative duration or an absolute
// resume timestamp.
type WaitSpec struct {
	Duration int        `json:"duration,omitempty"`
	Unit     WaitUnit   `json:"unit,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
}

// ResumeAt computes the durable timer deadline for a run entering the wait
// node at the given instant.
func (w *WaitSpec) ResumeAt(entered time.Time) (time.Time, error) {
	if w.Until != nil {
		return *w.Until, nil
	}

	if w.Duration <= 0 {
		return time.Time{}, fmt.Errorf("wait duration must be positive, got %d", w.Duration)
	}

	switch w.Unit {
	case WaitUnitMinutes:
		return entered.Add(time.Duration(w.Duration) * time.Minute), nil
	case WaitUnitHours:
		return entered.Add(time.Duration(w.Duration) * time.Hour), nil
	case WaitUnitDays:
		return entered.Add(time.Duration(w.Duration) * 24 * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unknown wait unit: %q", w.Unit)
	}
}

// EmailSpec configures a message-send node. Delivery itself is an external
// collaborator; the node only carries the references it needs.
type EmailSpec struct {
	TemplateID string `json:"template_id" validate:"required"`
	ProfileID  string `json:"profile_id"  validate:"required"`
	Channel    string `json:"channel"     validate:"required"`
}

// SplitSpec configures a conditional branch node. The condition is evaluated
// against current entity state via the segment matcher.
type SplitSpec struct {
	Condition SegmentCondition `json:"condition"`
}

// JourneyNode is one vertex of the journey graph. Exactly one payload pointer
// matching Type is set; the executor switches exhaustively on Type.
type JourneyNode struct {
	ID   string   `json:"id"   validate:"required"`
	Type NodeType `json:"type" validate:"required"`
	Name string   `json:"name,omitempty"`

	Trigger *TriggerSpec `json:"trigger,omitempty"`
	Wait    *WaitSpec    `json:"wait,omitempty"`
	Email   *EmailSpec   `json:"email,omitempty"`
	Split   *SplitSpec   `json:"split,omitempty"`
}

// PayloadMatchesType reports whether the node carries exactly the payload its
// declared type requires. Exit nodes carry no payload.
func (n *JourneyNode) PayloadMatchesType() bool {
	set := 0
	if n.Trigger != nil {
		set++
	}

	if n.Wait != nil {
		set++
	}

	if n.Email != nil {
		set++
	}

	if n.Split != nil {
		set++
	}

	switch n.Type {
	case NodeTypeTrigger:
		return set == 1 && n.Trigger != nil
	case NodeTypeWait:
		return set == 1 && n.Wait != nil
	case NodeTypeEmail:
		return set == 1 && n.Email != nil
	case NodeTypeSplit:
		return set == 1 && n.Split != nil
	case NodeTypeExit:
		return set == 0
	default:
		return false
	}
}
