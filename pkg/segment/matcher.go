// Package segment evaluates segment conditions against entity state. The
// matcher is a pure function of its inputs: the evaluation instant is always
// passed in, never read from the wall clock, so results are deterministic and
// replayable. Safe for concurrent use.
package segment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/voyagehq/voyage/pkg/models"
)

type Matcher struct{}

func NewMatcher() *Matcher {
	return &Matcher{}
}

// Matches reports whether the entity belongs to the segment at the given
// instant. Top-level conditions combine with the segment's join (OR by
// default); criteria within a condition combine with its own operator.
func (m *Matcher) Matches(entity *models.Entity, events []*models.Event, seg *models.Segment, at time.Time) bool {
	if len(seg.Conditions) == 0 {
		return false
	}

	join := seg.EffectiveJoin()

	for _, cond := range seg.Conditions {
		matched := m.MatchesCondition(entity, events, &cond, at)

		if join == models.JoinOr && matched {
			return true
		}

		if join == models.JoinAnd && !matched {
			return false
		}
	}

	return join == models.JoinAnd
}

// MatchesCondition evaluates a single condition group.
func (m *Matcher) MatchesCondition(entity *models.Entity, events []*models.Event, cond *models.SegmentCondition, at time.Time) bool {
	if len(cond.Criteria) == 0 {
		return false
	}

	for _, criterion := range cond.Criteria {
		matched := m.matchesCriterion(entity, events, &criterion, at)

		if cond.Operator == models.JoinOr && matched {
			return true
		}

		if cond.Operator != models.JoinOr && !matched {
			return false
		}
	}

	return cond.Operator != models.JoinOr
}

// MatchesEventTrigger reports whether an incoming event satisfies an
// event-kind trigger spec: the event name must match, and the optional
// condition must hold as of the event's timestamp.
func (m *Matcher) MatchesEventTrigger(entity *models.Entity, events []*models.Event, spec *models.TriggerSpec, evt *models.Event) bool {
	if spec.Kind != models.TriggerKindEvent || evt.Name != spec.EventName {
		return false
	}

	if spec.Condition != nil {
		return m.MatchesCondition(entity, events, spec.Condition, evt.Timestamp)
	}

	return true
}

func (m *Matcher) matchesCriterion(entity *models.Entity, events []*models.Event, criterion *models.SegmentCriterion, at time.Time) bool {
	switch criterion.Type {
	case models.CriterionTypeProperty:
		return m.matchesProperty(entity, criterion)
	case models.CriterionTypeEvent:
		return m.matchesEvent(events, criterion, at)
	default:
		return false
	}
}

func (m *Matcher) matchesProperty(entity *models.Entity, criterion *models.SegmentCriterion) bool {
	var actual any
	if entity.Properties != nil {
		actual = entity.Properties[criterion.Field]
	}

	switch criterion.Operator {
	case models.OpEquals:
		return valuesEqual(actual, criterion.Value)
	case models.OpNotEquals:
		return actual != nil && !valuesEqual(actual, criterion.Value)
	case models.OpContains:
		return actual != nil && strings.Contains(stringify(actual), stringify(criterion.Value))
	case models.OpGreaterThan:
		a, b, ok := bothNumeric(actual, criterion.Value)

		return ok && a > b
	case models.OpLessThan:
		a, b, ok := bothNumeric(actual, criterion.Value)

		return ok && a < b
	case models.OpIn:
		return memberOf(actual, criterion.Value)
	case models.OpNotIn:
		return actual != nil && !memberOf(actual, criterion.Value)
	default:
		return false
	}
}

func (m *Matcher) matchesEvent(events []*models.Event, criterion *models.SegmentCriterion, at time.Time) bool {
	qualifying := make([]*models.Event, 0)

	for _, evt := range events {
		if evt.Name == criterion.Field && eventPropertiesMatch(evt, criterion.Value) {
			qualifying = append(qualifying, evt)
		}
	}

	switch criterion.Operator {
	case models.OpHasDone:
		return len(qualifying) > 0
	case models.OpHasNotDone:
		return len(qualifying) == 0
	case models.OpHasDoneWithin:
		return doneWithin(qualifying, criterion, at)
	case models.OpHasNotDoneWithin:
		return !doneWithin(qualifying, criterion, at)
	case models.OpHasDoneTimes:
		// Counts qualifying events against a minimum: at least N times.
		want, ok := asNumeric(criterion.Value)

		return ok && float64(len(qualifying)) >= want
	default:
		return false
	}
}

// doneWithin checks that the most recent qualifying event falls inside
// [at - window, at].
func doneWithin(qualifying []*models.Event, criterion *models.SegmentCriterion, at time.Time) bool {
	window := windowDuration(criterion)
	if window <= 0 {
		return false
	}

	var latest time.Time

	for _, evt := range qualifying {
		if evt.Timestamp.After(latest) {
			latest = evt.Timestamp
		}
	}

	if latest.IsZero() {
		return false
	}

	return !latest.Before(at.Add(-window)) && !latest.After(at)
}

func windowDuration(criterion *models.SegmentCriterion) time.Duration {
	if criterion.TimeValue <= 0 {
		return 0
	}

	n := time.Duration(criterion.TimeValue)

	switch criterion.TimeUnit {
	case models.TimeUnitMinutes:
		return n * time.Minute
	case models.TimeUnitHours:
		return n * time.Hour
	case models.TimeUnitDays:
		return n * 24 * time.Hour
	default:
		return 0
	}
}

// eventPropertiesMatch applies the optional property sub-filter carried in an
// event criterion's value: every filter key must equal the event's property.
func eventPropertiesMatch(evt *models.Event, value any) bool {
	filter, ok := value.(map[string]any)
	if !ok || len(filter) == 0 {
		return true
	}

	for key, want := range filter {
		var got any
		if evt.Properties != nil {
			got = evt.Properties[key]
		}

		if !valuesEqual(got, want) {
			return false
		}
	}

	return true
}

// valuesEqual compares numerically when both sides parse as numbers,
// otherwise by string representation.
func valuesEqual(actual, expected any) bool {
	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	if a, b, ok := bothNumeric(actual, expected); ok {
		return a == b
	}

	return stringify(actual) == stringify(expected)
}

func memberOf(actual, set any) bool {
	if actual == nil {
		return false
	}

	switch values := set.(type) {
	case []any:
		for _, v := range values {
			if valuesEqual(actual, v) {
				return true
			}
		}
	case []string:
		for _, v := range values {
			if valuesEqual(actual, v) {
				return true
			}
		}
	}

	return false
}

func bothNumeric(a, b any) (float64, float64, bool) {
	fa, ok := asNumeric(a)
	if !ok {
		return 0, 0, false
	}

	fb, ok := asNumeric(b)
	if !ok {
		return 0, 0, false
	}

	return fa, fb, true
}

func asNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", v)
}
