package journey

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence/memory"
)

var serviceEpoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Persistence, *clock.Fake) {
	t.Helper()

	p := memory.NewPersistence()
	clk := clock.NewFake(serviceEpoch)
	svc := NewService(p, newValidator(t), clk, slog.Default())

	return svc, p, clk
}

func createJourney(t *testing.T, svc *Service, def models.Definition) *models.Journey {
	t.Helper()

	journey, err := svc.Create(context.Background(), &models.Journey{
		Name:       "welcome flow",
		Owner:      "growth",
		Definition: def,
	})
	require.NoError(t, err)
	require.NotEmpty(t, journey.ID)

	return journey
}

func TestServiceCreateForcesDraft(t *testing.T) {
	svc, _, _ := newTestService(t)

	journey, err := svc.Create(context.Background(), &models.Journey{
		Name:       "welcome flow",
		Status:     models.JourneyStatusActive,
		Definition: linearDefinition(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusDraft, journey.Status)
}

func TestServiceUpdateDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journey := createJourney(t, svc, linearDefinition())

	updated, err := svc.UpdateDraft(ctx, journey.ID, "renamed flow", true, splitDefinition())
	require.NoError(t, err)
	assert.Equal(t, "renamed flow", updated.Name)
	assert.True(t, updated.RunMultipleTimes)
	assert.Len(t, updated.Definition.Nodes, 5)

	_, err = svc.Activate(ctx, journey.ID)
	require.NoError(t, err)

	_, err = svc.UpdateDraft(ctx, journey.ID, "again", false, linearDefinition())
	assert.ErrorIs(t, err, ErrJourneyImmutable)
}

func TestServiceActivateValidatesDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Missing exit node.
	def := models.Definition{
		Nodes: []*models.JourneyNode{triggerNode("t1"), emailNode("e1")},
		Edges: []*models.JourneyEdge{edge("ed1", "t1", "e1")},
	}
	journey := createJourney(t, svc, def)

	_, err := svc.Activate(ctx, journey.ID)
	require.ErrorIs(t, err, ErrDefinitionInvalid)

	var invalid *InvalidDefinitionError
	require.ErrorAs(t, err, &invalid)
	assert.NotEmpty(t, invalid.Result.Violations)

	// The journey stays draft after a failed activation.
	stored, err := svc.persistence.JourneyByID(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusDraft, stored.Status)
}

func TestServiceLifecycleTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	journey := createJourney(t, svc, linearDefinition())

	// draft -> active
	activated, err := svc.Activate(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusActive, activated.Status)

	// active -> active is not a transition.
	_, err = svc.Activate(ctx, journey.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// active -> paused -> active (resume, no revalidation)
	paused, err := svc.Pause(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusPaused, paused.Status)

	resumed, err := svc.Activate(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusActive, resumed.Status)

	// Pausing a draft is rejected.
	other := createJourney(t, svc, linearDefinition())
	_, err = svc.Pause(ctx, other.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestServiceArchiveForceExitsOpenRuns(t *testing.T) {
	svc, p, clk := newTestService(t)
	ctx := context.Background()

	journey := createJourney(t, svc, linearDefinition())
	_, err := svc.Activate(ctx, journey.ID)
	require.NoError(t, err)

	open := &models.JourneyRun{
		JourneyID:     journey.ID,
		EntityID:      "entity-1",
		CurrentNodeID: "e1",
		State:         models.RunStatePending,
		CreatedAt:     clk.Now(),
	}
	require.NoError(t, p.CreateRun(ctx, open))

	done := &models.JourneyRun{
		JourneyID:     journey.ID,
		EntityID:      "entity-2",
		CurrentNodeID: "x1",
		State:         models.RunStateCompleted,
		CreatedAt:     clk.Now(),
	}
	require.NoError(t, p.CreateRun(ctx, done))

	archived, err := svc.Archive(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusArchived, archived.Status)
	require.NotNil(t, archived.ArchivedAt)
	assert.Equal(t, clk.Now(), *archived.ArchivedAt)

	stored, err := p.RunByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateExited, stored.State)

	// Completed runs are untouched.
	stored, err = p.RunByID(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, stored.State)

	// The forced exit shows up in the run's step history.
	steps, err := p.StepsByRun(ctx, open.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepKindExited, steps[0].Kind)
	assert.Equal(t, "journey archived", steps[0].Cause)

	// Archiving again is a no-op.
	again, err := svc.Archive(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JourneyStatusArchived, again.Status)

	steps, err = p.StepsByRun(ctx, open.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 1)
}
