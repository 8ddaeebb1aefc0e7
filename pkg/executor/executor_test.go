package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/delivery"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence/memory"
	"github.com/voyagehq/voyage/pkg/segment"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	requests []delivery.Request
	errs     []error
}

func (f *fakeSender) Send(ctx context.Context, req delivery.Request) error {
	f.requests = append(f.requests, req)

	if len(f.errs) == 0 {
		return nil
	}

	err := f.errs[0]
	f.errs = f.errs[1:]

	return err
}

type fixture struct {
	persistence *memory.Persistence
	sender      *fakeSender
	clock       *clock.Fake
	executor    *Executor
	store       *metrics.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	p := memory.NewPersistence()
	sender := &fakeSender{}
	clk := clock.NewFake(epoch)
	store := metrics.NewMemoryStore()
	aggregator := metrics.NewAggregator(store, slog.Default())
	exec := NewExecutor("worker-test", p, segment.NewMatcher(), sender, aggregator, nil, clk, slog.Default())

	return &fixture{persistence: p, sender: sender, clock: clk, executor: exec, store: store}
}

// welcomeJourney builds trigger -> email -> wait(1h) -> exit.
func welcomeJourney(t *testing.T, f *fixture) *models.Journey {
	t.Helper()

	journey := &models.Journey{
		Name:   "welcome flow",
		Status: models.JourneyStatusActive,
		Definition: models.Definition{
			Nodes: []*models.JourneyNode{
				{ID: "t1", Type: models.NodeTypeTrigger, Trigger: &models.TriggerSpec{Kind: models.TriggerKindEvent, EventName: "signup"}},
				{ID: "e1", Type: models.NodeTypeEmail, Email: &models.EmailSpec{TemplateID: "tpl-welcome", ProfileID: "profile-1", Channel: "email"}},
				{ID: "w1", Type: models.NodeTypeWait, Wait: &models.WaitSpec{Duration: 1, Unit: models.WaitUnitHours}},
				{ID: "x1", Type: models.NodeTypeExit},
			},
			Edges: []*models.JourneyEdge{
				{ID: "ed1", Source: "t1", Target: "e1"},
				{ID: "ed2", Source: "e1", Target: "w1"},
				{ID: "ed3", Source: "w1", Target: "x1"},
			},
		},
		CreatedAt: epoch,
	}
	require.NoError(t, f.persistence.SaveJourney(context.Background(), journey))

	return journey
}

// splitJourney builds trigger -> split -> (yes: email -> exit, no: exit).
func splitJourney(t *testing.T, f *fixture) *models.Journey {
	t.Helper()

	journey := &models.Journey{
		Name:   "upsell flow",
		Status: models.JourneyStatusActive,
		Definition: models.Definition{
			Nodes: []*models.JourneyNode{
				{ID: "t1", Type: models.NodeTypeTrigger, Trigger: &models.TriggerSpec{Kind: models.TriggerKindEvent, EventName: "signup"}},
				{ID: "s1", Type: models.NodeTypeSplit, Split: &models.SplitSpec{Condition: models.SegmentCondition{
					Operator: models.JoinAnd,
					Criteria: []models.SegmentCriterion{{
						Type: models.CriterionTypeProperty, Field: "plan", Operator: models.OpEquals, Value: "pro",
					}},
				}}},
				{ID: "e1", Type: models.NodeTypeEmail, Email: &models.EmailSpec{TemplateID: "tpl-upsell", ProfileID: "profile-1", Channel: "email"}},
				{ID: "x1", Type: models.NodeTypeExit},
				{ID: "x2", Type: models.NodeTypeExit},
			},
			Edges: []*models.JourneyEdge{
				{ID: "ed1", Source: "t1", Target: "s1"},
				{ID: "ed2", Source: "s1", Target: "e1", Branch: models.BranchYes},
				{ID: "ed3", Source: "s1", Target: "x2", Branch: models.BranchNo},
				{ID: "ed4", Source: "e1", Target: "x1"},
			},
		},
		CreatedAt: epoch,
	}
	require.NoError(t, f.persistence.SaveJourney(context.Background(), journey))

	return journey
}

func createEntity(t *testing.T, f *fixture, props map[string]any) *models.Entity {
	t.Helper()

	entity := &models.Entity{ExternalID: "user-1", Properties: props}
	require.NoError(t, f.persistence.SaveEntity(context.Background(), entity))

	return entity
}

func startRun(t *testing.T, f *fixture, journeyID, entityID, nodeID string) *models.JourneyRun {
	t.Helper()

	run := &models.JourneyRun{
		JourneyID:     journeyID,
		EntityID:      entityID,
		CurrentNodeID: nodeID,
		State:         models.RunStatePending,
		CreatedAt:     f.clock.Now(),
	}
	require.NoError(t, f.persistence.CreateRun(context.Background(), run))

	return run
}

// leaseOne leases the single due run and returns the leased copy.
func leaseOne(t *testing.T, f *fixture) *models.JourneyRun {
	t.Helper()

	leased, err := f.persistence.LeaseRuns(context.Background(), "worker-test", f.clock.Now(), 2*time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	return leased[0]
}

func stepKinds(t *testing.T, f *fixture, runID string) []models.StepKind {
	t.Helper()

	steps, err := f.persistence.StepsByRun(context.Background(), runID)
	require.NoError(t, err)

	kinds := make([]models.StepKind, 0, len(steps))
	for _, s := range steps {
		kinds = append(kinds, s.Kind)
	}

	return kinds
}

func TestExecuteStepEmailDeliversAndAdvances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, stored.State)
	assert.Equal(t, "w1", stored.CurrentNodeID)
	assert.Nil(t, stored.LeaseOwner)

	require.Len(t, f.sender.requests, 1)
	assert.Equal(t, run.ID+":e1:delivered", f.sender.requests[0].DedupKey)
	assert.Equal(t, "tpl-welcome", f.sender.requests[0].TemplateID)

	assert.Equal(t, []models.StepKind{models.StepKindDelivered, models.StepKindEntered}, stepKinds(t, f, run.ID))
}

func TestExecuteStepEmailSkipsResendAfterCrash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	// A previous lease holder delivered, then crashed before the versioned
	// write landed.
	require.NoError(t, f.persistence.AppendStep(ctx, &models.StepRecord{
		RunID: run.ID, JourneyID: journey.ID, NodeID: "e1",
		Kind: models.StepKindDelivered, CreatedAt: epoch,
	}))

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	assert.Empty(t, f.sender.requests)

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", stored.CurrentNodeID)
}

func TestExecuteStepTransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	f.sender.errs = []error{delivery.NewTransientError(errors.New("provider 503"))}

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaiting, stored.State)
	assert.Equal(t, "e1", stored.CurrentNodeID)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, epoch.Add(30*time.Second), *stored.ResumeAt)

	assert.Equal(t, []models.StepKind{models.StepKindRetryScheduled}, stepKinds(t, f, run.ID))

	// Second attempt succeeds after the backoff elapses; attempts reset.
	f.clock.Advance(30 * time.Second)

	leased = leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err = f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, stored.State)
	assert.Equal(t, "w1", stored.CurrentNodeID)
	assert.Zero(t, stored.Attempts)
	require.Len(t, f.sender.requests, 2)
}

func TestExecuteStepRetryBackoffNeverSkipsNextWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	f.sender.errs = []error{delivery.NewTransientError(errors.New("provider 503"))}

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	// Backoff elapses, the resend succeeds. The consumed retry timer must
	// not travel with the run onto the wait node.
	f.clock.Advance(30 * time.Second)

	leased = leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", stored.CurrentNodeID)
	assert.Equal(t, models.RunStatePending, stored.State)
	assert.Nil(t, stored.ResumeAt)

	// The wait node arms its own full 1h timer instead of treating the
	// stale backoff deadline as already elapsed.
	leased = leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err = f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaiting, stored.State)
	assert.Equal(t, "w1", stored.CurrentNodeID)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, f.clock.Now().Add(time.Hour), *stored.ResumeAt)
}

func TestExecuteStepFailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	f.sender.errs = []error{
		delivery.NewTransientError(errors.New("provider 503")),
		delivery.NewTransientError(errors.New("provider 503")),
		delivery.NewTransientError(errors.New("provider 503")),
		delivery.NewTransientError(errors.New("provider 503")),
		delivery.NewTransientError(errors.New("provider 503")),
	}

	for attempt := 1; attempt <= 5; attempt++ {
		leased := leaseOne(t, f)
		require.NoError(t, f.executor.ExecuteStep(ctx, leased))

		stored, err := f.persistence.RunByID(ctx, run.ID)
		require.NoError(t, err)

		if attempt < 5 {
			require.Equal(t, models.RunStateWaiting, stored.State, "attempt %d", attempt)
			f.clock.Set(stored.ResumeAt.Add(time.Second))
		} else {
			assert.Equal(t, models.RunStateFailed, stored.State)
			assert.Contains(t, stored.FailureCause, "after 5 attempts")
		}
	}

	kinds := stepKinds(t, f, run.ID)
	require.Len(t, kinds, 5)
	assert.Equal(t, models.StepKindFailed, kinds[4])
}

func TestExecuteStepFatalFailureFailsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "e1")

	f.sender.errs = []error{delivery.NewFatalError(errors.New("unknown template"))}

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, stored.State)
	assert.Contains(t, stored.FailureCause, "delivery rejected")
	assert.Equal(t, []models.StepKind{models.StepKindFailed}, stepKinds(t, f, run.ID))
}

func TestExecuteStepWaitArmsAndResumes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "w1")

	// First entry arms the durable timer.
	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaiting, stored.State)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, epoch.Add(time.Hour), *stored.ResumeAt)
	assert.Nil(t, stored.LeaseOwner)
	assert.Equal(t, []models.StepKind{models.StepKindWaitStarted}, stepKinds(t, f, run.ID))

	// Not leasable before the deadline.
	f.clock.Advance(30 * time.Minute)
	early, err := f.persistence.LeaseRuns(ctx, "worker-test", f.clock.Now(), 2*time.Minute, 1)
	require.NoError(t, err)
	assert.Empty(t, early)

	// Past the deadline the run advances.
	f.clock.Advance(31 * time.Minute)

	leased = leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err = f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatePending, stored.State)
	assert.Equal(t, "x1", stored.CurrentNodeID)
	assert.Nil(t, stored.ResumeAt)
}

func TestExecuteStepWaitRearmsOnEarlyLease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "w1")

	resumeAt := epoch.Add(time.Hour)
	run.State = models.RunStateWaiting
	run.ResumeAt = &resumeAt
	require.NoError(t, f.persistence.UpdateRun(ctx, run, 0))

	// Hand the executor a run leased before its deadline, as if the lease
	// query raced a clock skew.
	run.State = models.RunStateRunning
	owner := "worker-test"
	expires := epoch.Add(2 * time.Minute)
	run.LeaseOwner = &owner
	run.LeaseExpires = &expires
	require.NoError(t, f.persistence.UpdateRun(ctx, run, 1))

	require.NoError(t, f.executor.ExecuteStep(ctx, run))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateWaiting, stored.State)
	require.NotNil(t, stored.ResumeAt)
	assert.Equal(t, resumeAt, *stored.ResumeAt)
	assert.Equal(t, "w1", stored.CurrentNodeID)
}

func TestExecuteStepSplitBranches(t *testing.T) {
	tests := []struct {
		name       string
		props      map[string]any
		wantNode   string
		wantBranch models.EdgeBranch
	}{
		{"condition holds follows yes", map[string]any{"plan": "pro"}, "e1", models.BranchYes},
		{"condition fails follows no", map[string]any{"plan": "free"}, "x2", models.BranchNo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			journey := splitJourney(t, f)
			entity := createEntity(t, f, tt.props)
			run := startRun(t, f, journey.ID, entity.ID, "s1")

			leased := leaseOne(t, f)
			require.NoError(t, f.executor.ExecuteStep(ctx, leased))

			stored, err := f.persistence.RunByID(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNode, stored.CurrentNodeID)

			steps, err := f.persistence.StepsByRun(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, steps, 2)
			assert.Equal(t, models.StepKindBranch, steps[0].Kind)
			assert.Equal(t, tt.wantBranch, steps[0].Branch)
		})
	}
}

func TestExecuteStepExitCompletesRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "x1")

	f.clock.Advance(90 * time.Minute)

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, stored.State)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, f.clock.Now(), *stored.CompletedAt)
	assert.Nil(t, stored.LeaseOwner)
	assert.Equal(t, []models.StepKind{models.StepKindCompleted}, stepKinds(t, f, run.ID))

	snapshot, err := f.store.Snapshot(ctx, journey.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snapshot.Completed)
}

func TestExecuteStepUnknownNodeFailsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	journey := welcomeJourney(t, f)
	entity := createEntity(t, f, nil)
	run := startRun(t, f, journey.ID, entity.ID, "ghost")

	leased := leaseOne(t, f)
	require.NoError(t, f.executor.ExecuteStep(ctx, leased))

	stored, err := f.persistence.RunByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStateFailed, stored.State)
	assert.Contains(t, stored.FailureCause, "not found")
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(1))
	assert.Equal(t, time.Minute, backoffDelay(2))
	assert.Equal(t, 2*time.Minute, backoffDelay(3))
	assert.Equal(t, 4*time.Minute, backoffDelay(4))
	assert.Equal(t, time.Hour, backoffDelay(20))
}
