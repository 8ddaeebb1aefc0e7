// Package executor advances leased journey runs one node at a time. Every
// step ends in exactly one versioned write that releases the lease, so a
// worker crash mid-step leaves nothing behind but an expired lease for the
// scheduler to reclaim.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/delivery"
	"github.com/voyagehq/voyage/pkg/eventbus"
	"github.com/voyagehq/voyage/pkg/events"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/otelhelper"
	"github.com/voyagehq/voyage/pkg/persistence"
	"github.com/voyagehq/voyage/pkg/segment"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Delivery retry policy: exponential backoff from retryBaseDelay,
	// doubling per attempt, capped at retryMaxDelay.
	maxDeliveryAttempts = 5
	retryBaseDelay      = 30 * time.Second
	retryMaxDelay       = time.Hour
)

// Executor runs one step of one leased run. It holds no per-run state; the
// run row is the single source of truth.
type Executor struct {
	workerID    string
	persistence persistence.Persistence
	matcher     *segment.Matcher
	sender      delivery.Sender
	metrics     *metrics.Aggregator
	publisher   eventbus.EventPublisher
	clock       clock.Clock
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewExecutor(
	workerID string,
	p persistence.Persistence,
	matcher *segment.Matcher,
	sender delivery.Sender,
	aggregator *metrics.Aggregator,
	publisher eventbus.EventPublisher,
	clk clock.Clock,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		workerID:    workerID,
		persistence: p,
		matcher:     matcher,
		sender:      sender,
		metrics:     aggregator,
		publisher:   publisher,
		clock:       clk,
		logger:      logger.With("module", "executor", "worker_id", workerID),
	}
}

// WithTracer enables span emission around each executed step.
func (e *Executor) WithTracer(tracer trace.Tracer) *Executor {
	e.tracer = tracer

	return e
}

// ExecuteStep advances a freshly leased run by one node. The run must be in
// state running with run.Version reflecting the lease write.
func (e *Executor) ExecuteStep(ctx context.Context, run *models.JourneyRun) error {
	if e.tracer == nil {
		return e.executeStep(ctx, run)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "executor.execute_step",
		attribute.String(otelhelper.RunIDKey, run.ID),
		attribute.String(otelhelper.JourneyIDKey, run.JourneyID),
		attribute.String(otelhelper.NodeIDKey, run.CurrentNodeID),
		attribute.String(otelhelper.EntityIDKey, run.EntityID),
		attribute.String(otelhelper.WorkerIDKey, e.workerID),
	)
	defer span.End()

	err := e.executeStep(ctx, run)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.RunIDKey, run.ID))
	}

	return err
}

func (e *Executor) executeStep(ctx context.Context, run *models.JourneyRun) error {
	logger := e.logger.With("run_id", run.ID, "journey_id", run.JourneyID, "node_id", run.CurrentNodeID)

	jrny, err := e.persistence.JourneyByID(ctx, run.JourneyID)
	if err != nil {
		return fmt.Errorf("failed to load journey %s: %w", run.JourneyID, err)
	}

	graph := journey.NewGraph(jrny.Definition)

	node, ok := graph.Node(run.CurrentNodeID)
	if !ok {
		return e.failRun(ctx, run, fmt.Sprintf("node %s not found in journey definition", run.CurrentNodeID))
	}

	switch node.Type {
	case models.NodeTypeWait:
		return e.executeWait(ctx, logger, run, graph, node)
	case models.NodeTypeEmail:
		return e.executeEmail(ctx, logger, run, graph, node)
	case models.NodeTypeSplit:
		return e.executeSplit(ctx, logger, run, graph, node)
	case models.NodeTypeExit:
		return e.executeExit(ctx, logger, run)
	case models.NodeTypeTrigger:
		// Runs start on the trigger's successor; landing here means the
		// definition changed under an open run.
		return e.failRun(ctx, run, "run positioned on trigger node")
	default:
		return e.failRun(ctx, run, fmt.Sprintf("unknown node type %q", node.Type))
	}
}

// executeWait arms the durable timer on first entry and advances once the
// timer has elapsed. Both paths are a single versioned write.
func (e *Executor) executeWait(ctx context.Context, logger *slog.Logger, run *models.JourneyRun, graph *journey.Graph, node *models.JourneyNode) error {
	now := e.clock.Now()

	if run.ResumeAt != nil {
		if run.ResumeAt.After(now) {
			// Leased too early; rearm without consuming the timer.
			run.State = models.RunStateWaiting
			run.ReleaseLease()

			return e.persistence.UpdateRun(ctx, run, run.Version)
		}

		run.ResumeAt = nil

		return e.advance(ctx, logger, run, graph, node.ID, "")
	}

	resumeAt, err := node.Wait.ResumeAt(now)
	if err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("invalid wait spec on node %s: %v", node.ID, err))
	}

	if !resumeAt.After(now) {
		// Deadline already in the past; fall through immediately.
		return e.advance(ctx, logger, run, graph, node.ID, "")
	}

	run.State = models.RunStateWaiting
	run.ResumeAt = &resumeAt
	run.ReleaseLease()

	err = e.persistence.UpdateRun(ctx, run, run.Version)
	if err != nil {
		return err
	}

	e.recordStep(ctx, run, node.ID, models.StepKindWaitStarted, "", 0, "")
	logger.InfoContext(ctx, "Wait timer armed", "resume_at", resumeAt)

	return nil
}

// executeEmail sends the node's message with at-least-once semantics. The
// delivery dedup key guarantees a re-leased step never resends.
func (e *Executor) executeEmail(ctx context.Context, logger *slog.Logger, run *models.JourneyRun, graph *journey.Graph, node *models.JourneyNode) error {
	delivered, err := e.persistence.HasDeliveredStep(ctx, run.ID, node.ID)
	if err != nil {
		return fmt.Errorf("failed to check delivery dedup: %w", err)
	}

	if delivered {
		logger.InfoContext(ctx, "Skipping resend, message already delivered")

		run.Attempts = 0

		return e.advance(ctx, logger, run, graph, node.ID, "")
	}

	req := delivery.Request{
		DedupKey:   delivery.DedupKey(run.ID, node.ID),
		EntityID:   run.EntityID,
		TemplateID: node.Email.TemplateID,
		ProfileID:  node.Email.ProfileID,
		Channel:    node.Email.Channel,
	}

	err = e.sender.Send(ctx, req)
	if err != nil {
		if delivery.IsFatal(err) {
			return e.failRun(ctx, run, fmt.Sprintf("delivery rejected on node %s: %v", node.ID, err))
		}

		return e.scheduleRetry(ctx, logger, run, node.ID, err)
	}

	e.recordStep(ctx, run, node.ID, models.StepKindDelivered, "", run.Attempts+1, "")
	e.metrics.OnDelivered(ctx, run, node.ID)

	run.Attempts = 0

	return e.advance(ctx, logger, run, graph, node.ID, "")
}

// scheduleRetry arms a backoff timer for a transient delivery failure, or
// fails the run once the attempts are exhausted.
func (e *Executor) scheduleRetry(ctx context.Context, logger *slog.Logger, run *models.JourneyRun, nodeID string, cause error) error {
	run.Attempts++

	if run.Attempts >= maxDeliveryAttempts {
		return e.failRun(ctx, run, fmt.Sprintf("delivery failed after %d attempts on node %s: %v", run.Attempts, nodeID, cause))
	}

	resumeAt := e.clock.Now().Add(backoffDelay(run.Attempts))
	run.State = models.RunStateWaiting
	run.ResumeAt = &resumeAt
	run.ReleaseLease()

	err := e.persistence.UpdateRun(ctx, run, run.Version)
	if err != nil {
		return err
	}

	e.recordStep(ctx, run, nodeID, models.StepKindRetryScheduled, "", run.Attempts, cause.Error())
	logger.WarnContext(ctx, "Delivery failed, retry scheduled",
		"attempt", run.Attempts, "resume_at", resumeAt, "error", cause)

	return nil
}

// executeSplit evaluates the branch condition against current entity state
// and follows the yes or no edge.
func (e *Executor) executeSplit(ctx context.Context, logger *slog.Logger, run *models.JourneyRun, graph *journey.Graph, node *models.JourneyNode) error {
	entity, err := e.persistence.EntityByID(ctx, run.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load entity %s: %w", run.EntityID, err)
	}

	entityEvents, err := e.persistence.EventsByEntity(ctx, run.EntityID)
	if err != nil {
		return fmt.Errorf("failed to load events for entity %s: %w", run.EntityID, err)
	}

	branch := models.BranchNo
	if e.matcher.MatchesCondition(entity, entityEvents, &node.Split.Condition, e.clock.Now()) {
		branch = models.BranchYes
	}

	e.recordStep(ctx, run, node.ID, models.StepKindBranch, branch, 0, "")
	logger.InfoContext(ctx, "Split evaluated", "branch", branch)

	return e.advance(ctx, logger, run, graph, node.ID, branch)
}

// executeExit completes the run.
func (e *Executor) executeExit(ctx context.Context, logger *slog.Logger, run *models.JourneyRun) error {
	now := e.clock.Now()
	run.State = models.RunStateCompleted
	run.ResumeAt = nil
	run.CompletedAt = &now
	run.ReleaseLease()

	err := e.persistence.UpdateRun(ctx, run, run.Version)
	if err != nil {
		return err
	}

	e.recordStep(ctx, run, run.CurrentNodeID, models.StepKindCompleted, "", 0, "")
	e.metrics.OnRunCompleted(ctx, run)
	e.publishEvent(ctx, run.ID, events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, run.JourneyID),
		RunID:     run.ID,
		EntityID:  run.EntityID,
		Duration:  now.Sub(run.CreatedAt),
	})

	logger.InfoContext(ctx, "Run completed", "duration", now.Sub(run.CreatedAt))

	return nil
}

// advance moves the run onto the next node and leaves it pending so the
// scheduler can lease the following step.
func (e *Executor) advance(ctx context.Context, logger *slog.Logger, run *models.JourneyRun, graph *journey.Graph, fromNodeID string, branch models.EdgeBranch) error {
	var (
		nextNodeID string
		err        error
	)

	if branch != "" {
		nextNodeID, err = graph.BranchTarget(fromNodeID, branch)
	} else {
		nextNodeID, err = graph.NextNodeID(fromNodeID)
	}

	if err != nil {
		return e.failRun(ctx, run, fmt.Sprintf("no outgoing edge from node %s: %v", fromNodeID, err))
	}

	run.CurrentNodeID = nextNodeID
	run.State = models.RunStatePending
	// A consumed backoff timer must not leak into the next node; a wait node
	// entered with a stale elapsed ResumeAt would treat it as its own timer.
	run.ResumeAt = nil
	run.ReleaseLease()

	err = e.persistence.UpdateRun(ctx, run, run.Version)
	if err != nil {
		return err
	}

	e.recordStep(ctx, run, nextNodeID, models.StepKindEntered, "", 0, "")
	e.metrics.OnNodeEntered(ctx, run, nextNodeID)
	e.publishEvent(ctx, run.ID, events.RunTransitioned{
		BaseEvent:  events.NewBaseEvent(events.RunTransitionedEvent, run.JourneyID),
		RunID:      run.ID,
		EntityID:   run.EntityID,
		FromNodeID: fromNodeID,
		ToNodeID:   nextNodeID,
		State:      string(run.State),
		Branch:     string(branch),
	})

	logger.InfoContext(ctx, "Run advanced", "from", fromNodeID, "to", nextNodeID)

	return nil
}

// failRun terminally fails the run and records the cause.
func (e *Executor) failRun(ctx context.Context, run *models.JourneyRun, cause string) error {
	run.State = models.RunStateFailed
	run.ResumeAt = nil
	run.FailureCause = cause
	run.ReleaseLease()

	err := e.persistence.UpdateRun(ctx, run, run.Version)
	if err != nil {
		return err
	}

	e.recordStep(ctx, run, run.CurrentNodeID, models.StepKindFailed, "", run.Attempts, cause)
	e.metrics.OnRunFailed(ctx, run)
	e.publishEvent(ctx, run.ID, events.RunFailed{
		BaseEvent: events.NewBaseEvent(events.RunFailedEvent, run.JourneyID),
		RunID:     run.ID,
		EntityID:  run.EntityID,
		NodeID:    run.CurrentNodeID,
		Cause:     cause,
		Attempts:  run.Attempts,
	})

	e.logger.ErrorContext(ctx, "Run failed", "run_id", run.ID, "cause", cause)

	return nil
}

// recordStep appends to the run's history. Step records are observability,
// not state; failures are logged and never abort the step.
func (e *Executor) recordStep(ctx context.Context, run *models.JourneyRun, nodeID string, kind models.StepKind, branch models.EdgeBranch, attempt int, cause string) {
	step := &models.StepRecord{
		RunID:     run.ID,
		JourneyID: run.JourneyID,
		NodeID:    nodeID,
		Kind:      kind,
		Branch:    branch,
		Attempt:   attempt,
		Cause:     cause,
		CreatedAt: e.clock.Now(),
	}

	err := e.persistence.AppendStep(ctx, step)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to append step record",
			"run_id", run.ID, "kind", kind, "error", err)
	}
}

func (e *Executor) publishEvent(ctx context.Context, key string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, key, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// backoffDelay doubles from the base per attempt, capped at the max.
func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}

	return delay
}
