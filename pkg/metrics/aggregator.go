package metrics

import (
	"context"
	"log/slog"

	"github.com/voyagehq/voyage/pkg/models"
)

// Aggregator translates run lifecycle moments into counter updates. Store
// failures are logged and swallowed; metrics are advisory and must never
// block or fail run execution.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		logger: logger.With("module", "metrics"),
	}
}

func (a *Aggregator) OnRunCreated(ctx context.Context, run *models.JourneyRun) {
	a.increment(ctx, run.JourneyID, CounterEntered)
}

// OnDelivered bumps both the journey-level and node-level delivered counters.
func (a *Aggregator) OnDelivered(ctx context.Context, run *models.JourneyRun, nodeID string) {
	a.increment(ctx, run.JourneyID, CounterDelivered)

	err := a.store.NodeIncrement(ctx, run.JourneyID, nodeID, CounterDelivered, 1)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update node counter",
			"journey_id", run.JourneyID, "node_id", nodeID, "error", err)
	}
}

// OnNodeEntered tracks per-node traffic for funnel views.
func (a *Aggregator) OnNodeEntered(ctx context.Context, run *models.JourneyRun, nodeID string) {
	err := a.store.NodeIncrement(ctx, run.JourneyID, nodeID, CounterEntered, 1)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update node counter",
			"journey_id", run.JourneyID, "node_id", nodeID, "error", err)
	}
}

func (a *Aggregator) OnRunCompleted(ctx context.Context, run *models.JourneyRun) {
	a.increment(ctx, run.JourneyID, CounterCompleted)

	if run.CompletedAt == nil {
		return
	}

	err := a.store.RecordCompletion(ctx, run.JourneyID, run.CompletedAt.Sub(run.CreatedAt))
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to record completion time",
			"journey_id", run.JourneyID, "run_id", run.ID, "error", err)
	}
}

func (a *Aggregator) OnRunExited(ctx context.Context, run *models.JourneyRun) {
	a.increment(ctx, run.JourneyID, CounterExited)
}

func (a *Aggregator) OnRunFailed(ctx context.Context, run *models.JourneyRun) {
	a.increment(ctx, run.JourneyID, CounterFailed)
}

func (a *Aggregator) Snapshot(ctx context.Context, journeyID string) (*JourneyMetrics, error) {
	return a.store.Snapshot(ctx, journeyID)
}

func (a *Aggregator) increment(ctx context.Context, journeyID, counter string) {
	err := a.store.Increment(ctx, journeyID, counter, 1)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update counter",
			"journey_id", journeyID, "counter", counter, "error", err)
	}
}
