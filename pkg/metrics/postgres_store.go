package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PostgresStore keeps counters in the journey_metrics table. Journey-wide
// counters use an empty node_id; completion timing rides on two counters so
// the mean survives restarts.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const upsertCounterQuery = `
	INSERT INTO journey_metrics (journey_id, node_id, counter, value)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (journey_id, node_id, counter) DO UPDATE SET
		value = journey_metrics.value + EXCLUDED.value
`

func (s *PostgresStore) Increment(ctx context.Context, journeyID, counter string, delta int64) error {
	_, err := s.db.ExecContext(ctx, upsertCounterQuery, journeyID, "", counter, delta)
	if err != nil {
		return fmt.Errorf("failed to increment counter %s: %w", counter, err)
	}

	return nil
}

func (s *PostgresStore) NodeIncrement(ctx context.Context, journeyID, nodeID, counter string, delta int64) error {
	_, err := s.db.ExecContext(ctx, upsertCounterQuery, journeyID, nodeID, counter, delta)
	if err != nil {
		return fmt.Errorf("failed to increment node counter %s: %w", counter, err)
	}

	return nil
}

func (s *PostgresStore) RecordCompletion(ctx context.Context, journeyID string, duration time.Duration) error {
	err := s.Increment(ctx, journeyID, fieldTotalDuration, duration.Nanoseconds())
	if err != nil {
		return err
	}

	return s.Increment(ctx, journeyID, fieldCompletions, 1)
}

func (s *PostgresStore) Snapshot(ctx context.Context, journeyID string) (*JourneyMetrics, error) {
	query := `
		SELECT node_id, counter, value
		FROM journey_metrics
		WHERE journey_id = $1
		ORDER BY node_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	snapshot := &JourneyMetrics{JourneyID: journeyID}

	var totalDuration int64

	nodes := make(map[string]*NodeMetrics)
	nodeOrder := make([]string, 0)

	for rows.Next() {
		var (
			nodeID  string
			counter string
			value   int64
		)

		err = rows.Scan(&nodeID, &counter, &value)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}

		if nodeID == "" {
			switch counter {
			case CounterEntered:
				snapshot.Entered = value
			case CounterCompleted:
				snapshot.Completed = value
			case CounterExited:
				snapshot.Exited = value
			case CounterFailed:
				snapshot.Failed = value
			case CounterDelivered:
				snapshot.Delivered = value
			case fieldCompletions:
				snapshot.CompletionCount = value
			case fieldTotalDuration:
				totalDuration = value
			}

			continue
		}

		node, ok := nodes[nodeID]
		if !ok {
			node = &NodeMetrics{NodeID: nodeID}
			nodes[nodeID] = node
			nodeOrder = append(nodeOrder, nodeID)
		}

		switch counter {
		case CounterEntered:
			node.Entered = value
		case CounterDelivered:
			node.Delivered = value
		}
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating metric rows: %w", err)
	}

	if snapshot.CompletionCount > 0 {
		snapshot.MeanCompletion = time.Duration(totalDuration / snapshot.CompletionCount)
	}

	for _, nodeID := range nodeOrder {
		snapshot.Nodes = append(snapshot.Nodes, *nodes[nodeID])
	}

	return snapshot, nil
}
