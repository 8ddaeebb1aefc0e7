package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voyagehq/voyage/pkg/models"
)

// StepRepository handles the append-only step history. A partial unique
// index on (run_id, node_id) WHERE kind = 'delivered' backs the delivery
// dedup key at the storage level.
type StepRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewStepRepository(db *sql.DB, logger *slog.Logger) *StepRepository {
	return &StepRepository{db: db, logger: logger}
}

func (r *StepRepository) Append(ctx context.Context, step *models.StepRecord) error {
	if step.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate step ID: %w", err)
		}

		step.ID = id.String()
	}

	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO step_history (id, run_id, journey_id, node_id, kind, branch, attempt, cause, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		step.ID,
		step.RunID,
		step.JourneyID,
		step.NodeID,
		string(step.Kind),
		nullString(string(step.Branch)),
		step.Attempt,
		nullString(step.Cause),
		step.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}

	return nil
}

func (r *StepRepository) GetByRun(ctx context.Context, runID string) ([]*models.StepRecord, error) {
	query := `
		SELECT id, run_id, journey_id, node_id, kind, branch, attempt, cause, created_at
		FROM step_history
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`

	return r.querySteps(ctx, query, runID)
}

func (r *StepRepository) HasDelivered(ctx context.Context, runID, nodeID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM step_history
			WHERE run_id = $1 AND node_id = $2 AND kind = 'delivered'
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, runID, nodeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check delivered step: %w", err)
	}

	return exists, nil
}

func (r *StepRepository) Recent(ctx context.Context, journeyID string, limit int) ([]*models.StepRecord, error) {
	query := `
		SELECT id, run_id, journey_id, node_id, kind, branch, attempt, cause, created_at
		FROM step_history
		WHERE journey_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	return r.querySteps(ctx, query, journeyID, limit)
}

func (r *StepRepository) querySteps(ctx context.Context, query string, args ...any) ([]*models.StepRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	steps := make([]*models.StepRecord, 0)

	for rows.Next() {
		var (
			step   models.StepRecord
			kind   string
			branch sql.NullString
			cause  sql.NullString
		)

		err = rows.Scan(
			&step.ID,
			&step.RunID,
			&step.JourneyID,
			&step.NodeID,
			&kind,
			&branch,
			&step.Attempt,
			&cause,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.Kind = models.StepKind(kind)
		step.Branch = models.EdgeBranch(branch.String)
		step.Cause = cause.String

		steps = append(steps, &step)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return steps, nil
}
