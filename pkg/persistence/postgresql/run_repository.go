package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

// RunRepository handles journey run database operations. Lease acquisition
// and every state mutation are single atomically-checked row writes, so a
// worker crash can never corrupt a run.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
	id
  , journey_id
  , entity_id
  , current_node_id
  , state
  , resume_at
  , lease_owner
  , lease_expires_at
  , attempts
  , version
  , failure_cause
  , created_at
  , updated_at
  , completed_at
`

func (r *RunRepository) Create(ctx context.Context, run *models.JourneyRun) error {
	now := time.Now().UTC()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}

	run.UpdatedAt = now

	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate run ID: %w", err)
		}

		run.ID = id.String()
	}

	query := `
		INSERT INTO journey_runs (id, journey_id, entity_id, current_node_id, state, resume_at,
			lease_owner, lease_expires_at, attempts, version, failure_cause, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.JourneyID,
		run.EntityID,
		run.CurrentNodeID,
		string(run.State),
		run.ResumeAt,
		run.LeaseOwner,
		run.LeaseExpires,
		run.Attempts,
		run.Version,
		nullString(run.FailureCause),
		run.CreatedAt,
		run.UpdatedAt,
		run.CompletedAt,
	)
	if err != nil {
		return persistence.NewRunError("Create", run.ID, err)
	}

	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.JourneyRun, error) {
	query := `SELECT ` + runColumns + ` FROM journey_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

func (r *RunRepository) GetByJourney(ctx context.Context, journeyID string) ([]*models.JourneyRun, error) {
	query := `SELECT ` + runColumns + ` FROM journey_runs WHERE journey_id = $1 ORDER BY created_at ASC`

	return r.queryRuns(ctx, query, journeyID)
}

func (r *RunRepository) HasOpenRun(ctx context.Context, journeyID, entityID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM journey_runs
			WHERE journey_id = $1 AND entity_id = $2
			  AND state NOT IN ('completed', 'exited', 'failed')
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, journeyID, entityID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open runs: %w", err)
	}

	return exists, nil
}

// Lease claims up to max due runs in one statement. FOR UPDATE SKIP LOCKED
// keeps concurrent workers from contending on the same rows; the version
// bump makes the claim visible to the CAS write path.
func (r *RunRepository) Lease(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, max int) ([]*models.JourneyRun, error) {
	query := `
		UPDATE journey_runs SET
			state = 'running',
			lease_owner = $1,
			lease_expires_at = $2,
			version = version + 1,
			updated_at = $3
		WHERE id IN (
			SELECT r.id
			FROM journey_runs r
			JOIN journeys j ON j.id = r.journey_id
			WHERE j.status = 'active'
			  AND (
				r.state = 'pending'
				OR (r.state = 'waiting' AND r.resume_at <= $3)
				OR (r.state = 'running' AND r.lease_expires_at < $3)
			  )
			  AND (r.lease_expires_at IS NULL OR r.lease_expires_at < $3)
			ORDER BY COALESCE(r.resume_at, r.created_at) ASC
			LIMIT $4
			FOR UPDATE OF r SKIP LOCKED
		)
		RETURNING ` + runColumns

	rows, err := r.db.QueryContext(ctx, query, workerID, now.Add(leaseFor), now, max)
	if err != nil {
		return nil, fmt.Errorf("failed to lease runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	leased := make([]*models.JourneyRun, 0, max)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leased run: %w", err)
		}

		leased = append(leased, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating leased runs: %w", err)
	}

	return leased, nil
}

// UpdateCAS persists the run iff the stored version still matches, bumping
// the version on success.
func (r *RunRepository) UpdateCAS(ctx context.Context, run *models.JourneyRun, expectedVersion int64) error {
	run.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE journey_runs SET
			current_node_id = $1,
			state = $2,
			resume_at = $3,
			lease_owner = $4,
			lease_expires_at = $5,
			attempts = $6,
			version = version + 1,
			failure_cause = $7,
			updated_at = $8,
			completed_at = $9
		WHERE id = $10 AND version = $11
	`

	result, err := r.db.ExecContext(ctx, query,
		run.CurrentNodeID,
		string(run.State),
		run.ResumeAt,
		run.LeaseOwner,
		run.LeaseExpires,
		run.Attempts,
		nullString(run.FailureCause),
		run.UpdatedAt,
		run.CompletedAt,
		run.ID,
		expectedVersion,
	)
	if err != nil {
		return persistence.NewRunError("UpdateCAS", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateCAS", run.ID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("UpdateCAS", run.ID, persistence.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1

	return nil
}

func (r *RunRepository) ExitOpen(ctx context.Context, journeyID string, now time.Time) ([]*models.JourneyRun, error) {
	query := `
		UPDATE journey_runs SET
			state = 'exited',
			resume_at = NULL,
			lease_owner = NULL,
			lease_expires_at = NULL,
			version = version + 1,
			updated_at = $1
		WHERE journey_id = $2
		  AND state NOT IN ('completed', 'exited', 'failed')
		RETURNING ` + runColumns

	return r.queryRuns(ctx, query, now, journeyID)
}

func (r *RunRepository) Starved(ctx context.Context, now time.Time, threshold time.Duration) ([]*models.JourneyRun, error) {
	query := `SELECT ` + runColumns + ` FROM journey_runs WHERE state = 'waiting' AND resume_at < $1`

	return r.queryRuns(ctx, query, now.Add(-threshold))
}

func (r *RunRepository) queryRuns(ctx context.Context, query string, args ...any) ([]*models.JourneyRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.JourneyRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func scanRun(row rowScanner) (*models.JourneyRun, error) {
	var (
		run          models.JourneyRun
		state        string
		failureCause sql.NullString
	)

	err := row.Scan(
		&run.ID,
		&run.JourneyID,
		&run.EntityID,
		&run.CurrentNodeID,
		&state,
		&run.ResumeAt,
		&run.LeaseOwner,
		&run.LeaseExpires,
		&run.Attempts,
		&run.Version,
		&failureCause,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	run.State = models.RunState(state)
	run.FailureCause = failureCause.String

	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
