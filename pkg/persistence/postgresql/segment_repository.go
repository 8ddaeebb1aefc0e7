package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

// SegmentRepository handles segment-related database operations.
type SegmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSegmentRepository(db *sql.DB, logger *slog.Logger) *SegmentRepository {
	return &SegmentRepository{db: db, logger: logger}
}

func (r *SegmentRepository) GetAll(ctx context.Context) ([]*models.Segment, error) {
	query := `
		SELECT id, name, conditions, condition_join, created_at, updated_at
		FROM segments
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	segments := make([]*models.Segment, 0)

	for rows.Next() {
		segment, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		segments = append(segments, segment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating segments: %w", err)
	}

	return segments, nil
}

func (r *SegmentRepository) GetByID(ctx context.Context, id string) (*models.Segment, error) {
	query := `
		SELECT id, name, conditions, condition_join, created_at, updated_at
		FROM segments
		WHERE id = $1
	`

	segment, err := scanSegment(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrSegmentNotFound
		}

		return nil, fmt.Errorf("failed to scan segment: %w", err)
	}

	return segment, nil
}

func (r *SegmentRepository) Save(ctx context.Context, segment *models.Segment) error {
	now := time.Now().UTC()

	if segment.CreatedAt.IsZero() {
		segment.CreatedAt = now
	}

	segment.UpdatedAt = now

	if segment.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate segment ID: %w", err)
		}

		segment.ID = id.String()
	}

	conditionsJSON, err := json.Marshal(segment.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	query := `
		INSERT INTO segments (id, name, conditions, condition_join, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			conditions = EXCLUDED.conditions,
			condition_join = EXCLUDED.condition_join,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		segment.ID,
		segment.Name,
		conditionsJSON,
		string(segment.EffectiveJoin()),
		segment.CreatedAt,
		segment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}

	return nil
}

func (r *SegmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM segments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.ErrSegmentNotFound
	}

	return nil
}

func scanSegment(row rowScanner) (*models.Segment, error) {
	var (
		segment        models.Segment
		conditionsJSON []byte
		join           string
	)

	err := row.Scan(
		&segment.ID,
		&segment.Name,
		&conditionsJSON,
		&join,
		&segment.CreatedAt,
		&segment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	segment.Join = models.ConditionJoin(join)

	err = json.Unmarshal(conditionsJSON, &segment.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}

	return &segment, nil
}
