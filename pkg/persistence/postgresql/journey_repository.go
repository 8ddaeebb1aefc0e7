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

// JourneyRepository handles journey-related database operations. The
// definition is stored as a single JSONB document: active definitions are
// immutable, so there is nothing to gain from normalizing nodes and edges
// into their own tables.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJourneyRepository(db *sql.DB, logger *slog.Logger) *JourneyRepository {
	return &JourneyRepository{db: db, logger: logger}
}

const journeyColumns = `
	id
  , name
  , status
  , run_multiple_times
  , definition
  , owner
  , created_at
  , updated_at
  , archived_at
`

func (r *JourneyRepository) GetAll(ctx context.Context) ([]*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys ORDER BY created_at DESC`

	return r.queryJourneys(ctx, query)
}

func (r *JourneyRepository) GetByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE status = $1 ORDER BY created_at DESC`

	return r.queryJourneys(ctx, query, string(status))
}

func (r *JourneyRepository) GetByID(ctx context.Context, id string) (*models.Journey, error) {
	query := `SELECT ` + journeyColumns + ` FROM journeys WHERE id = $1`

	journey, err := scanJourney(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrJourneyNotFound
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	return journey, nil
}

func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	now := time.Now().UTC()

	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	if journey.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate journey ID: %w", err)
		}

		journey.ID = id.String()
	}

	definitionJSON, err := json.Marshal(journey.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	query := `
		INSERT INTO journeys (id, name, status, run_multiple_times, definition, owner, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			run_multiple_times = EXCLUDED.run_multiple_times,
			definition = EXCLUDED.definition,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`

	_, err = r.db.ExecContext(ctx, query,
		journey.ID,
		journey.Name,
		string(journey.Status),
		journey.RunMultipleTimes,
		definitionJSON,
		journey.Owner,
		journey.CreatedAt,
		journey.UpdatedAt,
		journey.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save journey: %w", err)
	}

	return nil
}

func (r *JourneyRepository) queryJourneys(ctx context.Context, query string, args ...any) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	journeys := make([]*models.Journey, 0)

	for rows.Next() {
		journey, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating journeys: %w", err)
	}

	return journeys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*models.Journey, error) {
	var (
		journey        models.Journey
		status         string
		definitionJSON []byte
		owner          sql.NullString
	)

	err := row.Scan(
		&journey.ID,
		&journey.Name,
		&status,
		&journey.RunMultipleTimes,
		&definitionJSON,
		&owner,
		&journey.CreatedAt,
		&journey.UpdatedAt,
		&journey.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}

	journey.Status = models.JourneyStatus(status)
	journey.Owner = owner.String

	err = json.Unmarshal(definitionJSON, &journey.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	return &journey, nil
}
