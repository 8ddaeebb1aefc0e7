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

// EntityRepository handles entity and event database operations. Events are
// append-only; the engine never deletes behavioral data.
type EntityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewEntityRepository(db *sql.DB, logger *slog.Logger) *EntityRepository {
	return &EntityRepository{db: db, logger: logger}
}

func (r *EntityRepository) GetByID(ctx context.Context, id string) (*models.Entity, error) {
	query := `SELECT id, external_id, properties, created_at, updated_at FROM entities WHERE id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *EntityRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Entity, error) {
	query := `SELECT id, external_id, properties, created_at, updated_at FROM entities WHERE external_id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *EntityRepository) Save(ctx context.Context, entity *models.Entity) error {
	now := time.Now().UTC()

	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}

	entity.UpdatedAt = now

	if entity.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate entity ID: %w", err)
		}

		entity.ID = id.String()
	}

	propertiesJSON, err := json.Marshal(entity.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal properties: %w", err)
	}

	query := `
		INSERT INTO entities (id, external_id, properties, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE SET
			properties = EXCLUDED.properties,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		entity.ID,
		entity.ExternalID,
		propertiesJSON,
		entity.CreatedAt,
		entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}

	return nil
}

func (r *EntityRepository) AppendEvent(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate event ID: %w", err)
		}

		event.ID = id.String()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	propertiesJSON, err := json.Marshal(event.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal event properties: %w", err)
	}

	query := `INSERT INTO events (id, entity_id, name, properties, timestamp) VALUES ($1, $2, $3, $4, $5)`

	_, err = r.db.ExecContext(ctx, query, event.ID, event.EntityID, event.Name, propertiesJSON, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

func (r *EntityRepository) EventsByEntity(ctx context.Context, entityID string) ([]*models.Event, error) {
	query := `
		SELECT id, entity_id, name, properties, timestamp
		FROM events
		WHERE entity_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.Event, 0)

	for rows.Next() {
		var (
			event          models.Event
			propertiesJSON []byte
		)

		err = rows.Scan(&event.ID, &event.EntityID, &event.Name, &propertiesJSON, &event.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		err = json.Unmarshal(propertiesJSON, &event.Properties)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event properties: %w", err)
		}

		events = append(events, &event)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

func (r *EntityRepository) scanOne(row *sql.Row) (*models.Entity, error) {
	var (
		entity         models.Entity
		propertiesJSON []byte
	)

	err := row.Scan(&entity.ID, &entity.ExternalID, &propertiesJSON, &entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEntityNotFound
		}

		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	err = json.Unmarshal(propertiesJSON, &entity.Properties)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal properties: %w", err)
	}

	return &entity, nil
}
