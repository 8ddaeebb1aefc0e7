// Package postgresql provides the PostgreSQL persistence implementation for
// the journey engine.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	journeys *JourneyRepository
	segments *SegmentRepository
	entities *EntityRepository
	runs     *RunRepository
	steps    *StepRepository
}

// NewPersistence connects, runs migrations, and wires the repositories.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:       database,
		logger:   logger,
		journeys: NewJourneyRepository(database, logger),
		segments: NewSegmentRepository(database, logger),
		entities: NewEntityRepository(database, logger),
		runs:     NewRunRepository(database, logger),
		steps:    NewStepRepository(database, logger),
	}, nil
}

// DB exposes the underlying handle for the durable metrics store.
func (p *Persistence) DB() *sql.DB {
	return p.db
}

func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Journey store

func (p *Persistence) Journeys(ctx context.Context) ([]*models.Journey, error) {
	return p.journeys.GetAll(ctx)
}

func (p *Persistence) JourneysByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error) {
	return p.journeys.GetByStatus(ctx, status)
}

func (p *Persistence) JourneyByID(ctx context.Context, id string) (*models.Journey, error) {
	return p.journeys.GetByID(ctx, id)
}

func (p *Persistence) SaveJourney(ctx context.Context, journey *models.Journey) error {
	return p.journeys.Save(ctx, journey)
}

// Segment store

func (p *Persistence) Segments(ctx context.Context) ([]*models.Segment, error) {
	return p.segments.GetAll(ctx)
}

func (p *Persistence) SegmentByID(ctx context.Context, id string) (*models.Segment, error) {
	return p.segments.GetByID(ctx, id)
}

func (p *Persistence) SaveSegment(ctx context.Context, segment *models.Segment) error {
	return p.segments.Save(ctx, segment)
}

func (p *Persistence) DeleteSegment(ctx context.Context, id string) error {
	return p.segments.Delete(ctx, id)
}

// Entity store

func (p *Persistence) EntityByID(ctx context.Context, id string) (*models.Entity, error) {
	return p.entities.GetByID(ctx, id)
}

func (p *Persistence) EntityByExternalID(ctx context.Context, externalID string) (*models.Entity, error) {
	return p.entities.GetByExternalID(ctx, externalID)
}

func (p *Persistence) SaveEntity(ctx context.Context, entity *models.Entity) error {
	return p.entities.Save(ctx, entity)
}

func (p *Persistence) AppendEvent(ctx context.Context, event *models.Event) error {
	return p.entities.AppendEvent(ctx, event)
}

func (p *Persistence) EventsByEntity(ctx context.Context, entityID string) ([]*models.Event, error) {
	return p.entities.EventsByEntity(ctx, entityID)
}

// Run store

func (p *Persistence) CreateRun(ctx context.Context, run *models.JourneyRun) error {
	return p.runs.Create(ctx, run)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*models.JourneyRun, error) {
	return p.runs.GetByID(ctx, id)
}

func (p *Persistence) RunsByJourney(ctx context.Context, journeyID string) ([]*models.JourneyRun, error) {
	return p.runs.GetByJourney(ctx, journeyID)
}

func (p *Persistence) HasOpenRun(ctx context.Context, journeyID, entityID string) (bool, error) {
	return p.runs.HasOpenRun(ctx, journeyID, entityID)
}

func (p *Persistence) LeaseRuns(ctx context.Context, workerID string, now time.Time, leaseFor time.Duration, max int) ([]*models.JourneyRun, error) {
	return p.runs.Lease(ctx, workerID, now, leaseFor, max)
}

func (p *Persistence) UpdateRun(ctx context.Context, run *models.JourneyRun, expectedVersion int64) error {
	return p.runs.UpdateCAS(ctx, run, expectedVersion)
}

func (p *Persistence) ExitOpenRuns(ctx context.Context, journeyID string, now time.Time) ([]*models.JourneyRun, error) {
	return p.runs.ExitOpen(ctx, journeyID, now)
}

func (p *Persistence) StarvedRuns(ctx context.Context, now time.Time, threshold time.Duration) ([]*models.JourneyRun, error) {
	return p.runs.Starved(ctx, now, threshold)
}

// Step store

func (p *Persistence) AppendStep(ctx context.Context, step *models.StepRecord) error {
	return p.steps.Append(ctx, step)
}

func (p *Persistence) StepsByRun(ctx context.Context, runID string) ([]*models.StepRecord, error) {
	return p.steps.GetByRun(ctx, runID)
}

func (p *Persistence) HasDeliveredStep(ctx context.Context, runID, nodeID string) (bool, error) {
	return p.steps.HasDelivered(ctx, runID, nodeID)
}

func (p *Persistence) RecentSteps(ctx context.Context, journeyID string, limit int) ([]*models.StepRecord, error) {
	return p.steps.Recent(ctx, journeyID, limit)
}
