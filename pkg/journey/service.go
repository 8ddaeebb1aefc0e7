package journey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

var (
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("invalid journey status transition")

	// ErrDefinitionInvalid indicates activation was blocked by validation.
	ErrDefinitionInvalid = errors.New("journey definition is invalid")

	// ErrJourneyImmutable indicates a definition edit on a non-draft journey.
	ErrJourneyImmutable = errors.New("only draft journeys can be edited")
)

// InvalidDefinitionError carries the full violation list alongside
// ErrDefinitionInvalid so the API can report every problem at once.
type InvalidDefinitionError struct {
	Result *ValidationResult
}

func (e *InvalidDefinitionError) Error() string {
	return fmt.Sprintf("journey definition is invalid: %d violation(s)", len(e.Result.Violations))
}

func (e *InvalidDefinitionError) Is(target error) bool {
	return target == ErrDefinitionInvalid
}

// Service owns journey lifecycle transitions. The graph validator runs once
// here, at activation, so structural errors never reach execution.
type Service struct {
	persistence persistence.Persistence
	validator   *Validator
	clock       clock.Clock
	logger      *slog.Logger
}

func NewService(p persistence.Persistence, validator *Validator, clk clock.Clock, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		validator:   validator,
		clock:       clk,
		logger:      logger.With("module", "journey_service"),
	}
}

// Create stores a new journey in draft.
func (s *Service) Create(ctx context.Context, journey *models.Journey) (*models.Journey, error) {
	journey.Status = models.JourneyStatusDraft

	err := s.persistence.SaveJourney(ctx, journey)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return journey, nil
}

// UpdateDraft replaces the name and definition of a draft journey. Active
// journeys are immutable; edits require a new draft so in-flight runs stay
// consistent with the definition they started under.
func (s *Service) UpdateDraft(ctx context.Context, id string, name string, runMultipleTimes bool, def models.Definition) (*models.Journey, error) {
	journey, err := s.persistence.JourneyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if journey.Status != models.JourneyStatusDraft {
		return nil, ErrJourneyImmutable
	}

	journey.Name = name
	journey.RunMultipleTimes = runMultipleTimes
	journey.Definition = def

	err = s.persistence.SaveJourney(ctx, journey)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	return journey, nil
}

// Activate validates the definition and moves the journey to active.
// Allowed from draft (with validation) and from paused (resume).
func (s *Service) Activate(ctx context.Context, id string) (*models.Journey, error) {
	journey, err := s.persistence.JourneyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch journey.Status {
	case models.JourneyStatusDraft:
		result := s.validator.Validate(journey.Definition)
		if !result.Valid() {
			s.logger.WarnContext(ctx, "Activation blocked by validation",
				"journey_id", id, "violations", len(result.Violations))

			return nil, &InvalidDefinitionError{Result: result}
		}
	case models.JourneyStatusPaused:
		// Resuming; the definition was validated at first activation.
	default:
		return nil, fmt.Errorf("%w: %s -> active", ErrInvalidTransition, journey.Status)
	}

	journey.Status = models.JourneyStatusActive

	err = s.persistence.SaveJourney(ctx, journey)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	s.logger.InfoContext(ctx, "Journey activated", "journey_id", id, "journey_name", journey.Name)

	return journey, nil
}

// Pause stops the scheduler from granting new leases on the journey's runs.
// Already-leased steps complete; runs then sit until reactivation.
func (s *Service) Pause(ctx context.Context, id string) (*models.Journey, error) {
	journey, err := s.persistence.JourneyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if journey.Status != models.JourneyStatusActive {
		return nil, fmt.Errorf("%w: %s -> paused", ErrInvalidTransition, journey.Status)
	}

	journey.Status = models.JourneyStatusPaused

	err = s.persistence.SaveJourney(ctx, journey)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	s.logger.InfoContext(ctx, "Journey paused", "journey_id", id)

	return journey, nil
}

// Archive retires the journey permanently. Policy: open runs are
// force-exited rather than drained, so archive takes effect immediately and
// the exit is visible in each run's step history.
func (s *Service) Archive(ctx context.Context, id string) (*models.Journey, error) {
	journey, err := s.persistence.JourneyByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if journey.Status == models.JourneyStatusArchived {
		return journey, nil
	}

	now := s.clock.Now()
	journey.Status = models.JourneyStatusArchived
	journey.ArchivedAt = &now

	err = s.persistence.SaveJourney(ctx, journey)
	if err != nil {
		return nil, fmt.Errorf("failed to save journey: %w", err)
	}

	exited, err := s.persistence.ExitOpenRuns(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("failed to exit open runs: %w", err)
	}

	for _, run := range exited {
		step := &models.StepRecord{
			RunID:     run.ID,
			JourneyID: run.JourneyID,
			NodeID:    run.CurrentNodeID,
			Kind:      models.StepKindExited,
			Cause:     "journey archived",
			CreatedAt: now,
		}

		err = s.persistence.AppendStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("failed to record exit step for run %s: %w", run.ID, err)
		}
	}

	s.logger.InfoContext(ctx, "Journey archived", "journey_id", id, "exited_runs", len(exited))

	return journey, nil
}
