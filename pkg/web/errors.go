package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps domain errors onto RFC 7807 problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	var invalidDef *journey.InvalidDefinitionError

	switch {
	case errors.As(err, &invalidDef):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_definition").
			WithDetail("journey definition failed validation")

		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"type":       problem.Type,
			"title":      problem.Title,
			"status":     problem.Status,
			"instance":   problem.Instance,
			"detail":     problem.Detail,
			"violations": invalidDef.Result.Violations,
		})

	case errors.Is(err, journey.ErrInvalidTransition), errors.Is(err, journey.ErrJourneyImmutable):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, persistence.ErrJourneyNotFound):
		return notFound(c, "journey not found")

	case errors.Is(err, persistence.ErrSegmentNotFound):
		return notFound(c, "segment not found")

	case errors.Is(err, persistence.ErrEntityNotFound):
		return notFound(c, "entity not found")

	case errors.Is(err, persistence.ErrRunNotFound):
		return notFound(c, "run not found")

	default:
		return internalError(c, err)
	}
}
