package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/voyagehq/voyage/pkg/dispatcher"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence"
)

const defaultStepsLimit = 100

type APIHandlers struct {
	journeyService *journey.Service
	dispatcher     *dispatcher.Dispatcher
	persistence    persistence.Persistence
	metrics        *metrics.Aggregator
	validator      *validator.Validate
}

func NewAPIHandlers(
	journeyService *journey.Service,
	dsp *dispatcher.Dispatcher,
	p persistence.Persistence,
	aggregator *metrics.Aggregator,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		journeyService: journeyService,
		dispatcher:     dsp,
		persistence:    p,
		metrics:        aggregator,
		validator:      validate,
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.persistence.HealthCheck(c.Context())

	status := "healthy"
	message := "Voyage API is healthy"
	httpStatus := http.StatusOK

	if err != nil {
		status = "unhealthy"
		message = "Voyage API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}

// Journeys

func (h *APIHandlers) GetJourneys(c fiber.Ctx) error {
	if statusStr := c.Query("status"); statusStr != "" {
		journeys, err := h.persistence.JourneysByStatus(c.Context(), models.JourneyStatus(statusStr))
		if err != nil {
			return internalError(c, err)
		}

		return c.JSON(journeys)
	}

	journeys, err := h.persistence.Journeys(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(journeys)
}

func (h *APIHandlers) GetJourney(c fiber.Ctx) error {
	jrny, err := h.persistence.JourneyByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(jrny)
}

func (h *APIHandlers) CreateJourney(c fiber.Ctx) error {
	var req CreateJourneyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.journeyService.Create(c.Context(), &models.Journey{
		Name:             req.Name,
		Owner:            req.Owner,
		RunMultipleTimes: req.RunMultipleTimes,
		Definition:       req.Definition,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateJourney(c fiber.Ctx) error {
	var req UpdateJourneyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.journeyService.UpdateDraft(c.Context(), c.Params("id"), req.Name, req.RunMultipleTimes, req.Definition)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ActivateJourney(c fiber.Ctx) error {
	jrny, err := h.journeyService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(jrny)
}

func (h *APIHandlers) PauseJourney(c fiber.Ctx) error {
	jrny, err := h.journeyService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(jrny)
}

func (h *APIHandlers) ArchiveJourney(c fiber.Ctx) error {
	jrny, err := h.journeyService.Archive(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(jrny)
}

func (h *APIHandlers) GetJourneyRuns(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.JourneyByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	runs, err := h.persistence.RunsByJourney(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(runs)
}

func (h *APIHandlers) GetJourneyMetrics(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.JourneyByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	snapshot, err := h.metrics.Snapshot(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"journey_id":       snapshot.JourneyID,
		"entered":          snapshot.Entered,
		"completed":        snapshot.Completed,
		"exited":           snapshot.Exited,
		"failed":           snapshot.Failed,
		"delivered":        snapshot.Delivered,
		"completion_rate":  snapshot.CompletionRate(),
		"mean_completion":  snapshot.MeanCompletion.String(),
		"completion_count": snapshot.CompletionCount,
		"nodes":            snapshot.Nodes,
	})
}

func (h *APIHandlers) GetJourneySteps(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.JourneyByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	limit := defaultStepsLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	steps, err := h.persistence.RecentSteps(c.Context(), id, limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(steps)
}

// Runs

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	run, err := h.persistence.RunByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) GetRunSteps(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.RunByID(c.Context(), id); err != nil {
		return handleServiceError(c, err)
	}

	steps, err := h.persistence.StepsByRun(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(steps)
}

// Segments

func (h *APIHandlers) GetSegments(c fiber.Ctx) error {
	segments, err := h.persistence.Segments(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(segments)
}

func (h *APIHandlers) GetSegment(c fiber.Ctx) error {
	seg, err := h.persistence.SegmentByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(seg)
}

func (h *APIHandlers) CreateSegment(c fiber.Ctx) error {
	var req SaveSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	seg := &models.Segment{
		Name:       req.Name,
		Join:       req.Join,
		Conditions: req.Conditions,
	}

	if err := h.persistence.SaveSegment(c.Context(), seg); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(seg)
}

func (h *APIHandlers) UpdateSegment(c fiber.Ctx) error {
	seg, err := h.persistence.SegmentByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	var req SaveSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	seg.Name = req.Name
	seg.Join = req.Join
	seg.Conditions = req.Conditions

	if err := h.persistence.SaveSegment(c.Context(), seg); err != nil {
		return internalError(c, err)
	}

	return c.JSON(seg)
}

func (h *APIHandlers) DeleteSegment(c fiber.Ctx) error {
	err := h.persistence.DeleteSegment(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EvaluateSegment(c fiber.Ctx) error {
	var req EvaluateSegmentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	matches, err := h.dispatcher.EvaluateSegment(c.Context(), c.Params("id"), req.ExternalID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"segment_id":  c.Params("id"),
		"external_id": req.ExternalID,
		"matches":     matches,
	})
}

// Ingestion

func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event, err := h.dispatcher.RecordEvent(c.Context(), req.ExternalID, req.Name, req.Properties, req.Timestamp)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(event)
}

func (h *APIHandlers) UpdateEntityProperties(c fiber.Ctx) error {
	var req UpdatePropertiesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	entity, err := h.dispatcher.RecordProperties(c.Context(), c.Params("externalId"), req.Properties)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entity)
}

func (h *APIHandlers) GetEntity(c fiber.Ctx) error {
	entity, err := h.persistence.EntityByExternalID(c.Context(), c.Params("externalId"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(entity)
}
