// Package main provides the Voyage API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/dispatcher"
	"github.com/voyagehq/voyage/pkg/eventbus"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/persistence"
	"github.com/voyagehq/voyage/pkg/segment"
	"github.com/voyagehq/voyage/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	metrics     *metrics.Aggregator
	validate    *validator.Validate
	handlers    *web.APIHandlers
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	metricsStore metrics.Store,
) (*API, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	clk := clock.System()

	definitionValidator, err := journey.NewValidator()
	if err != nil {
		return nil, err
	}

	aggregator := metrics.NewAggregator(metricsStore, logger)
	journeyService := journey.NewService(p, definitionValidator, clk, logger)
	dsp := dispatcher.NewDispatcher(p, segment.NewMatcher(), aggregator, eventBus, clk, nil, logger)
	handlers := web.NewAPIHandlers(journeyService, dsp, p, aggregator, validate)

	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		metrics:     aggregator,
		validate:    validate,
		handlers:    handlers,
	}, nil
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Voyage API")
	})

	j := app.Group("/journeys")
	j.Get("/", a.handlers.GetJourneys)
	j.Post("/", a.handlers.CreateJourney)
	j.Get("/:id", a.handlers.GetJourney)
	j.Patch("/:id", a.handlers.UpdateJourney)
	j.Post("/:id/activate", a.handlers.ActivateJourney)
	j.Post("/:id/pause", a.handlers.PauseJourney)
	j.Post("/:id/archive", a.handlers.ArchiveJourney)
	j.Get("/:id/runs", a.handlers.GetJourneyRuns)
	j.Get("/:id/metrics", a.handlers.GetJourneyMetrics)
	j.Get("/:id/steps", a.handlers.GetJourneySteps)

	s := app.Group("/segments")
	s.Get("/", a.handlers.GetSegments)
	s.Post("/", a.handlers.CreateSegment)
	s.Get("/:id", a.handlers.GetSegment)
	s.Put("/:id", a.handlers.UpdateSegment)
	s.Delete("/:id", a.handlers.DeleteSegment)
	s.Post("/:id/evaluate", a.handlers.EvaluateSegment)

	r := app.Group("/runs")
	r.Get("/:id", a.handlers.GetRun)
	r.Get("/:id/steps", a.handlers.GetRunSteps)

	app.Post("/events", a.handlers.IngestEvent)
	app.Get("/entities/:externalId", a.handlers.GetEntity)
	app.Put("/entities/:externalId/properties", a.handlers.UpdateEntityProperties)

	app.Get("/health", a.handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
