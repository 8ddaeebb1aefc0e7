package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagehq/voyage/pkg/clock"
	"github.com/voyagehq/voyage/pkg/dispatcher"
	"github.com/voyagehq/voyage/pkg/journey"
	"github.com/voyagehq/voyage/pkg/metrics"
	"github.com/voyagehq/voyage/pkg/models"
	"github.com/voyagehq/voyage/pkg/persistence/memory"
	"github.com/voyagehq/voyage/pkg/segment"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type testAPI struct {
	app         *fiber.App
	persistence *memory.Persistence
	clock       *clock.Fake
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	p := memory.NewPersistence()
	clk := clock.NewFake(epoch)
	logger := slog.Default()

	definitionValidator, err := journey.NewValidator()
	require.NoError(t, err)

	aggregator := metrics.NewAggregator(metrics.NewMemoryStore(), logger)
	journeyService := journey.NewService(p, definitionValidator, clk, logger)
	dsp := dispatcher.NewDispatcher(p, segment.NewMatcher(), aggregator, nil, clk, nil, logger)
	handlers := NewAPIHandlers(journeyService, dsp, p, aggregator, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	j := app.Group("/journeys")
	j.Get("/", handlers.GetJourneys)
	j.Post("/", handlers.CreateJourney)
	j.Get("/:id", handlers.GetJourney)
	j.Patch("/:id", handlers.UpdateJourney)
	j.Post("/:id/activate", handlers.ActivateJourney)
	j.Post("/:id/pause", handlers.PauseJourney)
	j.Post("/:id/archive", handlers.ArchiveJourney)
	j.Get("/:id/runs", handlers.GetJourneyRuns)
	j.Get("/:id/metrics", handlers.GetJourneyMetrics)
	j.Get("/:id/steps", handlers.GetJourneySteps)

	s := app.Group("/segments")
	s.Get("/", handlers.GetSegments)
	s.Post("/", handlers.CreateSegment)
	s.Get("/:id", handlers.GetSegment)
	s.Put("/:id", handlers.UpdateSegment)
	s.Delete("/:id", handlers.DeleteSegment)
	s.Post("/:id/evaluate", handlers.EvaluateSegment)

	r := app.Group("/runs")
	r.Get("/:id", handlers.GetRun)
	r.Get("/:id/steps", handlers.GetRunSteps)

	app.Post("/events", handlers.IngestEvent)
	app.Get("/entities/:externalId", handlers.GetEntity)
	app.Put("/entities/:externalId/properties", handlers.UpdateEntityProperties)

	app.Get("/health", handlers.HealthCheck)

	return &testAPI{app: app, persistence: p, clock: clk}
}

func (a *testAPI) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()

	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func validDefinition() models.Definition {
	return models.Definition{
		Nodes: []*models.JourneyNode{
			{ID: "t1", Type: models.NodeTypeTrigger, Trigger: &models.TriggerSpec{Kind: models.TriggerKindEvent, EventName: "signup"}},
			{ID: "e1", Type: models.NodeTypeEmail, Email: &models.EmailSpec{TemplateID: "tpl-1", ProfileID: "p1", Channel: "email"}},
			{ID: "x1", Type: models.NodeTypeExit},
		},
		Edges: []*models.JourneyEdge{
			{ID: "ed1", Source: "t1", Target: "e1"},
			{ID: "ed2", Source: "e1", Target: "x1"},
		},
	}
}

func createJourneyViaAPI(t *testing.T, a *testAPI) models.Journey {
	t.Helper()

	resp := a.request(t, http.MethodPost, "/journeys/", CreateJourneyRequest{
		Name:       "welcome flow",
		Owner:      "growth",
		Definition: validDefinition(),
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created models.Journey
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	return created
}

func TestCreateJourney(t *testing.T) {
	a := newTestAPI(t)

	created := createJourneyViaAPI(t, a)
	assert.Equal(t, models.JourneyStatusDraft, created.Status)
	assert.Equal(t, "welcome flow", created.Name)
	assert.Equal(t, "growth", created.Owner)
}

func TestCreateJourneyValidatesRequest(t *testing.T) {
	a := newTestAPI(t)

	// Name too short.
	resp := a.request(t, http.MethodPost, "/journeys/", CreateJourneyRequest{
		Name: "ab", Owner: "growth", Definition: validDefinition(),
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Missing owner.
	resp = a.request(t, http.MethodPost, "/journeys/", CreateJourneyRequest{
		Name: "welcome flow", Definition: validDefinition(),
	})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/journeys/", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	raw, err := a.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, raw.StatusCode)
}

func TestGetJourneyNotFound(t *testing.T) {
	a := newTestAPI(t)

	resp := a.request(t, http.MethodGet, "/journeys/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestGetJourneysFiltersByStatus(t *testing.T) {
	a := newTestAPI(t)

	created := createJourneyViaAPI(t, a)
	resp := a.request(t, http.MethodPost, "/journeys/"+created.ID+"/activate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	createJourneyViaAPI(t, a)

	var active []models.Journey
	resp = a.request(t, http.MethodGet, "/journeys/?status=active", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &active)
	require.Len(t, active, 1)
	assert.Equal(t, created.ID, active[0].ID)

	var all []models.Journey
	resp = a.request(t, http.MethodGet, "/journeys/", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &all)
	assert.Len(t, all, 2)
}

func TestActivateInvalidDefinitionReturnsViolations(t *testing.T) {
	a := newTestAPI(t)

	// No exit node.
	resp := a.request(t, http.MethodPost, "/journeys/", CreateJourneyRequest{
		Name:  "broken flow",
		Owner: "growth",
		Definition: models.Definition{
			Nodes: []*models.JourneyNode{
				{ID: "t1", Type: models.NodeTypeTrigger, Trigger: &models.TriggerSpec{Kind: models.TriggerKindEvent, EventName: "signup"}},
				{ID: "e1", Type: models.NodeTypeEmail, Email: &models.EmailSpec{TemplateID: "tpl-1", ProfileID: "p1", Channel: "email"}},
			},
			Edges: []*models.JourneyEdge{{ID: "ed1", Source: "t1", Target: "e1"}},
		},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created models.Journey
	decodeBody(t, resp, &created)

	resp = a.request(t, http.MethodPost, "/journeys/"+created.ID+"/activate", nil)
	require.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	var problem struct {
		Type       string `json:"type"`
		Violations []struct {
			Code string `json:"code"`
		} `json:"violations"`
	}
	decodeBody(t, resp, &problem)
	assert.Equal(t, "invalid_definition", problem.Type)
	assert.NotEmpty(t, problem.Violations)
}

func TestJourneyLifecycleEndpoints(t *testing.T) {
	a := newTestAPI(t)

	created := createJourneyViaAPI(t, a)

	// Pausing a draft conflicts.
	resp := a.request(t, http.MethodPost, "/journeys/"+created.ID+"/pause", nil)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/journeys/"+created.ID+"/activate", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var journeyResp models.Journey
	decodeBody(t, resp, &journeyResp)
	assert.Equal(t, models.JourneyStatusActive, journeyResp.Status)

	// Editing an active journey conflicts.
	resp = a.request(t, http.MethodPatch, "/journeys/"+created.ID, UpdateJourneyRequest{
		Name: "renamed flow", Definition: validDefinition(),
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/journeys/"+created.ID+"/pause", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/journeys/"+created.ID+"/archive", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &journeyResp)
	assert.Equal(t, models.JourneyStatusArchived, journeyResp.Status)
	assert.NotNil(t, journeyResp.ArchivedAt)
}

func TestUpdateDraftJourney(t *testing.T) {
	a := newTestAPI(t)

	created := createJourneyViaAPI(t, a)

	resp := a.request(t, http.MethodPatch, "/journeys/"+created.ID, UpdateJourneyRequest{
		Name:             "renamed flow",
		RunMultipleTimes: true,
		Definition:       validDefinition(),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var updated models.Journey
	decodeBody(t, resp, &updated)
	assert.Equal(t, "renamed flow", updated.Name)
	assert.True(t, updated.RunMultipleTimes)
}

func TestJourneyMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t)

	created := createJourneyViaAPI(t, a)

	resp := a.request(t, http.MethodGet, "/journeys/"+created.ID+"/metrics", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, created.ID, body["journey_id"])
	assert.Contains(t, body, "completion_rate")
	assert.Contains(t, body, "entered")

	resp = a.request(t, http.MethodGet, "/journeys/missing/metrics", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestJourneyRunsAndSteps(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	created := createJourneyViaAPI(t, a)

	run := &models.JourneyRun{
		JourneyID:     created.ID,
		EntityID:      "entity-1",
		CurrentNodeID: "e1",
		State:         models.RunStatePending,
		CreatedAt:     epoch,
	}
	require.NoError(t, a.persistence.CreateRun(ctx, run))
	require.NoError(t, a.persistence.AppendStep(ctx, &models.StepRecord{
		RunID: run.ID, JourneyID: created.ID, NodeID: "e1",
		Kind: models.StepKindEntered, CreatedAt: epoch,
	}))

	var runs []models.JourneyRun
	resp := a.request(t, http.MethodGet, "/journeys/"+created.ID+"/runs", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	var runResp models.JourneyRun
	resp = a.request(t, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &runResp)
	assert.Equal(t, run.ID, runResp.ID)

	var steps []models.StepRecord
	resp = a.request(t, http.MethodGet, "/runs/"+run.ID+"/steps", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &steps)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepKindEntered, steps[0].Kind)

	resp = a.request(t, http.MethodGet, "/journeys/"+created.ID+"/steps", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &steps)
	assert.Len(t, steps, 1)

	resp = a.request(t, http.MethodGet, "/journeys/"+created.ID+"/steps?limit=abc", nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = a.request(t, http.MethodGet, "/runs/missing", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSegmentEndpoints(t *testing.T) {
	a := newTestAPI(t)

	body := SaveSegmentRequest{
		Name: "pro users",
		Join: models.JoinAnd,
		Conditions: []models.SegmentCondition{{
			Operator: models.JoinAnd,
			Criteria: []models.SegmentCriterion{{
				Type: models.CriterionTypeProperty, Field: "plan", Operator: models.OpEquals, Value: "pro",
			}},
		}},
	}

	resp := a.request(t, http.MethodPost, "/segments/", body)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created models.Segment
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.ID)

	// Invalid join value.
	invalid := body
	invalid.Join = "xor"
	resp = a.request(t, http.MethodPost, "/segments/", invalid)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// Empty conditions.
	invalid = body
	invalid.Conditions = nil
	resp = a.request(t, http.MethodPost, "/segments/", invalid)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	body.Name = "power users"
	resp = a.request(t, http.MethodPut, "/segments/"+created.ID, body)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var updated models.Segment
	decodeBody(t, resp, &updated)
	assert.Equal(t, "power users", updated.Name)

	var all []models.Segment
	resp = a.request(t, http.MethodGet, "/segments/", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &all)
	assert.Len(t, all, 1)

	resp = a.request(t, http.MethodDelete, "/segments/"+created.ID, nil)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp = a.request(t, http.MethodGet, "/segments/"+created.ID, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestEvaluateSegmentEndpoint(t *testing.T) {
	a := newTestAPI(t)

	resp := a.request(t, http.MethodPost, "/segments/", SaveSegmentRequest{
		Name: "pro users",
		Join: models.JoinAnd,
		Conditions: []models.SegmentCondition{{
			Operator: models.JoinAnd,
			Criteria: []models.SegmentCriterion{{
				Type: models.CriterionTypeProperty, Field: "plan", Operator: models.OpEquals, Value: "pro",
			}},
		}},
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var seg models.Segment
	decodeBody(t, resp, &seg)

	resp = a.request(t, http.MethodPut, "/entities/user-1/properties", UpdatePropertiesRequest{
		Properties: map[string]any{"plan": "pro"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/segments/"+seg.ID+"/evaluate", EvaluateSegmentRequest{ExternalID: "user-1"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result map[string]any
	decodeBody(t, resp, &result)
	assert.Equal(t, true, result["matches"])
	assert.Equal(t, "user-1", result["external_id"])

	// Non-member entity.
	resp = a.request(t, http.MethodPut, "/entities/user-2/properties", UpdatePropertiesRequest{
		Properties: map[string]any{"plan": "free"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/segments/"+seg.ID+"/evaluate", EvaluateSegmentRequest{ExternalID: "user-2"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &result)
	assert.Equal(t, false, result["matches"])

	// Unknown segment and unknown entity both 404.
	resp = a.request(t, http.MethodPost, "/segments/00000000-0000-0000-0000-000000000000/evaluate", EvaluateSegmentRequest{ExternalID: "user-1"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = a.request(t, http.MethodPost, "/segments/"+seg.ID+"/evaluate", EvaluateSegmentRequest{ExternalID: "ghost"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Missing external id is rejected.
	resp = a.request(t, http.MethodPost, "/segments/"+seg.ID+"/evaluate", EvaluateSegmentRequest{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestIngestEventAndEntityEndpoints(t *testing.T) {
	a := newTestAPI(t)

	resp := a.request(t, http.MethodPost, "/events", IngestEventRequest{
		ExternalID: "user-1",
		Name:       "signup",
		Properties: map[string]any{"source": "web"},
	})
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var event models.Event
	decodeBody(t, resp, &event)
	assert.Equal(t, "signup", event.Name)
	assert.Equal(t, epoch, event.Timestamp)

	// Missing name is rejected.
	resp = a.request(t, http.MethodPost, "/events", IngestEventRequest{ExternalID: "user-1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	var entity models.Entity
	resp = a.request(t, http.MethodGet, "/entities/user-1", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &entity)
	assert.Equal(t, "user-1", entity.ExternalID)

	resp = a.request(t, http.MethodPut, "/entities/user-1/properties", UpdatePropertiesRequest{
		Properties: map[string]any{"plan": "pro"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &entity)
	assert.Equal(t, "pro", entity.Properties["plan"])

	resp = a.request(t, http.MethodGet, "/entities/ghost", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	a := newTestAPI(t)

	resp := a.request(t, http.MethodGet, "/health", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeBody(t, resp, &body)
	assert.Equal(t, "healthy", body["status"])
}
