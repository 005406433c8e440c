package debugapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-sdk/tollgate/internal/health"
	"github.com/tollgate-sdk/tollgate/model"
)

type fakeEngine struct {
	outcome  model.Outcome
	predicts int
	user     map[string]any
	device   map[string]any
}

func (f *fakeEngine) Predict(ctx context.Context, event model.Event) (model.Outcome, error) {
	f.predicts += 1
	return f.outcome, nil
}

func (f *fakeEngine) SetUserAttributes(attrs map[string]any)   { f.user = attrs }
func (f *fakeEngine) SetDeviceAttributes(attrs map[string]any) { f.device = attrs }

func TestAPI_HealthCheck(t *testing.T) {
	api := NewAPI(&fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_HealthCheckReportsComponents(t *testing.T) {
	api := NewAPI(&fakeEngine{}, health.NewService(
		failingChecker{},
	))

	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "disk full", status.Components["store"])
}

type failingChecker struct{}

func (failingChecker) Name() string                    { return "store" }
func (failingChecker) Check(ctx context.Context) error { return errors.New("disk full") }

func TestAPI_EvaluateReturnsOutcome(t *testing.T) {
	engine := &fakeEngine{outcome: model.Outcome{
		Type: model.OutcomeNoAudienceMatch,
		Unmatched: []model.UnmatchedAudience{
			{ExperimentID: "exp1", Source: model.NoMatchExpression},
			{ExperimentID: "exp2", Source: model.NoMatchOccurrence},
		},
	}}
	api := NewAPI(engine, nil)

	body := `{
		"event": {"name": "campaign_trigger"},
		"userAttributes": {"plan": "free"}
	}`
	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, engine.predicts)
	assert.Equal(t, map[string]any{"plan": "free"}, engine.user)

	var resp EvaluateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.OutcomeNoAudienceMatch, resp.Outcome.Type)
	require.Len(t, resp.Outcome.Unmatched, 2)
	assert.Equal(t, model.NoMatchExpression, resp.Outcome.Unmatched[0].Source)
}

func TestAPI_EvaluateRejectsMissingEventName(t *testing.T) {
	engine := &fakeEngine{}
	api := NewAPI(engine, nil)

	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader(`{"event": {}}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, engine.predicts)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ERR_INVALID_INPUT", resp.Code)
}

func TestAPI_EvaluateRejectsMalformedJSON(t *testing.T) {
	api := NewAPI(&fakeEngine{}, nil)

	rec := httptest.NewRecorder()
	api.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/evaluate", strings.NewReader("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
