// Package debugapi implements the local HTTP surface of tollgate-debugd:
// side-effect-free campaign evaluation for debugging trigger configurations.
package debugapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/tollgate-sdk/tollgate/internal/health"
	"github.com/tollgate-sdk/tollgate/internal/observability"
	"github.com/tollgate-sdk/tollgate/model"
)

// Engine is the slice of the SDK client the debug server needs. Predict must
// be side-effect free; the server never exposes Evaluate.
type Engine interface {
	Predict(ctx context.Context, event model.Event) (model.Outcome, error)
	SetUserAttributes(attrs map[string]any)
	SetDeviceAttributes(attrs map[string]any)
}

// API holds the router and the engine under inspection.
type API struct {
	Router *chi.Mux
	engine Engine
	health *health.Service
}

// NewAPI wires routes and middleware. Panics if engine is nil. healthSvc may
// be nil, in which case the health endpoint only reports liveness.
func NewAPI(engine Engine, healthSvc *health.Service) *API {
	if engine == nil {
		panic("debugapi: engine cannot be nil")
	}

	a := &API{
		Router: chi.NewRouter(),
		engine: engine,
		health: healthSvc,
	}
	a.configureRoutes()
	return a
}

func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)
	a.Router.Handle("/metrics", observability.Handler())
	a.Router.Post("/v1/evaluate", a.handleEvaluate)
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if a.health == nil {
		render.JSON(w, r, map[string]string{"status": "ok"})
		return
	}

	status := a.health.Check(r.Context())
	if !status.Healthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, status)
}
