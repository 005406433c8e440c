package debugapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tollgate-sdk/tollgate/internal/logger"
	"github.com/tollgate-sdk/tollgate/model"
)

// EvaluateRequest is the POST /v1/evaluate payload. Attribute maps are merged
// into the engine's ambient context before prediction, which mirrors how a
// host app would set them.
type EvaluateRequest struct {
	Event            model.Event    `json:"event"`
	UserAttributes   map[string]any `json:"userAttributes,omitempty"`
	DeviceAttributes map[string]any `json:"deviceAttributes,omitempty"`
}

// EvaluateResponse wraps the predicted outcome. For NO_AUDIENCE_MATCH, the
// outcome carries per-audience rejection reasons, which is the whole point of
// the tool.
type EvaluateResponse struct {
	Outcome model.Outcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleEvaluate runs a preemptive prediction for the posted event. No
// occurrence record is written and no assignment is confirmed; calling this
// endpoint any number of times leaves the engine's state untouched.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req EvaluateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if req.Event.Name == "" {
		log.Warn("bad request: missing event name")
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "event.name is required",
		})
		return
	}

	if len(req.UserAttributes) > 0 {
		a.engine.SetUserAttributes(req.UserAttributes)
	}
	if len(req.DeviceAttributes) > 0 {
		a.engine.SetDeviceAttributes(req.DeviceAttributes)
	}

	log.Debug("predicting outcome", slog.String("event", req.Event.Name))

	outcome, err := a.engine.Predict(r.Context(), req.Event)
	resp := EvaluateResponse{Outcome: outcome}
	if err != nil {
		resp.Error = err.Error()
	}

	render.JSON(w, r, resp)
}
