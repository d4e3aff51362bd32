package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/taxonomy-cli/internal/engine"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("write response", zap.Error(err))
	}
}

func badRequest(w http.ResponseWriter, r *http.Request, field, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Field: field, RequestID: RequestID(r.Context())})
}

// writeError maps engine errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), RequestID: RequestID(r.Context())}

	var (
		ve *engine.ValidationError
		cc *engine.ConcurrencyConflict
		bf *engine.GraphBuildFailure
		is *engine.InconsistentPromotionState
	)
	switch {
	case errors.As(err, &ve):
		body.Field = ve.Field
		writeJSON(w, http.StatusBadRequest, body)
	case errors.As(err, &cc):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusConflict, body)
	case errors.As(err, &bf):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, body)
	case errors.As(err, &is):
		zap.L().Error("inconsistent promotion state", zap.Error(err), zap.String("request_id", body.RequestID))
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", body.RequestID),
			zap.Error(err),
		)
		body.Error = "internal error"
		writeJSON(w, http.StatusInternalServerError, body)
	}
}
