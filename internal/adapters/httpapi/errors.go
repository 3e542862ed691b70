package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/nullable"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

func apiError(ctx context.Context, code string, message string, details map[string]any) ErrorResponse {
	var er ErrorResponse
	er.Error.Code = code
	er.Error.Message = message
	if details != nil {
		er.Error.Details = nullable.NewNullableWithValue(map[string]any(details))
	}
	if rid := middleware.GetReqID(ctx); rid != "" {
		er.Error.RequestId = nullable.NewNullableWithValue(rid)
	}
	return er
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code string, message string, details map[string]any) {
	writeJSON(w, status, apiError(r.Context(), code, message, details))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeFacadeError maps facade and store errors onto the envelope.
func writeFacadeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, facade.ErrMissingID):
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "record id is required", map[string]any{"id": "must be a non-empty string"})
	case errors.Is(err, realtime.ErrInvalidKey):
		writeAPIError(w, r, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid record id", nil)
	case errors.Is(err, facade.ErrDeleteNotSupported):
		writeAPIError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "delete is not supported for this collection", nil)
	case errors.Is(err, realtime.ErrUnknownCollection):
		writeAPIError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown collection", nil)
	default:
		writeAPIError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
