// Package handler provides the HTTP layer: JSON request decoding,
// error-to-status mapping, and response encoding.
package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			logging.Error("Failed to encode response", err, nil)
		}
	}
}

func errorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps an application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case apperrors.Is(err, apperrors.ErrListNotFound),
		apperrors.Is(err, apperrors.ErrItemNotFound),
		apperrors.Is(err, apperrors.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
	case apperrors.Is(err, apperrors.ErrListInvalid),
		apperrors.Is(err, apperrors.ErrItemInvalid),
		apperrors.Is(err, apperrors.ErrInvalid),
		apperrors.Is(err, apperrors.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
	case apperrors.Is(err, apperrors.ErrManualResolution):
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
	case apperrors.Is(err, apperrors.ErrRemoteUnavailable),
		apperrors.Is(err, apperrors.ErrCircuitOpen):
		writeJSON(w, http.StatusBadGateway, errorResponse(err.Error()))
	default:
		logging.Error("Internal error", err, nil)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}
