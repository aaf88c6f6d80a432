// Package service implements the HTTP handlers: the protected catalog
// resource and the operator API. Handlers stay thin; admission decisions
// happen in the middleware chain and the use cases.
package service

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"SurgeGate/internal/model"
	sgerrors "SurgeGate/pkg/errors"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewCatalogService, NewOpsService)

// writeJSON renders v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorBody renders the uniform error envelope without retry guidance.
func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// writeServiceError maps a use case error onto the response envelope.
// Admission rejections keep their status and retry guidance; not-found is a
// plain 404; anything else is a generic 500 so internals never leak.
func writeServiceError(w http.ResponseWriter, err error) {
	if ae, ok := sgerrors.AsAdmission(err); ok {
		retryAfter := int(math.Ceil(ae.RetryAfter.Seconds()))
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		writeJSON(w, ae.Status, map[string]interface{}{
			"error":       ae.Kind,
			"message":     ae.Message,
			"retry_after": retryAfter,
		})
		return
	}

	if errors.Is(err, model.ErrNotFound) {
		writeErrorBody(w, http.StatusNotFound, "not_found", "resource does not exist")
		return
	}

	writeErrorBody(w, http.StatusInternalServerError, "internal_error", "request could not be served")
}
