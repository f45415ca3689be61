// Package http provides the HTTP server and handlers for the auth
// service.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	autherrors "github.com/nd-se/auth-service/internal/errors"
)

// errorResponse is the JSON error body. The field name matches what
// the platform's frontends already parse.
type errorResponse struct {
	Detail string `json:"detail"`
}

// writeError translates a service error to an HTTP response. This is
// the single place error codes map to statuses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	detail := autherrors.Detail(err)

	switch {
	case autherrors.IsCode(err, autherrors.CodeInvalidInput):
		status = http.StatusBadRequest
	case autherrors.IsCode(err, autherrors.CodeUnauthorized):
		status = http.StatusUnauthorized
		w.Header().Set("WWW-Authenticate", "Bearer")
	case autherrors.IsCode(err, autherrors.CodeForbidden):
		status = http.StatusForbidden
	case autherrors.IsCode(err, autherrors.CodeNotFound):
		status = http.StatusNotFound
	case autherrors.IsCode(err, autherrors.CodeAlreadyExists):
		status = http.StatusConflict
	case autherrors.IsCode(err, autherrors.CodeRateLimited):
		status = http.StatusTooManyRequests
	case autherrors.IsCode(err, autherrors.CodeNotImplemented):
		status = http.StatusNotImplemented
	default:
		logger.Error("request failed", "error", err)
		detail = "internal server error"
	}

	writeJSON(w, status, errorResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
