// Package httpx provides HTTP response utilities.
package httpx

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Only the
// client-safe message of a classified error is exposed.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := shared.KindOf(err)
	status, title := statusOf(kind)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	detail := shared.MessageOf(err)
	if status >= http.StatusInternalServerError {
		detail = ""
	}
	JSON(w, status, ProblemDetail{
		Type:   string(kind),
		Title:  title,
		Status: status,
		Detail: detail,
		Field:  shared.FieldOf(err),
	})
}

func statusOf(kind shared.Kind) (int, string) {
	switch kind {
	case shared.ErrValidation:
		return http.StatusBadRequest, "Validation Failed"
	case shared.ErrConflict:
		return http.StatusBadRequest, "Duplicate"
	case shared.ErrNotFound:
		return http.StatusNotFound, "Not Found"
	case shared.ErrUnauthorized:
		return http.StatusUnauthorized, "Unauthorized"
	case shared.ErrForbidden:
		return http.StatusForbidden, "Forbidden"
	case shared.ErrTransient:
		return http.StatusServiceUnavailable, "Service Unavailable"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
