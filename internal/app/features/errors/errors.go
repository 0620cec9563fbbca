// internal/app/features/errors/errors.go
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/dalemusser/selfmap/internal/domain/apperr"
	"go.uber.org/zap"
)

// Body is the JSON error envelope: {"error":{"code":"...","message":"..."}}.
type Body struct {
	Error Detail `json:"error"`
}

// Detail is the inner error object.
type Detail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Classify maps an error to an HTTP status and a stable code. The most
// specific class wins, so a forbidden mutation is never reported as a
// remote failure.
func Classify(err error) (int, string) {
	switch {
	case stderrors.Is(err, apperr.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case stderrors.Is(err, apperr.ErrGeolocation):
		return http.StatusUnprocessableEntity, "geolocation"
	case stderrors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case stderrors.Is(err, apperr.ErrConfirmationRequired):
		return http.StatusPreconditionRequired, "confirmation_required"
	case stderrors.Is(err, apperr.ErrDecode):
		return http.StatusUnsupportedMediaType, "decode"
	case stderrors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case stderrors.Is(err, apperr.ErrDelete):
		return http.StatusBadGateway, "delete_failed"
	case stderrors.Is(err, apperr.ErrRemoteWrite):
		return http.StatusBadGateway, "remote_write"
	case stderrors.Is(err, apperr.ErrRemoteRead):
		return http.StatusBadGateway, "remote_read"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// Write renders err as a JSON error. Remote and internal failures are
// logged at Error; client errors are not logged.
func Write(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, code := Classify(err)
	msg := apperr.Message(err)
	if status >= http.StatusInternalServerError {
		if log != nil {
			log.Error("request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("code", code),
				zap.Error(err))
		}
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	WriteCode(w, status, code, msg)
}

// WriteCode renders an error envelope with an explicit status and code.
func WriteCode(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: Detail{Code: code, Message: message}})
}

// NotFound is the router's fallback for unknown paths.
func NotFound(w http.ResponseWriter, r *http.Request) {
	WriteCode(w, http.StatusNotFound, "not_found", "no such endpoint")
}

// MethodNotAllowed is the router's fallback for known paths.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteCode(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
