package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	appErrors "snapgram/internal/errors"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Toast is the error body every failed request gets. Message is safe to show
// to the user as is.
type Toast struct {
	Toast     string            `json:"toast"`
	Kind      appErrors.Kind    `json:"kind"`
	Code      string            `json:"code,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
}

// StatusFor maps an error kind to the HTTP status of its response.
func StatusFor(kind appErrors.Kind) int {
	switch kind {
	case appErrors.KindValidation:
		return http.StatusUnprocessableEntity
	case appErrors.KindNotFound:
		return http.StatusNotFound
	case appErrors.KindConflict:
		return http.StatusConflict
	case appErrors.KindUnauthorized:
		return http.StatusUnauthorized
	case appErrors.KindForbidden:
		return http.StatusForbidden
	case appErrors.KindNetwork:
		return http.StatusBadGateway
	case appErrors.KindUnavailable:
		return http.StatusServiceUnavailable
	case appErrors.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := appErrors.KindOf(err)
	status := StatusFor(kind)

	toast := Toast{
		Kind:      kind,
		Fields:    appErrors.FieldErrors(err),
		RequestID: middleware.GetReqID(r.Context()),
	}
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		toast.Toast = appErr.Message
		toast.Code = appErr.Code
	}
	if toast.Toast == "" {
		toast.Toast = "Something went wrong. Please try again."
	}

	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	s.respondJSON(w, status, toast)
}

// decodeJSON reads a JSON body into dst. Malformed input is a validation
// failure.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return appErrors.Validation("BODY_INVALID", "Invalid request body.").WithCause(err).Build()
	}
	return nil
}
