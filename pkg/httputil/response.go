package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
	"github.com/utafrali/wishlist-rest/pkg/logger"
	"github.com/utafrali/wishlist-rest/pkg/validator"
)

// ErrorBody is the JSON body of every error response. Status repeats the
// HTTP status code so clients that only see the body can still branch on it.
type ErrorBody struct {
	Status    int               `json:"status"`
	Code      string            `json:"code"`
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorBody writes an ErrorBody with the given status, code and message,
// stamping the request's correlation ID when one is present.
func WriteErrorBody(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{
		Status:    status,
		Code:      code,
		Error:     message,
		RequestID: logger.CorrelationIDFromContext(r.Context()),
	})
}

// WriteError writes the error body for err. AppErrors keep their code,
// message and status; bare sentinels get their kind's public message.
// 5xx responses are logged with the request-scoped logger, falling back to
// the given one.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	var status int
	var code, message string

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status, code, message = appErr.Status, appErr.Code, appErr.Message
	} else {
		kind := apperrors.Classify(err)
		status, code, message = kind.Status, kind.Code, kind.PublicMessage
		if message == "" {
			message = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		l := logger.FromContext(r.Context())
		if l == slog.Default() && fallback != nil {
			l = fallback
		}
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	WriteErrorBody(w, r, status, code, message)
}

// WriteValidationError writes a 422 response for a request body that failed
// decoding or struct validation. ValidationErrors carry per-field messages.
func WriteValidationError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := logger.CorrelationIDFromContext(r.Context())

	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusUnprocessableEntity, ErrorBody{
			Status:    http.StatusUnprocessableEntity,
			Code:      "VALIDATION_ERROR",
			Error:     "request validation failed",
			Fields:    valErr.Fields(),
			RequestID: requestID,
		})
		return
	}

	WriteJSON(w, http.StatusUnprocessableEntity, ErrorBody{
		Status:    http.StatusUnprocessableEntity,
		Code:      "INVALID_INPUT",
		Error:     err.Error(),
		RequestID: requestID,
	})
}

// ParseID parses a numeric path identifier. Empty, non-numeric and negative
// values all parse to 0, which callers treat as "no id".
func ParseID(param string) int64 {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
