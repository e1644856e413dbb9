package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
)

// DownstreamErrorResponse accepts both error body shapes seen from peer
// services: the flat {"code","error"} body this service writes and the
// nested {"error":{"code","message"}} body.
type DownstreamErrorResponse struct {
	Code  string          `json:"code"`
	Error json.RawMessage `json:"error"`
}

type nestedError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d DownstreamErrorResponse) parse() (code, message string, ok bool) {
	if len(d.Error) == 0 {
		return "", "", false
	}
	var flat string
	if json.Unmarshal(d.Error, &flat) == nil {
		return d.Code, flat, true
	}
	var nested nestedError
	if json.Unmarshal(d.Error, &nested) == nil && (nested.Code != "" || nested.Message != "") {
		return nested.Code, nested.Message, true
	}
	return "", "", false
}

// ParseResponseError reads a non-2xx response and turns it into an error
// that keeps the downstream semantics. The body is consumed and closed.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil {
		if code, message, ok := downstream.parse(); ok {
			return mapDownstreamError(resp.StatusCode, code, message, serviceName)
		}
	}
	return fmt.Errorf("%s returned status %d: %s", serviceName, resp.StatusCode, string(bodyBytes))
}

func mapDownstreamError(status int, code, message, serviceName string) error {
	qualifiedMsg := fmt.Sprintf("%s: %s", serviceName, message)

	switch {
	case status == http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: qualifiedMsg, Status: status, Err: apperrors.ErrNotFound}
	case status == http.StatusBadRequest:
		return apperrors.InvalidInput(qualifiedMsg)
	case status == http.StatusConflict:
		return apperrors.Conflict(qualifiedMsg)
	case status == http.StatusUnauthorized:
		return apperrors.Unauthorized(qualifiedMsg)
	case status == http.StatusForbidden:
		return apperrors.Forbidden(qualifiedMsg)
	case status == http.StatusUnprocessableEntity:
		return apperrors.Unprocessable(qualifiedMsg)
	case status == http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualifiedMsg)
	case status >= 500:
		return fmt.Errorf("%s server error (%d/%s): %s", serviceName, status, code, message)
	default:
		return &apperrors.AppError{Code: code, Message: qualifiedMsg, Status: status}
	}
}

// IsClientError reports whether status is a 4xx.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
