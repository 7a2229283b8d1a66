// Package handlers implements the HTTP API over the site-access engine.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// Response is the uniform API envelope.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo carries the typed error fields a caller can act on.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	// RetryAfterSeconds accompanies RATE_LIMITED responses.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// WriteJSON writes a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError maps a typed engine error onto an HTTP response. Rate-limited
// responses additionally carry a Retry-After header.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	code := types.GetErrorCode(err)
	status := statusFor(code)
	info := &ErrorInfo{
		Code:      string(code),
		Message:   err.Error(),
		Retryable: types.IsRetryable(err),
	}
	var typed *types.Error
	if errors.As(err, &typed) {
		info.Message = typed.Message
	}
	if code == "" {
		info.Code = string(types.ErrInternal)
	}
	if after := types.RetryAfter(err); after > 0 {
		secs := int(after.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		info.RetryAfterSeconds = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if logger != nil {
		logger.Warn("api error",
			zap.String("code", info.Code),
			zap.String("message", info.Message),
			zap.Int("status", status))
	}
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     info,
		Timestamp: time.Now(),
	})
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidStep, types.ErrSecurityViolation:
		return http.StatusBadRequest
	case types.ErrNavigationBlocked:
		return http.StatusForbidden
	case types.ErrElementNotFound, types.ErrPatternNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrSessionLimit, types.ErrSessionClosed:
		return http.StatusServiceUnavailable
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrDriverInit, types.ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody strictly decodes the request body into dst, writing the
// error response itself on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if r.Body == nil {
		WriteError(w, types.NewError(types.ErrInvalidStep, "request body is empty"), logger)
		return false
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidStep, "invalid JSON body").WithCause(err), logger)
		return false
	}
	return true
}
