package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/greenledger/internal/observability/logger"
	"github.com/smallbiznis/greenledger/pkg/apperr"
	"github.com/smallbiznis/greenledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type errorPayload struct {
	Code          string              `json:"code"`
	Message       string              `json:"message"`
	Errors        []apperr.FieldError `json:"errors,omitempty"`
	Provider      string              `json:"provider,omitempty"`
	Retriable     bool                `json:"retriable,omitempty"`
	CorrelationID string              `json:"correlation_id,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = apperr.New(apperr.KindUnauthorized, "unauthorized")
	ErrNotFound       = apperr.New(apperr.KindNotFound, "not_found")
	ErrInvalidRequest = apperr.Field("request", "invalid_request", "invalid request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		if status == http.StatusInternalServerError {
			payload.CorrelationID = correlation.NewID()
			logger.FromContext(c.Request.Context()).Error("internal error",
				zap.String("correlation_id", payload.CorrelationID),
				zap.Error(lastErr.Err),
			)
		}
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return ErrInvalidRequest
}

func newValidationError(field, code, message string) error {
	return apperr.Field(field, code, message)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicateEmail,
		apperr.KindOutOfStock,
		apperr.KindImmutable,
		apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindIntegration:
		return http.StatusBadGateway
	case apperr.KindAdvisorUnavailable, apperr.KindTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapError(err error) (int, errorPayload) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrNotFound
	}

	e, ok := apperr.As(err)
	if !ok || e.Kind == apperr.KindInternal {
		return http.StatusInternalServerError, errorPayload{
			Code:    string(apperr.KindInternal),
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Code:    string(e.Kind),
		Message: e.Message,
		Errors:  e.Fields,
	}
	if payload.Message == "" {
		payload.Message = string(e.Kind)
	}
	if e.Kind == apperr.KindIntegration {
		payload.Provider = e.Provider
		payload.Retriable = e.Retriable
	}
	if e.Kind == apperr.KindTransientStorage {
		payload.Retriable = true
	}
	return statusFor(e.Kind), payload
}

// classifyErrorForLog returns the error kind and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if e, ok := apperr.As(err); ok {
		return string(e.Kind), e.Code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return string(apperr.KindNotFound), "not_found"
	}
	return string(apperr.KindInternal), "internal"
}
