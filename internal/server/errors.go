package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/paysync/internal/ledger/domain"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal       = errors.New("internal_error")
	ErrInvalidRequest = errors.New("invalid_request")
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

// mapError is the single place webhook failures become HTTP responses.
// Messages are fixed strings; error details stay in the logs.
func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, webhookdomain.ErrUnknownProvider),
		errors.Is(err, webhookdomain.ErrPayloadTooLarge),
		errors.Is(err, ErrInvalidRequest):
		// Providers only distinguish 4xx from 5xx; unreadable bodies share
		// the unknown-provider response.
		return http.StatusBadRequest, errorPayload{
			Type:    "unknown_provider",
			Message: "payment provider could not be determined",
		}
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "invalid_signature",
			Message: "signature verification failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns (error_type, error_code) for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case errors.Is(err, webhookdomain.ErrPayloadTooLarge):
		return payload.Type, "payload_too_large"
	case errors.Is(err, ErrInvalidRequest):
		return payload.Type, "unreadable_body"
	case errors.Is(err, context.DeadlineExceeded):
		return payload.Type, "deadline_exceeded"
	case errors.Is(err, ledgerdomain.ErrTransientWrite):
		return payload.Type, "transient_write"
	case status == http.StatusInternalServerError:
		return payload.Type, "unexpected"
	}
	return payload.Type, payload.Type
}
