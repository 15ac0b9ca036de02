package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/paysync/internal/webhook/domain"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every delivery that was attributed to a
// provider and verified, whether or not it changed anything. Only transient
// failures ask the provider to retry.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, webhookdomain.ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.WebhookTimeout)
	defer cancel()

	result, err := s.webhookSvc.Handle(ctx, c.Request.Header, payload)
	if result.Provider != "" {
		c.Set("provider", result.Provider)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("outcome", string(result.Outcome))
	c.JSON(http.StatusOK, gin.H{"received": true})
}
