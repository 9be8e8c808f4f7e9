package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	webhookapp "github.com/pulsedeck/backend/internal/application/webhook"
	"github.com/pulsedeck/backend/internal/domain/canonical"
	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/domain/shared"
	"github.com/pulsedeck/backend/internal/infrastructure/logger"
)

// WebhookProcessor is the slice of the webhook ingestion service the
// handler depends on
type WebhookProcessor interface {
	Process(ctx context.Context, provider canonical.SourceTool, req webhookapp.Request) (*webhookapp.Result, error)
}

// WebhookHandler receives inbound provider deliveries. It lives outside the
// versioned API group because callback URLs are registered with providers
// and must stay stable.
type WebhookHandler struct {
	webhooks WebhookProcessor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(webhooks WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// RegisterRoutes registers the webhook endpoint on the engine root
func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/:provider", h.Receive)
}

// Receive authenticates and applies one delivery. Providers only need a
// status code; failed deliveries get a non-2xx so the provider retries,
// which the idempotent pipeline absorbs.
func (h *WebhookHandler) Receive(c *gin.Context) {
	provider := canonical.SourceTool(c.Param("provider"))
	if !provider.IsValid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := h.webhooks.Process(c.Request.Context(), provider, webhookapp.Request{
		Header: c.Request.Header,
		Body:   body,
	})
	if err != nil {
		h.deliveryError(c, provider, err)
		return
	}

	for name, values := range result.EchoHeader {
		for _, v := range values {
			c.Header(name, v)
		}
	}

	if result.Challenge != "" {
		// Slack url_verification expects the challenge echoed back
		c.JSON(http.StatusOK, gin.H{"challenge": result.Challenge})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) deliveryError(c *gin.Context, provider canonical.SourceTool, err error) {
	log := logger.FromGin(c)
	switch {
	case errors.Is(err, integration.ErrWebhookSignature):
		log.Warn("webhook rejected",
			zap.String("provider", provider.String()),
			zap.String("reason", "signature"))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
	case errors.Is(err, webhookapp.ErrBadPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
	case errors.Is(err, webhookapp.ErrUnsupportedProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "provider does not deliver webhooks"})
	case errors.Is(err, shared.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no matching integration"})
	default:
		log.Error("webhook processing failed",
			zap.String("provider", provider.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
	}
}
