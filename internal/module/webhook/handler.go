package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxPayloadBytes bounds webhook request bodies.
const maxPayloadBytes = 1 << 20

// signatureHeaders maps provider names to their signature header.
var signatureHeaders = map[string]string{
	"stripe": "Stripe-Signature",
}

// Handler handles inbound webhook deliveries.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the webhook routes. These sit outside the
// tenant-scoped API group: the caller is the gateway, not a tenant.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/:provider", h.Receive)
}

// Receive accepts a gateway delivery. The endpoint always acknowledges with
// 200 so the gateway never retries against us; failures are logged and left
// to the requeue sweep or the gateway's own replay tooling.
func (h *Handler) Receive(c *gin.Context) {
	providerName := c.Param("provider")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Warn("unreadable webhook payload",
			zap.String("provider", providerName), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	header := signatureHeaders[providerName]
	if header == "" {
		header = "Stripe-Signature"
	}
	signature := c.GetHeader(header)

	result, err := h.service.Ingest(c.Request.Context(), providerName, payload, signature)
	if err != nil {
		h.logger.Warn("webhook ingestion failed",
			zap.String("provider", providerName), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"duplicate": result.Duplicate,
	})
}
