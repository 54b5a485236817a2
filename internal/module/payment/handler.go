package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/middleware"
	"github.com/chargehub/server/internal/utils/pagination"
)

// Handler handles HTTP requests for payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	payments := r.Group("/payments")
	{
		payments.POST("", h.CreatePaymentIntent)
		payments.GET("", h.ListPayments)
		payments.GET("/:id", h.GetPayment)
		payments.POST("/:id/confirm", h.ConfirmPayment)
		payments.POST("/:id/cancel", h.CancelPayment)
		payments.POST("/:id/sync", h.SyncPayment)
	}
}

// CreatePaymentIntent creates an order and payment intent.
func (h *Handler) CreatePaymentIntent(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	var req CreatePaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}

	intent, err := h.service.CreatePaymentIntent(c.Request.Context(), tenantID, CreatePaymentInput{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Provider:       req.Provider,
		PaymentType:    req.PaymentType,
		IdempotencyKey: key,
		Metadata:       req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// GetPayment returns a payment intent, refreshed from the gateway when possible.
func (h *Handler) GetPayment(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid payment intent ID").ToResponse())
		return
	}

	intent, err := h.service.GetPaymentIntent(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// ConfirmPayment confirms a payment intent at the gateway.
func (h *Handler) ConfirmPayment(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid payment intent ID").ToResponse())
		return
	}

	// The confirmation body is optional.
	var req ConfirmPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = ConfirmPaymentIntentRequest{}
	}

	intent, err := h.service.ConfirmPaymentIntent(c.Request.Context(), id, tenantID, ConfirmPaymentInput{
		PaymentMethod: req.PaymentMethod,
		ReturnURL:     req.ReturnURL,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// CancelPayment cancels a payment intent.
func (h *Handler) CancelPayment(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid payment intent ID").ToResponse())
		return
	}

	intent, err := h.service.CancelPaymentIntent(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// SyncPayment forces a reconciliation against the gateway.
func (h *Handler) SyncPayment(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid payment intent ID").ToResponse())
		return
	}

	intent, err := h.service.SyncPaymentIntent(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

// ListPayments returns the tenant's payment intents.
func (h *Handler) ListPayments(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	p := pagination.New()
	if err := c.ShouldBindQuery(p); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	filter := ListFilter{Status: c.Query("status")}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid user ID").ToResponse())
			return
		}
		filter.UserID = &userID
	}

	intents, total, err := h.service.ListPayments(c.Request.Context(), tenantID, filter, p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListPaymentsResponse{
		Payments:   intents,
		Pagination: p.Info(total),
	})
}

func respondError(c *gin.Context, err error) {
	var appErr *sherrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	switch {
	case errors.Is(err, ErrIntentNotFound):
		appErr = sherrors.NotFound("payment intent")
	case errors.Is(err, ErrTransactionNotFound):
		appErr = sherrors.NotFound("transaction")
	case errors.Is(err, ErrIntentTerminal), errors.Is(err, ErrIntentNotConfirmable):
		appErr = sherrors.Conflict(err.Error())
	default:
		appErr = sherrors.Internal("internal error", err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
