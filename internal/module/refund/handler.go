package refund

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/chargehub/server/internal/module/payment"
	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/middleware"
	"github.com/chargehub/server/internal/utils/pagination"
)

// CreateRefundRequest is the request body for issuing a refund.
type CreateRefundRequest struct {
	TransactionID uuid.UUID       `json:"transaction_id" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Reason        string          `json:"reason"`
}

// ListRefundsResponse is the paginated refund listing.
type ListRefundsResponse struct {
	Refunds    []Refund            `json:"refunds"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// Handler handles HTTP requests for refunds.
type Handler struct {
	service *Service
}

// NewHandler creates a new refund handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the refund routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	refunds := r.Group("/refunds")
	{
		refunds.POST("", h.CreateRefund)
		refunds.GET("", h.ListRefunds)
		refunds.GET("/:id", h.GetRefund)
	}
}

// CreateRefund issues a refund against a settled payment.
func (h *Handler) CreateRefund(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	var req CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	r, err := h.service.CreateRefund(c.Request.Context(), tenantID, CreateRefundInput{
		TransactionID: req.TransactionID,
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GetRefund returns a refund by ID.
func (h *Handler) GetRefund(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid refund ID").ToResponse())
		return
	}

	r, err := h.service.GetRefund(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// ListRefunds returns the tenant's refunds, optionally filtered by
// transaction, order or user.
func (h *Handler) ListRefunds(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	p := pagination.New()
	if err := c.ShouldBindQuery(p); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	refunds, total, err := h.service.ListRefunds(c.Request.Context(), tenantID, filter, p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListRefundsResponse{
		Refunds:    refunds,
		Pagination: p.Info(total),
	})
}

func parseFilter(c *gin.Context) (*Filter, error) {
	queryUUID := func(param string) (*uuid.UUID, error) {
		raw := c.Query(param)
		if raw == "" {
			return nil, nil
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s", param)
		}
		return &id, nil
	}

	var filter Filter
	var err error
	if filter.TransactionID, err = queryUUID("transaction_id"); err != nil {
		return nil, err
	}
	if filter.OrderID, err = queryUUID("order_id"); err != nil {
		return nil, err
	}
	if filter.UserID, err = queryUUID("user_id"); err != nil {
		return nil, err
	}
	if filter.TransactionID == nil && filter.OrderID == nil && filter.UserID == nil {
		return nil, nil
	}
	return &filter, nil
}

func respondError(c *gin.Context, err error) {
	var appErr *sherrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	switch {
	case errors.Is(err, ErrRefundNotFound):
		appErr = sherrors.NotFound("refund")
	case errors.Is(err, payment.ErrTransactionNotFound):
		appErr = sherrors.NotFound("transaction")
	case errors.Is(err, ErrNotRefundable),
		errors.Is(err, ErrWindowExpired),
		errors.Is(err, ErrAmountExceedsBalance),
		errors.Is(err, ErrNoChargeReference):
		appErr = sherrors.RefundError(err.Error())
	default:
		appErr = sherrors.Internal("internal error", err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
