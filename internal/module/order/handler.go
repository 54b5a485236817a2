package order

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/middleware"
	"github.com/chargehub/server/internal/utils/pagination"
)

// ListOrdersResponse is the paginated order listing.
type ListOrdersResponse struct {
	Orders     []*Order            `json:"orders"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// Handler handles HTTP requests for orders.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the order routes. Orders are created through the
// payment flow, so only read and cancel operations are exposed.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	orders := r.Group("/orders")
	{
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)
		orders.POST("/:id/cancel", h.CancelOrder)
	}
}

// GetOrder returns an order by ID.
func (h *Handler) GetOrder(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid order ID").ToResponse())
		return
	}

	o, err := h.service.GetOrder(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListOrders returns the tenant's orders.
func (h *Handler) ListOrders(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	p := pagination.New()
	if err := c.ShouldBindQuery(p); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	filter := &Filter{}
	if raw := c.Query("status"); raw != "" {
		status := OrderStatus(raw)
		filter.Status = &status
	}
	if raw := c.Query("user_id"); raw != "" {
		userID, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid user ID").ToResponse())
			return
		}
		filter.UserID = &userID
	}

	orders, total, err := h.service.ListOrders(c.Request.Context(), tenantID, filter, p)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListOrdersResponse{
		Orders:     orders,
		Pagination: p.Info(total),
	})
}

// CancelOrder cancels an order.
func (h *Handler) CancelOrder(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid order ID").ToResponse())
		return
	}

	o, err := h.service.CancelOrder(c.Request.Context(), id, tenantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func respondError(c *gin.Context, err error) {
	var appErr *sherrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	switch {
	case errors.Is(err, ErrOrderNotFound):
		appErr = sherrors.NotFound("order")
	case errors.Is(err, ErrOrderCompleted), errors.Is(err, ErrOrderNotCancelable),
		errors.Is(err, ErrInvalidTransition):
		appErr = sherrors.Conflict(err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCurrency):
		appErr = sherrors.BadRequest(err.Error())
	default:
		appErr = sherrors.Internal("internal error", err)
	}
	c.JSON(appErr.StatusCode, appErr.ToResponse())
}
