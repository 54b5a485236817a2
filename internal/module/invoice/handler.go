package invoice

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sherrors "github.com/chargehub/server/internal/shared/errors"
	"github.com/chargehub/server/internal/utils/middleware"
	"github.com/chargehub/server/internal/utils/pagination"
)

// ListInvoicesResponse is the paginated invoice listing.
type ListInvoicesResponse struct {
	Invoices   []Invoice           `json:"invoices"`
	Pagination pagination.PageInfo `json:"pagination"`
}

// Handler handles HTTP requests for invoices.
type Handler struct {
	service *Service
}

// NewHandler creates a new invoice handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the invoice routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	invoices := r.Group("/invoices")
	{
		invoices.GET("", h.ListInvoices)
		invoices.GET("/:id", h.GetInvoice)
	}
}

// GetInvoice returns an invoice by ID.
func (h *Handler) GetInvoice(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest("invalid invoice ID").ToResponse())
		return
	}

	inv, err := h.service.GetInvoice(c.Request.Context(), id, tenantID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			appErr := sherrors.NotFound("invoice")
			c.JSON(appErr.StatusCode, appErr.ToResponse())
			return
		}
		appErr := sherrors.Internal("internal error", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusOK, inv)
}

// ListInvoices returns the tenant's invoices.
func (h *Handler) ListInvoices(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	p := pagination.New()
	if err := c.ShouldBindQuery(p); err != nil {
		c.JSON(http.StatusBadRequest, sherrors.BadRequest(err.Error()).ToResponse())
		return
	}

	invoices, total, err := h.service.ListInvoices(c.Request.Context(), tenantID, p)
	if err != nil {
		appErr := sherrors.Internal("internal error", err)
		c.JSON(appErr.StatusCode, appErr.ToResponse())
		return
	}

	c.JSON(http.StatusOK, ListInvoicesResponse{
		Invoices:   invoices,
		Pagination: p.Info(total),
	})
}
