package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// TenantIDHeader carries the tenant scope for every API call.
	// Authentication is handled upstream; the gateway injects this header.
	TenantIDHeader = "X-Tenant-ID"
	// TenantIDKey is the context key for the tenant ID.
	TenantIDKey = "tenant_id"
)

// TenantScope returns a middleware that requires a valid tenant ID header.
func TenantScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(TenantIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "TENANT_REQUIRED",
					"message": "X-Tenant-ID header is required",
				},
			})
			return
		}

		tenantID, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "TENANT_INVALID",
					"message": "X-Tenant-ID must be a UUID",
				},
			})
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Next()
	}
}

// GetTenantID returns the tenant ID from context.
func GetTenantID(c *gin.Context) uuid.UUID {
	if id, exists := c.Get(TenantIDKey); exists {
		return id.(uuid.UUID)
	}
	return uuid.Nil
}
