package middleware

import (
	"strings"

	"grc-license-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	TenantHeader = "X-Tenant-ID"
	// TenantKey is the gin context key an upstream authenticator sets.
	TenantKey = "tenant_id"
)

// Tenant copies the tenant identifier into the request context. A value
// already set by an authenticator wins over the header.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		if tenantID != "" {
			c.Set(TenantKey, tenantID)
			c.Request = c.Request.WithContext(logger.WithTenant(c.Request.Context(), tenantID))
		}

		c.Next()
	}
}

// TenantID returns the tenant resolved for the request, or "".
func TenantID(c *gin.Context) string {
	if v := c.GetString(TenantKey); v != "" {
		return v
	}
	return strings.TrimSpace(c.GetHeader(TenantHeader))
}
