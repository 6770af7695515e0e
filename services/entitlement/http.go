package entitlement

import (
	"context"
	"encoding/json"
	"net/http"

	"grc-license-controlplane/pkg/errutil"
	"grc-license-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ContextKey is the gin key holding the Decision of an allowed request.
const ContextKey = "license"

// Checker is the part of Service the HTTP layer depends on.
type Checker interface {
	CheckEntitlement(ctx context.Context, tenantID, featureCode string) Decision
}

// EnforcementMiddleware guards a route with the entitlement check for
// featureCode. Allowed requests carry the Decision under ContextKey.
func EnforcementMiddleware(checker Checker, featureCode string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := middleware.TenantID(c)
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Tenant ID required"})
			return
		}

		d := checker.CheckEntitlement(c.Request.Context(), tenantID, featureCode)
		if !d.Allowed {
			Deny(c, d)
			return
		}

		c.Set(ContextKey, d)
		c.Next()
	}
}

// Deny aborts the request with the decision's status (403 when unset) and a
// body of the decision fields plus "error": reason.
func Deny(c *gin.Context, d Decision) {
	status := d.HTTPStatus
	if status == 0 {
		status = http.StatusForbidden
	}
	if status == http.StatusFound && d.RedirectTo != "" {
		c.Header("Location", d.RedirectTo)
	}
	c.AbortWithStatusJSON(status, Body(d))
}

// Body flattens d into the response shape {error: reason, message, ...}.
func Body(d Decision) gin.H {
	out := gin.H{}
	if raw, err := json.Marshal(d); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	out["error"] = d.Reason
	return out
}

// FromContext returns the Decision stored by EnforcementMiddleware.
func FromContext(c *gin.Context) (Decision, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}

type Handler struct {
	checker Checker
}

func NewHandler(svc *Service) *Handler {
	return &Handler{checker: svc}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/v1/entitlements/:feature_code", h.Get)
}

// Get reports the decision for the request tenant without enforcing it.
func (h *Handler) Get(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		_ = c.Error(errutil.Unauthorized("Tenant ID required", nil))
		return
	}

	d := h.checker.CheckEntitlement(c.Request.Context(), tenantID, c.Param("feature_code"))
	c.JSON(http.StatusOK, d)
}
