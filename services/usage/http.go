package usage

import (
	"net/http"

	"grc-license-controlplane/pkg/errutil"
	"grc-license-controlplane/pkg/middleware"
	"grc-license-controlplane/services/entitlement"

	"github.com/gin-gonic/gin"
)

type TrackRequest struct {
	FeatureCode string   `json:"feature_code" binding:"required"`
	UsageType   string   `json:"usage_type" binding:"required"`
	Value       *float64 `json:"value" binding:"omitempty,gt=0"`
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/v1/usage", h.Track)
	r.GET("/v1/usage/:usage_type/limit", h.Limit)
}

// Track records usage for the request tenant. Recording is best-effort, so
// the response is 202 once the request is valid.
func (h *Handler) Track(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		_ = c.Error(errutil.Unauthorized("Tenant ID required", nil))
		return
	}

	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid usage payload", err))
		return
	}

	value := 1.0
	if req.Value != nil {
		value = *req.Value
	}

	h.svc.TrackUsage(c.Request.Context(), tenantID, req.FeatureCode, req.UsageType, value)
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handler) Limit(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		_ = c.Error(errutil.Unauthorized("Tenant ID required", nil))
		return
	}

	d := h.svc.CheckUsageLimit(c.Request.Context(), tenantID, c.Param("usage_type"))
	if !d.Allowed {
		entitlement.Deny(c, d)
		return
	}
	c.JSON(http.StatusOK, d)
}
