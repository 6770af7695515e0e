package main

import (
	"net/http"

	"grc-license-controlplane/pkg/middleware"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/services/entitlement"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// registerGatedRoutes exposes GET /v1/gated/<feature_code> for every gated
// feature so clients can probe enforcement end to end. Gates added by a
// policy reload need a restart to get a route.
func registerGatedRoutes(r *gin.Engine, holder *policy.Holder, svc *entitlement.Service) {
	gated := r.Group("/v1/gated")

	for _, gate := range holder.Get().Enforcement.FeatureGates {
		if gate.FeatureCode == "" {
			continue
		}
		featureCode := gate.FeatureCode
		gated.GET("/"+featureCode, entitlement.EnforcementMiddleware(svc, featureCode), func(c *gin.Context) {
			d, _ := entitlement.FromContext(c)
			c.JSON(http.StatusOK, gin.H{
				"feature_code": featureCode,
				"tenant_id":    middleware.TenantID(c),
				"decision":     d,
			})
		})
		zap.L().Debug("gated route registered", zap.String("feature_code", featureCode))
	}
}
