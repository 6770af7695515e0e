package httpapi

import (
	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/health"
	"grc-license-controlplane/pkg/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
)

var Module = fx.Module("httpapi",
	health.Module,
	fx.Provide(NewEngine),
	fx.Invoke(registerOpsEndpoints),
)

// NewEngine builds the gin engine shared by every route module.
func NewEngine(cfg *config.Config) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if len(cfg.Server.CORSOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg.Server.CORSOrigins)))
	}
	r.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.AppName),
		middleware.RequestID(),
		middleware.Tenant(),
		middleware.Logger(),
		middleware.Metrics(),
		middleware.Error(),
	)
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowOrigins = origins
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader, middleware.TenantHeader}
	c.ExposeHeaders = []string{"Location", middleware.RequestIDHeader}
	return c
}

func registerOpsEndpoints(r *gin.Engine, h health.HealthService) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
