package entitlement

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.module",
	fx.Provide(
		NewAccessAuditor,
		NewUpsellSignaler,
		NewEnforcer,
		NewService,
	),
)

var ServerModule = fx.Module("entitlement.server",
	Module,
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *gin.Engine, h *Handler) {
	h.Register(r)
}
