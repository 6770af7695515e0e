package main

import (
	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/db"
	"grc-license-controlplane/pkg/gen"
	"grc-license-controlplane/pkg/httpapi"
	"grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/otelcol"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/pkg/server"
	"grc-license-controlplane/services/entitlement"
	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/usage"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		gen.Module,
		policy.Module,
		license.Module,
		httpapi.Module,
		entitlement.ServerModule,
		usage.ServerModule,
		fx.Invoke(registerGatedRoutes),
		server.ProvideHTTPServer,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
