package main

import (
	"grc-license-controlplane/pkg/asynq"
	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/db"
	"grc-license-controlplane/pkg/gen"
	"grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/otelcol"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/pkg/redis"
	"grc-license-controlplane/pkg/task"
	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/renewal"

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
		redis.Module,
		asynq.Client,
		asynq.Server,
		task.Module,
		policy.Module,
		license.Module,
		renewal.WorkerModule,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
