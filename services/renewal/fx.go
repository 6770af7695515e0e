package renewal

import (
	"context"

	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("renewal.module",
	fx.Provide(
		NewCondition,
		NewDispatcher,
		NewService,
	),
)

// WorkerModule runs renewal tasks from the queue and schedules them nightly.
var WorkerModule = fx.Module("renewal.worker",
	Module,
	fx.Provide(
		fx.Annotate(NewRedisLocker, fx.As(new(Locker))),
		NewTaskRunner,
		NewScheduler,
	),
	fx.Invoke(registerHandlers, startScheduler),
)

func registerHandlers(mux *asynq.ServeMux, r *TaskRunner) {
	mux.HandleFunc(taskname.LicenseRenewalRun, r.HandleRenewalTask)
}

func startScheduler(lc fx.Lifecycle, cfg *config.Config, s *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start(ctx, cfg.Renewal.Schedule)
		},
		OnStop: func(stop context.Context) error {
			cancel()
			s.Stop(stop)
			return nil
		},
	})
}
