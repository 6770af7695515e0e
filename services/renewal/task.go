package renewal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/rediskey"
	"grc-license-controlplane/pkg/task"
	"grc-license-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type runPayload struct {
	RunDate string `json:"run_date"`
}

// TaskRunner connects the renewal service to the asynq queue.
type TaskRunner struct {
	cfg      *config.Config
	svc      *Service
	locker   Locker
	enqueuer task.Enqueuer
}

func NewTaskRunner(cfg *config.Config, svc *Service, locker Locker, enqueuer task.Enqueuer) *TaskRunner {
	return &TaskRunner{cfg: cfg, svc: svc, locker: locker, enqueuer: enqueuer}
}

// Enqueue schedules one renewal run for the UTC day of now. Duplicate
// enqueues for the same day are dropped.
func (r *TaskRunner) Enqueue(ctx context.Context, now time.Time) error {
	payload, err := json.Marshal(runPayload{RunDate: now.UTC().Format(time.DateOnly)})
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.TaskID(rediskey.BuildRenewalTaskID(now)),
		asynq.MaxRetry(3),
	}
	if r.cfg.Renewal.Queue != "" {
		opts = append(opts, asynq.Queue(r.cfg.Renewal.Queue))
	}
	if r.cfg.Renewal.UniqueTTL > 0 {
		opts = append(opts, asynq.Unique(r.cfg.Renewal.UniqueTTL))
	}

	info, err := r.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.LicenseRenewalRun, payload), opts...)
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		zap.L().Info("[Renewal] run already enqueued", zap.String("run_date", now.UTC().Format(time.DateOnly)))
		return nil
	}
	if err != nil {
		return err
	}

	zap.L().Info("[Renewal] run enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
	)
	return nil
}

// HandleRenewalTask is the asynq handler for taskname.LicenseRenewalRun.
func (r *TaskRunner) HandleRenewalTask(ctx context.Context, t *asynq.Task) error {
	var payload runPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			zap.L().Error("invalid renewal payload", zap.Error(err))
			return errors.Join(err, asynq.SkipRetry)
		}
	}

	zap.L().Info("Processing renewal task", zap.String("run_date", payload.RunDate))

	err := r.svc.RunGuarded(ctx, r.locker, r.cfg.Renewal.LockTTL)
	if errors.Is(err, ErrLocked) {
		zap.L().Info("renewal run skipped, lock held elsewhere", zap.String("run_date", payload.RunDate))
		return nil
	}
	if err != nil {
		zap.L().Error("failed to process renewal task", zap.String("run_date", payload.RunDate), zap.Error(err))
		return err
	}

	zap.L().Info("Finished renewal task", zap.String("run_date", payload.RunDate))
	return nil
}
