package renewal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler enqueues the nightly renewal run on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	runner *TaskRunner
	now    func() time.Time
}

func NewScheduler(runner *TaskRunner) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		runner: runner,
		now:    time.Now,
	}
}

// cronSpec accepts both 5-field and 6-field (seconds) expressions.
func cronSpec(schedule string) string {
	if len(strings.Fields(schedule)) == 5 {
		return "0 " + schedule
	}
	return schedule
}

// Start registers the schedule and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	spec := cronSpec(schedule)

	_, err := s.cron.AddFunc(spec, func() {
		if err := s.runner.Enqueue(ctx, s.now()); err != nil {
			zap.L().Error("[Scheduler] failed to enqueue renewal run", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid renewal schedule %q: %w", schedule, err)
	}

	s.cron.Start()
	zap.L().Info("[Scheduler] renewal scheduler started", zap.String("schedule", spec))
	return nil
}

// Stop waits for a running enqueue to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	zap.L().Warn("[Scheduler] stopped")
}
