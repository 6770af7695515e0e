// Command renewal runs one renewal pass (milestones, then expiry) and exits.
// The exit code is 0 on success and 1 on failure, for use from an external
// scheduler. When REDIS.ADDR is configured the pass holds the daily run lock.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grc-license-controlplane/pkg/config"
	"grc-license-controlplane/pkg/db"
	"grc-license-controlplane/pkg/gen"
	"grc-license-controlplane/pkg/logger"
	"grc-license-controlplane/pkg/policy"
	"grc-license-controlplane/pkg/redis"
	"grc-license-controlplane/services/license"
	"grc-license-controlplane/services/renewal"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "renewal: load config: %v\n", err)
		return 1
	}

	var (
		svc    *renewal.Service
		locker renewal.Locker
	)

	opts := []fx.Option{
		fx.Supply(cfg),
		logger.Module,
		db.Module,
		gen.Module,
		policy.HolderModule,
		license.Module,
		renewal.Module,
		fx.Populate(&svc),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	}
	if cfg.Redis.Addr != "" {
		opts = append(opts,
			redis.Module,
			fx.Invoke(func(client *goredis.Client, node *snowflake.Node) {
				locker = renewal.NewRedisLocker(client, node)
			}),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := fx.New(opts...)
	if err := app.Start(ctx); err != nil {
		zap.L().Error("[Renewal] failed to start", zap.Error(err))
		return 1
	}
	defer func() {
		_ = app.Stop(context.Background())
	}()

	err = svc.RunGuarded(ctx, locker, cfg.Renewal.LockTTL)
	if errors.Is(err, renewal.ErrLocked) {
		zap.L().Info("[Renewal] another run holds the lock, nothing to do")
		return 0
	}
	if err != nil {
		zap.L().Error("[Renewal] run failed", zap.Error(err))
		return 1
	}
	return 0
}
