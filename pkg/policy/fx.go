package policy

import (
	"context"

	"grc-license-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("policy",
	fx.Provide(ProvideHolder),
	fx.Invoke(registerWatcher),
)

// HolderModule loads the policy once and never watches it, for short-lived
// processes.
var HolderModule = fx.Module("policy.holder",
	fx.Provide(ProvideHolder),
)

func ProvideHolder(cfg *config.Config) (*Holder, error) {
	p, err := Load(cfg.License.PolicyPath)
	if err != nil {
		return nil, err
	}
	warnUnknownMode(cfg.License.PolicyPath, p)

	zap.L().Info("[Policy] license policy loaded",
		zap.String("path", cfg.License.PolicyPath),
		zap.String("mode", string(p.Enforcement.Mode)),
		zap.Int("feature_gates", len(p.Enforcement.FeatureGates)),
		zap.Int("milestones", len(p.RenewalCadence.Milestones)),
	)

	return NewHolder(p), nil
}

func registerWatcher(lc fx.Lifecycle, cfg *config.Config, h *Holder) {
	if !cfg.License.WatchPolicy {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return Watch(ctx, cfg.License.PolicyPath, h)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
