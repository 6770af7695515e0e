package license

import (
	"grc-license-controlplane/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("license.module",
	fx.Provide(NewRepository),
	fx.Invoke(migrate),
)

func migrate(cfg *config.Config, db *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}

	if err := AutoMigrate(db); err != nil {
		zap.L().Error("[DB] license schema migration failed", zap.Error(err))
		return err
	}

	zap.L().Info("[DB] license schema migrated")
	return nil
}
