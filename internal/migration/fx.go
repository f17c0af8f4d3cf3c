package migration

import (
	"github.com/smallbiznis/greenledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			log.Info("schema migration skipped", zap.String("db_type", cfg.DBType))
			return nil
		}
		if err := Migrate(conn, cfg.DBType); err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
