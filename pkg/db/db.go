package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
)

// Open connects to the sqlite database at path. WAL mode and a busy
// timeout keep concurrent notification handling from tripping over
// writer locks.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return gdb, nil
}

var Module = fx.Module("db",
	fx.Provide(func(cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
		gdb, err := Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		log.Named("db").Info("database_opened", zap.String("path", cfg.DBPath))
		return gdb, nil
	}),
	fx.Invoke(func(lc fx.Lifecycle, gdb *gorm.DB) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				sqlDB, err := gdb.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
		})
	}),
)
