package dedup

import (
	"context"

	rd "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
)

var Module = fx.Module("dedup",
	fx.Provide(func(cfg config.Config, log *zap.Logger, lc fx.Lifecycle) *Window {
		if cfg.RedisAddr == "" {
			log.Named("dedup").Info("redis_disabled")
			return nil
		}
		rdb := rd.NewClient(&rd.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return rdb.Close()
			},
		})
		return New(rdb, cfg.DedupWindow, log)
	}),
)
