package relay

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
)

var Module = fx.Module("events.relay",
	fx.Invoke(runRelay),
)

func runRelay(lc fx.Lifecycle, p Params, log *zap.Logger, cfg config.Config) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Named("events.relay").Info("kafka_disabled")
		return
	}
	relay := NewRelay(p)

	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go relay.RunForever(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return relay.Close()
		},
	})
}
