package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
)

var Module = fx.Module("logger",
	fx.Provide(func(cfg config.Config) (*zap.Logger, error) {
		return New(cfg.Environment)
	}),
)
