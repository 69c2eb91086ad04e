package order

import (
	"go.uber.org/fx"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/order/repository"
)

var Module = fx.Module("order",
	fx.Provide(repository.Provide),
)
