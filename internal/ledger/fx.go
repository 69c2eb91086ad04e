package ledger

import (
	"go.uber.org/fx"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/service"
)

var Module = fx.Module("ledger.service",
	fx.Provide(service.NewService),
)
