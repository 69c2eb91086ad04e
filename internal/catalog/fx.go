package catalog

import (
	"go.uber.org/fx"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/repository"
)

var Module = fx.Module("catalog",
	fx.Provide(repository.Provide),
)
