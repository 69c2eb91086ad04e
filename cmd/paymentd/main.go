package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/catalog"
	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/clock"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/dedup"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events/relay"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/ledger"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/migration"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/logger"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/metrics"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/order"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/sweep"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/seed"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/server"
	"github.com/wuwweizn/tradingagents-cn-vps/pkg/db"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		metrics.Module,
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(1)
		}),
		clock.Module,
		db.Module,
		fx.Invoke(func(conn *gorm.DB, repo catalogdomain.Repository, log *zap.Logger) error {
			log.Info("starting", zap.String("version", version))
			if err := migration.Run(conn); err != nil {
				return err
			}
			return seed.Packages(context.Background(), conn, repo, log)
		}),
		catalog.Module,
		order.Module,
		ledger.Module,
		events.Module,
		dedup.Module,
		payment.Module,
		sweep.Module,
		relay.Module,
		server.Module,
	)
	app.Run()
}
