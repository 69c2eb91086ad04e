package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/cache"
	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	ledgerdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/domain"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

const packageCacheTTL = 30 * time.Second

type HandlerParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	PaymentSvc  paymentdomain.Service
	LedgerSvc   ledgerdomain.Service
	OrderRepo   orderdomain.Repository
	CatalogRepo catalogdomain.Repository
	Cfg         config.Config
}

type Handlers struct {
	db          *gorm.DB
	log         *zap.Logger
	paymentSvc  paymentdomain.Service
	ledgerSvc   ledgerdomain.Service
	orderRepo   orderdomain.Repository
	catalogRepo catalogdomain.Repository
	pkgCache    *cache.TTLCache[string, []catalogdomain.PointsPackage]
	limiter     *rateLimiter
}

func NewHandlers(p HandlerParams) *Handlers {
	return &Handlers{
		db:          p.DB,
		log:         p.Log.Named("server"),
		paymentSvc:  p.PaymentSvc,
		ledgerSvc:   p.LedgerSvc,
		orderRepo:   p.OrderRepo,
		catalogRepo: p.CatalogRepo,
		pkgCache:    cache.New[string, []catalogdomain.PointsPackage](packageCacheTTL),
		limiter:     newRateLimiter(p.Cfg.OrderRateLimit, p.Cfg.OrderRateWindow),
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	api := engine.Group("/api")
	api.GET("/packages", h.listPackages)
	api.POST("/orders", h.createOrder)
	api.GET("/orders/:order_no", h.getOrder)
	api.GET("/orders", h.listOrders)
	api.GET("/users/:username/points", h.getBalance)
	api.POST("/payment/notify/:provider", h.notify)
}
