package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/logger"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/metrics"
)

func NewEngine(cfg config.Config, httpMetrics *metrics.HTTPMetrics, handlers *Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(httpMetrics))

	engine.GET("/healthz", handlers.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.Register(engine)
	return engine
}

func NewServer(cfg config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// RunHTTP starts the listener under the fx lifecycle with a graceful
// drain on shutdown.
func RunHTTP(lc fx.Lifecycle, srv *http.Server, log *zap.Logger) {
	log = log.Named("server")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http_listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http_server_failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Module("server",
	fx.Provide(NewHandlers),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)
