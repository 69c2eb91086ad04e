package metrics

import (
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
)

var Module = fx.Module("metrics",
	fx.Provide(func(cfg config.Config) Config {
		return Config{ServiceName: cfg.ServiceName, Environment: cfg.Environment}
	}),
	fx.Provide(NewMeterProvider),
	fx.Provide(NewHTTPMetrics),
	fx.Provide(PaymentWithConfig),
)

// NewMeterProvider wires the otel SDK to the default prometheus
// registry so /metrics exposes both instrument families.
func NewMeterProvider() (metric.MeterProvider, error) {
	exporter, err := otelprom.New()
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)), nil
}
