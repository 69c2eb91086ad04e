package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PaymentMetrics struct {
	notifications    *prometheus.CounterVec
	settlementLag    *prometheus.HistogramVec
	creditRetries    prometheus.Counter
	ordersByState    *prometheus.GaugeVec
	reviewBacklog    prometheus.Gauge
	creditBreakerOps *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

func Payment() *PaymentMetrics {
	return PaymentWithConfig(Config{})
}

func PaymentWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

func ResetPaymentMetricsForTest() {
	paymentMetricsOnce = sync.Once{}
	paymentMetrics = nil
}

func newPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "points-payment"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "payment_notifications_total",
			Help:        "Provider callback deliveries by outcome.",
			ConstLabels: constLabels,
		},
		[]string{"provider", "outcome"}, // settled | duplicate | ignored | rejected | failed
	)

	settlementLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "payment_settlement_lag_seconds",
			Help: "Time between provider payment and points settlement.",
			Buckets: []float64{
				1,
				5,
				30,
				60,
				300,   // 5m
				1800,  // 30m
				7200,  // 2h
				86400, // 24h
			},
			ConstLabels: constLabels,
		},
		[]string{"provider"},
	)

	creditRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name:        "payment_credit_retries_total",
			Help:        "Ledger credit attempts deferred to the sweep.",
			ConstLabels: constLabels,
		},
	)

	ordersByState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "payment_orders_total",
			Help:        "Orders currently in each lifecycle state.",
			ConstLabels: constLabels,
		},
		[]string{"state"},
	)

	reviewBacklog := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "payment_orders_needs_review_total",
			Help:        "Paid orders parked for manual review.",
			ConstLabels: constLabels,
		},
	)

	creditBreakerOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "payment_credit_breaker_total",
			Help:        "Ledger credit circuit breaker outcomes.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // ok | open | failed
	)

	registerer.MustRegister(
		notifications,
		settlementLag,
		creditRetries,
		ordersByState,
		reviewBacklog,
		creditBreakerOps,
	)

	return &PaymentMetrics{
		notifications:    notifications,
		settlementLag:    settlementLag,
		creditRetries:    creditRetries,
		ordersByState:    ordersByState,
		reviewBacklog:    reviewBacklog,
		creditBreakerOps: creditBreakerOps,
	}
}

func (m *PaymentMetrics) IncNotification(provider, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(provider, outcome).Inc()
}

func (m *PaymentMetrics) ObserveSettlementLag(provider string, lag time.Duration) {
	if m == nil {
		return
	}
	seconds := lag.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.settlementLag.WithLabelValues(provider).Observe(seconds)
}

func (m *PaymentMetrics) IncCreditRetry() {
	if m == nil {
		return
	}
	m.creditRetries.Inc()
}

func (m *PaymentMetrics) SetOrdersByState(state string, value int64) {
	if m == nil {
		return
	}
	m.ordersByState.WithLabelValues(state).Set(float64(value))
}

func (m *PaymentMetrics) SetReviewBacklog(value int64) {
	if m == nil {
		return
	}
	m.reviewBacklog.Set(float64(value))
}

func (m *PaymentMetrics) IncCreditBreaker(result string) {
	if m == nil {
		return
	}
	m.creditBreakerOps.WithLabelValues(result).Inc()
}
