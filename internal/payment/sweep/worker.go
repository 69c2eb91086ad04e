package sweep

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/clock"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/metrics"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	OrderRepo  orderdomain.Repository
	PaymentSvc paymentdomain.Service
	Outbox     *events.Outbox
	Metrics    *metrics.PaymentMetrics
	Cfg        config.Config
}

// Worker is the reconciliation loop: it expires stale orders and
// finishes paid orders whose callback-path settle did not complete.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	clk        clock.Clock
	orderRepo  orderdomain.Repository
	paymentSvc paymentdomain.Service
	outbox     *events.Outbox
	metrics    *metrics.PaymentMetrics
	cfg        config.Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("payment.sweep"),
		clk:        p.Clock,
		orderRepo:  p.OrderRepo,
		paymentSvc: p.PaymentSvc,
		outbox:     p.Outbox,
		metrics:    p.Metrics,
		cfg:        p.Cfg,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("sweep_run_failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) error {
	if err := w.expireStale(ctx); err != nil {
		return err
	}
	if err := w.retryStuck(ctx); err != nil {
		return err
	}
	return w.reportGauges(ctx)
}

func (w *Worker) expireStale(ctx context.Context) error {
	now := w.clk.Now()
	orders, err := w.orderRepo.Expirable(ctx, w.db, now, w.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		won, err := w.orderRepo.TryTransition(ctx, w.db, order.ID, order.State, orderdomain.StateExpired, "", now)
		if err != nil {
			return err
		}
		if !won {
			continue
		}
		w.log.Info("order_expired", zap.String("order_no", order.OrderNo))
		if err := w.outbox.Publish(ctx, events.Event{
			Type: events.TypeOrderExpired,
			Payload: map[string]any{
				"order_no": order.OrderNo,
				"username": order.Username,
				"provider": order.Provider,
			},
		}); err != nil {
			w.log.Warn("expired_event_failed", zap.String("order_no", order.OrderNo), zap.Error(err))
		}
	}
	return nil
}

// retryStuck drains paid orders the callback path left behind: a crash
// between credit and settle, or a ledger outage that outlived the
// provider's redelivery schedule. Backoff doubles per attempt; after
// the attempt budget the order is parked for manual review, still paid,
// never reversed.
func (w *Worker) retryStuck(ctx context.Context) error {
	now := w.clk.Now()
	orders, err := w.orderRepo.StuckInPaid(ctx, w.db, now, w.cfg.SweepBatchSize)
	if err != nil {
		return err
	}
	for _, order := range orders {
		err := w.paymentSvc.SettleCredited(ctx, order.ID)
		if err == nil {
			w.log.Info("order_settled_by_sweep", zap.String("order_no", order.OrderNo))
			continue
		}

		attempts := order.CreditAttempts + 1
		if attempts >= w.cfg.CreditMaxAttempts {
			w.log.Error("order_parked_for_review",
				zap.String("order_no", order.OrderNo),
				zap.Int("attempts", attempts),
				zap.Error(err),
			)
			if flagErr := w.orderRepo.FlagReview(ctx, w.db, order.ID, "credit_retries_exhausted"); flagErr != nil {
				return flagErr
			}
			if pubErr := w.outbox.Publish(ctx, events.Event{
				Type: events.TypeOrderReviewed,
				Payload: map[string]any{
					"order_no": order.OrderNo,
					"username": order.Username,
					"reason":   "credit_retries_exhausted",
				},
			}); pubErr != nil {
				w.log.Warn("review_event_failed", zap.String("order_no", order.OrderNo), zap.Error(pubErr))
			}
			continue
		}

		backoff := w.cfg.CreditRetryBase << (attempts - 1)
		w.metrics.IncCreditRetry()
		w.log.Warn("credit_retry_scheduled",
			zap.String("order_no", order.OrderNo),
			zap.Int("attempts", attempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := w.orderRepo.RecordCreditAttempt(ctx, w.db, order.ID, attempts, now.Add(backoff)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) reportGauges(ctx context.Context) error {
	counts, err := w.orderRepo.CountByState(ctx, w.db)
	if err != nil {
		return err
	}
	for _, state := range []orderdomain.OrderState{
		orderdomain.StateCreated,
		orderdomain.StateAwaiting,
		orderdomain.StatePaid,
		orderdomain.StateSettled,
		orderdomain.StateFailed,
		orderdomain.StateExpired,
	} {
		w.metrics.SetOrdersByState(string(state), counts[state])
	}

	var review int64
	if err := w.db.WithContext(ctx).Model(&orderdomain.Order{}).
		Where("needs_review = ?", true).
		Count(&review).Error; err != nil {
		return err
	}
	w.metrics.SetReviewBacklog(review)
	return nil
}
