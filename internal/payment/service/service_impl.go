package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/sony/gobreaker"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/clock"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/dedup"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
	ledgerdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/logger"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/metrics"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters"
	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	OrderRepo   orderdomain.Repository
	CatalogRepo catalogdomain.Repository
	LedgerSvc   ledgerdomain.Service
	Outbox      *events.Outbox
	Adapters    *adapters.Registry
	Dedup       *dedup.Window `optional:"true"`
	Metrics     *metrics.PaymentMetrics
	Cfg         config.Config
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clk         clock.Clock
	orderRepo   orderdomain.Repository
	catalogRepo catalogdomain.Repository
	ledgerSvc   ledgerdomain.Service
	outbox      *events.Outbox
	adapters    *adapters.Registry
	dedup       *dedup.Window
	metrics     *metrics.PaymentMetrics
	breaker     *gobreaker.CircuitBreaker
	cfg         config.Config
}

func NewService(p Params) paymentdomain.Service {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ledger-credit",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clk:         p.Clock,
		orderRepo:   p.OrderRepo,
		catalogRepo: p.CatalogRepo,
		ledgerSvc:   p.LedgerSvc,
		outbox:      p.Outbox,
		adapters:    p.Adapters,
		dedup:       p.Dedup,
		metrics:     p.Metrics,
		breaker:     breaker,
		cfg:         p.Cfg,
	}
}

func (s *Service) CreateOrder(ctx context.Context, input paymentdomain.CreateOrderInput) (*paymentdomain.PaymentRequest, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return nil, paymentdomain.ErrInvalidUser
	}
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	entry, ok := s.adapters.Resolve(provider)
	if !ok {
		return nil, paymentdomain.ErrInvalidProvider
	}
	if !entry.Credentials.Enabled {
		return nil, paymentdomain.ErrProviderDisabled
	}

	pkg, err := s.catalogRepo.GetByCode(ctx, s.db, strings.TrimSpace(input.PackageCode))
	if errors.Is(err, catalogdomain.ErrPackageNotFound) {
		return nil, paymentdomain.ErrInvalidPackage
	}
	if err != nil {
		return nil, err
	}
	if !pkg.Enabled {
		return nil, paymentdomain.ErrInvalidPackage
	}

	now := s.clk.Now()
	id := s.genID.Generate()
	order := &orderdomain.Order{
		ID:          id,
		OrderNo:     "PO" + id.String(),
		Username:    username,
		PackageID:   pkg.ID,
		PackageCode: pkg.Code,
		Points:      pkg.Points,
		BonusPoints: pkg.BonusPoints,
		AmountCents: pkg.PriceCents,
		Currency:    pkg.Currency,
		Provider:    provider,
		State:       orderdomain.StateCreated,
		ExpiresAt:   now.Add(s.cfg.OrderTTL),
	}
	if err := s.orderRepo.Insert(ctx, s.db, order); err != nil {
		return nil, err
	}

	request, err := entry.Adapter.BuildRequest(ctx, order, pkg, entry.Credentials)
	if err != nil {
		s.log.Warn("payment_request_failed",
			zap.String("order_no", order.OrderNo),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return nil, err
	}

	// The order only starts accepting notifications once the payment
	// handle exists; a callback for a created-state order is rejected.
	if _, err := s.orderRepo.TryTransition(ctx, s.db, order.ID, orderdomain.StateCreated, orderdomain.StateAwaiting, "", s.clk.Now()); err != nil {
		return nil, err
	}

	if err := s.outbox.Publish(ctx, events.Event{
		Type: events.TypeOrderCreated,
		Payload: map[string]any{
			"order_no":     order.OrderNo,
			"username":     username,
			"package_code": pkg.Code,
			"amount_cents": order.AmountCents,
			"currency":     order.Currency,
			"provider":     provider,
		},
	}); err != nil {
		s.log.Warn("order_created_event_failed", zap.String("order_no", order.OrderNo), zap.Error(err))
	}

	s.log.Info("order_created",
		zap.String("order_no", order.OrderNo),
		zap.String("username", username),
		zap.String("package_code", pkg.Code),
		zap.String("provider", provider),
	)
	return request, nil
}

// IngestNotification is the callback pipeline. Ordering is load-bearing:
// the signature is verified before any store lookup so an attacker
// cannot probe which order numbers exist, and the order credits points
// before registering the marker so a crash can only under-mark, never
// double-credit.
func (s *Service) IngestNotification(ctx context.Context, provider string, payload []byte) (paymentdomain.Ack, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	entry, ok := s.adapters.Resolve(provider)
	if !ok {
		return paymentdomain.Ack{}, paymentdomain.ErrInvalidProvider
	}
	if !entry.Credentials.Enabled {
		return paymentdomain.Ack{}, paymentdomain.ErrProviderDisabled
	}

	event, err := entry.Adapter.ParseNotification(ctx, payload)
	if err != nil {
		s.metrics.IncNotification(provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInvalidPayload
	}

	if !entry.Verifier.Verify(event, entry.Credentials) {
		s.metrics.IncNotification(provider, "rejected")
		s.log.Warn("signature_rejected", zap.String("provider", provider))
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInvalidSignature
	}

	switch event.Status {
	case paymentdomain.StatusPending:
		// Acknowledge so the gateway stops redelivering; it will send a
		// terminal status later.
		s.metrics.IncNotification(provider, "ignored")
		return entry.Adapter.FormatAck(true), paymentdomain.ErrEventIgnored
	case paymentdomain.StatusFailed:
		return s.handleFailure(ctx, entry, event)
	}

	return s.handleSuccess(ctx, entry, event)
}

func (s *Service) handleFailure(ctx context.Context, entry adapters.Entry, event *paymentdomain.NotificationEvent) (paymentdomain.Ack, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, s.db, event.OrderNo)
	if errors.Is(err, orderdomain.ErrOrderNotFound) {
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrOrderNotFound
	}
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}

	won, err := s.orderRepo.TryTransition(ctx, s.db, order.ID, orderdomain.StateAwaiting, orderdomain.StateFailed, event.TransactionID, s.clk.Now())
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}
	if won {
		s.publishLifecycle(ctx, events.TypeOrderFailed, order, event.TransactionID)
		s.log.Info("order_failed",
			zap.String("order_no", order.OrderNo),
			zap.String("provider", event.Provider),
		)
	}
	s.metrics.IncNotification(event.Provider, "failed")
	return entry.Adapter.FormatAck(true), nil
}

func (s *Service) handleSuccess(ctx context.Context, entry adapters.Entry, event *paymentdomain.NotificationEvent) (paymentdomain.Ack, error) {
	provider := event.Provider

	if s.dedup.Seen(ctx, provider, event.TransactionID) {
		s.metrics.IncNotification(provider, "duplicate")
		return entry.Adapter.FormatAck(true), nil
	}

	order, err := s.orderRepo.GetByOrderNo(ctx, s.db, event.OrderNo)
	if errors.Is(err, orderdomain.ErrOrderNotFound) {
		// Verified signature with an unknown order number means the
		// merchant account received a payment this service never asked
		// for. Worth a human look.
		s.metrics.IncNotification(provider, "rejected")
		s.log.Warn("verified_notification_for_unknown_order",
			zap.String("provider", provider),
			zap.String("order_no", event.OrderNo),
		)
		return entry.Adapter.FormatAck(false), paymentdomain.ErrOrderNotFound
	}
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}

	seen, err := s.orderRepo.HasMarker(ctx, s.db, provider, event.TransactionID)
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}
	if seen {
		s.dedup.Mark(ctx, provider, event.TransactionID)
		s.metrics.IncNotification(provider, "duplicate")
		return entry.Adapter.FormatAck(true), nil
	}

	if ack, err := s.checkConsistency(ctx, entry, order, event); err != nil {
		return ack, err
	}

	won, err := s.orderRepo.TryTransition(ctx, s.db, order.ID, orderdomain.StateAwaiting, orderdomain.StatePaid, event.TransactionID, s.clk.Now())
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}
	if !won {
		return s.afterLostRace(ctx, entry, order, event)
	}

	if err := s.creditPoints(ctx, order); err != nil {
		return s.deferCredit(ctx, entry, order, event, err)
	}

	if err := s.settle(ctx, order, event.TransactionID, event.Params); err != nil {
		// Points are credited; the sweep finishes the settle. Ack fail so
		// the provider redelivers and the marker path resolves it.
		s.log.Error("settle_failed_after_credit",
			zap.String("order_no", order.OrderNo),
			zap.Error(err),
		)
		return entry.Adapter.FormatAck(false), paymentdomain.ErrTransientFailure
	}

	s.dedup.Mark(ctx, provider, event.TransactionID)
	s.metrics.IncNotification(provider, "settled")
	if !event.PaidAt.IsZero() {
		s.metrics.ObserveSettlementLag(provider, s.clk.Now().Sub(event.PaidAt))
	}
	s.log.Info("order_settled",
		zap.String("order_no", order.OrderNo),
		zap.String("provider", provider),
		zap.String("transaction_id", event.TransactionID),
		zap.Int64("points", order.TotalPoints()),
	)
	return entry.Adapter.FormatAck(true), nil
}

// checkConsistency rejects notifications whose business fields disagree
// with the order. A mismatched amount on an awaiting order is terminal:
// the user paid the wrong figure and a human has to refund.
func (s *Service) checkConsistency(ctx context.Context, entry adapters.Entry, order *orderdomain.Order, event *paymentdomain.NotificationEvent) (paymentdomain.Ack, error) {
	if order.Provider != event.Provider {
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInconsistentTxn
	}
	if order.ProviderTransactionID != "" && order.ProviderTransactionID != event.TransactionID {
		s.metrics.IncNotification(event.Provider, "rejected")
		s.log.Warn("transaction_id_conflict",
			zap.String("order_no", order.OrderNo),
			zap.String("recorded", order.ProviderTransactionID),
			zap.String("received", event.TransactionID),
			zap.Any("params", logger.MaskParams(event.Params)),
		)
		if err := s.orderRepo.FlagReview(ctx, s.db, order.ID, "transaction_id_conflict"); err != nil {
			return entry.Adapter.FormatAck(false), err
		}
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInconsistentTxn
	}

	if event.AmountCents != order.AmountCents || !strings.EqualFold(event.Currency, order.Currency) {
		s.metrics.IncNotification(event.Provider, "rejected")
		s.log.Warn("amount_mismatch",
			zap.String("order_no", order.OrderNo),
			zap.Int64("expected_cents", order.AmountCents),
			zap.Int64("received_cents", event.AmountCents),
			zap.String("expected_currency", order.Currency),
			zap.String("received_currency", event.Currency),
			zap.Any("params", logger.MaskParams(event.Params)),
		)
		won, err := s.orderRepo.TryTransition(ctx, s.db, order.ID, orderdomain.StateAwaiting, orderdomain.StateFailed, event.TransactionID, s.clk.Now())
		if err != nil {
			return entry.Adapter.FormatAck(false), err
		}
		if won {
			if err := s.orderRepo.FlagReview(ctx, s.db, order.ID, "amount_mismatch"); err != nil {
				return entry.Adapter.FormatAck(false), err
			}
			s.publishLifecycle(ctx, events.TypeOrderReviewed, order, event.TransactionID)
		}
		return entry.Adapter.FormatAck(false), paymentdomain.ErrAmountMismatch
	}
	return paymentdomain.Ack{}, nil
}

// afterLostRace resolves a success notification that arrived while
// another delivery owned the awaiting->paid transition, or after the
// order reached a terminal state.
func (s *Service) afterLostRace(ctx context.Context, entry adapters.Entry, stale *orderdomain.Order, event *paymentdomain.NotificationEvent) (paymentdomain.Ack, error) {
	order, err := s.orderRepo.GetByID(ctx, s.db, stale.ID)
	if err != nil {
		return entry.Adapter.FormatAck(false), err
	}

	switch order.State {
	case orderdomain.StateSettled:
		if order.ProviderTransactionID == event.TransactionID {
			s.dedup.Mark(ctx, event.Provider, event.TransactionID)
			s.metrics.IncNotification(event.Provider, "duplicate")
			return entry.Adapter.FormatAck(true), nil
		}
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInconsistentTxn
	case orderdomain.StatePaid:
		if order.ProviderTransactionID == event.TransactionID {
			// The winning delivery owns this transaction. Acknowledge and
			// stand aside; if the winner dies before settling, the sweep
			// picks the paid order up, so redelivery is not needed.
			s.metrics.IncNotification(event.Provider, "duplicate")
			return entry.Adapter.FormatAck(true), nil
		}
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrInconsistentTxn
	case orderdomain.StateCreated:
		// No payment handle was ever issued for this order.
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrOrderNotPayable
	case orderdomain.StateExpired:
		s.metrics.IncNotification(event.Provider, "rejected")
		s.log.Warn("payment_after_expiry", zap.String("order_no", order.OrderNo))
		if err := s.orderRepo.FlagReview(ctx, s.db, order.ID, "paid_after_expiry"); err != nil {
			return entry.Adapter.FormatAck(false), err
		}
		return entry.Adapter.FormatAck(false), paymentdomain.ErrOrderNotPayable
	default:
		s.metrics.IncNotification(event.Provider, "rejected")
		return entry.Adapter.FormatAck(false), paymentdomain.ErrOrderNotPayable
	}
}

// deferCredit rolls a paid order back to awaiting after a transient
// ledger failure so the provider's redelivery (or the sweep) retries.
func (s *Service) deferCredit(ctx context.Context, entry adapters.Entry, order *orderdomain.Order, event *paymentdomain.NotificationEvent, cause error) (paymentdomain.Ack, error) {
	s.log.Warn("credit_deferred",
		zap.String("order_no", order.OrderNo),
		zap.Error(cause),
	)
	s.metrics.IncCreditRetry()

	if _, err := s.orderRepo.TryTransition(ctx, s.db, order.ID, orderdomain.StatePaid, orderdomain.StateAwaiting, "", s.clk.Now()); err != nil {
		return entry.Adapter.FormatAck(false), err
	}
	return entry.Adapter.FormatAck(false), paymentdomain.ErrTransientFailure
}

// SettleCredited finishes a paid order outside the callback path. The
// ledger insert is idempotent, so re-crediting an order whose first
// attempt crashed between credit and settle is a no-op.
func (s *Service) SettleCredited(ctx context.Context, orderID snowflake.ID) error {
	order, err := s.orderRepo.GetByID(ctx, s.db, orderID)
	if err != nil {
		return err
	}
	switch order.State {
	case orderdomain.StateSettled:
		return nil
	case orderdomain.StatePaid:
	default:
		return paymentdomain.ErrOrderNotPayable
	}

	if err := s.creditPoints(ctx, order); err != nil {
		return err
	}
	return s.settle(ctx, order, order.ProviderTransactionID, nil)
}

// creditPoints calls the ledger behind a circuit breaker so a wedged
// database cannot pile up callback goroutines.
func (s *Service) creditPoints(ctx context.Context, order *orderdomain.Order) error {
	creditCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (any, error) {
		created, err := s.ledgerSvc.Credit(creditCtx, ledgerdomain.SourceTypeOrderSettlement, order.ID, order.Username, order.TotalPoints())
		if err != nil {
			return nil, err
		}
		return created, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.metrics.IncCreditBreaker("open")
		} else {
			s.metrics.IncCreditBreaker("failed")
		}
		return err
	}
	s.metrics.IncCreditBreaker("ok")
	return nil
}

// settle flips paid->settled, registers the replay marker, and queues
// the settlement event, all in one transaction.
func (s *Service) settle(ctx context.Context, order *orderdomain.Order, txnID string, params map[string]string) error {
	now := s.clk.Now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.orderRepo.TryTransition(ctx, tx, order.ID, orderdomain.StatePaid, orderdomain.StateSettled, txnID, now)
		if err != nil {
			return err
		}
		if !won {
			// Someone else settled between our credit and now; the marker
			// and event are theirs.
			return nil
		}

		marker := &orderdomain.IdempotencyMarker{
			ID:                    s.genID.Generate(),
			Provider:              order.Provider,
			ProviderTransactionID: txnID,
			OrderID:               order.ID,
		}
		if len(params) > 0 {
			if encoded, err := json.Marshal(params); err == nil {
				marker.Payload = datatypes.JSON(encoded)
			}
		}
		if _, err := s.orderRepo.RegisterMarker(ctx, tx, marker); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			Type:      events.TypeOrderSettled,
			DedupeKey: order.Provider + ":" + txnID,
			Payload: map[string]any{
				"order_no":       order.OrderNo,
				"username":       order.Username,
				"points":         order.TotalPoints(),
				"amount_cents":   order.AmountCents,
				"currency":       order.Currency,
				"provider":       order.Provider,
				"transaction_id": txnID,
			},
		})
	})
}

func (s *Service) publishLifecycle(ctx context.Context, eventType string, order *orderdomain.Order, txnID string) {
	err := s.outbox.Publish(ctx, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"order_no":       order.OrderNo,
			"username":       order.Username,
			"provider":       order.Provider,
			"transaction_id": txnID,
		},
	})
	if err != nil {
		s.log.Warn("lifecycle_event_failed",
			zap.String("order_no", order.OrderNo),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
