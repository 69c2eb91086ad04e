package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	catalogdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/domain"
	catalogrepo "github.com/wuwweizn/tradingagents-cn-vps/internal/catalog/repository"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/clock"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/config"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/events"
	ledgerdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/domain"
	ledgerservice "github.com/wuwweizn/tradingagents-cn-vps/internal/ledger/service"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/observability/metrics"
	orderdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
	orderrepo "github.com/wuwweizn/tradingagents-cn-vps/internal/order/repository"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters/alipay"
	"github.com/wuwweizn/tradingagents-cn-vps/internal/payment/adapters/wechat"
	paymentdomain "github.com/wuwweizn/tradingagents-cn-vps/internal/payment/domain"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

// flakyLedger wraps the real ledger so tests can take the credit path
// down and bring it back.
type flakyLedger struct {
	inner ledgerdomain.Service
	fail  bool
}

func (f *flakyLedger) Credit(ctx context.Context, sourceType string, sourceID snowflake.ID, username string, points int64) (bool, error) {
	if f.fail {
		return false, errors.New("ledger_down")
	}
	return f.inner.Credit(ctx, sourceType, sourceID, username, points)
}

func (f *flakyLedger) Balance(ctx context.Context, username string) (int64, error) {
	return f.inner.Balance(ctx, username)
}

type paymentFixture struct {
	svc       paymentdomain.Service
	db        *gorm.DB
	node      *snowflake.Node
	orderRepo orderdomain.Repository
	ledger    *flakyLedger
}

func setupPaymentTest(t *testing.T) *paymentFixture {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&catalogdomain.PointsPackage{},
		&orderdomain.Order{},
		&orderdomain.IdempotencyMarker{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.UserPoints{},
		&events.Record{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	catalog := catalogrepo.Provide()
	pkg := &catalogdomain.PointsPackage{
		Code: "standard", Name: "标准套餐", Points: 500, BonusPoints: 50,
		PriceCents: 4500, Currency: "CNY", Enabled: true,
	}
	if err := catalog.Upsert(context.Background(), db, pkg); err != nil {
		t.Fatalf("seed package: %v", err)
	}

	ledger := &flakyLedger{inner: ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
	})}

	wechatAdapter := wechat.New()
	alipayAdapter := alipay.New()
	registry := adapters.NewRegistry(
		adapters.Entry{
			Adapter:  wechatAdapter,
			Verifier: wechatAdapter,
			Credentials: paymentdomain.Credentials{
				AppID:      "wx1234567890",
				MerchantID: "1900001234",
				APIKey:     testAPIKey,
				SignType:   wechat.SignTypeMD5,
				Enabled:    true,
			},
		},
		adapters.Entry{
			Adapter:  alipayAdapter,
			Verifier: alipayAdapter,
			Credentials: paymentdomain.Credentials{
				AppID:   "2021000000000000",
				Enabled: false,
			},
		},
	)

	orders := orderrepo.Provide()
	cfg := config.Config{
		OrderTTL:          2 * time.Hour,
		LedgerTimeout:     5 * time.Second,
		CreditRetryBase:   30 * time.Second,
		CreditMaxAttempts: 8,
	}

	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.SystemClock{},
		OrderRepo:   orders,
		CatalogRepo: catalog,
		LedgerSvc:   ledger,
		Outbox:      events.NewOutbox(db, node),
		Adapters:    registry,
		Dedup:       nil,
		Metrics:     metrics.Payment(),
		Cfg:         cfg,
	})

	return &paymentFixture{svc: svc, db: db, node: node, orderRepo: orders, ledger: ledger}
}

func (f *paymentFixture) createOrder(t *testing.T) *orderdomain.Order {
	t.Helper()
	request, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderInput{
		Username:    "alice",
		PackageCode: "standard",
		Provider:    "wechat",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	order, err := f.orderRepo.GetByOrderNo(context.Background(), f.db, request.OrderNo)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}

func (f *paymentFixture) notification(t *testing.T, overrides map[string]string) []byte {
	t.Helper()
	params := map[string]string{
		"return_code":    "SUCCESS",
		"result_code":    "SUCCESS",
		"transaction_id": "4200001234202612310001",
		"total_fee":      "4500",
		"fee_type":       "CNY",
		"time_end":       "20260829103000",
		"appid":          "wx1234567890",
		"mch_id":         "1900001234",
		"nonce_str":      "abcdef123456",
		"sign_type":      wechat.SignTypeMD5,
	}
	for key, value := range overrides {
		if value == "" {
			delete(params, key)
			continue
		}
		params[key] = value
	}
	params["sign"] = wechat.Sign(params, testAPIKey, wechat.SignTypeMD5)

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("<xml>")
	for _, key := range keys {
		fmt.Fprintf(&b, "<%s><![CDATA[%s]]></%s>", key, params[key], key)
	}
	b.WriteString("</xml>")
	return []byte(b.String())
}

func TestNotificationSettlesOrderExactlyOnce(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(ack.Body, "SUCCESS") {
		t.Fatalf("expected success ack, got %q", ack.Body)
	}

	settled, err := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if settled.State != orderdomain.StateSettled {
		t.Fatalf("expected settled, got %s", settled.State)
	}

	balance, err := f.ledger.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 550 {
		t.Fatalf("expected 550 points, got %d", balance)
	}

	// Redeliveries hit the marker and never touch the ledger again.
	for i := 0; i < 3; i++ {
		ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
		if err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
		if !strings.Contains(ack.Body, "SUCCESS") {
			t.Fatalf("expected success ack on redelivery, got %q", ack.Body)
		}
	}
	balance, _ = f.ledger.Balance(ctx, "alice")
	if balance != 550 {
		t.Fatalf("expected balance unchanged at 550, got %d", balance)
	}
}

func TestNotificationRejectsInvalidSignature(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	tampered := []byte(strings.Replace(string(payload), "4500", "1", 1))

	ack, err := f.svc.IngestNotification(ctx, "wechat", tampered)
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid_signature, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateAwaiting {
		t.Fatalf("expected state untouched, got %s", got.State)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 0 {
		t.Fatalf("expected no credit, got %d", balance)
	}
}

func TestNotificationForUnknownOrder(t *testing.T) {
	f := setupPaymentTest(t)

	payload := f.notification(t, map[string]string{"out_trade_no": "PO999999"})
	ack, err := f.svc.IngestNotification(context.Background(), "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrOrderNotFound) {
		t.Fatalf("expected order_not_found, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}
}

func TestNotificationAmountMismatchFailsOrder(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{
		"out_trade_no": order.OrderNo,
		"total_fee":    "100",
	})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrAmountMismatch) {
		t.Fatalf("expected amount_mismatch, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
	if !got.NeedsReview {
		t.Fatalf("expected needs_review flagged")
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 0 {
		t.Fatalf("expected no credit, got %d", balance)
	}
}

func TestPendingStatusIsAckedAndIgnored(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{
		"out_trade_no": order.OrderNo,
		"result_code":  "",
	})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrEventIgnored) {
		t.Fatalf("expected event_ignored, got %v", err)
	}
	if !strings.Contains(ack.Body, "SUCCESS") {
		t.Fatalf("expected success ack so the gateway stops retrying, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateAwaiting {
		t.Fatalf("expected awaiting, got %s", got.State)
	}
}

func TestFailedStatusFailsOrder(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{
		"out_trade_no": order.OrderNo,
		"result_code":  "FAIL",
	})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !strings.Contains(ack.Body, "SUCCESS") {
		t.Fatalf("expected success ack, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
}

func TestTransientLedgerFailureRollsBackAndRecovers(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)
	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})

	f.ledger.fail = true
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrTransientFailure) {
		t.Fatalf("expected transient_failure, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack so the gateway redelivers, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateAwaiting {
		t.Fatalf("expected rollback to awaiting, got %s", got.State)
	}

	f.ledger.fail = false
	if _, err := f.svc.IngestNotification(ctx, "wechat", payload); err != nil {
		t.Fatalf("redelivery after recovery: %v", err)
	}
	got, _ = f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateSettled {
		t.Fatalf("expected settled after recovery, got %s", got.State)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected 550 points, got %d", balance)
	}
}

func TestNotificationForCreatedOrderIsRejected(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)
	if err := f.db.Model(&orderdomain.Order{}).Where("id = ?", order.ID).
		Update("state", orderdomain.StateCreated).Error; err != nil {
		t.Fatalf("reset state: %v", err)
	}

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrOrderNotPayable) {
		t.Fatalf("expected order_not_payable, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}
}

func TestUnknownAndDisabledProviders(t *testing.T) {
	f := setupPaymentTest(t)

	if _, err := f.svc.IngestNotification(context.Background(), "paypal", []byte("x")); !errors.Is(err, paymentdomain.ErrInvalidProvider) {
		t.Fatalf("expected invalid_provider, got %v", err)
	}
	if _, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderInput{
		Username: "alice", PackageCode: "standard", Provider: "paypal",
	}); !errors.Is(err, paymentdomain.ErrInvalidProvider) {
		t.Fatalf("expected invalid_provider, got %v", err)
	}

	// Disabled providers are known but refuse work.
	if _, err := f.svc.IngestNotification(context.Background(), "alipay", []byte("x")); !errors.Is(err, paymentdomain.ErrProviderDisabled) {
		t.Fatalf("expected provider_disabled, got %v", err)
	}
	if _, err := f.svc.CreateOrder(context.Background(), paymentdomain.CreateOrderInput{
		Username: "alice", PackageCode: "standard", Provider: "alipay",
	}); !errors.Is(err, paymentdomain.ErrProviderDisabled) {
		t.Fatalf("expected provider_disabled, got %v", err)
	}
}

func TestSettleCreditedFinishesStuckPaidOrder(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	// Simulate a crash after awaiting->paid but before credit+settle.
	won, err := f.orderRepo.TryTransition(ctx, f.db, order.ID, orderdomain.StateAwaiting, orderdomain.StatePaid, "txn-crash", order.CreatedAt)
	if err != nil || !won {
		t.Fatalf("force paid: won=%v err=%v", won, err)
	}

	if err := f.svc.SettleCredited(ctx, order.ID); err != nil {
		t.Fatalf("settle credited: %v", err)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StateSettled {
		t.Fatalf("expected settled, got %s", got.State)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected 550 points, got %d", balance)
	}

	// A second sweep pass is a no-op.
	if err := f.svc.SettleCredited(ctx, order.ID); err != nil {
		t.Fatalf("settle replay: %v", err)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected balance unchanged, got %d", balance)
	}
}

func TestConcurrentDuplicateIsAckedWithoutCrediting(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)
	const txnID = "4200001234202612310001"

	// First delivery won awaiting->paid and is still mid-flight.
	won, err := f.orderRepo.TryTransition(ctx, f.db, order.ID, orderdomain.StateAwaiting, orderdomain.StatePaid, txnID, order.CreatedAt)
	if err != nil || !won {
		t.Fatalf("force paid: won=%v err=%v", won, err)
	}

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if !strings.Contains(ack.Body, "SUCCESS") {
		t.Fatalf("expected success ack for concurrent duplicate, got %q", ack.Body)
	}

	// The duplicate neither credited nor advanced the order.
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 0 {
		t.Fatalf("expected no credit from the duplicate, got %d", balance)
	}
	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if got.State != orderdomain.StatePaid {
		t.Fatalf("expected order still paid, got %s", got.State)
	}

	// The winner (or the sweep, if the winner died) finishes the job.
	if err := f.svc.SettleCredited(ctx, order.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected 550 points exactly once, got %d", balance)
	}

	// A late redelivery after settlement hits the marker.
	ack, err = f.svc.IngestNotification(ctx, "wechat", payload)
	if err != nil {
		t.Fatalf("late redelivery: %v", err)
	}
	if !strings.Contains(ack.Body, "SUCCESS") {
		t.Fatalf("expected success ack after settlement, got %q", ack.Body)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected balance unchanged, got %d", balance)
	}
}

func TestSettledOrderRejectsConflictingTransaction(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	if _, err := f.svc.IngestNotification(ctx, "wechat", payload); err != nil {
		t.Fatalf("settle: %v", err)
	}

	conflicting := f.notification(t, map[string]string{
		"out_trade_no":   order.OrderNo,
		"transaction_id": "4200009999202612319999",
	})
	ack, err := f.svc.IngestNotification(ctx, "wechat", conflicting)
	if !errors.Is(err, paymentdomain.ErrInconsistentTxn) {
		t.Fatalf("expected inconsistent_transaction, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 550 {
		t.Fatalf("expected balance unchanged, got %d", balance)
	}
}

func TestPaymentAfterExpiryIsFlaggedForReview(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)
	if err := f.db.Model(&orderdomain.Order{}).Where("id = ?", order.ID).
		Update("state", orderdomain.StateExpired).Error; err != nil {
		t.Fatalf("expire order: %v", err)
	}

	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})
	ack, err := f.svc.IngestNotification(ctx, "wechat", payload)
	if !errors.Is(err, paymentdomain.ErrOrderNotPayable) {
		t.Fatalf("expected order_not_payable, got %v", err)
	}
	if !strings.Contains(ack.Body, "FAIL") {
		t.Fatalf("expected fail ack, got %q", ack.Body)
	}

	got, _ := f.orderRepo.GetByID(ctx, f.db, order.ID)
	if !got.NeedsReview {
		t.Fatalf("expected needs_review set for payment after expiry")
	}
	if got.FailureReason != "paid_after_expiry" {
		t.Fatalf("expected failure reason recorded, got %q", got.FailureReason)
	}
	if balance, _ := f.ledger.Balance(ctx, "alice"); balance != 0 {
		t.Fatalf("expected no credit, got %d", balance)
	}
}

func TestSettlementEventIsQueuedOnce(t *testing.T) {
	f := setupPaymentTest(t)
	ctx := context.Background()
	order := f.createOrder(t)
	payload := f.notification(t, map[string]string{"out_trade_no": order.OrderNo})

	if _, err := f.svc.IngestNotification(ctx, "wechat", payload); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := f.svc.IngestNotification(ctx, "wechat", payload); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	var count int64
	if err := f.db.Model(&events.Record{}).
		Where("event_type = ?", events.TypeOrderSettled).
		Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one settlement event, got %d", count)
	}
}
