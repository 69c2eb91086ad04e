package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/wuwweizn/tradingagents-cn-vps/internal/order/domain"
)

func setupOrderTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Order{}, &domain.IdempotencyMarker{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func insertOrder(t *testing.T, db *gorm.DB, node *snowflake.Node, state domain.OrderState) *domain.Order {
	t.Helper()
	id := node.Generate()
	order := &domain.Order{
		ID:          id,
		OrderNo:     "PO" + id.String(),
		Username:    "alice",
		PackageCode: "standard",
		Points:      500,
		BonusPoints: 50,
		AmountCents: 4500,
		Currency:    "CNY",
		Provider:    "wechat",
		State:       state,
		ExpiresAt:   time.Now().UTC().Add(2 * time.Hour),
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("insert order: %v", err)
	}
	return order
}

func TestTryTransitionWinsOnce(t *testing.T) {
	db := setupOrderTestDB(t)
	node := newTestNode(t)
	repo := Provide()
	ctx := context.Background()

	order := insertOrder(t, db, node, domain.StateAwaiting)
	now := time.Now().UTC()

	won, err := repo.TryTransition(ctx, db, order.ID, domain.StateAwaiting, domain.StatePaid, "txn-1", now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !won {
		t.Fatalf("expected first transition to win")
	}

	won, err = repo.TryTransition(ctx, db, order.ID, domain.StateAwaiting, domain.StatePaid, "txn-2", now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if won {
		t.Fatalf("expected replayed transition to lose")
	}

	got, err := repo.GetByID(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StatePaid {
		t.Fatalf("expected paid, got %s", got.State)
	}
	if got.ProviderTransactionID != "txn-1" {
		t.Fatalf("expected txn-1, got %q", got.ProviderTransactionID)
	}
	if got.PaidAt == nil {
		t.Fatalf("expected paid_at set")
	}
}

func TestTryTransitionSetsSettledAt(t *testing.T) {
	db := setupOrderTestDB(t)
	node := newTestNode(t)
	repo := Provide()
	ctx := context.Background()

	order := insertOrder(t, db, node, domain.StatePaid)
	won, err := repo.TryTransition(ctx, db, order.ID, domain.StatePaid, domain.StateSettled, "txn-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !won {
		t.Fatalf("expected transition to win")
	}

	got, err := repo.GetByID(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SettledAt == nil {
		t.Fatalf("expected settled_at set")
	}
}

func TestRegisterMarkerIsIdempotent(t *testing.T) {
	db := setupOrderTestDB(t)
	node := newTestNode(t)
	repo := Provide()
	ctx := context.Background()

	order := insertOrder(t, db, node, domain.StateSettled)
	marker := &domain.IdempotencyMarker{
		ID:                    node.Generate(),
		Provider:              "wechat",
		ProviderTransactionID: "txn-1",
		OrderID:               order.ID,
	}

	created, err := repo.RegisterMarker(ctx, db, marker)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !created {
		t.Fatalf("expected first marker registration to create")
	}

	replay := &domain.IdempotencyMarker{
		ID:                    node.Generate(),
		Provider:              "wechat",
		ProviderTransactionID: "txn-1",
		OrderID:               order.ID,
	}
	created, err = repo.RegisterMarker(ctx, db, replay)
	if err != nil {
		t.Fatalf("register replay: %v", err)
	}
	if created {
		t.Fatalf("expected replayed marker registration to no-op")
	}

	seen, err := repo.HasMarker(ctx, db, "wechat", "txn-1")
	if err != nil {
		t.Fatalf("has marker: %v", err)
	}
	if !seen {
		t.Fatalf("expected marker to be present")
	}
}

func TestGetByOrderNoNotFound(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := Provide()

	_, err := repo.GetByOrderNo(context.Background(), db, "PO-missing")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order_not_found, got %v", err)
	}
}

func TestExpirableAndStuckQueries(t *testing.T) {
	db := setupOrderTestDB(t)
	node := newTestNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	stale := insertOrder(t, db, node, domain.StateAwaiting)
	if err := db.Model(stale).Update("expires_at", now.Add(-time.Minute)).Error; err != nil {
		t.Fatalf("age order: %v", err)
	}
	insertOrder(t, db, node, domain.StateAwaiting) // still fresh

	stuck := insertOrder(t, db, node, domain.StatePaid)
	parked := insertOrder(t, db, node, domain.StatePaid)
	if err := repo.FlagReview(ctx, db, parked.ID, "amount_mismatch"); err != nil {
		t.Fatalf("flag review: %v", err)
	}

	expirable, err := repo.Expirable(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("expirable: %v", err)
	}
	if len(expirable) != 1 || expirable[0].ID != stale.ID {
		t.Fatalf("expected only the stale order, got %d", len(expirable))
	}

	paid, err := repo.StuckInPaid(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	if len(paid) != 1 || paid[0].ID != stuck.ID {
		t.Fatalf("expected only the unparked paid order, got %d", len(paid))
	}
}

func TestRecordCreditAttemptDefersRetry(t *testing.T) {
	db := setupOrderTestDB(t)
	node := newTestNode(t)
	repo := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	order := insertOrder(t, db, node, domain.StatePaid)
	if err := repo.RecordCreditAttempt(ctx, db, order.ID, 1, now.Add(30*time.Second)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	paid, err := repo.StuckInPaid(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	if len(paid) != 0 {
		t.Fatalf("expected order deferred past its retry time, got %d", len(paid))
	}

	paid, err = repo.StuckInPaid(ctx, db, now.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("stuck: %v", err)
	}
	if len(paid) != 1 {
		t.Fatalf("expected order due for retry, got %d", len(paid))
	}
}
