package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(domain.DefaultCatalog(), store.TreasuryDefaults{
		CommissionRateBps: 1000,
		DailyLimit:        10_000,
	}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
}

func TestOutboxLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if _, err := repo.RecordPurchase(ctx, store.PurchaseParams{
		AccountID: uuid.New(),
		Tier:      domain.TierSilver,
		Amount:    1000,
		Now:       now,
	}); err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}

	msgs, err := repo.ClaimOutboxMessages(ctx, 10, 120)
	if err != nil {
		t.Fatalf("ClaimOutboxMessages returned error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(msgs))
	}
	if msgs[0].RoutingKey != domain.RKPurchaseRecorded {
		t.Fatalf("unexpected routing key %q", msgs[0].RoutingKey)
	}

	var event domain.PurchaseRecordedEvent
	if err := json.Unmarshal(msgs[0].Payload, &event); err != nil {
		t.Fatalf("outbox payload is not valid JSON: %v", err)
	}
	if event.Amount != 1000 {
		t.Fatalf("expected event amount 1000, got %d", event.Amount)
	}

	// A claimed message is invisible until it goes stale or fails.
	again, err := repo.ClaimOutboxMessages(ctx, 10, 120)
	if err != nil {
		t.Fatalf("second claim returned error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no redeliverable messages, got %d", len(again))
	}

	// A failed message with zero backoff becomes claimable again with the
	// attempt counter bumped.
	if err := repo.MarkOutboxFailed(ctx, msgs[0].ID, 0, "amqp connection refused"); err != nil {
		t.Fatalf("MarkOutboxFailed returned error: %v", err)
	}
	retried, err := repo.ClaimOutboxMessages(ctx, 10, 120)
	if err != nil {
		t.Fatalf("claim after failure returned error: %v", err)
	}
	if len(retried) != 1 {
		t.Fatalf("expected failed message redelivered, got %d", len(retried))
	}
	if retried[0].Attempts != 1 {
		t.Fatalf("expected 1 recorded attempt, got %d", retried[0].Attempts)
	}

	// Published messages never come back.
	if err := repo.MarkOutboxPublished(ctx, retried[0].ID); err != nil {
		t.Fatalf("MarkOutboxPublished returned error: %v", err)
	}
	done, err := repo.ClaimOutboxMessages(ctx, 10, 120)
	if err != nil {
		t.Fatalf("final claim returned error: %v", err)
	}
	if len(done) != 0 {
		t.Fatalf("expected empty outbox after publish, got %d messages", len(done))
	}
}

func TestPurchaseRollsBackNothingOnValidationFailure(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	accountID := uuid.New()

	if _, err := repo.RecordPurchase(ctx, store.PurchaseParams{
		AccountID: accountID,
		Tier:      domain.TierSilver,
		Amount:    50, // below the tier floor
		Now:       now,
	}); err == nil {
		t.Fatal("expected validation failure")
	}

	if _, err := repo.GetAccount(ctx, accountID); err != domain.ErrAccountNotFound {
		t.Fatalf("expected no account created on rejected purchase, got %v", err)
	}
	treasury, err := repo.GetTreasury(ctx)
	if err != nil {
		t.Fatalf("GetTreasury returned error: %v", err)
	}
	if treasury.TotalDeposits != 0 {
		t.Fatalf("expected untouched treasury, total deposits %d", treasury.TotalDeposits)
	}
	if msgs, _ := repo.ClaimOutboxMessages(ctx, 10, 120); len(msgs) != 0 {
		t.Fatalf("expected empty outbox, got %d messages", len(msgs))
	}
}
