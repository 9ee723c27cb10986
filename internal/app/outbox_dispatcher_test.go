package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
	"github.com/vestra/treasury-service/internal/store/memory"
	"github.com/vestra/treasury-service/pkg/rabbitmq"
)

func TestDispatcherDrainsOutboxWithoutBroker(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repo := memory.NewRepository(domain.DefaultCatalog(), store.TreasuryDefaults{
		CommissionRateBps: 1000,
		DailyLimit:        10_000,
	}, now)
	ctx := context.Background()

	if _, err := repo.RecordPurchase(ctx, store.PurchaseParams{
		AccountID: uuid.New(),
		Tier:      domain.TierSilver,
		Amount:    1000,
		Now:       now,
	}); err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}

	// With no broker URL the dispatcher runs on the no-op publisher and
	// still marks messages published so the outbox drains.
	dispatcher := NewOutboxDispatcher(repo, "", nil)
	if err := dispatcher.flushOnce(ctx); err != nil {
		t.Fatalf("flushOnce returned error: %v", err)
	}
	if _, ok := dispatcher.producer.(*rabbitmq.EventProducerFallback); !ok {
		t.Fatalf("expected fallback publisher, got %T", dispatcher.producer)
	}

	remaining, err := repo.ClaimOutboxMessages(ctx, 10, 120)
	if err != nil {
		t.Fatalf("ClaimOutboxMessages returned error: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected drained outbox, got %d messages", len(remaining))
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{0, 1},
		{1, 2},
		{3, 8},
		{8, 256},
		{9, 256},
		{50, 256},
	}
	for _, tc := range tests {
		if got := retryDelaySeconds(tc.attempt); got != tc.want {
			t.Fatalf("retryDelaySeconds(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}
