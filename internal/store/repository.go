/**
 * @description
 * This file defines the `Repository` interface: the contract for all treasury ledger
 * state. Every mutating method is one atomic transaction — it either commits the whole
 * state change together with its audit outbox event, or leaves nothing behind. The
 * engine in internal/app is written against this interface, which is what allows the
 * in-memory implementation to stand in for Postgres in tests and local runs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Account and purchase identifiers.
 * - internal/domain: Domain models and the sentinel error taxonomy.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
)

// PurchaseParams describes one purchase to record. Amount is in settlement units;
// when AltAmount > 0 the purchase is funded in the alt asset and the store converts it
// at the stored rate inside the same transaction, rejecting stale quotes against
// PriceValidity. ReferrerID, when set, applies the one-time referrer assignment and
// accrues the commission in the same transaction.
type PurchaseParams struct {
	AccountID     uuid.UUID
	Tier          domain.Tier
	Amount        int64
	AltAmount     int64
	OrderID       string
	ReferrerID    *uuid.UUID
	PriceValidity time.Duration
	Now           time.Time
}

// PurchaseReceipt is the result of a committed purchase.
type PurchaseReceipt struct {
	Purchase   domain.Purchase
	Commission int64
	Converted  int64
}

// BatchDepositParams describes a capped multi-order deposit for one account.
// Length and cap checks happen before the transaction opens; duplicate order ids
// abort the whole batch.
type BatchDepositParams struct {
	AccountID uuid.UUID
	Amounts   []int64
	OrderIDs  []string
	Now       time.Time
}

// OutboxMessage is one claimed audit event awaiting publication.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// Repository defines the set of methods for interacting with treasury state.
type Repository interface {
	// Reads. Snapshot reads in the same consistency domain as writes.
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	GetTreasury(ctx context.Context) (*domain.TreasuryState, error)
	SumInvested(ctx context.Context) (int64, error)
	ListPurchases(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Purchase, error)
	GetRewardPeriod(ctx context.Context, index int64) (*domain.RewardPeriod, error)

	// Investment ledger.
	RecordPurchase(ctx context.Context, p PurchaseParams) (*PurchaseReceipt, error)
	RecordBatchDeposit(ctx context.Context, b BatchDepositParams) (int64, error)

	// Referral commission engine.
	SetReferrer(ctx context.Context, accountID, referrerID uuid.UUID, now time.Time) error
	ClaimCommission(ctx context.Context, referrerID uuid.UUID, now time.Time) (int64, error)
	SetCommissionRate(ctx context.Context, rateBps int64) error

	// Price oracle.
	UpdatePrice(ctx context.Context, rate int64, now time.Time) error

	// Reward period distributor.
	StartRewardPeriod(ctx context.Context, totalReward int64, minGap time.Duration, now time.Time) (*domain.RewardPeriod, error)
	ClaimRewardShare(ctx context.Context, periodIndex int64, accountID uuid.UUID, now time.Time) (*domain.RewardClaim, error)

	// Withdrawal rate limiter and global switch.
	Withdraw(ctx context.Context, amount int64, window time.Duration, now time.Time) (*domain.WithdrawalWindow, error)
	SetDailyLimit(ctx context.Context, limit int64) error
	EmergencyWithdraw(ctx context.Context, now time.Time) (int64, error)
	SetPaused(ctx context.Context, paused bool) error

	// Audit outbox.
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}
