/**
 * @description
 * Audit event payloads. Every state-changing operation writes exactly one of these to
 * the transactional outbox in the same database transaction as the state change; the
 * dispatcher later publishes them to the event exchange for downstream consumers
 * (position issuance, reporting, the admin dashboard).
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the treasury event exchange.
const (
	EventExchange = "treasury.events"

	RKPurchaseRecorded       = "purchase.recorded"
	RKReferralCommissionPaid = "commission.paid"
	RKPriceUpdated           = "price.updated"
	RKRewardPeriodStarted    = "reward.period_started"
	RKRewardClaimed          = "reward.claimed"
	RKWithdrawal             = "withdrawal.executed"
)

// PurchaseRecordedEvent is consumed externally for position/NFT issuance.
type PurchaseRecordedEvent struct {
	PurchaseID uuid.UUID  `json:"purchase_id"`
	AccountID  uuid.UUID  `json:"account_id"`
	Tier       Tier       `json:"tier"`
	Amount     int64      `json:"amount"`
	AltAmount  int64      `json:"alt_amount,omitempty"`
	OrderID    string     `json:"order_id,omitempty"`
	ReferrerID *uuid.UUID `json:"referrer_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ReferralCommissionPaidEvent marks an accrued commission leaving for the payout rail.
type ReferralCommissionPaidEvent struct {
	ReferrerID uuid.UUID `json:"referrer_id"`
	Amount     int64     `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

type PriceUpdatedEvent struct {
	Rate      int64     `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

type RewardPeriodStartedEvent struct {
	PeriodIndex   int64     `json:"period_index"`
	TotalReward   int64     `json:"total_reward"`
	SnapshotTotal int64     `json:"snapshot_total"`
	Timestamp     time.Time `json:"timestamp"`
}

type RewardClaimedEvent struct {
	PeriodIndex int64     `json:"period_index"`
	AccountID   uuid.UUID `json:"account_id"`
	Share       int64     `json:"share"`
	Timestamp   time.Time `json:"timestamp"`
}

// WithdrawalEvent covers both windowed and emergency withdrawals.
type WithdrawalEvent struct {
	Amount    int64     `json:"amount"`
	Emergency bool      `json:"emergency"`
	Timestamp time.Time `json:"timestamp"`
}
