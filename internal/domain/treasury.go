/**
 * @description
 * Core state of the treasury ledger engine: per-user accounts, the singleton treasury
 * aggregate, the current price quote, reward periods, and the rolling withdrawal window.
 * All monetary fields are scaled integers (settlement-unit smallest units, alt-asset
 * smallest units, basis points for rates). Floating point never touches money.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Roles supplied by the RBAC provider. The owner role implies every other role.
const (
	RoleOwner         = "owner"
	RoleOperator      = "operator"
	RoleAccountHolder = "account"
)

// Caller identifies the authenticated principal of an operation.
type Caller struct {
	AccountID uuid.UUID
	Roles     []string
}

// HasRole reports whether the caller carries the required role. Owners pass every check.
func (c Caller) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role || r == RoleOwner {
			return true
		}
	}
	return false
}

// Account is one investor's ledger entry. Accounts are created lazily on first
// interaction and never deleted. The referrer link is set at most once.
type Account struct {
	ID                uuid.UUID  `json:"id"`
	TotalInvested     int64      `json:"total_invested"`
	AltDeposited      int64      `json:"alt_deposited"`
	ReferrerID        *uuid.UUID `json:"referrer_id,omitempty"`
	AccruedCommission int64      `json:"accrued_commission"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TreasuryState is the singleton aggregate every operation serializes on.
// TotalDeposits must always equal the sum of Account.TotalInvested; Balance is the
// settlement-unit amount actually held by the treasury and is what withdrawals debit.
type TreasuryState struct {
	TotalDeposits     int64     `json:"total_deposits"`
	AltBalance        int64     `json:"alt_balance"`
	Balance           int64     `json:"balance"`
	TotalWithdrawn    int64     `json:"total_withdrawn"`
	CommissionRateBps int64     `json:"commission_rate_bps"`
	DailyLimit        int64     `json:"daily_limit"`
	WindowStart       time.Time `json:"window_start"`
	WindowAmountUsed  int64     `json:"window_amount_used"`
	Paused            bool      `json:"paused"`
	PriceRate         int64     `json:"price_rate"`
	PriceUpdatedAt    time.Time `json:"price_updated_at"`
}

// PriceQuote is the oracle's current exchange rate: settlement smallest units per one
// whole alt-asset unit. A single value, overwritten on update, never historized.
type PriceQuote struct {
	Rate      int64     `json:"rate"`
	UpdatedAt time.Time `json:"updated_at"`
	Valid     bool      `json:"valid"`
}

// Purchase is the record emitted for every accepted deposit. OrderID is unique across
// the whole ledger, which is what makes batch deposits idempotent.
type Purchase struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	OrderID   string    `json:"order_id"`
	Tier      Tier      `json:"tier"`
	Amount    int64     `json:"amount"`
	AltAmount int64     `json:"alt_amount"`
	CreatedAt time.Time `json:"created_at"`
}

// RewardPeriod captures a pro-rata distribution round. The snapshot is immutable once
// taken; only the claimed set grows.
type RewardPeriod struct {
	Index         int64     `json:"index"`
	TotalReward   int64     `json:"total_reward"`
	SnapshotTotal int64     `json:"snapshot_total"`
	StartedAt     time.Time `json:"started_at"`
}

// RewardClaim reports the outcome of one claim.
type RewardClaim struct {
	PeriodIndex int64     `json:"period_index"`
	AccountID   uuid.UUID `json:"account_id"`
	Share       int64     `json:"share"`
	ClaimedAt   time.Time `json:"claimed_at"`
}

// WithdrawalWindow is the rolling 24h quota view returned after a withdrawal.
type WithdrawalWindow struct {
	WindowStart time.Time `json:"window_start"`
	AmountUsed  int64     `json:"amount_used"`
	DailyLimit  int64     `json:"daily_limit"`
}
