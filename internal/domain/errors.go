/**
 * @description
 * This file defines the error taxonomy of the treasury ledger engine. Every value is a
 * sentinel: callers match with errors.Is and the API layer maps each one to a response
 * status. All of them describe local, non-retryable validation or state failures — an
 * operation that returns one of these has made no state change at all.
 */

package domain

import "errors"

var (
	// Catalog and ledger.
	ErrInvalidInvestmentAmount = errors.New("investment amount outside product bounds")
	ErrInvalidProductType      = errors.New("unknown or inactive product tier")
	ErrAccountNotFound         = errors.New("account not found")
	ErrDuplicateOrder          = errors.New("duplicate order id")
	ErrBatchTooLarge           = errors.New("batch deposit exceeds size cap")
	ErrBatchShapeMismatch      = errors.New("batch amounts and order ids differ in length")

	// Referral commissions.
	ErrInvalidReferrer       = errors.New("invalid referrer")
	ErrCommissionRateTooHigh = errors.New("commission rate too high")

	// Price oracle.
	ErrInvalidPrice   = errors.New("price must be positive")
	ErrPriceExpired   = errors.New("price quote expired")
	ErrAmountOverflow = errors.New("amount out of representable range")

	// Reward periods.
	ErrRewardPeriodActive   = errors.New("previous reward period still active")
	ErrRewardPeriodNotFound = errors.New("reward period not found")
	ErrRewardAlreadyClaimed = errors.New("reward already claimed for period")

	// Withdrawals and global state.
	ErrInvalidWithdrawAmount = errors.New("withdrawal amount must be positive")
	ErrInvalidDailyLimit     = errors.New("daily limit cannot be negative")
	ErrExceedsWithdrawLimit  = errors.New("withdrawal exceeds daily limit")
	ErrUnauthorized          = errors.New("caller lacks required role")
	ErrPaused                = errors.New("treasury is paused")
	ErrRateLimited           = errors.New("too many claim attempts")
)
