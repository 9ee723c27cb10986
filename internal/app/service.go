/**
 * @description
 * This file contains the core business logic for the treasury-service. The `Service`
 * struct orchestrates the investment ledger, referral commission, price oracle,
 * reward period, and withdrawal operations, coordinating between the repository,
 * the Redis rate limiter, and the Prometheus collector.
 *
 * Key features:
 * - Enforces role checks before any state is touched.
 * - Pre-validates request shape (tier bounds, batch caps) so the repository only
 *   sees well-formed operations.
 * - Delegates atomicity to the repository: every mutation commits as one transaction
 *   together with its outbox event.
 * - Injects time through a clock function so tests can drive staleness and windows.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: For account identifiers.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/metrics: Prometheus counters for operational visibility.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
	"github.com/vestra/treasury-service/pkg/metrics"
)

// Limits carries the tunable operational bounds the service enforces.
type Limits struct {
	PriceValidity       time.Duration
	RewardPeriodGap     time.Duration
	WithdrawWindow      time.Duration
	BatchDepositCap     int
	ClaimLimitPerMinute int
}

// ClaimRateLimiter is the subset of the Redis limiter the service needs. A nil
// limiter disables rate limiting.
type ClaimRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the treasury.
type Service struct {
	repo      store.Repository
	catalog   *domain.Catalog
	limiter   ClaimRateLimiter
	collector *metrics.Collector
	limits    Limits
	now       func() time.Time
}

// NewService creates a new treasury service instance.
func NewService(repo store.Repository, catalog *domain.Catalog, limiter ClaimRateLimiter, collector *metrics.Collector, limits Limits) *Service {
	return &Service{
		repo:      repo,
		catalog:   catalog,
		limiter:   limiter,
		collector: collector,
		limits:    limits,
		now:       time.Now,
	}
}

// WithClock overrides the service clock. Tests use this to drive price staleness,
// reward period gaps, and withdrawal windows deterministically.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func requireRole(caller domain.Caller, role string) error {
	if !caller.HasRole(role) {
		return domain.ErrUnauthorized
	}
	return nil
}

// requireSelfOrOperator lets an account holder act on their own account and an
// operator act on any account.
func requireSelfOrOperator(caller domain.Caller, accountID uuid.UUID) error {
	if caller.AccountID == accountID && caller.HasRole(domain.RoleAccountHolder) {
		return nil
	}
	return requireRole(caller, domain.RoleOperator)
}

func (s *Service) consumeClaimLimit(ctx context.Context, scope string, subject uuid.UUID) error {
	if s.limiter == nil || s.limits.ClaimLimitPerMinute <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject.String(), s.limits.ClaimLimitPerMinute, time.Minute)
	if err != nil {
		// Redis being down must not take claims down with it.
		log.Printf("level=warn component=service msg=\"claim rate limiter unavailable\" scope=%s error=%v", scope, err)
		return nil
	}
	if count > s.limits.ClaimLimitPerMinute {
		log.Printf("level=info component=service msg=\"claim rate limited\" scope=%s subject=%s retry_after=%ds", scope, subject, retryAfter)
		return domain.ErrRateLimited
	}
	return nil
}

// =============================================================================
// Investment ledger
// =============================================================================

// Purchase records a fiat-denominated investment for the caller's own account.
func (s *Service) Purchase(ctx context.Context, caller domain.Caller, tier domain.Tier, amount int64, orderID string, referrerID *uuid.UUID) (*store.PurchaseReceipt, error) {
	if err := requireRole(caller, domain.RoleAccountHolder); err != nil {
		return nil, err
	}
	if err := s.catalog.Validate(tier, amount); err != nil {
		return nil, err
	}

	receipt, err := s.repo.RecordPurchase(ctx, store.PurchaseParams{
		AccountID:     caller.AccountID,
		Tier:          tier,
		Amount:        amount,
		OrderID:       orderID,
		ReferrerID:    referrerID,
		PriceValidity: s.limits.PriceValidity,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Purchase: account=%s tier=%s amount=%d order_id=%s commission=%d", caller.AccountID, tier, receipt.Purchase.Amount, receipt.Purchase.OrderID, receipt.Commission)
	s.collector.PurchaseRecorded(string(tier))
	return receipt, nil
}

// PurchaseWithAlt records an investment funded in the alternative asset. The
// repository converts it under the stored quote inside the same transaction, so
// the quote cannot change between conversion and settlement.
func (s *Service) PurchaseWithAlt(ctx context.Context, caller domain.Caller, tier domain.Tier, altAmount int64, orderID string, referrerID *uuid.UUID) (*store.PurchaseReceipt, error) {
	if err := requireRole(caller, domain.RoleAccountHolder); err != nil {
		return nil, err
	}
	if altAmount <= 0 {
		return nil, domain.ErrInvalidInvestmentAmount
	}
	if p, ok := s.catalog.Product(tier); !ok || !p.Active {
		return nil, domain.ErrInvalidProductType
	}

	receipt, err := s.repo.RecordPurchase(ctx, store.PurchaseParams{
		AccountID:     caller.AccountID,
		Tier:          tier,
		AltAmount:     altAmount,
		OrderID:       orderID,
		ReferrerID:    referrerID,
		PriceValidity: s.limits.PriceValidity,
		Now:           s.now(),
	})
	if err != nil {
		return nil, err
	}
	log.Printf("PurchaseWithAlt: account=%s tier=%s alt_amount=%d converted=%d order_id=%s", caller.AccountID, tier, altAmount, receipt.Converted, receipt.Purchase.OrderID)
	s.collector.PurchaseRecorded(string(tier))
	return receipt, nil
}

// BatchDeposit applies a capped batch of deposits to one account in a single
// transaction. Shape and cap are rejected before the repository is involved.
func (s *Service) BatchDeposit(ctx context.Context, caller domain.Caller, accountID uuid.UUID, amounts []int64, orderIDs []string) (int64, error) {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return 0, err
	}
	if len(amounts) == 0 || len(amounts) != len(orderIDs) {
		return 0, domain.ErrBatchShapeMismatch
	}
	if len(amounts) > s.limits.BatchDepositCap {
		return 0, domain.ErrBatchTooLarge
	}
	seen := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if id == "" {
			return 0, domain.ErrBatchShapeMismatch
		}
		if _, dup := seen[id]; dup {
			return 0, domain.ErrDuplicateOrder
		}
		seen[id] = struct{}{}
	}

	total, err := s.repo.RecordBatchDeposit(ctx, store.BatchDepositParams{
		AccountID: accountID,
		Amounts:   amounts,
		OrderIDs:  orderIDs,
		Now:       s.now(),
	})
	if err != nil {
		return 0, err
	}
	log.Printf("BatchDeposit: account=%s entries=%d total=%d", accountID, len(amounts), total)
	s.collector.BatchDepositApplied(len(amounts))
	return total, nil
}

// ListPurchases returns the most recent purchases for an account.
func (s *Service) ListPurchases(ctx context.Context, caller domain.Caller, accountID uuid.UUID, limit int) ([]domain.Purchase, error) {
	if err := requireSelfOrOperator(caller, accountID); err != nil {
		return nil, err
	}
	return s.repo.ListPurchases(ctx, accountID, limit)
}

// Account returns the ledger view of one account.
func (s *Service) Account(ctx context.Context, caller domain.Caller, accountID uuid.UUID) (*domain.Account, error) {
	if err := requireSelfOrOperator(caller, accountID); err != nil {
		return nil, err
	}
	return s.repo.GetAccount(ctx, accountID)
}

// Treasury returns the aggregate treasury state.
func (s *Service) Treasury(ctx context.Context, caller domain.Caller) (*domain.TreasuryState, error) {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return nil, err
	}
	return s.repo.GetTreasury(ctx)
}

// =============================================================================
// Referral commission engine
// =============================================================================

// SetReferrer binds the caller's account to a referrer. First assignment wins.
func (s *Service) SetReferrer(ctx context.Context, caller domain.Caller, referrerID uuid.UUID) error {
	if err := requireRole(caller, domain.RoleAccountHolder); err != nil {
		return err
	}
	if err := s.repo.SetReferrer(ctx, caller.AccountID, referrerID, s.now()); err != nil {
		return err
	}
	log.Printf("SetReferrer: account=%s referrer=%s", caller.AccountID, referrerID)
	return nil
}

// ClaimCommission pays out the caller's accrued referral commission.
func (s *Service) ClaimCommission(ctx context.Context, caller domain.Caller) (int64, error) {
	if err := requireRole(caller, domain.RoleAccountHolder); err != nil {
		return 0, err
	}
	if err := s.consumeClaimLimit(ctx, "commission_claim", caller.AccountID); err != nil {
		return 0, err
	}

	paid, err := s.repo.ClaimCommission(ctx, caller.AccountID, s.now())
	if err != nil {
		return 0, err
	}
	if paid > 0 {
		log.Printf("ClaimCommission: referrer=%s amount=%d", caller.AccountID, paid)
		s.collector.CommissionPaid(paid)
	}
	return paid, nil
}

// SetCommissionRate updates the global referral rate, bounded at the protocol cap.
func (s *Service) SetCommissionRate(ctx context.Context, caller domain.Caller, rateBps int64) error {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return err
	}
	if rateBps < 0 || rateBps > domain.MaxCommissionRateBps {
		return domain.ErrCommissionRateTooHigh
	}
	if err := s.repo.SetCommissionRate(ctx, rateBps); err != nil {
		return err
	}
	log.Printf("SetCommissionRate: rate_bps=%d set_by=%s", rateBps, caller.AccountID)
	return nil
}

// =============================================================================
// Price oracle
// =============================================================================

// UpdatePrice stores a fresh conversion rate for the alternative asset.
func (s *Service) UpdatePrice(ctx context.Context, caller domain.Caller, rate int64) error {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return err
	}
	if err := s.repo.UpdatePrice(ctx, rate, s.now()); err != nil {
		return err
	}
	log.Printf("UpdatePrice: rate=%d set_by=%s", rate, caller.AccountID)
	return nil
}

// CurrentQuote returns the stored rate together with its staleness verdict.
func (s *Service) CurrentQuote(ctx context.Context) (*domain.PriceQuote, error) {
	t, err := s.repo.GetTreasury(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.PriceQuote{
		Rate:      t.PriceRate,
		UpdatedAt: t.PriceUpdatedAt,
		Valid:     t.PriceRate > 0 && s.now().Sub(t.PriceUpdatedAt) <= s.limits.PriceValidity,
	}, nil
}

// ConvertPreview converts an alt-asset amount under the current quote without
// touching the ledger. A stale or missing quote is rejected the same way a
// purchase would reject it.
func (s *Service) ConvertPreview(ctx context.Context, altAmount int64) (int64, error) {
	quote, err := s.CurrentQuote(ctx)
	if err != nil {
		return 0, err
	}
	if quote.Rate <= 0 {
		return 0, domain.ErrInvalidPrice
	}
	if !quote.Valid {
		return 0, domain.ErrPriceExpired
	}
	return domain.ConvertAlt(altAmount, quote.Rate)
}

// =============================================================================
// Reward periods
// =============================================================================

// StartRewardPeriod opens the next distribution period over a snapshot of all
// funded accounts.
func (s *Service) StartRewardPeriod(ctx context.Context, caller domain.Caller, totalReward int64) (*domain.RewardPeriod, error) {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return nil, err
	}
	period, err := s.repo.StartRewardPeriod(ctx, totalReward, s.limits.RewardPeriodGap, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("StartRewardPeriod: index=%d total_reward=%d snapshot_total=%d", period.Index, period.TotalReward, period.SnapshotTotal)
	return period, nil
}

// ClaimReward pays out the caller's pro-rata share of one period.
func (s *Service) ClaimReward(ctx context.Context, caller domain.Caller, periodIndex int64) (*domain.RewardClaim, error) {
	if err := requireRole(caller, domain.RoleAccountHolder); err != nil {
		return nil, err
	}
	if err := s.consumeClaimLimit(ctx, "reward_claim", caller.AccountID); err != nil {
		return nil, err
	}

	claim, err := s.repo.ClaimRewardShare(ctx, periodIndex, caller.AccountID, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("ClaimReward: period=%d account=%s share=%d", periodIndex, caller.AccountID, claim.Share)
	s.collector.RewardClaimed(claim.Share)
	return claim, nil
}

// RewardPeriod returns one period's parameters and snapshot total.
func (s *Service) RewardPeriod(ctx context.Context, index int64) (*domain.RewardPeriod, error) {
	return s.repo.GetRewardPeriod(ctx, index)
}

// =============================================================================
// Withdrawals and pause
// =============================================================================

// Withdraw debits treasury funds inside the rolling daily limit.
func (s *Service) Withdraw(ctx context.Context, caller domain.Caller, amount int64) (*domain.WithdrawalWindow, error) {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return nil, err
	}
	window, err := s.repo.Withdraw(ctx, amount, s.limits.WithdrawWindow, s.now())
	if err != nil {
		return nil, err
	}
	log.Printf("Withdraw: amount=%d window_used=%d limit=%d by=%s", amount, window.AmountUsed, window.DailyLimit, caller.AccountID)
	s.collector.WithdrawalExecuted(amount)
	return window, nil
}

// SetDailyLimit updates the rolling window cap.
func (s *Service) SetDailyLimit(ctx context.Context, caller domain.Caller, limit int64) error {
	if err := requireRole(caller, domain.RoleOperator); err != nil {
		return err
	}
	if limit < 0 {
		return domain.ErrInvalidDailyLimit
	}
	if err := s.repo.SetDailyLimit(ctx, limit); err != nil {
		return err
	}
	log.Printf("SetDailyLimit: limit=%d set_by=%s", limit, caller.AccountID)
	return nil
}

// EmergencyWithdraw drains the treasury. Owner-only and exempt from both the pause
// switch and the daily limit.
func (s *Service) EmergencyWithdraw(ctx context.Context, caller domain.Caller) (int64, error) {
	if err := requireRole(caller, domain.RoleOwner); err != nil {
		return 0, err
	}
	drained, err := s.repo.EmergencyWithdraw(ctx, s.now())
	if err != nil {
		return 0, err
	}
	log.Printf("EmergencyWithdraw: drained=%d by=%s", drained, caller.AccountID)
	s.collector.WithdrawalExecuted(drained)
	return drained, nil
}

// Pause halts all mutating treasury operations.
func (s *Service) Pause(ctx context.Context, caller domain.Caller) error {
	if err := requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}
	if err := s.repo.SetPaused(ctx, true); err != nil {
		return err
	}
	log.Printf("Pause: treasury paused by=%s", caller.AccountID)
	return nil
}

// Unpause resumes normal operation.
func (s *Service) Unpause(ctx context.Context, caller domain.Caller) error {
	if err := requireRole(caller, domain.RoleOwner); err != nil {
		return err
	}
	if err := s.repo.SetPaused(ctx, false); err != nil {
		return err
	}
	log.Printf("Unpause: treasury resumed by=%s", caller.AccountID)
	return nil
}

// =============================================================================
// Reconciliation
// =============================================================================

// Reconcile compares the sum of per-account invested balances against the treasury
// aggregate and reports the drift. Zero means the ledger invariant holds.
func (s *Service) Reconcile(ctx context.Context) (int64, error) {
	sum, err := s.repo.SumInvested(ctx)
	if err != nil {
		return 0, err
	}
	t, err := s.repo.GetTreasury(ctx)
	if err != nil {
		return 0, err
	}
	drift := t.TotalDeposits - sum
	s.collector.ReconcileDrift(drift)
	if drift != 0 {
		log.Printf("level=error component=reconciler msg=\"ledger drift detected\" total_deposits=%d sum_invested=%d drift=%d", t.TotalDeposits, sum, drift)
	}
	return drift, nil
}
