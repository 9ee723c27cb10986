package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
	"github.com/vestra/treasury-service/internal/store/memory"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testEnv struct {
	service *Service
	repo    *memory.Repository
	clock   *testClock

	owner    domain.Caller
	operator domain.Caller
	alice    domain.Caller
	bob      domain.Caller
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	catalog := domain.DefaultCatalog()
	repo := memory.NewRepository(catalog, store.TreasuryDefaults{
		CommissionRateBps: 1000,
		DailyLimit:        10_000,
	}, clock.now)

	service := NewService(repo, catalog, nil, nil, Limits{
		PriceValidity:       time.Hour,
		RewardPeriodGap:     7 * 24 * time.Hour,
		WithdrawWindow:      24 * time.Hour,
		BatchDepositCap:     3,
		ClaimLimitPerMinute: 0,
	}).WithClock(clock.Now)

	holder := func() domain.Caller {
		return domain.Caller{AccountID: uuid.New(), Roles: []string{domain.RoleAccountHolder}}
	}

	return &testEnv{
		service:  service,
		repo:     repo,
		clock:    clock,
		owner:    domain.Caller{AccountID: uuid.New(), Roles: []string{domain.RoleOwner}},
		operator: domain.Caller{AccountID: uuid.New(), Roles: []string{domain.RoleOperator}},
		alice:    holder(),
		bob:      holder(),
	}
}

func (e *testEnv) mustPurchase(t *testing.T, caller domain.Caller, tier domain.Tier, amount int64) *store.PurchaseReceipt {
	t.Helper()
	receipt, err := e.service.Purchase(context.Background(), caller, tier, amount, "", nil)
	if err != nil {
		t.Fatalf("Purchase(%s, %d) returned error: %v", tier, amount, err)
	}
	return receipt
}

func (e *testEnv) assertLedgerBalanced(t *testing.T) {
	t.Helper()
	drift, err := e.service.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}
	if drift != 0 {
		t.Fatalf("ledger drift after operations: %d", drift)
	}
}

func TestPurchaseUpdatesLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierSilver, 1000)
	env.mustPurchase(t, env.bob, domain.TierGold, 2000)

	account, err := env.service.Account(ctx, env.alice, env.alice.AccountID)
	if err != nil {
		t.Fatalf("Account returned error: %v", err)
	}
	if account.TotalInvested != 1000 {
		t.Fatalf("expected alice invested 1000, got %d", account.TotalInvested)
	}

	treasury, err := env.service.Treasury(ctx, env.operator)
	if err != nil {
		t.Fatalf("Treasury returned error: %v", err)
	}
	if treasury.TotalDeposits != 3000 {
		t.Fatalf("expected total deposits 3000, got %d", treasury.TotalDeposits)
	}
	if treasury.Balance != 3000 {
		t.Fatalf("expected balance 3000, got %d", treasury.Balance)
	}

	env.assertLedgerBalanced(t)
}

func TestPurchaseRejectsOutOfRangeAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 99, "", nil); !errors.Is(err, domain.ErrInvalidInvestmentAmount) {
		t.Fatalf("expected ErrInvalidInvestmentAmount below range, got %v", err)
	}
	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 10_001, "", nil); !errors.Is(err, domain.ErrInvalidInvestmentAmount) {
		t.Fatalf("expected ErrInvalidInvestmentAmount above range, got %v", err)
	}
	if _, err := env.service.Purchase(ctx, env.alice, domain.Tier("bronze"), 1000, "", nil); !errors.Is(err, domain.ErrInvalidProductType) {
		t.Fatalf("expected ErrInvalidProductType, got %v", err)
	}

	env.assertLedgerBalanced(t)
}

func TestPurchaseRejectsDuplicateOrderID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1000, "order-1", nil); err != nil {
		t.Fatalf("first purchase returned error: %v", err)
	}
	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1000, "order-1", nil); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestPurchaseRequiresAccountRole(t *testing.T) {
	env := newTestEnv(t)

	noRole := domain.Caller{AccountID: uuid.New()}
	if _, err := env.service.Purchase(context.Background(), noRole, domain.TierSilver, 1000, "", nil); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReferralCommissionAccrualAndClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Commission rate is 1000 bps: 10% of each referred purchase.
	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1000, "", &env.bob.AccountID); err != nil {
		t.Fatalf("referred purchase returned error: %v", err)
	}
	if _, err := env.service.Purchase(ctx, env.alice, domain.TierGold, 2000, "", &env.bob.AccountID); err != nil {
		t.Fatalf("second referred purchase returned error: %v", err)
	}

	bobAccount, err := env.service.Account(ctx, env.bob, env.bob.AccountID)
	if err != nil {
		t.Fatalf("Account returned error: %v", err)
	}
	if bobAccount.AccruedCommission != 300 {
		t.Fatalf("expected accrued commission 300, got %d", bobAccount.AccruedCommission)
	}

	paid, err := env.service.ClaimCommission(ctx, env.bob)
	if err != nil {
		t.Fatalf("ClaimCommission returned error: %v", err)
	}
	if paid != 300 {
		t.Fatalf("expected claim payout 300, got %d", paid)
	}

	// Second claim is a zero no-op.
	paid, err = env.service.ClaimCommission(ctx, env.bob)
	if err != nil {
		t.Fatalf("second ClaimCommission returned error: %v", err)
	}
	if paid != 0 {
		t.Fatalf("expected zero payout on second claim, got %d", paid)
	}

	env.assertLedgerBalanced(t)
}

func TestCommissionFloorsFractionalAmounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.SetCommissionRate(ctx, env.operator, 333); err != nil {
		t.Fatalf("SetCommissionRate returned error: %v", err)
	}

	receipt, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1050, "", &env.bob.AccountID)
	if err != nil {
		t.Fatalf("Purchase returned error: %v", err)
	}
	// floor(1050 * 333 / 10000) = 34
	if receipt.Commission != 34 {
		t.Fatalf("expected floored commission 34, got %d", receipt.Commission)
	}
}

func TestSelfReferralRejected(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Purchase(context.Background(), env.alice, domain.TierSilver, 1000, "", &env.alice.AccountID); !errors.Is(err, domain.ErrInvalidReferrer) {
		t.Fatalf("expected ErrInvalidReferrer for self referral, got %v", err)
	}
}

func TestReferrerFirstAssignmentWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.SetReferrer(ctx, env.alice, env.bob.AccountID); err != nil {
		t.Fatalf("SetReferrer returned error: %v", err)
	}
	// Re-asserting the same referrer is a no-op.
	if err := env.service.SetReferrer(ctx, env.alice, env.bob.AccountID); err != nil {
		t.Fatalf("repeat SetReferrer returned error: %v", err)
	}
	// A different referrer is rejected.
	other := uuid.New()
	if err := env.service.SetReferrer(ctx, env.alice, other); !errors.Is(err, domain.ErrInvalidReferrer) {
		t.Fatalf("expected ErrInvalidReferrer on reassignment, got %v", err)
	}
}

func TestSetCommissionRateBounds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.SetCommissionRate(ctx, env.operator, domain.MaxCommissionRateBps+1); !errors.Is(err, domain.ErrCommissionRateTooHigh) {
		t.Fatalf("expected ErrCommissionRateTooHigh, got %v", err)
	}
	if err := env.service.SetCommissionRate(ctx, env.operator, -1); !errors.Is(err, domain.ErrCommissionRateTooHigh) {
		t.Fatalf("expected rejection of negative rate, got %v", err)
	}
	if err := env.service.SetCommissionRate(ctx, env.alice, 500); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for account holder, got %v", err)
	}
	if err := env.service.SetCommissionRate(ctx, env.operator, domain.MaxCommissionRateBps); err != nil {
		t.Fatalf("expected max rate accepted, got %v", err)
	}
}

func TestBatchDeposit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	total, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{100, 200, 300}, []string{"b-1", "b-2", "b-3"})
	if err != nil {
		t.Fatalf("BatchDeposit returned error: %v", err)
	}
	if total != 600 {
		t.Fatalf("expected batch total 600, got %d", total)
	}

	env.assertLedgerBalanced(t)
}

func TestBatchDepositRejectsOversizedBatch(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.BatchDeposit(context.Background(), env.operator, env.alice.AccountID,
		[]int64{1, 2, 3, 4}, []string{"c-1", "c-2", "c-3", "c-4"})
	if !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestBatchDepositRejectsShapeMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{100, 200}, []string{"d-1"}); !errors.Is(err, domain.ErrBatchShapeMismatch) {
		t.Fatalf("expected ErrBatchShapeMismatch, got %v", err)
	}
	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, nil, nil); !errors.Is(err, domain.ErrBatchShapeMismatch) {
		t.Fatalf("expected ErrBatchShapeMismatch for empty batch, got %v", err)
	}
}

func TestBatchDepositRejectsDuplicatesAtomically(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Duplicate inside the batch.
	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{100, 200}, []string{"e-1", "e-1"}); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder within batch, got %v", err)
	}

	// Duplicate against history rolls the whole batch back.
	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{100}, []string{"e-2"}); err != nil {
		t.Fatalf("seed batch returned error: %v", err)
	}
	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{50, 60}, []string{"e-3", "e-2"}); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder against history, got %v", err)
	}

	account, err := env.service.Account(ctx, env.operator, env.alice.AccountID)
	if err != nil {
		t.Fatalf("Account returned error: %v", err)
	}
	if account.TotalInvested != 100 {
		t.Fatalf("expected only the seed batch applied, invested=%d", account.TotalInvested)
	}

	env.assertLedgerBalanced(t)
}

func TestBatchDepositRequiresOperator(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.BatchDeposit(context.Background(), env.alice, env.alice.AccountID, []int64{100}, []string{"f-1"}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestPriceOracle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.UpdatePrice(ctx, env.operator, 0); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero rate, got %v", err)
	}
	if err := env.service.UpdatePrice(ctx, env.operator, -10); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative rate, got %v", err)
	}

	if err := env.service.UpdatePrice(ctx, env.operator, 3000); err != nil {
		t.Fatalf("UpdatePrice returned error: %v", err)
	}

	quote, err := env.service.CurrentQuote(ctx)
	if err != nil {
		t.Fatalf("CurrentQuote returned error: %v", err)
	}
	if quote.Rate != 3000 || !quote.Valid {
		t.Fatalf("expected valid quote at 3000, got rate=%d valid=%v", quote.Rate, quote.Valid)
	}

	// 0.1 alt-asset units at rate 3000 convert to 300.
	converted, err := env.service.ConvertPreview(ctx, domain.AltAssetScale/10)
	if err != nil {
		t.Fatalf("ConvertPreview returned error: %v", err)
	}
	if converted != 300 {
		t.Fatalf("expected conversion 300, got %d", converted)
	}
}

func TestAltPurchaseUsesStoredQuote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.UpdatePrice(ctx, env.operator, 3000); err != nil {
		t.Fatalf("UpdatePrice returned error: %v", err)
	}

	receipt, err := env.service.PurchaseWithAlt(ctx, env.alice, domain.TierSilver, domain.AltAssetScale/10, "", nil)
	if err != nil {
		t.Fatalf("PurchaseWithAlt returned error: %v", err)
	}
	if receipt.Converted != 300 {
		t.Fatalf("expected converted amount 300, got %d", receipt.Converted)
	}
	if receipt.Purchase.Amount != 300 {
		t.Fatalf("expected recorded amount 300, got %d", receipt.Purchase.Amount)
	}

	env.assertLedgerBalanced(t)
}

func TestAltPurchaseRejectsStaleQuote(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.UpdatePrice(ctx, env.operator, 3000); err != nil {
		t.Fatalf("UpdatePrice returned error: %v", err)
	}

	env.clock.Advance(61 * time.Minute)

	if _, err := env.service.PurchaseWithAlt(ctx, env.alice, domain.TierSilver, domain.AltAssetScale, "", nil); err == nil {
		t.Fatal("expected stale quote rejection")
	} else if !errors.Is(err, domain.ErrPriceExpired) {
		t.Fatalf("expected ErrPriceExpired, got %v", err)
	}
}

func TestAltPurchaseWithoutQuoteRejected(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.PurchaseWithAlt(context.Background(), env.alice, domain.TierSilver, domain.AltAssetScale, "", nil); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice without a stored quote, got %v", err)
	}
}

func TestRewardDistribution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierSilver, 1000)
	env.mustPurchase(t, env.bob, domain.TierGold, 2000)

	period, err := env.service.StartRewardPeriod(ctx, env.operator, 300)
	if err != nil {
		t.Fatalf("StartRewardPeriod returned error: %v", err)
	}
	if period.Index != 1 {
		t.Fatalf("expected first period index 1, got %d", period.Index)
	}
	if period.SnapshotTotal != 3000 {
		t.Fatalf("expected snapshot total 3000, got %d", period.SnapshotTotal)
	}

	aliceClaim, err := env.service.ClaimReward(ctx, env.alice, period.Index)
	if err != nil {
		t.Fatalf("alice ClaimReward returned error: %v", err)
	}
	if aliceClaim.Share != 100 {
		t.Fatalf("expected alice share 100, got %d", aliceClaim.Share)
	}

	bobClaim, err := env.service.ClaimReward(ctx, env.bob, period.Index)
	if err != nil {
		t.Fatalf("bob ClaimReward returned error: %v", err)
	}
	if bobClaim.Share != 200 {
		t.Fatalf("expected bob share 200, got %d", bobClaim.Share)
	}

	// Double claim is rejected.
	if _, err := env.service.ClaimReward(ctx, env.alice, period.Index); !errors.Is(err, domain.ErrRewardAlreadyClaimed) {
		t.Fatalf("expected ErrRewardAlreadyClaimed, got %v", err)
	}
}

func TestRewardClaimOutsideSnapshotIsZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierSilver, 1000)

	period, err := env.service.StartRewardPeriod(ctx, env.operator, 300)
	if err != nil {
		t.Fatalf("StartRewardPeriod returned error: %v", err)
	}

	// Bob funded after the snapshot; his share is zero and stays claimed.
	env.mustPurchase(t, env.bob, domain.TierGold, 2000)

	claim, err := env.service.ClaimReward(ctx, env.bob, period.Index)
	if err != nil {
		t.Fatalf("ClaimReward returned error: %v", err)
	}
	if claim.Share != 0 {
		t.Fatalf("expected zero share outside snapshot, got %d", claim.Share)
	}
	if _, err := env.service.ClaimReward(ctx, env.bob, period.Index); !errors.Is(err, domain.ErrRewardAlreadyClaimed) {
		t.Fatalf("expected ErrRewardAlreadyClaimed on retry, got %v", err)
	}
}

func TestRewardPeriodGapEnforced(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierSilver, 1000)

	if _, err := env.service.StartRewardPeriod(ctx, env.operator, 300); err != nil {
		t.Fatalf("first StartRewardPeriod returned error: %v", err)
	}
	if _, err := env.service.StartRewardPeriod(ctx, env.operator, 300); !errors.Is(err, domain.ErrRewardPeriodActive) {
		t.Fatalf("expected ErrRewardPeriodActive, got %v", err)
	}

	env.clock.Advance(7 * 24 * time.Hour)

	period, err := env.service.StartRewardPeriod(ctx, env.operator, 500)
	if err != nil {
		t.Fatalf("StartRewardPeriod after gap returned error: %v", err)
	}
	if period.Index != 2 {
		t.Fatalf("expected period index 2, got %d", period.Index)
	}
}

func TestRewardPeriodNotFound(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.ClaimReward(context.Background(), env.alice, 42); !errors.Is(err, domain.ErrRewardPeriodNotFound) {
		t.Fatalf("expected ErrRewardPeriodNotFound, got %v", err)
	}
}

func TestWithdrawRollingLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierGold, 20_000)

	// Daily limit is 10000: 6000 passes, a second 6000 breaches.
	if _, err := env.service.Withdraw(ctx, env.operator, 6000); err != nil {
		t.Fatalf("first withdraw returned error: %v", err)
	}
	if _, err := env.service.Withdraw(ctx, env.operator, 6000); !errors.Is(err, domain.ErrExceedsWithdrawLimit) {
		t.Fatalf("expected ErrExceedsWithdrawLimit, got %v", err)
	}

	// After the window elapses the same amount passes.
	env.clock.Advance(24 * time.Hour)
	window, err := env.service.Withdraw(ctx, env.operator, 6000)
	if err != nil {
		t.Fatalf("withdraw after window reset returned error: %v", err)
	}
	if window.AmountUsed != 6000 {
		t.Fatalf("expected fresh window usage 6000, got %d", window.AmountUsed)
	}

	treasury, err := env.service.Treasury(ctx, env.operator)
	if err != nil {
		t.Fatalf("Treasury returned error: %v", err)
	}
	if treasury.Balance != 8000 {
		t.Fatalf("expected balance 8000 after withdrawals, got %d", treasury.Balance)
	}
	if treasury.TotalWithdrawn != 12_000 {
		t.Fatalf("expected total withdrawn 12000, got %d", treasury.TotalWithdrawn)
	}
}

func TestWithdrawRejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.Withdraw(ctx, env.operator, 0); !errors.Is(err, domain.ErrInvalidWithdrawAmount) {
		t.Fatalf("expected ErrInvalidWithdrawAmount for zero amount, got %v", err)
	}
	if _, err := env.service.Withdraw(ctx, env.operator, -50); !errors.Is(err, domain.ErrInvalidWithdrawAmount) {
		t.Fatalf("expected ErrInvalidWithdrawAmount for negative amount, got %v", err)
	}
}

func TestSetDailyLimitClampsWindowUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierGold, 20_000)

	if _, err := env.service.Withdraw(ctx, env.operator, 6000); err != nil {
		t.Fatalf("withdraw returned error: %v", err)
	}

	// Lowering the limit below current usage clamps the window so
	// amountUsed never exceeds dailyLimit.
	if err := env.service.SetDailyLimit(ctx, env.operator, 100); err != nil {
		t.Fatalf("SetDailyLimit returned error: %v", err)
	}

	treasury, err := env.service.Treasury(ctx, env.operator)
	if err != nil {
		t.Fatalf("Treasury returned error: %v", err)
	}
	if treasury.DailyLimit != 100 {
		t.Fatalf("expected daily limit 100, got %d", treasury.DailyLimit)
	}
	if treasury.WindowAmountUsed > treasury.DailyLimit {
		t.Fatalf("window usage %d exceeds daily limit %d", treasury.WindowAmountUsed, treasury.DailyLimit)
	}

	// The clamped window is exhausted: any further withdrawal breaches.
	if _, err := env.service.Withdraw(ctx, env.operator, 1); !errors.Is(err, domain.ErrExceedsWithdrawLimit) {
		t.Fatalf("expected ErrExceedsWithdrawLimit after clamp, got %v", err)
	}

	// A fresh window honors the new limit.
	env.clock.Advance(24 * time.Hour)
	window, err := env.service.Withdraw(ctx, env.operator, 100)
	if err != nil {
		t.Fatalf("withdraw after window reset returned error: %v", err)
	}
	if window.AmountUsed != 100 {
		t.Fatalf("expected fresh window usage 100, got %d", window.AmountUsed)
	}
}

func TestSetDailyLimitRejectsNegative(t *testing.T) {
	env := newTestEnv(t)

	if err := env.service.SetDailyLimit(context.Background(), env.operator, -1); !errors.Is(err, domain.ErrInvalidDailyLimit) {
		t.Fatalf("expected ErrInvalidDailyLimit, got %v", err)
	}
}

func TestWithdrawRequiresOperator(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.service.Withdraw(context.Background(), env.alice, 100); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestEmergencyWithdrawIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierGold, 20_000)

	if _, err := env.service.EmergencyWithdraw(ctx, env.operator); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for operator, got %v", err)
	}

	drained, err := env.service.EmergencyWithdraw(ctx, env.owner)
	if err != nil {
		t.Fatalf("EmergencyWithdraw returned error: %v", err)
	}
	if drained != 20_000 {
		t.Fatalf("expected drain of 20000, got %d", drained)
	}

	treasury, err := env.service.Treasury(ctx, env.operator)
	if err != nil {
		t.Fatalf("Treasury returned error: %v", err)
	}
	if treasury.Balance != 0 {
		t.Fatalf("expected zero balance after drain, got %d", treasury.Balance)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierGold, 20_000)

	if err := env.service.Pause(ctx, env.owner); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}

	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1000, "", nil); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for purchase, got %v", err)
	}
	if _, err := env.service.BatchDeposit(ctx, env.operator, env.alice.AccountID, []int64{100}, []string{"p-1"}); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for batch deposit, got %v", err)
	}
	if err := env.service.UpdatePrice(ctx, env.operator, 3000); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for price update, got %v", err)
	}
	if _, err := env.service.Withdraw(ctx, env.operator, 100); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for withdraw, got %v", err)
	}
	if _, err := env.service.StartRewardPeriod(ctx, env.operator, 300); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for reward period, got %v", err)
	}

	// Pausing twice is rejected.
	if err := env.service.Pause(ctx, env.owner); !errors.Is(err, domain.ErrPaused) {
		t.Fatalf("expected ErrPaused for repeated pause, got %v", err)
	}

	// Emergency withdraw bypasses the pause switch.
	drained, err := env.service.EmergencyWithdraw(ctx, env.owner)
	if err != nil {
		t.Fatalf("EmergencyWithdraw while paused returned error: %v", err)
	}
	if drained != 20_000 {
		t.Fatalf("expected drain of 20000 while paused, got %d", drained)
	}

	// Unpause restores normal operation.
	if err := env.service.Unpause(ctx, env.owner); err != nil {
		t.Fatalf("Unpause returned error: %v", err)
	}
	if _, err := env.service.Purchase(ctx, env.alice, domain.TierSilver, 1000, "", nil); err != nil {
		t.Fatalf("purchase after unpause returned error: %v", err)
	}
}

func TestPauseRequiresOwner(t *testing.T) {
	env := newTestEnv(t)

	if err := env.service.Pause(context.Background(), env.operator); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for operator pause, got %v", err)
	}
}

type stubRateLimiter struct {
	count int
	err   error
}

func (s *stubRateLimiter) ConsumeRateLimit(_ context.Context, _, _ string, _ int, _ time.Duration) (int, int, error) {
	return s.count, 30, s.err
}

func TestClaimRateLimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.service.limiter = &stubRateLimiter{count: 31}
	env.service.limits.ClaimLimitPerMinute = 30

	if _, err := env.service.ClaimCommission(ctx, env.alice); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := env.service.ClaimReward(ctx, env.alice, 1); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited for reward claim, got %v", err)
	}
}

func TestClaimLimiterFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.mustPurchase(t, env.alice, domain.TierSilver, 1000)
	env.service.limiter = &stubRateLimiter{err: errors.New("redis down")}
	env.service.limits.ClaimLimitPerMinute = 30

	// Limiter errors degrade to allowing the claim.
	if _, err := env.service.ClaimCommission(ctx, env.alice); err != nil {
		t.Fatalf("expected claim to pass when limiter is down, got %v", err)
	}
}
