/**
 * @description
 * In-memory implementation of store.Repository. A single mutex plays the role the
 * treasury row lock plays in Postgres, so every operation observes and mutates a
 * consistent snapshot. Used by the engine tests and as the bootstrap fallback when
 * DATABASE_URL is not configured.
 *
 * @dependencies
 * - internal/store: Repository contract and parameter types.
 * - internal/domain: Models, money math, and sentinel errors.
 */

package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vestra/treasury-service/internal/domain"
	"github.com/vestra/treasury-service/internal/store"
)

type snapshotEntry struct {
	amount    int64
	claimed   bool
	claimedAt time.Time
}

type outboxEntry struct {
	msg           store.OutboxMessage
	status        string
	nextAttemptAt time.Time
	claimedAt     time.Time
	lastError     string
}

// Repository holds the full treasury state behind one mutex.
type Repository struct {
	mu       sync.RWMutex
	catalog  *domain.Catalog
	treasury domain.TreasuryState

	accounts  map[uuid.UUID]*domain.Account
	purchases []domain.Purchase
	orderIDs  map[string]struct{}

	periods   map[int64]*domain.RewardPeriod
	lastIndex int64
	snapshots map[int64]map[uuid.UUID]*snapshotEntry

	outbox   []*outboxEntry
	outboxID int64
}

// NewRepository creates an empty in-memory repository seeded with the given defaults.
func NewRepository(catalog *domain.Catalog, defaults store.TreasuryDefaults, now time.Time) *Repository {
	return &Repository{
		catalog: catalog,
		treasury: domain.TreasuryState{
			CommissionRateBps: defaults.CommissionRateBps,
			DailyLimit:        defaults.DailyLimit,
			WindowStart:       now,
		},
		accounts:  make(map[uuid.UUID]*domain.Account),
		orderIDs:  make(map[string]struct{}),
		periods:   make(map[int64]*domain.RewardPeriod),
		snapshots: make(map[int64]map[uuid.UUID]*snapshotEntry),
	}
}

func (r *Repository) checkPaused() error {
	if r.treasury.Paused {
		return domain.ErrPaused
	}
	return nil
}

func (r *Repository) ensureAccount(id uuid.UUID, now time.Time) *domain.Account {
	if a, ok := r.accounts[id]; ok {
		return a
	}
	a := &domain.Account{ID: id, CreatedAt: now, UpdatedAt: now}
	r.accounts[id] = a
	return a
}

func (r *Repository) enqueueEvent(routingKey string, payload interface{}) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return
	}
	r.outboxID++
	r.outbox = append(r.outbox, &outboxEntry{
		msg: store.OutboxMessage{
			ID:         r.outboxID,
			Exchange:   domain.EventExchange,
			RoutingKey: routingKey,
			Payload:    blob,
		},
		status: "pending",
	})
}

// =============================================================================
// Reads
// =============================================================================

func (r *Repository) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *Repository) GetTreasury(_ context.Context) (*domain.TreasuryState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := r.treasury
	return &cp, nil
}

func (r *Repository) SumInvested(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	for _, a := range r.accounts {
		sum += a.TotalInvested
	}
	return sum, nil
}

func (r *Repository) ListPurchases(_ context.Context, accountID uuid.UUID, limit int) ([]domain.Purchase, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []domain.Purchase
	for i := len(r.purchases) - 1; i >= 0 && len(out) < limit; i-- {
		if r.purchases[i].AccountID == accountID {
			out = append(out, r.purchases[i])
		}
	}
	return out, nil
}

func (r *Repository) GetRewardPeriod(_ context.Context, index int64) (*domain.RewardPeriod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.periods[index]
	if !ok {
		return nil, domain.ErrRewardPeriodNotFound
	}
	cp := *p
	return &cp, nil
}

// =============================================================================
// Investment ledger
// =============================================================================

func (r *Repository) RecordPurchase(_ context.Context, p store.PurchaseParams) (*store.PurchaseReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaused(); err != nil {
		return nil, err
	}

	amount := p.Amount
	if p.AltAmount > 0 {
		if r.treasury.PriceRate <= 0 {
			return nil, domain.ErrInvalidPrice
		}
		if p.Now.Sub(r.treasury.PriceUpdatedAt) > p.PriceValidity {
			return nil, domain.ErrPriceExpired
		}
		var err error
		amount, err = domain.ConvertAlt(p.AltAmount, r.treasury.PriceRate)
		if err != nil {
			return nil, err
		}
	}
	if err := r.catalog.Validate(p.Tier, amount); err != nil {
		return nil, err
	}

	orderID := p.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
	}
	if _, dup := r.orderIDs[orderID]; dup {
		return nil, domain.ErrDuplicateOrder
	}

	account := r.ensureAccount(p.AccountID, p.Now)

	var commission int64
	if p.ReferrerID != nil {
		if err := r.setReferrerLocked(account, *p.ReferrerID, p.Now); err != nil {
			return nil, err
		}
		commission = domain.CommissionFor(amount, r.treasury.CommissionRateBps)
		if commission > 0 {
			referrer := r.ensureAccount(*p.ReferrerID, p.Now)
			referrer.AccruedCommission += commission
			referrer.UpdatedAt = p.Now
		}
	}

	purchase := domain.Purchase{
		ID:        uuid.New(),
		AccountID: p.AccountID,
		OrderID:   orderID,
		Tier:      p.Tier,
		Amount:    amount,
		AltAmount: p.AltAmount,
		CreatedAt: p.Now,
	}
	r.orderIDs[orderID] = struct{}{}
	r.purchases = append(r.purchases, purchase)

	account.TotalInvested += amount
	account.AltDeposited += p.AltAmount
	account.UpdatedAt = p.Now
	r.treasury.TotalDeposits += amount
	r.treasury.Balance += amount
	r.treasury.AltBalance += p.AltAmount

	r.enqueueEvent(domain.RKPurchaseRecorded, domain.PurchaseRecordedEvent{
		PurchaseID: purchase.ID,
		AccountID:  purchase.AccountID,
		Tier:       purchase.Tier,
		Amount:     purchase.Amount,
		AltAmount:  purchase.AltAmount,
		OrderID:    purchase.OrderID,
		ReferrerID: p.ReferrerID,
		Timestamp:  p.Now,
	})

	return &store.PurchaseReceipt{Purchase: purchase, Commission: commission, Converted: amount}, nil
}

func (r *Repository) RecordBatchDeposit(_ context.Context, b store.BatchDepositParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaused(); err != nil {
		return 0, err
	}

	// Validate the whole batch before touching state, the transaction is all-or-nothing.
	seen := make(map[string]struct{}, len(b.OrderIDs))
	var total int64
	for i, amount := range b.Amounts {
		if amount <= 0 {
			return 0, domain.ErrInvalidInvestmentAmount
		}
		if _, dup := r.orderIDs[b.OrderIDs[i]]; dup {
			return 0, domain.ErrDuplicateOrder
		}
		if _, dup := seen[b.OrderIDs[i]]; dup {
			return 0, domain.ErrDuplicateOrder
		}
		seen[b.OrderIDs[i]] = struct{}{}
		total += amount
	}

	account := r.ensureAccount(b.AccountID, b.Now)
	for i, amount := range b.Amounts {
		r.orderIDs[b.OrderIDs[i]] = struct{}{}
		r.purchases = append(r.purchases, domain.Purchase{
			ID:        uuid.New(),
			AccountID: b.AccountID,
			OrderID:   b.OrderIDs[i],
			Amount:    amount,
			CreatedAt: b.Now,
		})
		r.enqueueEvent(domain.RKPurchaseRecorded, domain.PurchaseRecordedEvent{
			AccountID: b.AccountID,
			Amount:    amount,
			OrderID:   b.OrderIDs[i],
			Timestamp: b.Now,
		})
	}

	account.TotalInvested += total
	account.UpdatedAt = b.Now
	r.treasury.TotalDeposits += total
	r.treasury.Balance += total
	return total, nil
}

// =============================================================================
// Referral commission engine
// =============================================================================

func (r *Repository) setReferrerLocked(account *domain.Account, referrerID uuid.UUID, now time.Time) error {
	if referrerID == account.ID {
		return domain.ErrInvalidReferrer
	}
	if account.ReferrerID != nil {
		if *account.ReferrerID != referrerID {
			return domain.ErrInvalidReferrer
		}
		return nil
	}
	r.ensureAccount(referrerID, now)
	account.ReferrerID = &referrerID
	account.UpdatedAt = now
	return nil
}

func (r *Repository) SetReferrer(_ context.Context, accountID, referrerID uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaused(); err != nil {
		return err
	}
	account := r.ensureAccount(accountID, now)
	return r.setReferrerLocked(account, referrerID, now)
}

func (r *Repository) ClaimCommission(_ context.Context, referrerID uuid.UUID, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaused(); err != nil {
		return 0, err
	}
	account, ok := r.accounts[referrerID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	accrued := account.AccruedCommission
	if accrued == 0 {
		return 0, nil
	}

	account.AccruedCommission = 0
	account.UpdatedAt = now
	r.treasury.Balance -= accrued

	r.enqueueEvent(domain.RKReferralCommissionPaid, domain.ReferralCommissionPaidEvent{
		ReferrerID: referrerID,
		Amount:     accrued,
		Timestamp:  now,
	})
	return accrued, nil
}

func (r *Repository) SetCommissionRate(_ context.Context, rateBps int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPaused(); err != nil {
		return err
	}
	r.treasury.CommissionRateBps = rateBps
	return nil
}

// =============================================================================
// Price oracle
// =============================================================================

func (r *Repository) UpdatePrice(_ context.Context, rate int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rate <= 0 {
		return domain.ErrInvalidPrice
	}
	if err := r.checkPaused(); err != nil {
		return err
	}
	r.treasury.PriceRate = rate
	r.treasury.PriceUpdatedAt = now
	r.enqueueEvent(domain.RKPriceUpdated, domain.PriceUpdatedEvent{Rate: rate, Timestamp: now})
	return nil
}

// =============================================================================
// Reward periods
// =============================================================================

func (r *Repository) StartRewardPeriod(_ context.Context, totalReward int64, minGap time.Duration, now time.Time) (*domain.RewardPeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if totalReward <= 0 {
		return nil, domain.ErrInvalidInvestmentAmount
	}
	if err := r.checkPaused(); err != nil {
		return nil, err
	}
	if last, ok := r.periods[r.lastIndex]; ok && now.Sub(last.StartedAt) < minGap {
		return nil, domain.ErrRewardPeriodActive
	}

	snapshot := make(map[uuid.UUID]*snapshotEntry)
	var snapshotTotal int64
	for id, a := range r.accounts {
		if a.TotalInvested > 0 {
			snapshot[id] = &snapshotEntry{amount: a.TotalInvested}
			snapshotTotal += a.TotalInvested
		}
	}

	r.lastIndex++
	period := domain.RewardPeriod{
		Index:         r.lastIndex,
		TotalReward:   totalReward,
		SnapshotTotal: snapshotTotal,
		StartedAt:     now,
	}
	r.periods[period.Index] = &period
	r.snapshots[period.Index] = snapshot

	r.enqueueEvent(domain.RKRewardPeriodStarted, domain.RewardPeriodStartedEvent{
		PeriodIndex:   period.Index,
		TotalReward:   period.TotalReward,
		SnapshotTotal: period.SnapshotTotal,
		Timestamp:     now,
	})
	cp := period
	return &cp, nil
}

func (r *Repository) ClaimRewardShare(_ context.Context, periodIndex int64, accountID uuid.UUID, now time.Time) (*domain.RewardClaim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPaused(); err != nil {
		return nil, err
	}
	period, ok := r.periods[periodIndex]
	if !ok {
		return nil, domain.ErrRewardPeriodNotFound
	}

	snapshot := r.snapshots[periodIndex]
	entry, inSnapshot := snapshot[accountID]
	if inSnapshot && entry.claimed {
		return nil, domain.ErrRewardAlreadyClaimed
	}

	var share int64
	if inSnapshot {
		share = domain.ProRataShare(entry.amount, period.TotalReward, period.SnapshotTotal)
		entry.claimed = true
		entry.claimedAt = now
	} else {
		snapshot[accountID] = &snapshotEntry{claimed: true, claimedAt: now}
	}

	if share > 0 {
		r.treasury.Balance -= share
		r.enqueueEvent(domain.RKRewardClaimed, domain.RewardClaimedEvent{
			PeriodIndex: periodIndex,
			AccountID:   accountID,
			Share:       share,
			Timestamp:   now,
		})
	}
	return &domain.RewardClaim{PeriodIndex: periodIndex, AccountID: accountID, Share: share, ClaimedAt: now}, nil
}

// =============================================================================
// Withdrawals and pause
// =============================================================================

func (r *Repository) Withdraw(_ context.Context, amount int64, window time.Duration, now time.Time) (*domain.WithdrawalWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if amount <= 0 {
		return nil, domain.ErrInvalidWithdrawAmount
	}
	if err := r.checkPaused(); err != nil {
		return nil, err
	}

	windowStart := r.treasury.WindowStart
	used := r.treasury.WindowAmountUsed
	if now.Sub(windowStart) >= window {
		windowStart = now
		used = 0
	}
	if used+amount > r.treasury.DailyLimit {
		return nil, domain.ErrExceedsWithdrawLimit
	}
	used += amount

	r.treasury.WindowStart = windowStart
	r.treasury.WindowAmountUsed = used
	r.treasury.Balance -= amount
	r.treasury.TotalWithdrawn += amount

	r.enqueueEvent(domain.RKWithdrawal, domain.WithdrawalEvent{Amount: amount, Timestamp: now})
	return &domain.WithdrawalWindow{WindowStart: windowStart, AmountUsed: used, DailyLimit: r.treasury.DailyLimit}, nil
}

func (r *Repository) SetDailyLimit(_ context.Context, limit int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkPaused(); err != nil {
		return err
	}
	r.treasury.DailyLimit = limit
	// Keep window usage within the new cap when the limit is lowered.
	if r.treasury.WindowAmountUsed > limit {
		r.treasury.WindowAmountUsed = limit
	}
	return nil
}

func (r *Repository) EmergencyWithdraw(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := r.treasury.Balance
	if drained <= 0 {
		return 0, nil
	}
	r.treasury.Balance = 0
	r.treasury.TotalWithdrawn += drained
	r.enqueueEvent(domain.RKWithdrawal, domain.WithdrawalEvent{Amount: drained, Emergency: true, Timestamp: now})
	return drained, nil
}

func (r *Repository) SetPaused(_ context.Context, paused bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if paused && r.treasury.Paused {
		return domain.ErrPaused
	}
	r.treasury.Paused = paused
	return nil
}

// =============================================================================
// Outbox
// =============================================================================

func (r *Repository) ClaimOutboxMessages(_ context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stale := time.Duration(staleAfterSeconds) * time.Second
	var claimed []store.OutboxMessage
	for _, e := range r.outbox {
		if len(claimed) >= limit {
			break
		}
		deliverable := (e.status == "pending" && !e.nextAttemptAt.After(now)) ||
			(e.status == "processing" && now.Sub(e.claimedAt) > stale)
		if deliverable {
			e.status = "processing"
			e.claimedAt = now
			claimed = append(claimed, e.msg)
		}
	}
	return claimed, nil
}

func (r *Repository) MarkOutboxPublished(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.outbox {
		if e.msg.ID == id {
			e.status = "published"
			e.lastError = ""
			return nil
		}
	}
	return nil
}

func (r *Repository) MarkOutboxFailed(_ context.Context, id int64, retryAfterSeconds int, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.outbox {
		if e.msg.ID == id {
			e.status = "pending"
			e.msg.Attempts++
			e.nextAttemptAt = time.Now().Add(time.Duration(retryAfterSeconds) * time.Second)
			e.lastError = reason
			return nil
		}
	}
	return nil
}
