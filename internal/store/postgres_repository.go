/**
 * @description
 * PostgreSQL implementation of the `Repository` interface. Every mutating operation
 * opens one transaction, takes the singleton treasury row with `FOR UPDATE` (which
 * serializes all cross-account aggregates), applies the state change, writes the audit
 * event into the outbox, and commits. Any failure inside the transaction rolls the
 * whole operation back, so a caller never observes partial state.
 *
 * Tables: treasury (single row), accounts, purchases, reward_periods, reward_snapshots,
 * event_outbox.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and transactions.
 * - internal/domain: Domain models, sentinel errors, and the shared money math.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vestra/treasury-service/internal/domain"
)

// TreasuryDefaults seeds the singleton treasury row on first boot.
type TreasuryDefaults struct {
	CommissionRateBps int64
	DailyLimit        int64
}

// PostgresRepository is the production Repository backed by a pgx pool.
type PostgresRepository struct {
	db      *pgxpool.Pool
	catalog *domain.Catalog
}

// NewPostgresRepository creates a new instance of PostgresRepository. The catalog is
// needed inside transactions: alt-asset purchases only know their settlement amount
// after conversion, so tier bounds are re-checked under the treasury lock.
func NewPostgresRepository(db *pgxpool.Pool, catalog *domain.Catalog) *PostgresRepository {
	return &PostgresRepository{db: db, catalog: catalog}
}

// EnsureTreasury creates the singleton treasury row if it does not exist yet.
func (r *PostgresRepository) EnsureTreasury(ctx context.Context, defaults TreasuryDefaults, now time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO treasury (id, commission_rate_bps, daily_limit, window_start)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, defaults.CommissionRateBps, defaults.DailyLimit, now)
	return err
}

const treasuryColumns = `total_deposits, alt_balance, balance, total_withdrawn,
	commission_rate_bps, daily_limit, window_start, window_amount_used, paused,
	price_rate, price_updated_at`

func scanTreasury(row pgx.Row) (*domain.TreasuryState, error) {
	var t domain.TreasuryState
	var priceUpdatedAt *time.Time
	err := row.Scan(
		&t.TotalDeposits, &t.AltBalance, &t.Balance, &t.TotalWithdrawn,
		&t.CommissionRateBps, &t.DailyLimit, &t.WindowStart, &t.WindowAmountUsed,
		&t.Paused, &t.PriceRate, &priceUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if priceUpdatedAt != nil {
		t.PriceUpdatedAt = *priceUpdatedAt
	}
	return &t, nil
}

// lockTreasuryTx takes the singleton row lock. Unless allowPaused is set, a paused
// treasury aborts the operation before any state is touched.
func lockTreasuryTx(ctx context.Context, tx pgx.Tx, allowPaused bool) (*domain.TreasuryState, error) {
	t, err := scanTreasury(tx.QueryRow(ctx,
		`SELECT `+treasuryColumns+` FROM treasury WHERE id = 1 FOR UPDATE`))
	if err != nil {
		return nil, fmt.Errorf("lock treasury: %w", err)
	}
	if t.Paused && !allowPaused {
		return nil, domain.ErrPaused
	}
	return t, nil
}

// ensureAccountTx lazily creates the account row and returns it locked.
func ensureAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, now time.Time) (*domain.Account, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, accountID, now)
	if err != nil {
		return nil, err
	}

	var a domain.Account
	err = tx.QueryRow(ctx, `
		SELECT id, total_invested, alt_deposited, referrer_id, accrued_commission, created_at, updated_at
		FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&a.ID, &a.TotalInvested, &a.AltDeposited, &a.ReferrerID, &a.AccruedCommission, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, domain.EventExchange, routingKey, string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// =============================================================================
// Reads
// =============================================================================

func (r *PostgresRepository) GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var a domain.Account
	err := r.db.QueryRow(ctx, `
		SELECT id, total_invested, alt_deposited, referrer_id, accrued_commission, created_at, updated_at
		FROM accounts WHERE id = $1
	`, accountID).Scan(&a.ID, &a.TotalInvested, &a.AltDeposited, &a.ReferrerID, &a.AccruedCommission, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) GetTreasury(ctx context.Context) (*domain.TreasuryState, error) {
	return scanTreasury(r.db.QueryRow(ctx, `SELECT `+treasuryColumns+` FROM treasury WHERE id = 1`))
}

func (r *PostgresRepository) SumInvested(ctx context.Context) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(total_invested), 0) FROM accounts`).Scan(&sum)
	return sum, err
}

func (r *PostgresRepository) ListPurchases(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, order_id, tier, amount, alt_amount, created_at
		FROM purchases
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.AccountID, &p.OrderID, &p.Tier, &p.Amount, &p.AltAmount, &p.CreatedAt); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (r *PostgresRepository) GetRewardPeriod(ctx context.Context, index int64) (*domain.RewardPeriod, error) {
	var p domain.RewardPeriod
	err := r.db.QueryRow(ctx, `
		SELECT period_index, total_reward, snapshot_total, started_at
		FROM reward_periods WHERE period_index = $1
	`, index).Scan(&p.Index, &p.TotalReward, &p.SnapshotTotal, &p.StartedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRewardPeriodNotFound
		}
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// Investment ledger
// =============================================================================

// RecordPurchase applies one purchase atomically: tier validation, optional alt-asset
// conversion under the stored quote, lazy account creation, referrer assignment and
// commission accrual, ledger increments, and the PurchaseRecorded event. Nothing
// commits unless every step succeeds.
func (r *PostgresRepository) RecordPurchase(ctx context.Context, p PurchaseParams) (*PurchaseReceipt, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	treasury, err := lockTreasuryTx(ctx, tx, false)
	if err != nil {
		return nil, err
	}

	amount := p.Amount
	if p.AltAmount > 0 {
		if treasury.PriceRate <= 0 {
			return nil, domain.ErrInvalidPrice
		}
		if p.Now.Sub(treasury.PriceUpdatedAt) > p.PriceValidity {
			return nil, domain.ErrPriceExpired
		}
		amount, err = domain.ConvertAlt(p.AltAmount, treasury.PriceRate)
		if err != nil {
			return nil, err
		}
	}
	if err := r.catalog.Validate(p.Tier, amount); err != nil {
		return nil, err
	}

	account, err := ensureAccountTx(ctx, tx, p.AccountID, p.Now)
	if err != nil {
		return nil, err
	}

	var commission int64
	if p.ReferrerID != nil {
		if err := setReferrerTx(ctx, tx, account, *p.ReferrerID, p.Now); err != nil {
			return nil, err
		}
		commission = domain.CommissionFor(amount, treasury.CommissionRateBps)
		if commission > 0 {
			if _, err := tx.Exec(ctx, `
				UPDATE accounts SET accrued_commission = accrued_commission + $1, updated_at = $2
				WHERE id = $3
			`, commission, p.Now, *p.ReferrerID); err != nil {
				return nil, err
			}
		}
	}

	orderID := p.OrderID
	if orderID == "" {
		orderID = uuid.New().String()
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
	if _, err := tx.Exec(ctx, `
		INSERT INTO purchases (id, account_id, order_id, tier, amount, alt_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, purchase.ID, purchase.AccountID, purchase.OrderID, purchase.Tier, purchase.Amount, purchase.AltAmount, purchase.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateOrder
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET total_invested = total_invested + $1, alt_deposited = alt_deposited + $2, updated_at = $3
		WHERE id = $4
	`, amount, p.AltAmount, p.Now, p.AccountID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET total_deposits = total_deposits + $1, balance = balance + $1,
			alt_balance = alt_balance + $2, updated_at = $3
		WHERE id = 1
	`, amount, p.AltAmount, p.Now); err != nil {
		return nil, err
	}

	event := domain.PurchaseRecordedEvent{
		PurchaseID: purchase.ID,
		AccountID:  purchase.AccountID,
		Tier:       purchase.Tier,
		Amount:     purchase.Amount,
		AltAmount:  purchase.AltAmount,
		OrderID:    purchase.OrderID,
		ReferrerID: p.ReferrerID,
		Timestamp:  p.Now,
	}
	if err := enqueueEventTx(ctx, tx, domain.RKPurchaseRecorded, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &PurchaseReceipt{Purchase: purchase, Commission: commission, Converted: amount}, nil
}

// RecordBatchDeposit applies sum(amounts) in a single transaction. A duplicate order
// id, within the batch or against history, aborts the whole batch.
func (r *PostgresRepository) RecordBatchDeposit(ctx context.Context, b BatchDepositParams) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return 0, err
	}
	if _, err := ensureAccountTx(ctx, tx, b.AccountID, b.Now); err != nil {
		return 0, err
	}

	var total int64
	for i, amount := range b.Amounts {
		if amount <= 0 {
			return 0, domain.ErrInvalidInvestmentAmount
		}
		total += amount

		if _, err := tx.Exec(ctx, `
			INSERT INTO purchases (id, account_id, order_id, tier, amount, alt_amount, created_at)
			VALUES ($1, $2, $3, '', $4, 0, $5)
		`, uuid.New(), b.AccountID, b.OrderIDs[i], amount, b.Now); err != nil {
			if isUniqueViolation(err) {
				return 0, domain.ErrDuplicateOrder
			}
			return 0, err
		}

		event := domain.PurchaseRecordedEvent{
			AccountID: b.AccountID,
			Amount:    amount,
			OrderID:   b.OrderIDs[i],
			Timestamp: b.Now,
		}
		if err := enqueueEventTx(ctx, tx, domain.RKPurchaseRecorded, event); err != nil {
			return 0, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET total_invested = total_invested + $1, updated_at = $2 WHERE id = $3
	`, total, b.Now, b.AccountID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET total_deposits = total_deposits + $1, balance = balance + $1, updated_at = $2
		WHERE id = 1
	`, total, b.Now); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// =============================================================================
// Referral commission engine
// =============================================================================

// setReferrerTx enforces first-assignment-wins on a locked account row.
func setReferrerTx(ctx context.Context, tx pgx.Tx, account *domain.Account, referrerID uuid.UUID, now time.Time) error {
	if referrerID == account.ID {
		return domain.ErrInvalidReferrer
	}
	if account.ReferrerID != nil {
		if *account.ReferrerID != referrerID {
			return domain.ErrInvalidReferrer
		}
		return nil
	}
	if _, err := ensureAccountTx(ctx, tx, referrerID, now); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET referrer_id = $1, updated_at = $2 WHERE id = $3
	`, referrerID, now, account.ID); err != nil {
		return err
	}
	account.ReferrerID = &referrerID
	return nil
}

func (r *PostgresRepository) SetReferrer(ctx context.Context, accountID, referrerID uuid.UUID, now time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return err
	}
	account, err := ensureAccountTx(ctx, tx, accountID, now)
	if err != nil {
		return err
	}
	if err := setReferrerTx(ctx, tx, account, referrerID, now); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ClaimCommission zeroes the accrued balance toward the payout rail. A zero balance
// is a no-op, not an error, and emits nothing.
func (r *PostgresRepository) ClaimCommission(ctx context.Context, referrerID uuid.UUID, now time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return 0, err
	}

	var accrued int64
	err = tx.QueryRow(ctx, `
		SELECT accrued_commission FROM accounts WHERE id = $1 FOR UPDATE
	`, referrerID).Scan(&accrued)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrAccountNotFound
		}
		return 0, err
	}
	if accrued == 0 {
		return 0, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts SET accrued_commission = 0, updated_at = $1 WHERE id = $2
	`, now, referrerID); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET balance = balance - $1, updated_at = $2 WHERE id = 1
	`, accrued, now); err != nil {
		return 0, err
	}

	event := domain.ReferralCommissionPaidEvent{ReferrerID: referrerID, Amount: accrued, Timestamp: now}
	if err := enqueueEventTx(ctx, tx, domain.RKReferralCommissionPaid, event); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return accrued, nil
}

func (r *PostgresRepository) SetCommissionRate(ctx context.Context, rateBps int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET commission_rate_bps = $1, updated_at = NOW() WHERE id = 1
	`, rateBps); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// =============================================================================
// Price oracle
// =============================================================================

func (r *PostgresRepository) UpdatePrice(ctx context.Context, rate int64, now time.Time) error {
	if rate <= 0 {
		return domain.ErrInvalidPrice
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET price_rate = $1, price_updated_at = $2, updated_at = $2 WHERE id = 1
	`, rate, now); err != nil {
		return err
	}
	event := domain.PriceUpdatedEvent{Rate: rate, Timestamp: now}
	if err := enqueueEventTx(ctx, tx, domain.RKPriceUpdated, event); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
