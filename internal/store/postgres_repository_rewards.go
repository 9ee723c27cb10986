/**
 * @description
 * Reward period, withdrawal, and pause operations of the PostgreSQL repository.
 *
 * Reward periods snapshot every funded account's invested balance at period start
 * with a single INSERT..SELECT under the treasury lock, so later deposits cannot
 * shift an open period's distribution. Claims compute the pro-rata share from the
 * frozen snapshot row.
 *
 * Withdrawals enforce the rolling daily limit against the persisted window columns
 * on the treasury row; the window resets lazily once it has fully elapsed.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Transactions and row locks.
 * - internal/domain: Pro-rata math and sentinel errors.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vestra/treasury-service/internal/domain"
)

// StartRewardPeriod opens the next distribution period. The minimum gap guard rejects
// a new period while the previous one is still running.
func (r *PostgresRepository) StartRewardPeriod(ctx context.Context, totalReward int64, minGap time.Duration, now time.Time) (*domain.RewardPeriod, error) {
	if totalReward <= 0 {
		return nil, domain.ErrInvalidInvestmentAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return nil, err
	}

	var lastIndex int64
	var lastStartedAt *time.Time
	err = tx.QueryRow(ctx, `
		SELECT period_index, started_at FROM reward_periods
		ORDER BY period_index DESC LIMIT 1
	`).Scan(&lastIndex, &lastStartedAt)
	if err != nil && err != pgx.ErrNoRows {
		return nil, err
	}
	if lastStartedAt != nil && now.Sub(*lastStartedAt) < minGap {
		return nil, domain.ErrRewardPeriodActive
	}

	var snapshotTotal int64
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_invested), 0) FROM accounts WHERE total_invested > 0
	`).Scan(&snapshotTotal); err != nil {
		return nil, err
	}

	period := domain.RewardPeriod{
		Index:         lastIndex + 1,
		TotalReward:   totalReward,
		SnapshotTotal: snapshotTotal,
		StartedAt:     now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_periods (period_index, total_reward, snapshot_total, started_at)
		VALUES ($1, $2, $3, $4)
	`, period.Index, period.TotalReward, period.SnapshotTotal, period.StartedAt); err != nil {
		return nil, err
	}

	// Freeze every funded balance into the period snapshot.
	if _, err := tx.Exec(ctx, `
		INSERT INTO reward_snapshots (period_index, account_id, amount)
		SELECT $1, id, total_invested FROM accounts WHERE total_invested > 0
	`, period.Index); err != nil {
		return nil, err
	}

	event := domain.RewardPeriodStartedEvent{
		PeriodIndex:   period.Index,
		TotalReward:   period.TotalReward,
		SnapshotTotal: period.SnapshotTotal,
		Timestamp:     now,
	}
	if err := enqueueEventTx(ctx, tx, domain.RKRewardPeriodStarted, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &period, nil
}

// ClaimRewardShare pays out one account's share of a period exactly once. An account
// absent from the snapshot gets a zero share, recorded so a retry stays rejected.
func (r *PostgresRepository) ClaimRewardShare(ctx context.Context, periodIndex int64, accountID uuid.UUID, now time.Time) (*domain.RewardClaim, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return nil, err
	}

	var period domain.RewardPeriod
	err = tx.QueryRow(ctx, `
		SELECT period_index, total_reward, snapshot_total, started_at
		FROM reward_periods WHERE period_index = $1
	`, periodIndex).Scan(&period.Index, &period.TotalReward, &period.SnapshotTotal, &period.StartedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRewardPeriodNotFound
		}
		return nil, err
	}

	var snapshotAmount int64
	var claimed bool
	inSnapshot := true
	err = tx.QueryRow(ctx, `
		SELECT amount, claimed FROM reward_snapshots
		WHERE period_index = $1 AND account_id = $2 FOR UPDATE
	`, periodIndex, accountID).Scan(&snapshotAmount, &claimed)
	if err != nil {
		if err != pgx.ErrNoRows {
			return nil, err
		}
		inSnapshot = false
	}
	if claimed {
		return nil, domain.ErrRewardAlreadyClaimed
	}

	share := domain.ProRataShare(snapshotAmount, period.TotalReward, period.SnapshotTotal)

	if inSnapshot {
		if _, err := tx.Exec(ctx, `
			UPDATE reward_snapshots SET claimed = TRUE, claimed_at = $1
			WHERE period_index = $2 AND account_id = $3
		`, now, periodIndex, accountID); err != nil {
			return nil, err
		}
	} else {
		// Record the zero-share claim so a repeat attempt is still a duplicate.
		if _, err := tx.Exec(ctx, `
			INSERT INTO reward_snapshots (period_index, account_id, amount, claimed, claimed_at)
			VALUES ($1, $2, 0, TRUE, $3)
		`, periodIndex, accountID, now); err != nil {
			if isUniqueViolation(err) {
				return nil, domain.ErrRewardAlreadyClaimed
			}
			return nil, err
		}
	}

	if share > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE treasury SET balance = balance - $1, updated_at = $2 WHERE id = 1
		`, share, now); err != nil {
			return nil, err
		}
		event := domain.RewardClaimedEvent{
			PeriodIndex: periodIndex,
			AccountID:   accountID,
			Share:       share,
			Timestamp:   now,
		}
		if err := enqueueEventTx(ctx, tx, domain.RKRewardClaimed, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.RewardClaim{PeriodIndex: periodIndex, AccountID: accountID, Share: share, ClaimedAt: now}, nil
}

// Withdraw debits the treasury balance inside the rolling daily window. The window
// resets once fully elapsed; a breach leaves both the window and the balance untouched.
func (r *PostgresRepository) Withdraw(ctx context.Context, amount int64, window time.Duration, now time.Time) (*domain.WithdrawalWindow, error) {
	if amount <= 0 {
		return nil, domain.ErrInvalidWithdrawAmount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	treasury, err := lockTreasuryTx(ctx, tx, false)
	if err != nil {
		return nil, err
	}

	windowStart := treasury.WindowStart
	used := treasury.WindowAmountUsed
	if now.Sub(windowStart) >= window {
		windowStart = now
		used = 0
	}
	if used+amount > treasury.DailyLimit {
		return nil, domain.ErrExceedsWithdrawLimit
	}
	used += amount

	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET balance = balance - $1, total_withdrawn = total_withdrawn + $1,
			window_start = $2, window_amount_used = $3, updated_at = $4
		WHERE id = 1
	`, amount, windowStart, used, now); err != nil {
		return nil, err
	}

	event := domain.WithdrawalEvent{Amount: amount, Emergency: false, Timestamp: now}
	if err := enqueueEventTx(ctx, tx, domain.RKWithdrawal, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.WithdrawalWindow{WindowStart: windowStart, AmountUsed: used, DailyLimit: treasury.DailyLimit}, nil
}

// SetDailyLimit updates the rolling window cap. Lowering the limit below the
// window's current usage clamps window_amount_used in the same transaction so
// amountUsed never exceeds dailyLimit.
func (r *PostgresRepository) SetDailyLimit(ctx context.Context, limit int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := lockTreasuryTx(ctx, tx, false); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury
		SET daily_limit = $1, window_amount_used = LEAST(window_amount_used, $1), updated_at = NOW()
		WHERE id = 1
	`, limit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EmergencyWithdraw drains the full treasury balance, bypassing both the pause switch
// and the rolling limit.
func (r *PostgresRepository) EmergencyWithdraw(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	treasury, err := lockTreasuryTx(ctx, tx, true)
	if err != nil {
		return 0, err
	}
	drained := treasury.Balance
	if drained <= 0 {
		return 0, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET balance = 0, total_withdrawn = total_withdrawn + $1, updated_at = $2
		WHERE id = 1
	`, drained, now); err != nil {
		return 0, err
	}

	event := domain.WithdrawalEvent{Amount: drained, Emergency: true, Timestamp: now}
	if err := enqueueEventTx(ctx, tx, domain.RKWithdrawal, event); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return drained, nil
}

// SetPaused flips the pause switch. Pausing an already paused treasury is rejected;
// unpausing is always allowed.
func (r *PostgresRepository) SetPaused(ctx context.Context, paused bool) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	treasury, err := lockTreasuryTx(ctx, tx, true)
	if err != nil {
		return err
	}
	if paused && treasury.Paused {
		return domain.ErrPaused
	}
	if _, err := tx.Exec(ctx, `
		UPDATE treasury SET paused = $1, updated_at = NOW() WHERE id = 1
	`, paused); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
