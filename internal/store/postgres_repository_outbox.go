/**
 * @description
 * Outbox operations of the PostgreSQL repository. Audit events are written into
 * event_outbox inside the same transaction as the state change they describe; the
 * background dispatcher claims pending rows here and publishes them to RabbitMQ.
 *
 * Claiming uses FOR UPDATE SKIP LOCKED so multiple service instances can drain the
 * queue without contending on the same rows. Rows stuck in `processing` past the
 * staleness horizon are reclaimed, which covers a dispatcher that died mid-flight.
 */

package store

import (
	"context"
	"fmt"
)

// ClaimOutboxMessages atomically claims a batch of deliverable outbox rows and marks
// them as processing.
func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	rows, err := r.db.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM event_outbox
			WHERE (status = 'pending' AND next_attempt_at <= NOW())
			   OR (status = 'processing' AND processing_started_at < NOW() - make_interval(secs => $2))
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox o
		SET status = 'processing', processing_started_at = NOW()
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload, o.attempts
	`, limit, staleAfterSeconds)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		if err := rows.Scan(&m.ID, &m.Exchange, &m.RoutingKey, &m.Payload, &m.Attempts); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published', published_at = NOW(), last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkOutboxFailed returns the row to pending with an exponential retry delay.
func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			attempts = attempts + 1,
			next_attempt_at = NOW() + make_interval(secs => $2),
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}
