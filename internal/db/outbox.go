package db

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// OutboxChannel is the LISTEN/NOTIFY channel that wakes the relay
const OutboxChannel = "sync_outbox"

// NextGroupSequence reserves the next sequence of groupID towards receiverID. The row lock is held
// until the emitting transaction ends, so concurrent emitters of one channel serialize here
func (r *PostgresRepository) NextGroupSequence(ctx context.Context, groupID string, receiverID uuid.UUID) (int64, error) {
	const query = `
		INSERT INTO localmachine.outbox_group_sequences (group_id, receiver_facility_id, last_sequence)
		VALUES ($1, $2, 1)
		ON CONFLICT (group_id, receiver_facility_id) DO UPDATE
		SET last_sequence = outbox_group_sequences.last_sequence + 1
		RETURNING last_sequence
	`
	var seq int64
	if err := r.q(ctx).QueryRow(ctx, query, groupID, receiverID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("reserve sequence of group %s for %s: %w", groupID, receiverID, err)
	}
	return seq, nil
}

func (r *PostgresRepository) Append(ctx context.Context, entry *models.OutboxEntry) error {
	const query = `
		INSERT INTO localmachine.sync_outbox
			(event_id, group_id, group_sequence, receiver_facility_id, event_type, category, payload, status, created_at)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, 0), $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	var receiver *uuid.UUID
	if !entry.IsBroadcast() {
		receiver = &entry.ReceiverFacilityID
	}
	return r.q(ctx).QueryRow(ctx, query,
		entry.EventID,
		entry.GroupID,
		entry.GroupSequence,
		receiver,
		entry.EventType,
		entry.Category,
		[]byte(entry.Payload),
		entry.Status,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

// NotifyOutbox is transactional: listeners only hear it once the emitting transaction commits
func (r *PostgresRepository) NotifyOutbox(ctx context.Context, eventID uuid.UUID) error {
	_, err := r.q(ctx).Exec(ctx, `SELECT pg_notify($1, $2)`, OutboxChannel, eventID.String())
	return err
}

// WaitForOutbox blocks until an outbox notification arrives or timeout elapses. It reports whether
// it was woken by a notification
func (r *PostgresRepository) WaitForOutbox(ctx context.Context, timeout time.Duration) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+OutboxChannel); err != nil {
		return false, fmt.Errorf("listen %s: %w", OutboxChannel, err)
	}
	defer func() {
		_, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+OutboxChannel)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err = conn.Conn().WaitForNotification(waitCtx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, fmt.Errorf("wait for outbox notification: %w", err)
	}
}

// FetchAndClaim moves up to batchSize pending rows to processing, oldest first. SKIP LOCKED lets
// several relays share the table without double delivery
func (r *PostgresRepository) FetchAndClaim(ctx context.Context, batchSize int) ([]models.OutboxEntry, error) {
	const query = `
		WITH claimed AS (
			SELECT id FROM localmachine.sync_outbox
			WHERE status = 'pending'
			ORDER BY id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE localmachine.sync_outbox o
		SET status = 'processing', updated_at = CURRENT_TIMESTAMP
		FROM claimed
		WHERE o.id = claimed.id
		RETURNING o.id, o.event_id, COALESCE(o.group_id, ''), COALESCE(o.group_sequence, 0),
		          o.receiver_facility_id, o.event_type, o.category, o.payload, o.attempts, o.created_at
	`
	rows, err := r.pool.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox rows: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OutboxEntry, error) {
		var (
			e        models.OutboxEntry
			receiver *uuid.UUID
			payload  []byte
		)
		err := row.Scan(&e.ID, &e.EventID, &e.GroupID, &e.GroupSequence, &receiver,
			&e.EventType, &e.Category, &payload, &e.Attempts, &e.CreatedAt)
		if receiver != nil {
			e.ReceiverFacilityID = *receiver
		}
		e.Payload = payload
		e.Status = models.StatusProcessing
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan outbox rows: %w", err)
	}

	// RETURNING does not keep the CTE order
	slices.SortFunc(entries, func(a, b models.OutboxEntry) int { return cmp.Compare(a.ID, b.ID) })
	return entries, nil
}

func (r *PostgresRepository) MarkAsSent(ctx context.Context, id int64) error {
	const query = `
		UPDATE localmachine.sync_outbox
		SET status = 'sent', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

func (r *PostgresRepository) MarkAsError(ctx context.Context, id int64, errLog string) error {
	const query = `
		UPDATE localmachine.sync_outbox
		SET status = 'error',
		    attempts = attempts + 1,
		    error_log = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, errLog)
	return err
}

func (r *PostgresRepository) MarkAsErrorByEventID(ctx context.Context, eventID uuid.UUID, errLog string) error {
	const query = `
		UPDATE localmachine.sync_outbox
		SET status = 'error', error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE event_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, eventID, errLog)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Dead letter refers to an event missing from the outbox", "event_id", eventID)
	}
	return nil
}

func (r *PostgresRepository) MarkManyAsPending(ctx context.Context, ids []int64, note string, strategy models.RevertStrategy) error {
	query := `
		UPDATE localmachine.sync_outbox
		SET status = 'pending', error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1)
	`
	if strategy == models.StrategyBusinessFailure {
		query = `
			UPDATE localmachine.sync_outbox
			SET status = 'pending', attempts = attempts + 1, error_log = $2, updated_at = CURRENT_TIMESTAMP
			WHERE id = ANY($1)
		`
	}
	_, err := r.pool.Exec(ctx, query, ids, note)
	return err
}

// ResetStaleMessages returns rows stuck in processing for longer than staleMinutes to pending,
// and errored rows below maxAttempts back into the queue
func (r *PostgresRepository) ResetStaleMessages(ctx context.Context, staleMinutes, maxAttempts int) (int64, error) {
	const query = `
		UPDATE localmachine.sync_outbox
		SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE (status = 'processing' AND updated_at < CURRENT_TIMESTAMP - make_interval(mins => $1))
		   OR (status = 'error' AND attempts < $2)
	`
	tag, err := r.pool.Exec(ctx, query, staleMinutes, maxAttempts)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MoveToDLQ parks rows that used up their attempts as dead and refreshes the DLQ gauge
func (r *PostgresRepository) MoveToDLQ(ctx context.Context, maxAttempts int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE localmachine.sync_outbox
		SET status = 'dead', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'error' AND attempts >= $1
	`, maxAttempts)
	if err != nil {
		return fmt.Errorf("move exhausted rows to dead: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Warn("Outbox rows moved to dead status", "count", tag.RowsAffected())
	}

	var dead int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM localmachine.sync_outbox WHERE status = 'dead'`).Scan(&dead); err != nil {
		return fmt.Errorf("count dead rows: %w", err)
	}
	metrics.DLQSize.Set(float64(dead))
	return nil
}

// isUniqueViolation reports a duplicate key
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
