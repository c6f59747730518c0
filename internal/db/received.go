package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (r *PostgresRepository) IsProcessed(ctx context.Context, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM localmachine.received_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check received event %s: %w", eventID, err)
	}
	return exists, nil
}

func (r *PostgresRepository) MarkAsProcessed(ctx context.Context, evt event.Event) error {
	const query = `
		INSERT INTO localmachine.received_events
			(event_id, event_type, group_id, group_sequence, sender_facility_id, received_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, 0), $5, CURRENT_TIMESTAMP)
	`
	_, err := r.q(ctx).Exec(ctx, query, evt.ID, string(evt.Type), evt.GroupID, evt.GroupSequence, evt.SenderFacilityID)
	if isUniqueViolation(err) {
		// the concurrent winner applied the event; abort ours so its effects roll back
		return fmt.Errorf("event %s was applied concurrently: %w", evt.ID, err)
	}
	return err
}

// LastGroupSequence returns the last sequence applied from senderID in groupID, 0 when none
func (r *PostgresRepository) LastGroupSequence(ctx context.Context, groupID string, senderID uuid.UUID) (int64, error) {
	const query = `
		SELECT last_sequence FROM localmachine.received_group_sequences
		WHERE group_id = $1 AND sender_facility_id = $2
		FOR UPDATE
	`
	var seq int64
	err := r.q(ctx).QueryRow(ctx, query, groupID, senderID).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence of group %s from %s: %w", groupID, senderID, err)
	}
	return seq, nil
}

func (r *PostgresRepository) AdvanceGroupSequence(ctx context.Context, groupID string, senderID uuid.UUID, seq int64) error {
	const query = `
		INSERT INTO localmachine.received_group_sequences (group_id, sender_facility_id, last_sequence, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (group_id, sender_facility_id) DO UPDATE
		SET last_sequence = EXCLUDED.last_sequence, updated_at = EXCLUDED.updated_at
		WHERE received_group_sequences.last_sequence < EXCLUDED.last_sequence
	`
	_, err := r.q(ctx).Exec(ctx, query, groupID, senderID, seq)
	return err
}

// SaveErrorRecord always commits on its own transaction so the record survives the failed replay
func (r *PostgresRepository) SaveErrorRecord(ctx context.Context, rec *models.ErrorRecord) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	var payloadID *uuid.UUID
	if p := rec.Payload; p != nil {
		payloadID = &p.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO localmachine.error_payloads (id, errorname, messagekey, detailmessage, rootstacktrace)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, p.ErrorName, p.MessageKey, p.DetailMessage, p.RootStackTrace); err != nil {
			return fmt.Errorf("insert error payload: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO localmachine.error_records (id, type, occurredtime, eventid, payloadid)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, string(rec.Type), rec.OccurredTime, rec.EventID, payloadID); err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) SaveNotification(ctx context.Context, n *models.Notification) error {
	const query = `
		INSERT INTO siglusintegration.notifications
			(id, refid, facilityid, programid, processingperiodid, requestingfacilityid,
			 status, type, emergency, processed, createdby, createdate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.q(ctx).Exec(ctx, query,
		n.ID, n.RefID, n.FacilityID, n.ProgramID, n.ProcessingPeriodID, n.RequestingFacilityID,
		string(n.Status), string(n.Type), n.Emergency, n.Processed, n.CreatedBy, n.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) MarkProcessedByRefID(ctx context.Context, refID uuid.UUID) error {
	_, err := r.q(ctx).Exec(ctx,
		`UPDATE siglusintegration.notifications SET processed = true WHERE refid = $1 AND processed = false`, refID)
	return err
}

func (r *PostgresRepository) FindAgent(ctx context.Context, machineID uuid.UUID) (models.AgentInfo, bool, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT machineid, facilityid, facilitycode, publickey, privatekey, activationcode, activatedat
		FROM localmachine.agent_info
		WHERE machineid = $1
	`, machineID)
	if err != nil {
		return models.AgentInfo{}, false, err
	}
	info, err := pgx.CollectOneRow(rows, pgx.RowToStructByNameLax[models.AgentInfo])
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AgentInfo{}, false, nil
	}
	if err != nil {
		return models.AgentInfo{}, false, fmt.Errorf("read agent %s: %w", machineID, err)
	}
	return info, true, nil
}

func (r *PostgresRepository) SaveAgent(ctx context.Context, a models.AgentInfo) error {
	const query = `
		INSERT INTO localmachine.agent_info
			(machineid, facilityid, facilitycode, publickey, privatekey, activationcode, activatedat)
		VALUES (@machineid, @facilityid, @facilitycode, @publickey, @privatekey, @activationcode, @activatedat)
	`
	_, err := r.q(ctx).Exec(ctx, query, pgx.NamedArgs{
		"machineid":      a.MachineID,
		"facilityid":     a.FacilityID,
		"facilitycode":   a.FacilityCode,
		"publickey":      a.PublicKey,
		"privatekey":     a.PrivateKey,
		"activationcode": a.ActivationCode,
		"activatedat":    a.ActivatedAt,
	})
	return err
}
