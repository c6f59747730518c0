package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// VirtualLocationCode holds stock of facilities whose location management is switched on
const VirtualLocationCode = "VIRTUAL"

// FindSupervisingFacilityIDs walks requisition group membership up to the supervisory node facilities
func (r *PostgresRepository) FindSupervisingFacilityIDs(ctx context.Context, facilityID, programID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.q(ctx).Query(ctx, `
		SELECT DISTINCT sn.facilityid
		FROM referencedata.requisition_group_members rgm
		JOIN referencedata.requisition_groups rg ON rg.id = rgm.requisitiongroupid
		JOIN referencedata.requisition_group_program_schedules rgps ON rgps.requisitiongroupid = rg.id
		JOIN referencedata.supervisory_nodes sn ON sn.id = rg.supervisorynodeid
		WHERE rgm.facilityid = $1 AND rgps.programid = $2 AND sn.facilityid IS NOT NULL
	`, facilityID, programID)
	if err != nil {
		return nil, fmt.Errorf("query supervising facilities: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

// OnLocationManagementChanged drops the facility's in-flight stock drafts and moves its stock
// cards onto, or off, the virtual location
func (r *PostgresRepository) OnLocationManagementChanged(ctx context.Context, facilityID uuid.UUID, enabled bool) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		q := r.q(ctx)
		tag, err := q.Exec(ctx, `DELETE FROM siglusintegration.stock_management_drafts WHERE facilityid = $1`, facilityID)
		if err != nil {
			return fmt.Errorf("delete stock drafts of %s: %w", facilityID, err)
		}
		drafts := tag.RowsAffected()

		if enabled {
			tag, err = q.Exec(ctx, `
				UPDATE siglusintegration.stock_card_extension e
				SET locationcode = $2
				FROM stockmanagement.stock_cards sc
				WHERE sc.id = e.stockcardid AND sc.facilityid = $1 AND e.locationcode IS NULL
			`, facilityID, VirtualLocationCode)
		} else {
			tag, err = q.Exec(ctx, `
				UPDATE siglusintegration.stock_card_extension e
				SET locationcode = NULL
				FROM stockmanagement.stock_cards sc
				WHERE sc.id = e.stockcardid AND sc.facilityid = $1 AND e.locationcode = $2
			`, facilityID, VirtualLocationCode)
		}
		if err != nil {
			return fmt.Errorf("reassign virtual location of %s: %w", facilityID, err)
		}

		r.logger.Info("Location management switched",
			"facility_id", facilityID,
			"enabled", enabled,
			"drafts_deleted", drafts,
			"stock_cards_moved", tag.RowsAffected(),
		)
		return nil
	})
}

// AppliedLocationFlag returns the enablelocationmanagement value of facilityID whose hook last
// committed, locking it for the caller's transaction
func (r *PostgresRepository) AppliedLocationFlag(ctx context.Context, facilityID uuid.UUID) (enabled bool, found bool, err error) {
	err = r.q(ctx).QueryRow(ctx,
		`SELECT enabled FROM localmachine.location_management_state WHERE facility_id = $1 FOR UPDATE`, facilityID,
	).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("read applied location flag of %s: %w", facilityID, err)
	}
	return enabled, true, nil
}

// SeedLocationFlag stores a first baseline on its own commit. An existing value is kept
func (r *PostgresRepository) SeedLocationFlag(ctx context.Context, facilityID uuid.UUID, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO localmachine.location_management_state (facility_id, enabled, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (facility_id) DO NOTHING
	`, facilityID, enabled)
	if err != nil {
		return fmt.Errorf("seed location flag of %s: %w", facilityID, err)
	}
	return nil
}

func (r *PostgresRepository) SaveLocationFlag(ctx context.Context, facilityID uuid.UUID, enabled bool) error {
	_, err := r.q(ctx).Exec(ctx, `
		INSERT INTO localmachine.location_management_state (facility_id, enabled, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (facility_id) DO UPDATE
		SET enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`, facilityID, enabled)
	if err != nil {
		return fmt.Errorf("save location flag of %s: %w", facilityID, err)
	}
	return nil
}

// ExecStatement runs a raw master-data statement in the transaction carried by ctx
func (r *PostgresRepository) ExecStatement(ctx context.Context, query string, args ...any) error {
	_, err := r.q(ctx).Exec(ctx, query, args...)
	return err
}

// RebuildRightAssignments drops and rebuilds referencedata.right_assignments. READ COMMITTED lets
// permission checks keep reading the old rows until the rebuild commits
func (r *PostgresRepository) RebuildRightAssignments(ctx context.Context) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if _, err := tx.Exec(ctx, `DELETE FROM referencedata.right_assignments`); err != nil {
		return 0, fmt.Errorf("clear right assignments: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO referencedata.right_assignments (id, userid, rightname, facilityid, programid)
		SELECT gen_random_uuid(), x.userid, x.rightname, x.facilityid, x.programid
		FROM (
			-- home facility supervision
			SELECT DISTINCT ra.userid, rt.name AS rightname, u.homefacilityid AS facilityid, ra.programid
			FROM referencedata.role_assignments ra
			JOIN referencedata.users u ON u.id = ra.userid
			JOIN referencedata.role_rights rr ON rr.roleid = ra.roleid
			JOIN referencedata.rights rt ON rt.id = rr.rightid
			WHERE ra.type = 'supervision' AND ra.supervisorynodeid IS NULL AND u.homefacilityid IS NOT NULL
			UNION
			-- supervised facilities through requisition groups
			SELECT DISTINCT ra.userid, rt.name, rgm.facilityid, ra.programid
			FROM referencedata.role_assignments ra
			JOIN referencedata.role_rights rr ON rr.roleid = ra.roleid
			JOIN referencedata.rights rt ON rt.id = rr.rightid
			JOIN referencedata.requisition_groups rg ON rg.supervisorynodeid = ra.supervisorynodeid
			JOIN referencedata.requisition_group_members rgm ON rgm.requisitiongroupid = rg.id
			WHERE ra.type = 'supervision' AND ra.supervisorynodeid IS NOT NULL
			UNION
			-- fulfillment
			SELECT DISTINCT ra.userid, rt.name, ra.warehouseid, NULL::uuid
			FROM referencedata.role_assignments ra
			JOIN referencedata.role_rights rr ON rr.roleid = ra.roleid
			JOIN referencedata.rights rt ON rt.id = rr.rightid
			WHERE ra.type = 'fulfillment' AND ra.warehouseid IS NOT NULL
			UNION
			-- general administration
			SELECT DISTINCT ra.userid, rt.name, NULL::uuid, NULL::uuid
			FROM referencedata.role_assignments ra
			JOIN referencedata.role_rights rr ON rr.roleid = ra.roleid
			JOIN referencedata.rights rt ON rt.id = rr.rightid
			WHERE ra.type IN ('general_admin', 'report')
		) x
	`)
	if err != nil {
		return 0, fmt.Errorf("rebuild right assignments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FetchChangeLog returns the oldest captured row changes
func (r *PostgresRepository) FetchChangeLog(ctx context.Context, limit int) ([]models.ChangeLogRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, schema_name, table_name, operation, new_data, old_data, captured_at
		FROM localmachine.cdc_changelog
		ORDER BY id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch change log: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ChangeLogRecord, error) {
		var (
			rec            models.ChangeLogRecord
			newRaw, oldRaw []byte
		)
		err := row.Scan(&rec.ID, &rec.SchemaName, &rec.TableName, &rec.Operation, &newRaw, &oldRaw, &rec.CapturedAt)
		rec.NewData, rec.OldData = newRaw, oldRaw
		return rec, err
	})
}

func (r *PostgresRepository) DeleteChangeLog(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM localmachine.cdc_changelog WHERE id = ANY($1)`, ids)
	return err
}
