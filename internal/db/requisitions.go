package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Requisitions returns the requisition repository view of the database
func (r *PostgresRepository) Requisitions() domain.RequisitionRepository { return requisitionRepo{r} }

func (r *PostgresRepository) Extensions() domain.RequisitionExtensionRepository {
	return extensionRepo{r}
}

func (r *PostgresRepository) ProofsOfDelivery() domain.ProofOfDeliveryRepository { return podRepo{r} }

// Usages returns one repository per usage section table
func (r *PostgresRepository) Usages() []domain.UsageLineItemRepository {
	repos := make([]domain.UsageLineItemRepository, 0, len(domain.UsageKinds))
	for _, kind := range domain.UsageKinds {
		repos = append(repos, usageRepo{r: r, kind: kind, table: usageTables[kind]})
	}
	return repos
}

var usageTables = map[domain.UsageKind]string{
	domain.UsageAgeGroup:           "siglusintegration.age_group_line_items",
	domain.UsageConsultationNumber: "siglusintegration.consultation_number_line_items",
	domain.UsagePatient:            "siglusintegration.patient_line_items",
	domain.UsageTestConsumption:    "siglusintegration.test_consumption_line_items",
	domain.UsageRegimen:            "siglusintegration.regimen_line_items",
	domain.UsageKitUsage:           "siglusintegration.kit_usage_line_items",
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

type requisitionRepo struct{ r *PostgresRepository }

func (s requisitionRepo) FindOne(ctx context.Context, id uuid.UUID) (*domain.Requisition, error) {
	q := s.r.q(ctx)
	req := &domain.Requisition{ID: id}
	err := q.QueryRow(ctx, `
		SELECT facilityid, programid, processingperiodid, templateid, emergency, status,
		       supervisorynodeid, COALESCE(draftstatusmessage, ''), createddate, modifieddate
		FROM requisition.requisitions
		WHERE id = $1
	`, id).Scan(&req.FacilityID, &req.ProgramID, &req.ProcessingPeriodID, &req.TemplateID, &req.Emergency,
		&req.Status, &req.SupervisoryNodeID, &req.DraftStatusMessage, &req.CreatedDate, &req.ModifiedDate)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := q.Query(ctx, `
		SELECT status, authorid, supervisorynodeid, createddate
		FROM requisition.status_changes
		WHERE requisitionid = $1
		ORDER BY createddate ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read status changes of %s: %w", id, err)
	}
	req.StatusChanges, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.StatusChange, error) {
		var sc domain.StatusChange
		err := row.Scan(&sc.Status, &sc.AuthorID, &sc.SupervisoryNodeID, &sc.CreatedDate)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan status changes of %s: %w", id, err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, orderableid, requestedquantity, approvedquantity, stockonhand,
		       totalconsumedquantity, priceperpack, totalcost, skipped
		FROM requisition.requisition_line_items
		WHERE requisitionid = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read line items of %s: %w", id, err)
	}
	req.LineItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RequisitionLineItem, error) {
		var (
			li          domain.RequisitionLineItem
			price, cost decimal.Decimal
		)
		err := row.Scan(&li.ID, &li.OrderableID, &li.RequestedQuantity, &li.ApprovedQuantity, &li.StockOnHand,
			&li.TotalConsumedQuantity, &price, &cost, &li.Skipped)
		li.PricePerPack = domain.Money{Amount: price, Currency: domain.CurrencyUnit()}
		li.TotalCost = domain.Money{Amount: cost, Currency: domain.CurrencyUnit()}
		return li, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan line items of %s: %w", id, err)
	}
	return req, nil
}

// SaveAndFlush upserts the aggregate and replaces its children
func (s requisitionRepo) SaveAndFlush(ctx context.Context, req *domain.Requisition) (*domain.Requisition, error) {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	if req.CreatedDate.IsZero() {
		req.CreatedDate = now
	}
	req.ModifiedDate = now

	var modifiedBy *uuid.UUID
	if actor, ok := domain.ActorFrom(ctx); ok {
		modifiedBy = &actor
	}

	q := s.r.q(ctx)
	if _, err := q.Exec(ctx, `
		INSERT INTO requisition.requisitions
			(id, facilityid, programid, processingperiodid, templateid, emergency, status,
			 supervisorynodeid, draftstatusmessage, createddate, modifieddate, modifiedby)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			supervisorynodeid = EXCLUDED.supervisorynodeid,
			draftstatusmessage = EXCLUDED.draftstatusmessage,
			modifieddate = EXCLUDED.modifieddate,
			modifiedby = EXCLUDED.modifiedby
	`, req.ID, req.FacilityID, req.ProgramID, req.ProcessingPeriodID, req.TemplateID, req.Emergency,
		string(req.Status), req.SupervisoryNodeID, req.DraftStatusMessage, req.CreatedDate, req.ModifiedDate, modifiedBy,
	); err != nil {
		return nil, fmt.Errorf("upsert requisition %s: %w", req.ID, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM requisition.status_changes WHERE requisitionid = $1`, req.ID)
	for _, sc := range req.StatusChanges {
		batch.Queue(`
			INSERT INTO requisition.status_changes (id, requisitionid, status, authorid, supervisorynodeid, createddate)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), req.ID, string(sc.Status), sc.AuthorID, sc.SupervisoryNodeID, sc.CreatedDate)
	}
	batch.Queue(`DELETE FROM requisition.requisition_line_items WHERE requisitionid = $1`, req.ID)
	for _, li := range req.LineItems {
		if li.ID == uuid.Nil {
			li.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO requisition.requisition_line_items
				(id, requisitionid, orderableid, requestedquantity, approvedquantity, stockonhand,
				 totalconsumedquantity, priceperpack, totalcost, skipped)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, li.ID, req.ID, li.OrderableID, li.RequestedQuantity, li.ApprovedQuantity, li.StockOnHand,
			li.TotalConsumedQuantity, li.PricePerPack.Amount, li.TotalCost.Amount, li.Skipped)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("replace children of requisition %s: %w", req.ID, err)
	}
	return req, nil
}

type extensionRepo struct{ r *PostgresRepository }

const extensionColumns = `
	SELECT id, requisitionid, requisitionnumberprefix, requisitionnumber, isapprovedbyinternal,
	       facilityid, createdbyfacilityid
	FROM siglusintegration.requisition_extension
`

func (s extensionRepo) find(ctx context.Context, where string, arg any) (*domain.RequisitionExtension, error) {
	var ext domain.RequisitionExtension
	err := s.r.q(ctx).QueryRow(ctx, extensionColumns+where, arg).Scan(
		&ext.ID, &ext.RequisitionID, &ext.RequisitionNumberPrefix, &ext.RequisitionNumber,
		&ext.IsApprovedByInternal, &ext.FacilityID, &ext.CreatedByFacilityID)
	if err != nil {
		return nil, notFound(err)
	}
	return &ext, nil
}

func (s extensionRepo) FindByRequisitionID(ctx context.Context, requisitionID uuid.UUID) (*domain.RequisitionExtension, error) {
	return s.find(ctx, `WHERE requisitionid = $1`, requisitionID)
}

// FindByRequisitionNumber matches the formatted number, whose counter is zero padded to two digits
func (s extensionRepo) FindByRequisitionNumber(ctx context.Context, number string) (*domain.RequisitionExtension, error) {
	return s.find(ctx, `
		WHERE requisitionnumberprefix
		      || CASE WHEN requisitionnumber < 10 THEN '0' ELSE '' END
		      || requisitionnumber::text = $1
	`, number)
}

func (s extensionRepo) Save(ctx context.Context, ext *domain.RequisitionExtension) (*domain.RequisitionExtension, error) {
	if ext.ID == uuid.Nil {
		ext.ID = uuid.New()
	}
	_, err := s.r.q(ctx).Exec(ctx, `
		INSERT INTO siglusintegration.requisition_extension
			(id, requisitionid, requisitionnumberprefix, requisitionnumber, isapprovedbyinternal,
			 facilityid, createdbyfacilityid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			requisitionid = EXCLUDED.requisitionid,
			isapprovedbyinternal = EXCLUDED.isapprovedbyinternal
	`, ext.ID, ext.RequisitionID, ext.RequisitionNumberPrefix, ext.RequisitionNumber, ext.IsApprovedByInternal,
		ext.FacilityID, ext.CreatedByFacilityID)
	if err != nil {
		return nil, fmt.Errorf("save extension %s: %w", ext.ID, err)
	}
	return ext, nil
}

type podRepo struct{ r *PostgresRepository }

func (s podRepo) FindOne(ctx context.Context, id uuid.UUID) (*domain.ProofOfDelivery, error) {
	q := s.r.q(ctx)
	pod := &domain.ProofOfDelivery{ID: id}
	err := q.QueryRow(ctx, `
		SELECT shipmentid, requisitionid, ordercode, supplyingfacilityid, requestingfacilityid, programid,
		       processingperiodid, status, COALESCE(receivedby, ''), COALESCE(deliveredby, ''), receiveddate
		FROM fulfillment.proofs_of_delivery
		WHERE id = $1
	`, id).Scan(&pod.ShipmentID, &pod.RequisitionID, &pod.OrderCode, &pod.SupplyingFacilityID,
		&pod.RequestingFacilityID, &pod.ProgramID, &pod.ProcessingPeriodID, &pod.Status,
		&pod.ReceivedBy, &pod.DeliveredBy, &pod.ReceivedDate)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, orderableid, lotid, quantityaccepted, quantityrejected, rejectionreasonid, COALESCE(notes, '')
		FROM fulfillment.proof_of_delivery_line_items
		WHERE proofofdeliveryid = $1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("read line items of pod %s: %w", id, err)
	}
	pod.LineItems, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PodLineItem, error) {
		var li domain.PodLineItem
		err := row.Scan(&li.ID, &li.OrderableID, &li.LotID, &li.QuantityAccepted, &li.QuantityRejected,
			&li.RejectionReason, &li.Notes)
		return li, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan line items of pod %s: %w", id, err)
	}
	return pod, nil
}

func (s podRepo) SaveAndFlush(ctx context.Context, pod *domain.ProofOfDelivery) (*domain.ProofOfDelivery, error) {
	q := s.r.q(ctx)
	if _, err := q.Exec(ctx, `
		INSERT INTO fulfillment.proofs_of_delivery
			(id, shipmentid, requisitionid, ordercode, supplyingfacilityid, requestingfacilityid, programid,
			 processingperiodid, status, receivedby, deliveredby, receiveddate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			receivedby = EXCLUDED.receivedby,
			deliveredby = EXCLUDED.deliveredby,
			receiveddate = EXCLUDED.receiveddate
	`, pod.ID, pod.ShipmentID, pod.RequisitionID, pod.OrderCode, pod.SupplyingFacilityID, pod.RequestingFacilityID,
		pod.ProgramID, pod.ProcessingPeriodID, string(pod.Status), pod.ReceivedBy, pod.DeliveredBy, pod.ReceivedDate,
	); err != nil {
		return nil, fmt.Errorf("upsert pod %s: %w", pod.ID, err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM fulfillment.proof_of_delivery_line_items WHERE proofofdeliveryid = $1`, pod.ID)
	for _, li := range pod.LineItems {
		if li.ID == uuid.Nil {
			li.ID = uuid.New()
		}
		batch.Queue(`
			INSERT INTO fulfillment.proof_of_delivery_line_items
				(id, proofofdeliveryid, orderableid, lotid, quantityaccepted, quantityrejected, rejectionreasonid, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
		`, li.ID, pod.ID, li.OrderableID, li.LotID, li.QuantityAccepted, li.QuantityRejected, li.RejectionReason, li.Notes)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("replace line items of pod %s: %w", pod.ID, err)
	}
	return pod, nil
}

type usageRepo struct {
	r     *PostgresRepository
	kind  domain.UsageKind
	table string
}

func (s usageRepo) Kind() domain.UsageKind { return s.kind }

func (s usageRepo) FindByRequisitionID(ctx context.Context, requisitionID uuid.UUID) ([]domain.UsageLineItem, error) {
	rows, err := s.r.q(ctx).Query(ctx,
		`SELECT id, requisitionid, "values" FROM `+s.table+` WHERE requisitionid = $1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, fmt.Errorf("read %s usage of %s: %w", s.kind, requisitionID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UsageLineItem, error) {
		var (
			item   domain.UsageLineItem
			values []byte
		)
		err := row.Scan(&item.ID, &item.RequisitionID, &values)
		item.Values = values
		return item, err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.UsageLineItem{}
	}
	return items, nil
}

// SaveAll replaces the section's items of the requisition
func (s usageRepo) SaveAll(ctx context.Context, requisitionID uuid.UUID, items []domain.UsageLineItem) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM `+s.table+` WHERE requisitionid = $1`, requisitionID)
	for _, item := range items {
		id := item.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		values := []byte(item.Values)
		if len(values) == 0 {
			values = []byte("{}")
		}
		batch.Queue(`INSERT INTO `+s.table+` (id, requisitionid, "values") VALUES ($1, $2, $3)`, id, requisitionID, values)
	}
	if err := s.r.q(ctx).SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %s usage of %s: %w", s.kind, requisitionID, err)
	}
	return nil
}
