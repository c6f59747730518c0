package domain

import (
	"context"

	"github.com/google/uuid"
)

// The sync engine only needs these CRUD shapes from the backing store. Implementations join the
// transaction carried by ctx when there is one.

type RequisitionRepository interface {
	FindOne(ctx context.Context, id uuid.UUID) (*Requisition, error)
	SaveAndFlush(ctx context.Context, r *Requisition) (*Requisition, error)
}

type RequisitionExtensionRepository interface {
	FindByRequisitionID(ctx context.Context, requisitionID uuid.UUID) (*RequisitionExtension, error)
	FindByRequisitionNumber(ctx context.Context, number string) (*RequisitionExtension, error)
	Save(ctx context.Context, ext *RequisitionExtension) (*RequisitionExtension, error)
}

type ProofOfDeliveryRepository interface {
	FindOne(ctx context.Context, id uuid.UUID) (*ProofOfDelivery, error)
	SaveAndFlush(ctx context.Context, pod *ProofOfDelivery) (*ProofOfDelivery, error)
}

// UsageLineItemRepository stores one usage section of a requisition
type UsageLineItemRepository interface {
	Kind() UsageKind
	FindByRequisitionID(ctx context.Context, requisitionID uuid.UUID) ([]UsageLineItem, error)
	SaveAll(ctx context.Context, requisitionID uuid.UUID, items []UsageLineItem) error
}

// SupervisionRepository resolves the facilities supervising a facility for a program through
// requisition group membership
type SupervisionRepository interface {
	FindSupervisingFacilityIDs(ctx context.Context, facilityID, programID uuid.UUID) ([]uuid.UUID, error)
}

// TxManager runs fn in a transaction; repositories called with the ctx passed to fn join it
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
