package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var emittedAt = time.Date(2024, 5, 14, 9, 30, 15, 123000000, time.UTC)

func sampleRequisition() domain.Requisition {
	node := uuid.New()
	return domain.Requisition{
		ID:                 uuid.New(),
		FacilityID:         uuid.New(),
		ProgramID:          uuid.New(),
		ProcessingPeriodID: uuid.New(),
		TemplateID:         uuid.New(),
		Status:             domain.StatusInApproval,
		SupervisoryNodeID:  &node,
		StatusChanges: []domain.StatusChange{
			{Status: domain.StatusAuthorized, AuthorID: uuid.New(), CreatedDate: emittedAt.Add(-time.Hour)},
			{Status: domain.StatusInApproval, AuthorID: uuid.New(), SupervisoryNodeID: &node, CreatedDate: emittedAt},
		},
		LineItems: []domain.RequisitionLineItem{{
			ID:                uuid.New(),
			OrderableID:       uuid.New(),
			RequestedQuantity: 120,
			ApprovedQuantity:  100,
			PricePerPack:      domain.MustMoney("3.50"),
			TotalCost:         domain.MustMoney("350.00"),
		}},
		CreatedDate:  emittedAt.Add(-48 * time.Hour),
		ModifiedDate: emittedAt,
	}
}

func samplePayloads() map[string]any {
	req := sampleRequisition()
	lot := uuid.New()
	ext := domain.RequisitionExtension{
		ID:                      uuid.New(),
		RequisitionID:           req.ID,
		RequisitionNumberPrefix: "RNR-NO01050119-",
		RequisitionNumber:       1,
		FacilityID:              req.FacilityID,
	}
	usage := map[domain.UsageKind][]domain.UsageLineItem{}
	for _, k := range domain.UsageKinds {
		usage[k] = []domain.UsageLineItem{}
	}
	usage[domain.UsagePatient] = []domain.UsageLineItem{{
		ID:            uuid.New(),
		RequisitionID: req.ID,
		Values:        json.RawMessage(`{"group":"newPatients","value":12}`),
	}}

	return map[string]any{
		"internal approve": event.RequisitionInternalApprovedEvent{
			RequisitionNumber: ext.RealRequisitionNumber(),
			UserID:            uuid.New(),
			Requisition:       req,
			Extension:         ext,
			UsageLineItems:    usage,
		},
		"release": event.RequisitionReleasedEvent{
			RequisitionNumber:   "RNR-001",
			UserID:              uuid.New(),
			SupplyingFacilityID: uuid.New(),
			ReleasedAt:          emittedAt,
		},
		"reject": event.RequisitionRejectEvent{
			RequisitionNumber: "RNR-001",
			UserID:            uuid.New(),
			RejectedAt:        emittedAt,
		},
		"pod confirmed": event.ProofOfDeliveryConfirmedEvent{
			PodID:             uuid.New(),
			RequisitionNumber: "RNR-001",
			UserID:            uuid.New(),
			ReceivedBy:        "Ana",
			DeliveredBy:       "Joao",
			ReceivedDate:      emittedAt,
			LineItems: []domain.PodLineItem{
				{ID: uuid.New(), OrderableID: uuid.New(), LotID: &lot, QuantityAccepted: 90, QuantityRejected: 10},
			},
		},
		"android synced": event.AndroidRequisitionSyncedEvent{
			RequisitionNumber: "RNR-002",
			FacilityID:        uuid.New(),
			UserID:            uuid.New(),
			RequisitionID:     uuid.New(),
			Extension:         ext,
			Request: domain.AndroidRequisitionRequest{
				ProgramID:           uuid.New(),
				ProcessingPeriodID:  uuid.New(),
				ActualStartDate:     emittedAt.Add(-30 * 24 * time.Hour),
				ActualEndDate:       emittedAt,
				ClientSubmittedTime: emittedAt,
				Products:            []domain.AndroidProduct{{OrderableID: uuid.New(), RequestedQuantity: 4}},
			},
		},
		"master data": event.MasterDataTableChangeEvent{TableChangeEvents: []event.TableChangeEvent{{
			SchemaName:  "referencedata",
			TableName:   "programs",
			Columns:     []string{"id", "code", "active", "periodsskippable", "description"},
			PrimaryKeys: []string{"id"},
			RowChangeEvents: []event.RowChangeEvent{
				{Values: []any{uuid.NewString(), "PT", true, json.Number("3"), nil}},
				{Values: []any{uuid.NewString(), "TB", false, json.Number("0.5"), "x"}, Deletion: true},
			},
		}}},
	}
}

func checkTyped[T any](t *testing.T, v T) {
	t.Helper()
	n, diffs, err := CheckEventSerializeChanges(v)
	require.NoError(t, err)
	assert.Zero(t, n, "differences: %v", diffs)
}

func TestCheckEventSerializeChanges_EveryEventTypeIsLossless(t *testing.T) {
	for name, p := range samplePayloads() {
		t.Run(name, func(t *testing.T) {
			switch v := p.(type) {
			case event.RequisitionInternalApprovedEvent:
				checkTyped(t, v)
			case event.RequisitionReleasedEvent:
				checkTyped(t, v)
			case event.RequisitionRejectEvent:
				checkTyped(t, v)
			case event.ProofOfDeliveryConfirmedEvent:
				checkTyped(t, v)
			case event.AndroidRequisitionSyncedEvent:
				checkTyped(t, v)
			case event.MasterDataTableChangeEvent:
				checkTyped(t, v)
			default:
				t.Fatalf("no check for %T", p)
			}
		})
	}
}

func TestCheckEventSerializeChanges_Envelope(t *testing.T) {
	payload, err := Marshal(event.RequisitionRejectEvent{RequisitionNumber: "RNR-001", UserID: uuid.New(), RejectedAt: emittedAt})
	require.NoError(t, err)

	checkTyped(t, event.Event{
		ID:                 uuid.New(),
		Type:               event.TypeRequisitionRejected,
		Category:           event.CategoryRequisition,
		GroupID:            "RNR-001",
		GroupSequence:      3,
		SenderFacilityID:   uuid.New(),
		ReceiverFacilityID: uuid.New(),
		EmittedAt:          emittedAt,
		Payload:            payload,
	})
}

func TestCheckEventSerializeChanges_MoneyComparedByValue(t *testing.T) {
	// "350.00" is read back as 350; scale differences are not changes
	checkTyped(t, domain.MustMoney("350.00"))
}

type lossy struct {
	Kept    string `json:"kept"`
	Dropped string `json:"-"`
}

func TestCheckEventSerializeChanges_DetectsLoss(t *testing.T) {
	n, diffs, err := CheckEventSerializeChanges(lossy{Kept: "a", Dropped: "b"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, diffs, 1)
}
