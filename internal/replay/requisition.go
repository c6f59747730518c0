package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Guizzs26/siglus-sync/internal/codec"
	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/google/uuid"
)

// Notifier posts the notifications derived from a replayed event
type Notifier interface {
	PostInternalApproval(ctx context.Context, userID uuid.UUID, req *domain.Requisition, supervisingFacilityID uuid.UUID) error
	PostReject(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error
	PostRelease(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error
	PostAuthorize(ctx context.Context, userID uuid.UUID, req *domain.Requisition) error
	PostConfirmPod(ctx context.Context, userID uuid.UUID, pod *domain.ProofOfDelivery) error
}

// Requisitions bundles the repositories requisition replayers write through
type Requisitions struct {
	Requisitions domain.RequisitionRepository
	Extensions   domain.RequisitionExtensionRepository
	Usages       []domain.UsageLineItemRepository
}

// findByNumber loads the local requisition behind a cross-node requisition number
func (r Requisitions) findByNumber(ctx context.Context, number string) (*domain.Requisition, error) {
	ext, err := r.Extensions.FindByRequisitionNumber(ctx, number)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.KeyRequisitionNotFound, "requisition %s not found", number)
	}
	if err != nil {
		return nil, fmt.Errorf("find extension of %s: %w", number, err)
	}
	req, err := r.Requisitions.FindOne(ctx, ext.RequisitionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.KeyRequisitionNotFound, "requisition %s (%s) not found", number, ext.RequisitionID)
	}
	if err != nil {
		return nil, fmt.Errorf("find requisition %s: %w", ext.RequisitionID, err)
	}
	return req, nil
}

type RequisitionInternalApproveReplayer struct {
	store    Requisitions
	notifier Notifier
	logger   *slog.Logger
}

func NewRequisitionInternalApproveReplayer(store Requisitions, notifier Notifier, logger *slog.Logger) *RequisitionInternalApproveReplayer {
	return &RequisitionInternalApproveReplayer{store: store, notifier: notifier, logger: logger}
}

func (*RequisitionInternalApproveReplayer) Type() event.Type {
	return event.TypeRequisitionInternalApproved
}

// Replay creates the requisition on the supervising node, or brings the local copy up to the
// approved snapshot when it already exists
func (r *RequisitionInternalApproveReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.RequisitionInternalApprovedEvent](rc.Event)
	if err != nil {
		return err
	}
	ctx = domain.WithActor(ctx, p.UserID)

	var req *domain.Requisition
	ext, err := r.store.Extensions.FindByRequisitionNumber(ctx, p.RequisitionNumber)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		req = p.Requisition.Clone()
		ext := p.Extension
		ext.RequisitionID = req.ID
		ext.IsApprovedByInternal = true
		if _, err := r.store.Requisitions.SaveAndFlush(ctx, req); err != nil {
			return fmt.Errorf("create requisition %s: %w", p.RequisitionNumber, err)
		}
		if _, err := r.store.Extensions.Save(ctx, &ext); err != nil {
			return fmt.Errorf("save extension of %s: %w", p.RequisitionNumber, err)
		}
	case err != nil:
		return fmt.Errorf("find extension of %s: %w", p.RequisitionNumber, err)
	default:
		local, err := r.store.Requisitions.FindOne(ctx, ext.RequisitionID)
		if err != nil {
			return fmt.Errorf("find requisition %s: %w", ext.RequisitionID, err)
		}
		changed, err := local.ApplyInternalApproval(&p.Requisition)
		if err != nil {
			return err
		}
		if !changed {
			r.logger.Debug("Requisition already at approved snapshot", "requisition_number", p.RequisitionNumber)
			return nil
		}
		if _, err := r.store.Requisitions.SaveAndFlush(ctx, local); err != nil {
			return fmt.Errorf("save requisition %s: %w", p.RequisitionNumber, err)
		}
		req = local
	}

	for _, usages := range r.store.Usages {
		items := make([]domain.UsageLineItem, 0, len(p.UsageLineItems[usages.Kind()]))
		for _, item := range p.UsageLineItems[usages.Kind()] {
			item.RequisitionID = req.ID
			items = append(items, item)
		}
		if err := usages.SaveAll(ctx, req.ID, items); err != nil {
			return fmt.Errorf("save %s usage of %s: %w", usages.Kind(), p.RequisitionNumber, err)
		}
	}

	receiver := rc.Event.ReceiverFacilityID
	rc.AfterCommit("postInternalApproval", func(ctx context.Context) error {
		return r.notifier.PostInternalApproval(ctx, p.UserID, req, receiver)
	})
	return nil
}

type RequisitionReleaseReplayer struct {
	store    Requisitions
	notifier Notifier
	logger   *slog.Logger
}

func NewRequisitionReleaseReplayer(store Requisitions, notifier Notifier, logger *slog.Logger) *RequisitionReleaseReplayer {
	return &RequisitionReleaseReplayer{store: store, notifier: notifier, logger: logger}
}

func (*RequisitionReleaseReplayer) Type() event.Type {
	return event.TypeRequisitionReleased
}

func (r *RequisitionReleaseReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.RequisitionReleasedEvent](rc.Event)
	if err != nil {
		return err
	}
	ctx = domain.WithActor(ctx, p.UserID)

	req, err := r.store.findByNumber(ctx, p.RequisitionNumber)
	if err != nil {
		return err
	}
	changed, err := req.Release(p.UserID, p.ReleasedAt)
	if err != nil {
		return err
	}
	if !changed {
		r.logger.Debug("Requisition already released", "requisition_number", p.RequisitionNumber)
		return nil
	}
	saved, err := r.store.Requisitions.SaveAndFlush(ctx, req)
	if err != nil {
		return fmt.Errorf("save requisition %s: %w", p.RequisitionNumber, err)
	}

	rc.AfterCommit("postRelease", func(ctx context.Context) error {
		return r.notifier.PostRelease(ctx, p.UserID, saved)
	})
	return nil
}

type RequisitionRejectReplayer struct {
	store    Requisitions
	notifier Notifier
	logger   *slog.Logger
}

func NewRequisitionRejectReplayer(store Requisitions, notifier Notifier, logger *slog.Logger) *RequisitionRejectReplayer {
	return &RequisitionRejectReplayer{store: store, notifier: notifier, logger: logger}
}

func (*RequisitionRejectReplayer) Type() event.Type {
	return event.TypeRequisitionRejected
}

func (r *RequisitionRejectReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.RequisitionRejectEvent](rc.Event)
	if err != nil {
		return err
	}
	ctx = domain.WithActor(ctx, p.UserID)

	req, err := r.store.findByNumber(ctx, p.RequisitionNumber)
	if err != nil {
		return err
	}
	changed, err := req.Reject(p.UserID, p.RejectedAt)
	if err != nil {
		return err
	}
	if !changed {
		r.logger.Debug("Requisition already rejected", "requisition_number", p.RequisitionNumber)
		return nil
	}
	req.ResetSupervisoryNode()
	saved, err := r.store.Requisitions.SaveAndFlush(ctx, req)
	if err != nil {
		return fmt.Errorf("save requisition %s: %w", p.RequisitionNumber, err)
	}

	rc.AfterCommit("postReject", func(ctx context.Context) error {
		return r.notifier.PostReject(ctx, p.UserID, saved)
	})
	return nil
}

type AndroidRequisitionSyncedReplayer struct {
	store    Requisitions
	notifier Notifier
	logger   *slog.Logger
}

func NewAndroidRequisitionSyncedReplayer(store Requisitions, notifier Notifier, logger *slog.Logger) *AndroidRequisitionSyncedReplayer {
	return &AndroidRequisitionSyncedReplayer{store: store, notifier: notifier, logger: logger}
}

func (*AndroidRequisitionSyncedReplayer) Type() event.Type {
	return event.TypeAndroidRequisitionSynced
}

// Replay builds the android requisition on the receiving node unless a requisition with the same
// number already exists there
func (r *AndroidRequisitionSyncedReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.AndroidRequisitionSyncedEvent](rc.Event)
	if err != nil {
		return err
	}

	_, err = r.store.Extensions.FindByRequisitionNumber(ctx, p.RequisitionNumber)
	switch {
	case err == nil:
		r.logger.Debug("Android requisition already present", "requisition_number", p.RequisitionNumber)
		return nil
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("find extension of %s: %w", p.RequisitionNumber, err)
	}
	return r.create(domain.WithActor(ctx, p.UserID), rc, p)
}

func (r *AndroidRequisitionSyncedReplayer) create(ctx context.Context, rc *ReplayContext, p event.AndroidRequisitionSyncedEvent) error {
	req := domain.BuildAndroidRequisition(p.RequisitionID, p.FacilityID, p.UserID, p.Request, rc.Event.EmittedAt)
	saved, err := r.store.Requisitions.SaveAndFlush(ctx, req)
	if err != nil {
		return fmt.Errorf("create android requisition %s: %w", p.RequisitionNumber, err)
	}
	ext := p.Extension
	ext.RequisitionID = saved.ID
	ext.FacilityID = p.FacilityID
	if _, err := r.store.Extensions.Save(ctx, &ext); err != nil {
		return fmt.Errorf("save extension of %s: %w", p.RequisitionNumber, err)
	}

	rc.AfterCommit("postAuthorize", func(ctx context.Context) error {
		return r.notifier.PostAuthorize(ctx, p.UserID, saved)
	})
	return nil
}

type ProofOfDeliveryConfirmedReplayer struct {
	pods     domain.ProofOfDeliveryRepository
	notifier Notifier
	logger   *slog.Logger
}

func NewProofOfDeliveryConfirmedReplayer(pods domain.ProofOfDeliveryRepository, notifier Notifier, logger *slog.Logger) *ProofOfDeliveryConfirmedReplayer {
	return &ProofOfDeliveryConfirmedReplayer{pods: pods, notifier: notifier, logger: logger}
}

func (*ProofOfDeliveryConfirmedReplayer) Type() event.Type {
	return event.TypeProofOfDeliveryConfirmed
}

func (r *ProofOfDeliveryConfirmedReplayer) Replay(ctx context.Context, rc *ReplayContext) error {
	p, err := codec.DecodePayload[event.ProofOfDeliveryConfirmedEvent](rc.Event)
	if err != nil {
		return err
	}
	ctx = domain.WithActor(ctx, p.UserID)

	pod, err := r.pods.FindOne(ctx, p.PodID)
	if err != nil {
		return fmt.Errorf("find proof of delivery %s: %w", p.PodID, err)
	}
	changed, err := pod.Confirm(p.ReceivedBy, p.DeliveredBy, p.ReceivedDate, p.LineItems)
	if err != nil {
		return err
	}
	if !changed {
		r.logger.Debug("Proof of delivery already confirmed", "pod_id", p.PodID)
		return nil
	}
	saved, err := r.pods.SaveAndFlush(ctx, pod)
	if err != nil {
		return fmt.Errorf("save proof of delivery %s: %w", p.PodID, err)
	}

	rc.AfterCommit("postConfirmPod", func(ctx context.Context) error {
		return r.notifier.PostConfirmPod(ctx, p.UserID, saved)
	})
	return nil
}
