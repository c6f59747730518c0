package memory

import (
	"context"
	"slices"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) stampActor(ctx context.Context, id uuid.UUID) {
	if actor, ok := domain.ActorFrom(ctx); ok {
		s.st.actors[id] = actor
	}
}

// LastActor returns the user the aggregate id was last saved on behalf of
func (s *Store) LastActor(id uuid.UUID) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.st.actors[id]
	return actor, ok
}

// Requisitions returns the requisition repository view of the store
func (s *Store) Requisitions() domain.RequisitionRepository { return requisitionRepo{s} }

// Extensions returns the requisition extension repository view of the store
func (s *Store) Extensions() domain.RequisitionExtensionRepository { return extensionRepo{s} }

// ProofsOfDelivery returns the proof of delivery repository view of the store
func (s *Store) ProofsOfDelivery() domain.ProofOfDeliveryRepository { return podRepo{s} }

// Usages returns one repository per usage section
func (s *Store) Usages() []domain.UsageLineItemRepository {
	repos := make([]domain.UsageLineItemRepository, 0, len(domain.UsageKinds))
	for _, kind := range domain.UsageKinds {
		repos = append(repos, usageRepo{store: s, kind: kind})
	}
	return repos
}

type requisitionRepo struct{ s *Store }

func (r requisitionRepo) FindOne(_ context.Context, id uuid.UUID) (*domain.Requisition, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.s.st.requisitions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return req.Clone(), nil
}

func (r requisitionRepo) SaveAndFlush(ctx context.Context, req *domain.Requisition) (*domain.Requisition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	r.s.st.requisitions[req.ID] = req.Clone()
	r.s.stampActor(ctx, req.ID)
	return req.Clone(), nil
}

type extensionRepo struct{ s *Store }

func (r extensionRepo) FindByRequisitionID(_ context.Context, requisitionID uuid.UUID) (*domain.RequisitionExtension, error) {
	return r.find(func(e *domain.RequisitionExtension) bool { return e.RequisitionID == requisitionID })
}

func (r extensionRepo) FindByRequisitionNumber(_ context.Context, number string) (*domain.RequisitionExtension, error) {
	return r.find(func(e *domain.RequisitionExtension) bool { return e.RealRequisitionNumber() == number })
}

func (r extensionRepo) find(match func(*domain.RequisitionExtension) bool) (*domain.RequisitionExtension, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.st.extensions {
		if match(e) {
			ext := *e
			return &ext, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r extensionRepo) Save(_ context.Context, ext *domain.RequisitionExtension) (*domain.RequisitionExtension, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if ext.ID == uuid.Nil {
		ext.ID = uuid.New()
	}
	stored := *ext
	r.s.st.extensions[ext.ID] = &stored
	saved := *ext
	return &saved, nil
}

type podRepo struct{ s *Store }

func (r podRepo) FindOne(_ context.Context, id uuid.UUID) (*domain.ProofOfDelivery, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	pod, ok := r.s.st.pods[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pod.Clone(), nil
}

func (r podRepo) SaveAndFlush(ctx context.Context, pod *domain.ProofOfDelivery) (*domain.ProofOfDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if pod.ID == uuid.Nil {
		pod.ID = uuid.New()
	}
	r.s.st.pods[pod.ID] = pod.Clone()
	r.s.stampActor(ctx, pod.ID)
	return pod.Clone(), nil
}

type usageRepo struct {
	store *Store
	kind  domain.UsageKind
}

func (r usageRepo) Kind() domain.UsageKind { return r.kind }

func (r usageRepo) FindByRequisitionID(_ context.Context, requisitionID uuid.UUID) ([]domain.UsageLineItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	items := slices.Clone(r.store.st.usages[r.kind][requisitionID])
	if items == nil {
		items = []domain.UsageLineItem{}
	}
	return items, nil
}

// SaveAll replaces the section's items of the requisition
func (r usageRepo) SaveAll(_ context.Context, requisitionID uuid.UUID, items []domain.UsageLineItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	byReq, ok := r.store.st.usages[r.kind]
	if !ok {
		byReq = map[uuid.UUID][]domain.UsageLineItem{}
		r.store.st.usages[r.kind] = byReq
	}
	byReq[requisitionID] = slices.Clone(items)
	return nil
}
