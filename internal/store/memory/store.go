// Package memory is an in-process implementation of every store the sync engine depends on.
// Transactions are serialized and roll back by restoring a snapshot of the whole state
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

type txKey struct{}

// channelKey identifies the ordered stream of one group between two facilities
type channelKey struct {
	groupID    string
	facilityID uuid.UUID
}

type supervisionKey struct {
	facilityID uuid.UUID
	programID  uuid.UUID
}

// state is everything a transaction can roll back
type state struct {
	requisitions  map[uuid.UUID]*domain.Requisition
	extensions    map[uuid.UUID]*domain.RequisitionExtension
	pods          map[uuid.UUID]*domain.ProofOfDelivery
	usages        map[domain.UsageKind]map[uuid.UUID][]domain.UsageLineItem
	actors        map[uuid.UUID]uuid.UUID
	outbox        []models.OutboxEntry
	nextOutboxID  int64
	groupSeq      map[channelKey]int64
	processed     map[uuid.UUID]bool
	received      map[channelKey]int64
	locationFlags map[uuid.UUID]bool
	notifications []models.Notification
	rows          map[string]map[string]map[string]any
	locations     []LocationChange
}

func newState() *state {
	return &state{
		requisitions:  map[uuid.UUID]*domain.Requisition{},
		extensions:    map[uuid.UUID]*domain.RequisitionExtension{},
		pods:          map[uuid.UUID]*domain.ProofOfDelivery{},
		usages:        map[domain.UsageKind]map[uuid.UUID][]domain.UsageLineItem{},
		actors:        map[uuid.UUID]uuid.UUID{},
		groupSeq:      map[channelKey]int64{},
		processed:     map[uuid.UUID]bool{},
		received:      map[channelKey]int64{},
		locationFlags: map[uuid.UUID]bool{},
		rows:          map[string]map[string]map[string]any{},
	}
}

func (s *state) clone() *state {
	c := &state{
		requisitions:  make(map[uuid.UUID]*domain.Requisition, len(s.requisitions)),
		extensions:    make(map[uuid.UUID]*domain.RequisitionExtension, len(s.extensions)),
		pods:          make(map[uuid.UUID]*domain.ProofOfDelivery, len(s.pods)),
		usages:        make(map[domain.UsageKind]map[uuid.UUID][]domain.UsageLineItem, len(s.usages)),
		actors:        maps.Clone(s.actors),
		outbox:        slices.Clone(s.outbox),
		nextOutboxID:  s.nextOutboxID,
		groupSeq:      maps.Clone(s.groupSeq),
		processed:     maps.Clone(s.processed),
		received:      maps.Clone(s.received),
		locationFlags: maps.Clone(s.locationFlags),
		notifications: slices.Clone(s.notifications),
		rows:          make(map[string]map[string]map[string]any, len(s.rows)),
		locations:     slices.Clone(s.locations),
	}
	for id, r := range s.requisitions {
		c.requisitions[id] = r.Clone()
	}
	for id, e := range s.extensions {
		ext := *e
		c.extensions[id] = &ext
	}
	for id, p := range s.pods {
		c.pods[id] = p.Clone()
	}
	for kind, byReq := range s.usages {
		m := make(map[uuid.UUID][]domain.UsageLineItem, len(byReq))
		for id, items := range byReq {
			m[id] = slices.Clone(items)
		}
		c.usages[kind] = m
	}
	for table, byKey := range s.rows {
		m := make(map[string]map[string]any, len(byKey))
		for k, row := range byKey {
			m[k] = maps.Clone(row)
		}
		c.rows[table] = m
	}
	return c
}

// Store is safe for concurrent use
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	// kept outside state: these survive a rollback
	supervision map[supervisionKey][]uuid.UUID
	errors      []models.ErrorRecord
	agents      map[uuid.UUID]models.AgentInfo
	notified    []uuid.UUID
	seededFlags map[uuid.UUID]bool
}

func NewStore() *Store {
	return &Store{
		st:          newState(),
		supervision: map[supervisionKey][]uuid.UUID{},
		agents:      map[uuid.UUID]models.AgentInfo{},
		seededFlags: map[uuid.UUID]bool{},
	}
}

// WithinTx runs fn against the store; an error from fn discards every change fn made.
// Nested calls join the outer transaction
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bool); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.st.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddSupervision registers the facilities supervising facilityID for programID
func (s *Store) AddSupervision(facilityID, programID uuid.UUID, supervisors ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := supervisionKey{facilityID: facilityID, programID: programID}
	s.supervision[key] = append(s.supervision[key], supervisors...)
}

func (s *Store) FindSupervisingFacilityIDs(_ context.Context, facilityID, programID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.supervision[supervisionKey{facilityID: facilityID, programID: programID}]), nil
}
