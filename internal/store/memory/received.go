package memory

import (
	"context"
	"slices"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

func (s *Store) IsProcessed(_ context.Context, eventID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.processed[eventID], nil
}

func (s *Store) MarkAsProcessed(_ context.Context, evt event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.processed[evt.ID] = true
	return nil
}

func (s *Store) LastGroupSequence(_ context.Context, groupID string, senderID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.received[channelKey{groupID: groupID, facilityID: senderID}], nil
}

func (s *Store) AdvanceGroupSequence(_ context.Context, groupID string, senderID uuid.UUID, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{groupID: groupID, facilityID: senderID}
	if seq > s.st.received[key] {
		s.st.received[key] = seq
	}
	return nil
}

// SaveErrorRecord persists outside any transaction
func (s *Store) SaveErrorRecord(_ context.Context, rec *models.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	if rec.Payload != nil {
		p := *rec.Payload
		cp.Payload = &p
	}
	s.errors = append(s.errors, cp)
	return nil
}

func (s *Store) ErrorRecords() []models.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.errors)
}

func (s *Store) MarkProcessedByRefID(_ context.Context, refID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.notifications {
		if s.st.notifications[i].RefID == refID {
			s.st.notifications[i].Processed = true
		}
	}
	return nil
}

func (s *Store) SaveNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.notifications = append(s.st.notifications, *n)
	return nil
}

func (s *Store) Notifications() []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.notifications)
}

// LocationChange is one call of the location management hook
type LocationChange struct {
	FacilityID uuid.UUID
	Enabled    bool
}

func (s *Store) OnLocationManagementChanged(_ context.Context, facilityID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.locations = append(s.st.locations, LocationChange{FacilityID: facilityID, Enabled: enabled})
	return nil
}

func (s *Store) LocationChanges() []LocationChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.locations)
}

// AppliedLocationFlag prefers a value saved by a committed replay over a seeded baseline
func (s *Store) AppliedLocationFlag(_ context.Context, facilityID uuid.UUID) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.st.locationFlags[facilityID]; ok {
		return v, true, nil
	}
	v, ok := s.seededFlags[facilityID]
	return v, ok, nil
}

// SeedLocationFlag survives a rollback of the surrounding transaction
func (s *Store) SeedLocationFlag(_ context.Context, facilityID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.locationFlags[facilityID]; ok {
		return nil
	}
	if _, ok := s.seededFlags[facilityID]; !ok {
		s.seededFlags[facilityID] = enabled
	}
	return nil
}

func (s *Store) SaveLocationFlag(_ context.Context, facilityID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.locationFlags[facilityID] = enabled
	return nil
}

func (s *Store) FindAgent(_ context.Context, machineID uuid.UUID) (models.AgentInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[machineID]
	return a, ok, nil
}

func (s *Store) SaveAgent(_ context.Context, a models.AgentInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.MachineID] = a
	return nil
}
