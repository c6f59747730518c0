package memory

import (
	"context"
	"slices"

	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/google/uuid"
)

func (s *Store) NextGroupSequence(_ context.Context, groupID string, receiverID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{groupID: groupID, facilityID: receiverID}
	s.st.groupSeq[key]++
	return s.st.groupSeq[key], nil
}

func (s *Store) Append(_ context.Context, entry *models.OutboxEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextOutboxID++
	entry.ID = s.st.nextOutboxID
	s.st.outbox = append(s.st.outbox, *entry)
	return nil
}

// NotifyOutbox records the wake-up; it is not rolled back, like a notification sent by a
// transaction that later aborts is simply spurious
func (s *Store) NotifyOutbox(_ context.Context, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notified = append(s.notified, eventID)
	return nil
}

// Notified returns the event ids passed to NotifyOutbox
func (s *Store) Notified() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notified)
}

// Outbox returns a copy of every outbox row in insertion order
func (s *Store) Outbox() []models.OutboxEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.st.outbox)
}

// FetchAndClaim moves up to batchSize pending rows, oldest first, to processing
func (s *Store) FetchAndClaim(_ context.Context, batchSize int) ([]models.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []models.OutboxEntry
	for i := range s.st.outbox {
		if len(claimed) == batchSize {
			break
		}
		if s.st.outbox[i].Status != models.StatusPending {
			continue
		}
		s.st.outbox[i].Status = models.StatusProcessing
		claimed = append(claimed, s.st.outbox[i])
	}
	return claimed, nil
}

func (s *Store) MarkAsSent(_ context.Context, id int64) error {
	s.update(func(e *models.OutboxEntry) bool { return e.ID == id }, func(e *models.OutboxEntry) {
		e.Status = models.StatusSent
	})
	return nil
}

func (s *Store) MarkAsError(_ context.Context, id int64, _ string) error {
	s.update(func(e *models.OutboxEntry) bool { return e.ID == id }, func(e *models.OutboxEntry) {
		e.Status = models.StatusError
		e.Attempts++
	})
	return nil
}

func (s *Store) MarkAsErrorByEventID(_ context.Context, eventID uuid.UUID, _ string) error {
	s.update(func(e *models.OutboxEntry) bool { return e.EventID == eventID }, func(e *models.OutboxEntry) {
		e.Status = models.StatusError
	})
	return nil
}

func (s *Store) MarkManyAsPending(_ context.Context, ids []int64, _ string, strategy models.RevertStrategy) error {
	s.update(func(e *models.OutboxEntry) bool { return slices.Contains(ids, e.ID) }, func(e *models.OutboxEntry) {
		e.Status = models.StatusPending
		if strategy == models.StrategyBusinessFailure {
			e.Attempts++
		}
	})
	return nil
}

func (s *Store) update(match func(*models.OutboxEntry) bool, apply func(*models.OutboxEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.st.outbox {
		if match(&s.st.outbox[i]) {
			apply(&s.st.outbox[i])
		}
	}
}
