package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/domain"
	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorPayload(t *testing.T) {
	cause := domain.NewError(domain.KeyRequisitionNotFound, "requisition %s not found", "RNR-1")
	err := fmt.Errorf("replay RequisitionRejectedEvent: %w", cause)

	p := NewErrorPayload(err)
	assert.Equal(t, "*domain.Error", p.ErrorName)
	assert.Equal(t, domain.KeyRequisitionNotFound, p.MessageKey)
	assert.Equal(t, err.Error(), p.DetailMessage)
	assert.Len(t, strings.Split(p.RootStackTrace, "\n"), 2)
}

func TestErrorRecorder_Record(t *testing.T) {
	store := memory.NewStore()
	evt := event.Event{ID: uuid.New()}

	err := NewErrorRecorder(store, discardLogger()).Record(context.Background(), evt, models.ErrorTypeOutOfOrder, fmt.Errorf("gap"))
	require.NoError(t, err)

	recs := store.ErrorRecords()
	require.Len(t, recs, 1)
	assert.Equal(t, evt.ID, recs[0].EventID)
	assert.Equal(t, models.ErrorTypeOutOfOrder, recs[0].Type)
	require.NotNil(t, recs[0].Payload)
	assert.Equal(t, "gap", recs[0].Payload.DetailMessage)
}
