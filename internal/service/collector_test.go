package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/cdc"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChangeLog struct {
	records []models.ChangeLogRecord
	deleted []int64
}

func (f *fakeChangeLog) FetchChangeLog(_ context.Context, limit int) ([]models.ChangeLogRecord, error) {
	if len(f.records) < limit {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

func (f *fakeChangeLog) DeleteChangeLog(_ context.Context, ids []int64) error {
	f.deleted = append(f.deleted, ids...)
	f.records = f.records[len(ids):]
	return nil
}

type fakeHandler struct {
	batches [][]cdc.RowChange
	err     error
}

func (h *fakeHandler) On(_ context.Context, records []cdc.RowChange) error {
	if h.err != nil {
		return h.err
	}
	h.batches = append(h.batches, records)
	return nil
}

func TestCollector_EmitsAndDeletes(t *testing.T) {
	log := &fakeChangeLog{records: []models.ChangeLogRecord{
		{ID: 1, SchemaName: "referencedata", TableName: "facilities", Operation: "U",
			NewData: json.RawMessage(`{"id":"f1","active":true,"version":7}`),
			OldData: json.RawMessage(`{"id":"f1","active":false,"version":6}`)},
		{ID: 2, SchemaName: "referencedata", TableName: "lots", Operation: "D",
			NewData: json.RawMessage(`null`),
			OldData: json.RawMessage(`{"id":"l1"}`)},
	}}
	handler := &fakeHandler{}

	n, err := NewCollectorService(log, handler, 10, discardLogger()).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, log.deleted)

	require.Len(t, handler.batches, 1)
	batch := handler.batches[0]
	assert.Equal(t, json.Number("7"), batch[0].NewData["version"])
	assert.Nil(t, batch[1].NewData)
	assert.True(t, batch[1].IsDeletion())
}

func TestCollector_HandlerFailureKeepsBatch(t *testing.T) {
	log := &fakeChangeLog{records: []models.ChangeLogRecord{
		{ID: 1, SchemaName: "referencedata", TableName: "programs", Operation: "I", NewData: json.RawMessage(`{"id":"p"}`)},
	}}

	_, err := NewCollectorService(log, &fakeHandler{err: errors.New("outbox down")}, 10, discardLogger()).
		ProcessBatch(context.Background())
	require.Error(t, err)
	assert.Empty(t, log.deleted)
	assert.Len(t, log.records, 1)
}

func TestCollector_UndecodableRecordIsDropped(t *testing.T) {
	log := &fakeChangeLog{records: []models.ChangeLogRecord{
		{ID: 1, SchemaName: "referencedata", TableName: "programs", Operation: "I", NewData: json.RawMessage(`{"id":`)},
		{ID: 2, SchemaName: "referencedata", TableName: "programs", Operation: "I", NewData: json.RawMessage(`{"id":"p"}`)},
	}}
	handler := &fakeHandler{}

	n, err := NewCollectorService(log, handler, 10, discardLogger()).ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, handler.batches, 1)
	assert.Len(t, handler.batches[0], 1)
	assert.Equal(t, []int64{1, 2}, log.deleted)
}
