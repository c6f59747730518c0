package cdc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	payloads []event.MasterDataTableChangeEvent
	err      error
}

func (p *recordingPublisher) EmitMasterDataEvent(_ context.Context, payload event.Payload, category event.Category) (event.Event, error) {
	if p.err != nil {
		return event.Event{}, p.err
	}
	p.payloads = append(p.payloads, payload.(event.MasterDataTableChangeEvent))
	return event.Event{Type: payload.EventType(), Category: category}, nil
}

type countingEvicter struct{ calls int }

func (c *countingEvicter) EvictAll(context.Context) (int, error) {
	c.calls++
	return 3, nil
}

func newEmitter() (*MasterDataEventEmitter, *recordingPublisher, *countingEvicter) {
	pub := &recordingPublisher{}
	ev := &countingEvicter{}
	return NewMasterDataEventEmitter(pub, ev, slog.New(slog.NewTextHandler(io.Discard, nil))), pub, ev
}

func TestOn_IgnoresTablesOutsideAllowList(t *testing.T) {
	e, pub, ev := newEmitter()

	err := e.On(context.Background(), []RowChange{
		{SchemaName: "public", TableName: "audit_log", Operation: OpInsert, NewData: map[string]any{"id": "1"}},
	})

	require.NoError(t, err)
	assert.Empty(t, pub.payloads)
	assert.Zero(t, ev.calls)
}

func TestOn_MapsBatchIntoOneEvent(t *testing.T) {
	e, pub, ev := newEmitter()

	err := e.On(context.Background(), []RowChange{
		{SchemaName: "referencedata", TableName: "programs", Operation: OpInsert, NewData: map[string]any{"id": "p1", "code": "PRG001"}},
		{SchemaName: "public", TableName: "ignored", Operation: OpInsert, NewData: map[string]any{"id": "x"}},
		{SchemaName: "referencedata", TableName: "facilities", Operation: OpUpdate, NewData: map[string]any{"id": "f1", "active": true}},
		{SchemaName: "referencedata", TableName: "programs", Operation: OpUpdate, NewData: map[string]any{"id": "p2", "name": "Malaria"}},
		{SchemaName: "referencedata", TableName: "programs", Operation: OpDelete, OldData: map[string]any{"id": "p3", "code": "OLD"}},
	})
	require.NoError(t, err)
	require.Len(t, pub.payloads, 1)
	assert.Zero(t, ev.calls)

	tables := pub.payloads[0].TableChangeEvents
	require.Len(t, tables, 2)

	programs := tables[0]
	assert.Equal(t, "referencedata.programs", programs.QualifiedName())
	assert.Equal(t, []string{"code", "id", "name"}, programs.Columns)
	assert.Equal(t, []string{"id"}, programs.PrimaryKeys)
	require.NoError(t, programs.Validate())
	assert.Equal(t, []event.RowChangeEvent{
		{Values: []any{"PRG001", "p1", nil}},
		{Values: []any{nil, "p2", "Malaria"}},
		{Values: []any{"OLD", "p3", nil}, Deletion: true},
	}, programs.RowChangeEvents)

	assert.Equal(t, "referencedata.facilities", tables[1].QualifiedName())
}

func TestOn_SnapshotIncompatibleTableEvictsSnapshots(t *testing.T) {
	e, pub, ev := newEmitter()

	err := e.On(context.Background(), []RowChange{
		{SchemaName: "referencedata", TableName: "role_rights", Operation: OpDelete, OldData: map[string]any{"roleid": "r", "rightid": "x"}},
	})

	require.NoError(t, err)
	assert.Len(t, pub.payloads, 1)
	assert.Equal(t, 1, ev.calls)
}

func TestOn_PublishFailureSkipsEviction(t *testing.T) {
	e, pub, ev := newEmitter()
	pub.err = errors.New("outbox unavailable")

	err := e.On(context.Background(), []RowChange{
		{SchemaName: "referencedata", TableName: "role_rights", Operation: OpInsert, NewData: map[string]any{"roleid": "r", "rightid": "x"}},
	})

	require.Error(t, err)
	assert.Zero(t, ev.calls)
}

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.FixedZone("CAT", 2*3600))

	assert.Equal(t, "2024-02-03T02:05:06Z", normalize(ts))
	assert.Equal(t, json.Number("42"), normalize(int64(42)))
	assert.Equal(t, json.Number("0.5"), normalize(0.5))
	assert.Equal(t, "Maputo", normalize([]byte("Maputo  ")))
	assert.Nil(t, normalize(nil))
}
