package replay

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/internal/service"
	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRights struct{ runs atomic.Int32 }

func (c *countingRights) RegenerateAsync() { c.runs.Add(1) }

func newMasterDataDispatcher(t *testing.T, store *memory.Store, rights RightAssignmentScheduler) *Dispatcher {
	t.Helper()
	logger := discardLogger()
	registry, err := NewRegistry(NewMasterDataEventReplayer(store, store, store, store, rights, localFacility, logger))
	require.NoError(t, err)
	return NewDispatcher(registry, store, store, service.NewErrorRecorder(store, logger), logger)
}

// newSinkingDispatcher replays master data into sink, which may commit apart from store
func newSinkingDispatcher(t *testing.T, store *memory.Store, sink TableSinker, reader LocalColumnReader, location LocationManagementHandler) *Dispatcher {
	t.Helper()
	logger := discardLogger()
	registry, err := NewRegistry(NewMasterDataEventReplayer(sink, reader, location, store, nil, localFacility, logger))
	require.NoError(t, err)
	return NewDispatcher(registry, store, store, service.NewErrorRecorder(store, logger), logger)
}

// flakyLocation fails its first fails calls before delegating
type flakyLocation struct {
	next  LocationManagementHandler
	fails int
	calls int
}

func (f *flakyLocation) OnLocationManagementChanged(ctx context.Context, facilityID uuid.UUID, enabled bool) error {
	f.calls++
	if f.calls <= f.fails {
		return errors.New("drafts table locked")
	}
	return f.next.OnLocationManagementChanged(ctx, facilityID, enabled)
}

func facilityExtensionChange(facilityID uuid.UUID, enabled bool) event.MasterDataTableChangeEvent {
	return event.MasterDataTableChangeEvent{TableChangeEvents: []event.TableChangeEvent{{
		SchemaName:  "siglusintegration",
		TableName:   "facility_extension",
		Columns:     []string{"enablelocationmanagement", "facilityid", "id"},
		PrimaryKeys: []string{"id"},
		RowChangeEvents: []event.RowChangeEvent{{
			Values: []any{enabled, facilityID.String(), "ext-" + facilityID.String()},
		}},
	}}}
}

func broadcast(t *testing.T, payload event.MasterDataTableChangeEvent) event.Event {
	evt := newEvent(t, payload, "", 0)
	evt.Category = event.CategoryMasterData
	evt.ReceiverFacilityID = uuid.Nil
	return evt
}

func TestMasterData_LocationHookRunsOncePerFlip(t *testing.T) {
	store := memory.NewStore()
	d := newMasterDataDispatcher(t, store, nil)
	ctx := context.Background()

	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, true))))
	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, true))))
	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, false))))

	assert.Equal(t, []memory.LocationChange{
		{FacilityID: localFacility, Enabled: true},
		{FacilityID: localFacility, Enabled: false},
	}, store.LocationChanges())
}

func TestMasterData_HookRetriedWhenIndependentSinkAlreadyCommitted(t *testing.T) {
	store := memory.NewStore()
	sink := memory.NewSinkDB()
	location := &flakyLocation{next: store, fails: 1}
	d := newSinkingDispatcher(t, store, sink, sink, location)
	ctx := context.Background()
	evt := broadcast(t, facilityExtensionChange(localFacility, true))

	require.Error(t, d.Replay(ctx, evt))
	assert.Len(t, sink.Rows(models.FacilityExtensionTable), 1)
	assert.Empty(t, store.LocationChanges())

	require.NoError(t, d.Replay(ctx, evt))
	assert.Equal(t, 2, location.calls)
	assert.Equal(t, []memory.LocationChange{{FacilityID: localFacility, Enabled: true}}, store.LocationChanges())

	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, true))))
	assert.Equal(t, 2, location.calls)
}

func TestMasterData_IndependentSinkUnchangedFlagRunsNoHook(t *testing.T) {
	store := memory.NewStore()
	sink := memory.NewSinkDB()
	ctx := context.Background()

	require.NoError(t, sink.Sink(ctx, facilityExtensionChange(localFacility, true).TableChangeEvents))
	d := newSinkingDispatcher(t, store, sink, sink, store)

	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, true))))
	assert.Empty(t, store.LocationChanges())

	require.NoError(t, d.Replay(ctx, broadcast(t, facilityExtensionChange(localFacility, false))))
	assert.Equal(t, []memory.LocationChange{{FacilityID: localFacility, Enabled: false}}, store.LocationChanges())
}

func TestMasterData_TransactionalSinkRollsBackWithFailedHook(t *testing.T) {
	store := memory.NewStore()
	location := &flakyLocation{next: store, fails: 1}
	d := newSinkingDispatcher(t, store, store, store, location)
	ctx := context.Background()
	evt := broadcast(t, facilityExtensionChange(localFacility, true))

	require.Error(t, d.Replay(ctx, evt))
	assert.Empty(t, store.Rows(models.FacilityExtensionTable))
	require.Len(t, store.ErrorRecords(), 1)

	require.NoError(t, d.Replay(ctx, evt))
	assert.Len(t, store.Rows(models.FacilityExtensionTable), 1)
	assert.Equal(t, []memory.LocationChange{{FacilityID: localFacility, Enabled: true}}, store.LocationChanges())
}

func TestMasterData_OtherFacilityDoesNotTriggerHook(t *testing.T) {
	store := memory.NewStore()
	d := newMasterDataDispatcher(t, store, nil)

	require.NoError(t, d.Replay(context.Background(), broadcast(t, facilityExtensionChange(uuid.New(), true))))

	assert.Empty(t, store.LocationChanges())
	assert.Len(t, store.Rows(models.FacilityExtensionTable), 1)
}

func TestMasterData_DecodedWireValuesAreUnderstood(t *testing.T) {
	store := memory.NewStore()
	d := newMasterDataDispatcher(t, store, nil)

	payload := facilityExtensionChange(localFacility, false)
	payload.TableChangeEvents[0].RowChangeEvents[0].Values[0] = json.Number("1")

	require.NoError(t, d.Replay(context.Background(), broadcast(t, payload)))
	assert.Equal(t, []memory.LocationChange{{FacilityID: localFacility, Enabled: true}}, store.LocationChanges())
}

func TestMasterData_UpsertAndDelete(t *testing.T) {
	store := memory.NewStore()
	d := newMasterDataDispatcher(t, store, nil)
	ctx := context.Background()

	programs := func(rows ...event.RowChangeEvent) event.MasterDataTableChangeEvent {
		return event.MasterDataTableChangeEvent{TableChangeEvents: []event.TableChangeEvent{{
			SchemaName:      "referencedata",
			TableName:       "programs",
			Columns:         []string{"code", "id"},
			PrimaryKeys:     []string{"id"},
			RowChangeEvents: rows,
		}}}
	}

	require.NoError(t, d.Replay(ctx, broadcast(t, programs(
		event.RowChangeEvent{Values: []any{"PRG001", "p1"}},
		event.RowChangeEvent{Values: []any{"PRG002", "p2"}},
	))))
	require.NoError(t, d.Replay(ctx, broadcast(t, programs(
		event.RowChangeEvent{Values: []any{"PRG001-B", "p1"}},
		event.RowChangeEvent{Values: []any{"PRG002", "p2"}, Deletion: true},
	))))

	rows := store.Rows("referencedata.programs")
	require.Len(t, rows, 1)
	assert.Equal(t, "PRG001-B", rows[0]["code"])
}

func TestMasterData_MisalignedRowIsRecordedAsSinkError(t *testing.T) {
	store := memory.NewStore()
	d := newMasterDataDispatcher(t, store, nil)

	payload := facilityExtensionChange(localFacility, true)
	payload.TableChangeEvents[0].RowChangeEvents[0].Values = []any{true}

	err := d.Replay(context.Background(), broadcast(t, payload))
	require.ErrorIs(t, err, ErrSink)

	records := store.ErrorRecords()
	require.Len(t, records, 1)
	assert.Equal(t, models.ErrorTypeSink, records[0].Type)
	assert.Empty(t, store.LocationChanges())
}

func TestMasterData_RoleAssignmentChangeSchedulesRegeneration(t *testing.T) {
	store := memory.NewStore()
	rights := &countingRights{}
	d := newMasterDataDispatcher(t, store, rights)

	payload := event.MasterDataTableChangeEvent{TableChangeEvents: []event.TableChangeEvent{{
		SchemaName:      "referencedata",
		TableName:       "role_assignments",
		Columns:         []string{"id", "roleid", "userid"},
		PrimaryKeys:     []string{"id"},
		RowChangeEvents: []event.RowChangeEvent{{Values: []any{"ra1", "r1", "u1"}}},
	}}}
	require.NoError(t, d.Replay(context.Background(), broadcast(t, payload)))

	assert.Equal(t, int32(1), rights.runs.Load())
}

func TestAsBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
		ok   bool
	}{
		{true, true, true},
		{"t", true, true},
		{"false", false, true},
		{json.Number("0"), false, true},
		{int64(1), true, true},
		{[]byte("Y"), true, true},
		{nil, false, false},
		{"maybe", false, false},
	}
	for _, c := range cases {
		got, ok := asBool(c.in)
		assert.Equal(t, c.ok, ok, "%v", c.in)
		assert.Equal(t, c.want, got, "%v", c.in)
	}
}
