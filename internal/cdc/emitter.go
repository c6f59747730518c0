// Package cdc turns captured master-data row changes into broadcast table change events
package cdc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/pkg/encoding"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/google/uuid"
)

// Row change operations, as written by the capture triggers
const (
	OpInsert = "I"
	OpUpdate = "U"
	OpDelete = "D"
)

// RowChange is one captured row mutation. NewData is empty for deletions
type RowChange struct {
	SchemaName string
	TableName  string
	Operation  string
	NewData    map[string]any
	OldData    map[string]any
}

func (r RowChange) QualifiedName() string {
	return models.QualifiedName(r.SchemaName, r.TableName)
}

func (r RowChange) IsDeletion() bool {
	return r.Operation == OpDelete
}

// row returns the image of the row to replicate: the old image for deletions
func (r RowChange) row() map[string]any {
	if r.IsDeletion() && len(r.OldData) > 0 {
		return r.OldData
	}
	if len(r.NewData) > 0 {
		return r.NewData
	}
	return r.OldData
}

type Publisher interface {
	EmitMasterDataEvent(ctx context.Context, payload event.Payload, category event.Category) (event.Event, error)
}

type SnapshotEvicter interface {
	EvictAll(ctx context.Context) (int, error)
}

type MasterDataEventEmitter struct {
	publisher Publisher
	snapshots SnapshotEvicter
	logger    *slog.Logger
}

func NewMasterDataEventEmitter(publisher Publisher, snapshots SnapshotEvicter, logger *slog.Logger) *MasterDataEventEmitter {
	return &MasterDataEventEmitter{publisher: publisher, snapshots: snapshots, logger: logger}
}

// AcceptedTables is the allow-list the capture source subscribes to
func (e *MasterDataEventEmitter) AcceptedTables() []string {
	return models.AcceptedTableNames()
}

// On emits one broadcast event for the accepted part of a capture batch and evicts every cached
// snapshot if a table without a surrogate key changed
func (e *MasterDataEventEmitter) On(ctx context.Context, records []RowChange) error {
	accepted := make([]RowChange, 0, len(records))
	for _, r := range records {
		if _, ok := models.PrimaryKeys(r.QualifiedName()); !ok {
			metrics.CDCRecords.WithLabelValues("ignored").Inc()
			e.logger.Debug("Ignoring change of table outside the allow-list", "table", r.QualifiedName())
			continue
		}
		metrics.CDCRecords.WithLabelValues("accepted").Inc()
		accepted = append(accepted, r)
	}
	if len(accepted) == 0 {
		return nil
	}

	changes := ToTableChangeEvents(accepted)
	payload := event.MasterDataTableChangeEvent{TableChangeEvents: changes}
	evt, err := e.publisher.EmitMasterDataEvent(ctx, payload, event.CategoryMasterData)
	if err != nil {
		return fmt.Errorf("emit master data change: %w", err)
	}
	e.logger.Info("Master data change emitted", "event_id", evt.ID, "tables", payload.Tables(), "rows", len(accepted))

	if touchesSnapshotIncompatible(changes) {
		n, err := e.snapshots.EvictAll(ctx)
		if err != nil {
			return fmt.Errorf("evict master data snapshots: %w", err)
		}
		metrics.SnapshotEvictions.Inc()
		e.logger.Info("Master data snapshots evicted", "count", n)
	}
	return nil
}

func touchesSnapshotIncompatible(changes []event.TableChangeEvent) bool {
	for _, c := range changes {
		if models.SnapshotIncompatibleTables[c.QualifiedName()] {
			return true
		}
	}
	return false
}

// ToTableChangeEvents groups records by table, in order of first appearance. Each table's columns
// are the sorted union of the columns of its rows; a column a row does not carry is null
func ToTableChangeEvents(records []RowChange) []event.TableChangeEvent {
	var (
		order  []string
		byName = map[string][]RowChange{}
	)
	for _, r := range records {
		name := r.QualifiedName()
		if _, seen := byName[name]; !seen {
			order = append(order, name)
		}
		byName[name] = append(byName[name], r)
	}

	changes := make([]event.TableChangeEvent, 0, len(order))
	for _, name := range order {
		rows := byName[name]
		columnSet := map[string]struct{}{}
		for _, r := range rows {
			for col := range r.row() {
				columnSet[col] = struct{}{}
			}
		}
		columns := make([]string, 0, len(columnSet))
		for col := range columnSet {
			columns = append(columns, col)
		}
		slices.Sort(columns)

		pks, _ := models.PrimaryKeys(name)
		tc := event.TableChangeEvent{
			SchemaName:      strings.ToLower(strings.TrimSpace(rows[0].SchemaName)),
			TableName:       strings.ToLower(strings.TrimSpace(rows[0].TableName)),
			Columns:         columns,
			PrimaryKeys:     slices.Clone(pks),
			RowChangeEvents: make([]event.RowChangeEvent, 0, len(rows)),
		}
		for _, r := range rows {
			image := r.row()
			values := make([]any, len(columns))
			for i, col := range columns {
				values[i] = normalize(image[col])
			}
			tc.RowChangeEvents = append(tc.RowChangeEvents, event.RowChangeEvent{Values: values, Deletion: r.IsDeletion()})
		}
		changes = append(changes, tc)
	}
	return changes
}

// normalize converts driver values into their JSON-native form so the sinker sees the same value
// on every node
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, json.Number:
		return x
	case []byte:
		return encoding.NormalizeValue(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case uuid.UUID:
		return x.String()
	case int:
		return json.Number(fmt.Sprint(x))
	case int32:
		return json.Number(fmt.Sprint(x))
	case int64:
		return json.Number(fmt.Sprint(x))
	case float64:
		return json.Number(strconv.FormatFloat(x, 'f', -1, 64))
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}
