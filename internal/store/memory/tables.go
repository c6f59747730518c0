package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/models"
)

// Sink applies raw row changes keyed by primary key inside the store transaction. Nothing is
// applied unless every table passes the allow-list
func (s *Store) Sink(_ context.Context, changes []event.TableChangeEvent) error {
	if err := checkTables(changes); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	applyRows(s.st.rows, changes)
	return nil
}

func (s *Store) ReadColumn(_ context.Context, table, column, keyColumn string, key any) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := readColumn(s.st.rows, table, column, keyColumn, key)
	return v, ok, nil
}

// Rows returns a copy of the stored rows of table
func (s *Store) Rows(table string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRows(s.st.rows, table)
}

// SinkDB is a separate database whose writes commit immediately. A Store rollback leaves it
// untouched, the way a sinker on its own connection behaves
type SinkDB struct {
	mu    sync.RWMutex
	rows  map[string]map[string]map[string]any
	sinks int
}

func NewSinkDB() *SinkDB {
	return &SinkDB{rows: map[string]map[string]map[string]any{}}
}

func (d *SinkDB) Sink(_ context.Context, changes []event.TableChangeEvent) error {
	if err := checkTables(changes); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	applyRows(d.rows, changes)
	d.sinks++
	return nil
}

func (d *SinkDB) ReadColumn(_ context.Context, table, column, keyColumn string, key any) (any, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := readColumn(d.rows, table, column, keyColumn, key)
	return v, ok, nil
}

func (d *SinkDB) Rows(table string) []map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyRows(d.rows, table)
}

// Sinks counts committed Sink calls
func (d *SinkDB) Sinks() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sinks
}

func checkTables(changes []event.TableChangeEvent) error {
	for _, t := range changes {
		if _, ok := models.PrimaryKeys(t.QualifiedName()); !ok {
			return fmt.Errorf("table %s is not in the master data allow-list", t.QualifiedName())
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func applyRows(rows map[string]map[string]map[string]any, changes []event.TableChangeEvent) {
	for _, t := range changes {
		name := t.QualifiedName()
		pks := t.PrimaryKeys
		if len(pks) == 0 {
			pks, _ = models.PrimaryKeys(name)
		}
		byKey, ok := rows[name]
		if !ok {
			byKey = map[string]map[string]any{}
			rows[name] = byKey
		}
		for _, rc := range t.RowChangeEvents {
			row := make(map[string]any, len(t.Columns))
			for i, col := range t.Columns {
				row[col] = rc.Values[i]
			}
			key := rowKey(row, pks)
			if rc.Deletion {
				delete(byKey, key)
				continue
			}
			if existing, ok := byKey[key]; ok {
				maps.Copy(existing, row)
				continue
			}
			byKey[key] = row
		}
	}
}

func readColumn(rows map[string]map[string]map[string]any, table, column, keyColumn string, key any) (any, bool) {
	want := fmt.Sprint(key)
	for _, row := range rows[strings.ToLower(table)] {
		if strings.EqualFold(fmt.Sprint(row[keyColumn]), want) {
			v, ok := row[column]
			return v, ok
		}
	}
	return nil, false
}

func copyRows(rows map[string]map[string]map[string]any, table string) []map[string]any {
	out := make([]map[string]any, 0, len(rows[table]))
	for _, row := range rows[table] {
		out = append(out, maps.Clone(row))
	}
	return out
}

func rowKey(row map[string]any, pks []string) string {
	parts := make([]string, len(pks))
	for i, pk := range pks {
		parts[i] = fmt.Sprint(row[pk])
	}
	return strings.Join(parts, "|")
}
