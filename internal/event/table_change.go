package event

import (
	"fmt"

	"github.com/Guizzs26/siglus-sync/internal/models"
)

// RowChangeEvent holds one changed row, values aligned with the columns of its TableChangeEvent
type RowChangeEvent struct {
	Values   []any `json:"values"`
	Deletion bool  `json:"deletion,omitempty"`
}

// TableChangeEvent holds the row deltas of a single table from one CDC batch
type TableChangeEvent struct {
	SchemaName      string           `json:"schemaName"`
	TableName       string           `json:"tableName"`
	Columns         []string         `json:"columns"`
	PrimaryKeys     []string         `json:"primaryKeys"`
	RowChangeEvents []RowChangeEvent `json:"rowChangeEvents"`
}

// QualifiedName returns schema.table in lower case
func (t TableChangeEvent) QualifiedName() string {
	return models.QualifiedName(t.SchemaName, t.TableName)
}

// ColumnIndex returns the position of column or -1
func (t TableChangeEvent) ColumnIndex(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Validate checks that every row is aligned with the column list
func (t TableChangeEvent) Validate() error {
	if t.TableName == "" || len(t.Columns) == 0 {
		return fmt.Errorf("table change event without table or columns")
	}
	for i, row := range t.RowChangeEvents {
		if len(row.Values) != len(t.Columns) {
			return fmt.Errorf("%s row %d: %d values for %d columns", t.QualifiedName(), i, len(row.Values), len(t.Columns))
		}
	}
	for _, pk := range t.PrimaryKeys {
		if t.ColumnIndex(pk) < 0 {
			return fmt.Errorf("%s: primary key column %s not present", t.QualifiedName(), pk)
		}
	}
	return nil
}

// MasterDataTableChangeEvent aggregates the table changes of one CDC batch; it is sunk atomically
type MasterDataTableChangeEvent struct {
	TableChangeEvents []TableChangeEvent `json:"tableChangeEvents"`
}

func (MasterDataTableChangeEvent) EventType() Type { return TypeMasterDataTableChange }

// Tables returns the qualified names of the changed tables
func (m MasterDataTableChangeEvent) Tables() []string {
	names := make([]string, 0, len(m.TableChangeEvents))
	for _, t := range m.TableChangeEvents {
		names = append(names, t.QualifiedName())
	}
	return names
}
