package models

import (
	"encoding/json"
	"time"
)

// ChangeLogRecord represents a row in the localmachine.cdc_changelog table, filled by row triggers
type ChangeLogRecord struct {
	ID         int64           `db:"id"`
	SchemaName string          `db:"schema_name"`
	TableName  string          `db:"table_name"`
	Operation  string          `db:"operation"` // 'I', 'U', 'D'
	NewData    json.RawMessage `db:"new_data"`
	OldData    json.RawMessage `db:"old_data"`
	CapturedAt time.Time       `db:"captured_at"`
}
