package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Guizzs26/siglus-sync/internal/mapper"
	"github.com/Guizzs26/siglus-sync/pkg/encoding"
)

// LocalReader reads single values from the local tables the sinker writes
type LocalReader struct {
	db      *sql.DB
	builder *mapper.SQLBuilder
}

func NewLocalReader(db *sql.DB, builder *mapper.SQLBuilder) *LocalReader {
	return &LocalReader{db: db, builder: builder}
}

// ReadColumn returns column of the row of table (schema.table) where keyColumn = key
func (r *LocalReader) ReadColumn(ctx context.Context, table, column, keyColumn string, key any) (any, bool, error) {
	schema, name, ok := strings.Cut(table, ".")
	if !ok {
		schema, name = "", table
	}
	query, err := r.builder.BuildSelectColumn(schema, name, column, keyColumn)
	if err != nil {
		return nil, false, err
	}

	var value any
	err = r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s.%s: %w", table, column, err)
	}
	return encoding.NormalizeValue(value), true, nil
}
