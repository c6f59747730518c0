package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/config"
)

// Dialect selects the upsert syntax of the local database
type Dialect int

const (
	DialectPostgres Dialect = iota
	// DialectFirebird targets legacy facility databases: no schemas, UPDATE OR INSERT ... MATCHING
	DialectFirebird
)

var ErrInvalidIdentifier = errors.New("invalid sql identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DialectFor maps a database/sql driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case config.SinkDriverPostgres:
		return DialectPostgres, nil
	case config.SinkDriverFirebird:
		return DialectFirebird, nil
	default:
		return 0, fmt.Errorf("unsupported sink driver %q", driver)
	}
}

// SQLBuilder generates deterministic parameterized statements for raw row changes
type SQLBuilder struct {
	dialect Dialect
}

func NewSQLBuilder(dialect Dialect) *SQLBuilder {
	return &SQLBuilder{dialect: dialect}
}

func (b *SQLBuilder) Dialect() Dialect {
	return b.dialect
}

// BuildUpsert inserts the row or, when its primary key exists, overwrites every non key column
func (b *SQLBuilder) BuildUpsert(schema, table string, columns, pks []string, values []any) (string, []any, error) {
	target, err := b.tableName(schema, table)
	if err != nil {
		return "", nil, err
	}
	if len(columns) == 0 || len(columns) != len(values) {
		return "", nil, fmt.Errorf("%s: %d values for %d columns", target, len(values), len(columns))
	}
	if len(pks) == 0 {
		return "", nil, fmt.Errorf("%s: upsert needs a primary key", target)
	}
	if err := validateIdentifiers(append(slices.Clone(columns), pks...)...); err != nil {
		return "", nil, fmt.Errorf("%s: %w", target, err)
	}

	cols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		cols[i] = b.column(c)
		placeholders[i] = b.placeholder(i + 1)
		args[i] = b.formatValue(values[i])
	}
	keyCols := make([]string, len(pks))
	for i, pk := range pks {
		keyCols[i] = b.column(pk)
	}

	if b.dialect == DialectFirebird {
		query := fmt.Sprintf(
			"UPDATE OR INSERT INTO %s (%s) VALUES (%s) MATCHING (%s)",
			target,
			strings.Join(cols, ", "),
			strings.Join(placeholders, ", "),
			strings.Join(keyCols, ", "),
		)
		return query, args, nil
	}

	var sets []string
	for _, c := range columns {
		if slices.ContainsFunc(pks, func(pk string) bool { return strings.EqualFold(pk, c) }) {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", b.column(c), b.column(c)))
	}
	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		target,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyCols, ", "),
		conflict,
	)
	return query, args, nil
}

// BuildDelete removes the row identified by the primary key values found among columns
func (b *SQLBuilder) BuildDelete(schema, table string, columns, pks []string, values []any) (string, []any, error) {
	target, err := b.tableName(schema, table)
	if err != nil {
		return "", nil, err
	}
	if len(pks) == 0 {
		return "", nil, fmt.Errorf("%s: delete needs a primary key", target)
	}
	if err := validateIdentifiers(pks...); err != nil {
		return "", nil, fmt.Errorf("%s: %w", target, err)
	}

	where := make([]string, len(pks))
	args := make([]any, len(pks))
	for i, pk := range pks {
		idx := slices.Index(columns, pk)
		if idx < 0 || idx >= len(values) {
			return "", nil, fmt.Errorf("%s: primary key value %s missing", target, pk)
		}
		if values[idx] == nil {
			return "", nil, fmt.Errorf("%s: primary key value %s is null", target, pk)
		}
		where[i] = fmt.Sprintf("%s = %s", b.column(pk), b.placeholder(i+1))
		args[i] = b.formatValue(values[idx])
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", target, strings.Join(where, " AND "))
	return query, args, nil
}

// BuildSelectColumn reads one column of the row matched by keyColumn
func (b *SQLBuilder) BuildSelectColumn(schema, table, column, keyColumn string) (string, error) {
	target, err := b.tableName(schema, table)
	if err != nil {
		return "", err
	}
	if err := validateIdentifiers(column, keyColumn); err != nil {
		return "", fmt.Errorf("%s: %w", target, err)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", b.column(column), target, b.column(keyColumn), b.placeholder(1)), nil
}

func (b *SQLBuilder) tableName(schema, table string) (string, error) {
	if err := validateIdentifiers(table); err != nil {
		return "", err
	}
	if b.dialect == DialectFirebird {
		// Firebird has no schemas; legacy databases keep the bare table names
		return strings.ToUpper(table), nil
	}
	if schema == "" {
		return strings.ToLower(table), nil
	}
	if err := validateIdentifiers(schema); err != nil {
		return "", err
	}
	return strings.ToLower(schema) + "." + strings.ToLower(table), nil
}

func (b *SQLBuilder) column(c string) string {
	if b.dialect == DialectFirebird {
		return strings.ToUpper(c)
	}
	return strings.ToLower(c)
}

func (b *SQLBuilder) placeholder(n int) string {
	if b.dialect == DialectFirebird {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// formatValue turns wire values into driver arguments
func (b *SQLBuilder) formatValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if b.dialect == DialectFirebird {
			if f, err := val.Float64(); err == nil {
				return f
			}
		}
		// Postgres parses the text form into numeric without losing digits
		return val.String()
	case bool:
		if b.dialect != DialectFirebird {
			return val
		}
		if val {
			return 1
		}
		return 0
	case string:
		if b.dialect != DialectFirebird {
			return val
		}
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			return t.UTC().Format("2006-01-02 15:04:05")
		}
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return val
	}
}

func validateIdentifiers(names ...string) error {
	for _, n := range names {
		if !identifierPattern.MatchString(n) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, n)
		}
	}
	return nil
}
