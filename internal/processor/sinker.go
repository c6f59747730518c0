// Package processor applies replicated master data straight to local tables, bypassing any
// entity mapping so nodes can receive columns they do not model
package processor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/event"
	"github.com/Guizzs26/siglus-sync/internal/mapper"
	"github.com/Guizzs26/siglus-sync/internal/models"
	"github.com/Guizzs26/siglus-sync/pkg/metrics"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxSinkAttempts = 3
	sinkTimeout     = 30 * time.Second
)

var ErrTableNotAllowed = errors.New("table is not in the master data allow-list")

// JdbcSinker writes TableChangeEvents with raw parameterized SQL, all of one batch in a single
// transaction
type JdbcSinker struct {
	db         *sql.DB
	builder    *mapper.SQLBuilder
	logger     *slog.Logger
	retryDelay func(attempt int) time.Duration
}

func NewJdbcSinker(db *sql.DB, builder *mapper.SQLBuilder, logger *slog.Logger) *JdbcSinker {
	return &JdbcSinker{
		db:      db,
		builder: builder,
		logger:  logger,
		// Attempt 1: 200ms, Attempt 2: 400ms, Attempt 3: 600ms
		retryDelay: func(attempt int) time.Duration { return time.Duration(attempt) * 200 * time.Millisecond },
	}
}

// Sink applies changes atomically, retrying the whole batch when it loses a lock conflict
func (s *JdbcSinker) Sink(ctx context.Context, changes []event.TableChangeEvent) error {
	if err := checkChanges(changes); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxSinkAttempts; attempt++ {
		txCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := s.executeTransaction(txCtx, changes)
		cancel()
		if err == nil {
			return nil
		}
		if !isLockConflict(err) {
			return err
		}

		lastErr = err
		for _, t := range changes {
			metrics.SinkRetries.WithLabelValues(t.QualifiedName()).Inc()
		}
		if attempt == maxSinkAttempts {
			break
		}
		wait := s.retryDelay(attempt)
		s.logger.Warn("Lock contention while sinking master data, retrying",
			"attempt", attempt,
			"backoff", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("sink failed after %d attempts: %w", maxSinkAttempts, lastErr)
}

func (s *JdbcSinker) executeTransaction(ctx context.Context, changes []event.TableChangeEvent) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	exec := func(ctx context.Context, query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}
	counts, err := applyChanges(ctx, s.builder, exec, changes)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	counts.observe()
	return nil
}

// Execer runs one statement inside the transaction carried by ctx
type Execer interface {
	ExecStatement(ctx context.Context, query string, args ...any) error
}

// TxSinker writes into the node database within the caller's transaction, so a failed replay
// rolls the rows back with everything else. Lock conflicts abort that transaction and surface as
// a redelivery instead of an internal retry
type TxSinker struct {
	exec    Execer
	builder *mapper.SQLBuilder
	logger  *slog.Logger
}

func NewTxSinker(exec Execer, builder *mapper.SQLBuilder, logger *slog.Logger) *TxSinker {
	return &TxSinker{exec: exec, builder: builder, logger: logger}
}

func (s *TxSinker) Sink(ctx context.Context, changes []event.TableChangeEvent) error {
	if err := checkChanges(changes); err != nil {
		return err
	}
	counts, err := applyChanges(ctx, s.builder, s.exec.ExecStatement, changes)
	if err != nil {
		return err
	}
	// counted before commit; a rollback redelivers and counts again
	counts.observe()
	return nil
}

func checkChanges(changes []event.TableChangeEvent) error {
	for _, t := range changes {
		if _, ok := models.PrimaryKeys(t.QualifiedName()); !ok {
			return fmt.Errorf("%w: %s", ErrTableNotAllowed, t.QualifiedName())
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type rowCount struct{ upserts, deletes int }

type rowCounts map[string]*rowCount

func (c rowCounts) observe() {
	for name, n := range c {
		metrics.SinkRows.WithLabelValues(name, "upsert").Add(float64(n.upserts))
		metrics.SinkRows.WithLabelValues(name, "delete").Add(float64(n.deletes))
	}
}

func applyChanges(ctx context.Context, builder *mapper.SQLBuilder, exec func(ctx context.Context, query string, args ...any) error, changes []event.TableChangeEvent) (rowCounts, error) {
	counts := make(rowCounts, len(changes))
	for _, t := range changes {
		name := t.QualifiedName()
		pks := t.PrimaryKeys
		if len(pks) == 0 {
			pks, _ = models.PrimaryKeys(name)
		}
		c := counts[name]
		if c == nil {
			c = &rowCount{}
			counts[name] = c
		}

		for i, row := range t.RowChangeEvents {
			var (
				query string
				args  []any
				err   error
			)
			if row.Deletion {
				query, args, err = builder.BuildDelete(t.SchemaName, t.TableName, t.Columns, pks, row.Values)
				c.deletes++
			} else {
				query, args, err = builder.BuildUpsert(t.SchemaName, t.TableName, t.Columns, pks, row.Values)
				c.upserts++
			}
			if err != nil {
				return nil, fmt.Errorf("build sql for %s row %d: %w", name, i, err)
			}
			if err := exec(ctx, query, args...); err != nil {
				return nil, fmt.Errorf("apply %s row %d: %w", name, i, err)
			}
		}
	}
	return counts, nil
}

// isLockConflict detects deadlocks and lock timeouts on Postgres and Firebird
func isLockConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001", "55P03":
			return true
		}
		return false
	}
	// Firebird reports conflicts only through the message:
	// - deadlock
	// - lock conflict
	// - update conflicts with concurrent update
	// - 335544336 (ISC Error Code for deadlock)
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock conflict") ||
		strings.Contains(msg, "concurrent update") ||
		strings.Contains(msg, "335544336")
}
