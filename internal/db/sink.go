package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/nakagami/firebirdsql"
)

// OpenSinkDB opens the database the master-data sinker writes to: the node's own Postgres through
// the pgx stdlib driver, or a legacy facility Firebird database
func OpenSinkDB(ctx context.Context, driver, connString string, logger *slog.Logger) (*sql.DB, error) {
	if driver != config.SinkDriverPostgres && driver != config.SinkDriverFirebird {
		return nil, fmt.Errorf("unsupported sink driver %q", driver)
	}

	db, err := sql.Open(driver, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	if driver == config.SinkDriverFirebird {
		// Firebird 2.5 servers at facilities do not cope with many attachments
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping failed: %w", driver, err)
	}

	logger.Info("Connected to sink database", "driver", driver)
	return db, nil
}
