// Package database opens the shared Postgres pool and creates the tables.
package database

import (
	"context"
	"fmt"
	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/eventstore"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// MaxConnectWait bounds how long Open keeps retrying an unreachable database.
var MaxConnectWait = 30 * time.Second

// Open connects to Postgres, retrying the first ping with exponential backoff so services
// can start before the database is ready.
func Open(ctx context.Context, url string, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := db.PingContext(ctx); err != nil {
			logger.WarnContext(ctx, "database not ready", "err", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(MaxConnectWait),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// Migrate creates the event store and read model tables if they are missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for name, schema := range map[string]string{
		"events":         eventstore.Schema,
		"books":          catalog.Schema,
		"borrow_records": circulation.Schema,
	} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
	}
	return nil
}
