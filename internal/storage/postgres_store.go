package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import the driver
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloaded_files (
	url         TEXT PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the DownloadedSet in a table keyed by URL. It is the
// alternative to JSONStore when several machines share one download record.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with retries, since the database often starts
// alongside the syncer in compose setups, and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := waitForDB(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func waitForDB(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	var lastErr error
	for i := 0; i < 10; i++ {
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				logger.Info("Connected to state database")
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logger.Warn("Waiting for state database", zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("could not connect to state database after retries: %w", lastErr)
}

func (s *PostgresStore) Load(ctx context.Context) (*DownloadedSet, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url FROM downloaded_files ORDER BY url`)
	if err != nil {
		return NewDownloadedSet(), fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	set := NewDownloadedSet()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return NewDownloadedSet(), fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		set.Add(u)
	}
	if err := rows.Err(); err != nil {
		return NewDownloadedSet(), fmt.Errorf("load state: %w", err)
	}
	return set, nil
}

// Save upserts every URL in one transaction. Rows are never deleted, matching
// the set's grow-only lifecycle.
func (s *PostgresStore) Save(ctx context.Context, set *DownloadedSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO downloaded_files (url)
		VALUES ($1)
		ON CONFLICT (url) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range set.Sorted() {
		if _, err := stmt.ExecContext(ctx, u); err != nil {
			return fmt.Errorf("record %s: %w", u, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
