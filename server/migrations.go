package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/supakey"
	"github.com/lib/pq"
)

// Migrator deploys the plan into one schema of a Postgres database the
// user runs themselves, without the broker.
type Migrator struct {
	db     *sql.DB
	schema string
}

// OpenMigrator connects to dbURL.
func OpenMigrator(ctx context.Context, dbURL, schema string) (*Migrator, error) {
	if schema == "" {
		return nil, fmt.Errorf("schema must not be empty")
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &Migrator{db: db, schema: schema}, nil
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}

// Apply runs each migration not yet recorded, in plan order, one
// transaction per migration. It returns the names it ran.
func (m *Migrator) Apply(ctx context.Context, plan *supakey.Plan) ([]string, error) {
	schema := pq.QuoteIdentifier(m.schema)
	if _, err := m.db.ExecContext(ctx, fmt.Sprintf(migrationSchema, schema, schema)); err != nil {
		return nil, fmt.Errorf("failed to prepare schema %s: %w", m.schema, err)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, mig := range plan.Migrations {
		if done[mig.Name] {
			continue
		}
		if err := m.run(ctx, schema, mig); err != nil {
			return ran, fmt.Errorf("migration %s failed: %w", mig.Name, err)
		}
		logger.Info("Applied migration", logger.F("migration", mig.Name), logger.F("schema", m.schema))
		ran = append(ran, mig.Name)
	}
	return ran, nil
}

// Applied lists recorded migrations.
func (m *Migrator) Applied(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s.hasu_migrations ORDER BY applied_at, name`, pq.QuoteIdentifier(m.schema)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	names, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}

func (m *Migrator) run(ctx context.Context, schema string, mig supakey.Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// scripts use unqualified names
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s.hasu_migrations (name) VALUES ($1)`, schema), mig.Name); err != nil {
		return err
	}
	return tx.Commit()
}

const migrationSchema = `
CREATE SCHEMA IF NOT EXISTS %s;
CREATE TABLE IF NOT EXISTS %s.hasu_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
`
