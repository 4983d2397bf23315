package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

type Migration struct {
	Version     int
	Description string
	SQL         string
}

type Migrator struct {
	db         *sql.DB
	logger     *logrus.Logger
	migrations []Migration
	dryRun     bool
}

type MigrationResult struct {
	Applied        []int         `json:"applied"`
	Skipped        int           `json:"skipped"`
	ProcessingTime time.Duration `json:"processing_time"`
	DryRun         bool          `json:"dry_run"`
	Timestamp      time.Time     `json:"timestamp"`
}

type StatusResult struct {
	Current int   `json:"current"`
	Pending []int `json:"pending"`
}

func NewMigrator(db *sql.DB, logger *logrus.Logger) *Migrator {
	return &Migrator{db: db, logger: logger, migrations: Schema}
}

// SetDryRun makes Migrate report what it would apply without executing it.
func (m *Migrator) SetDryRun(dryRun bool) {
	m.dryRun = dryRun
	m.logger.WithField("dry_run", dryRun).Info("Migration configuration updated")
}

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies every pending migration in version order, each inside its
// own transaction together with its schema_migrations row.
func (m *Migrator) Migrate(ctx context.Context) (*MigrationResult, error) {
	startTime := time.Now()
	result := &MigrationResult{DryRun: m.dryRun, Timestamp: startTime}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"current_version": current,
		"known":           len(m.migrations),
	}).Info("Starting schema migration")

	for _, mig := range m.migrations {
		if mig.Version <= current {
			result.Skipped++
			continue
		}
		if m.dryRun {
			m.logger.WithField("version", mig.Version).Info("DRY RUN: Would apply migration")
			result.Applied = append(result.Applied, mig.Version)
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return result, err
		}
		result.Applied = append(result.Applied, mig.Version)
		m.logger.WithFields(logrus.Fields{
			"version":     mig.Version,
			"description": mig.Description,
		}).Info("Applied migration")
	}

	result.ProcessingTime = time.Since(startTime)
	m.logger.WithFields(logrus.Fields{
		"applied":  len(result.Applied),
		"skipped":  result.Skipped,
		"duration": result.ProcessingTime,
	}).Info("Migration completed")
	return result, nil
}

func (m *Migrator) Status(ctx context.Context) (*StatusResult, error) {
	current, err := m.currentVersion(ctx)
	if err != nil {
		return nil, err
	}
	status := &StatusResult{Current: current}
	for _, mig := range m.migrations {
		if mig.Version > current {
			status.Pending = append(status.Pending, mig.Version)
		}
	}
	return status, nil
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	var version int
	if err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mig.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
		mig.Version, mig.Description); err != nil {
		return fmt.Errorf("record migration %d: %w", mig.Version, err)
	}
	return tx.Commit()
}
