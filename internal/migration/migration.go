package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"deltar/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles the curve store schema. Every step is idempotent, so Run may be
// called on every start.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createSchemaVersionTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create schema_version table")
	}

	if err := r.createCalibrationCurvesTable(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create calibration_curves table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	if err := r.recordVersion(ctx, db); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}

	return nil
}

// AppliedVersion returns the last version recorded by Run, or "" on a fresh database
func AppliedVersion(ctx context.Context, db *sqlx.DB) (string, error) {
	var versions []string
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_version ORDER BY version DESC`); err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[0], nil
}

func (r *MigrationRunner) createSchemaVersionTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version VARCHAR(20) PRIMARY KEY
		)
	`)
	return err
}

// createCalibrationCurvesTable keeps one row per tabulated curve point; seq preserves the
// order the curve was supplied in
func (r *MigrationRunner) createCalibrationCurvesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS calibration_curves (
			name TEXT NOT NULL,
			seq INTEGER NOT NULL,
			calendar_year DOUBLE PRECISION NOT NULL,
			age DOUBLE PRECISION NOT NULL,
			age_sd DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (name, seq)
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_calibration_curves_age ON calibration_curves(name, age)`)
	return err
}

func (r *MigrationRunner) recordVersion(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, db.Rebind(`
		INSERT INTO schema_version (version) VALUES (?)
		ON CONFLICT (version) DO NOTHING
	`), r.version)
	return err
}
