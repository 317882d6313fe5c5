package curvestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/migration"
	"deltar/ports"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store keeps calibration curves in a SQL database and serves them as a ports.CurveProvider.
// Row order within a curve is preserved through the seq column.
type Store struct {
	db     *sqlx.DB
	logger *internal.Logger
}

// Open connects to the database. driver is "postgres" or "sqlite".
func Open(driver, dsn string, logger *internal.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported curve store driver: %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s curve store: %w", driver, err)
	}
	if driver == DriverSQLite && strings.Contains(dsn, ":memory:") {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, reservoir.NewCollaboratorError("curve store", err)
	}
	return New(db, logger), nil
}

// New wraps an existing connection
func New(db *sqlx.DB, logger *internal.Logger) *Store {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Store{db: db, logger: logger.WithComponent("CurveStore")}
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate brings the curve schema up to date
func (s *Store) Migrate(ctx context.Context) error {
	runner := migration.NewRunner()
	if err := runner.Run(ctx, s.db); err != nil {
		return reservoir.NewCollaboratorError("curve store", err)
	}
	s.logger.Debug("schema at version %s", runner.Version())
	return nil
}

// PutCurve stores curve under its name, replacing any previous rows in one transaction
func (s *Store) PutCurve(ctx context.Context, curve *reservoir.CalibrationTable) error {
	if curve == nil || curve.Len() == 0 {
		return reservoir.ErrEmptyCurve
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return reservoir.NewCollaboratorError("curve store", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM calibration_curves WHERE name = ?`), curve.Name()); err != nil {
		return reservoir.NewCollaboratorError("curve store", err)
	}

	if s.db.DriverName() == DriverPostgres {
		err = s.copyPoints(ctx, tx, curve)
	} else {
		err = s.insertPoints(ctx, tx, curve)
	}
	if err != nil {
		return reservoir.NewCollaboratorError("curve store", err)
	}

	if err := tx.Commit(); err != nil {
		return reservoir.NewCollaboratorError("curve store", err)
	}
	s.logger.Info("stored curve %s (%d rows)", curve.Name(), curve.Len())
	return nil
}

func (s *Store) insertPoints(ctx context.Context, tx *sqlx.Tx, curve *reservoir.CalibrationTable) error {
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO calibration_curves (name, seq, calendar_year, age, age_sd)
		VALUES (?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range curve.Points() {
		if _, err := stmt.ExecContext(ctx, curve.Name(), i, p.CalendarYear, p.Age, p.AgeSD); err != nil {
			return err
		}
	}
	return nil
}

// copyPoints bulk loads through the postgres COPY protocol
func (s *Store) copyPoints(ctx context.Context, tx *sqlx.Tx, curve *reservoir.CalibrationTable) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("calibration_curves", "name", "seq", "calendar_year", "age", "age_sd"))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range curve.Points() {
		if _, err := stmt.ExecContext(ctx, curve.Name(), i, p.CalendarYear, p.Age, p.AgeSD); err != nil {
			return err
		}
	}
	_, err = stmt.ExecContext(ctx)
	return err
}

// Curve loads the named curve
func (s *Store) Curve(ctx context.Context, name string) (*reservoir.CalibrationTable, error) {
	var points []reservoir.CurvePoint
	err := s.db.SelectContext(ctx, &points, s.db.Rebind(`
		SELECT calendar_year, age, age_sd
		FROM calibration_curves
		WHERE name = ?
		ORDER BY seq
	`), name)
	if err != nil && err != sql.ErrNoRows {
		return nil, reservoir.NewCollaboratorError("curve store", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %q", reservoir.ErrCurveNotFound, name)
	}
	return reservoir.NewCalibrationTable(name, points)
}

// Names lists the stored curves
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.SelectContext(ctx, &names, `SELECT DISTINCT name FROM calibration_curves ORDER BY name`)
	if err != nil {
		return nil, reservoir.NewCollaboratorError("curve store", err)
	}
	return names, nil
}

// Import copies the named curves from another provider into the store.
// With no names, every curve the provider lists is imported.
func (s *Store) Import(ctx context.Context, from ports.CurveProvider, names ...string) ([]string, error) {
	if len(names) == 0 {
		var err error
		if names, err = from.Names(ctx); err != nil {
			return nil, err
		}
	}

	imported := make([]string, 0, len(names))
	for _, name := range names {
		curve, err := from.Curve(ctx, name)
		if err != nil {
			return imported, err
		}
		if err := s.PutCurve(ctx, curve); err != nil {
			return imported, err
		}
		imported = append(imported, name)
	}
	return imported, nil
}
