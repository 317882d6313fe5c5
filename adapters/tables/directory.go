package tables

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"deltar/domain/reservoir"
	"deltar/internal"
)

// supported file extensions, in lookup order
var (
	curveExtensions = []string{".csv", ".xlsx"}
	tableExtensions = []string{".csv", ".xlsx", ".json"}
)

// Directory serves calibration curves and dataset tables stored as files.
// A name resolves to <dir>/<name>.csv or, failing that, <dir>/<name>.xlsx.
type Directory struct {
	curvesDir string
	tablesDir string
	logger    *internal.Logger
}

// NewDirectory creates a file provider. Either directory may be empty when unused.
func NewDirectory(curvesDir, tablesDir string, logger *internal.Logger) *Directory {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Directory{
		curvesDir: curvesDir,
		tablesDir: tablesDir,
		logger:    logger.WithComponent("FileProvider"),
	}
}

// Curve loads the named calibration curve
func (d *Directory) Curve(ctx context.Context, name string) (*reservoir.CalibrationTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := resolve(d.curvesDir, name, curveExtensions)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %q in %s", reservoir.ErrCurveNotFound, name, d.curvesDir)
	}

	d.logger.Info("loading curve %s from %s", name, path)
	return NewDataReader(path).ReadCurve(name)
}

// Names lists the curves available in the curve directory
func (d *Directory) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return list(d.curvesDir, curveExtensions)
}

// Table loads the named dataset table
func (d *Directory) Table(ctx context.Context, name string) (*reservoir.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := resolve(d.tablesDir, name, tableExtensions)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: %q in %s", reservoir.ErrTableNotFound, name, d.tablesDir)
	}

	d.logger.Info("loading table %s from %s", name, path)
	return NewDataReader(path).ReadTable()
}

// TableNames lists the tables available in the table directory
func (d *Directory) TableNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return list(d.tablesDir, tableExtensions)
}

func resolve(dir, name string, extensions []string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", reservoir.NewValidationError("name", fmt.Sprintf("%q is not a plain file name", name))
	}
	if dir == "" {
		return "", nil
	}
	for _, ext := range extensions {
		path := filepath.Join(dir, name+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

func list(dir string, extensions []string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, reservoir.NewCollaboratorError("file provider", err)
	}

	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !slices.Contains(extensions, ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
