package tables

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"deltar/domain/reservoir"
	"deltar/internal"
)

// Curve file header names, matched case-insensitively
const (
	headerCalendarYear = "calendar_year"
	headerAge          = "age"
	headerAgeSD        = "age_sd"
)

// DataReader handles reading Excel, CSV and JSON table files
type DataReader struct {
	filePath string
	fileType string // "xlsx", "csv" or "json"
	logger   *internal.Logger
}

// NewDataReader creates a reader for filePath. The format is taken from the extension;
// anything other than .csv or .json is opened as a workbook.
func NewDataReader(filePath string) *DataReader {
	fileType := "xlsx"
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		fileType = "csv"
	case ".json":
		fileType = "json"
	}
	return &DataReader{
		filePath: filePath,
		fileType: fileType,
		logger:   internal.DefaultLogger.WithComponent("DataReader"),
	}
}

// ReadRows returns the raw cells of the file. For workbooks only the first sheet is read.
func (r *DataReader) ReadRows() ([][]string, error) {
	if _, err := os.Stat(r.filePath); err != nil {
		return nil, reservoir.NewCollaboratorError("data reader", err)
	}

	switch r.fileType {
	case "csv":
		return r.readCSVRows()
	case "xlsx":
		return r.readExcelRows()
	}
	return nil, fmt.Errorf("unsupported file type: %s", r.fileType)
}

func (r *DataReader) readExcelRows() ([][]string, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, reservoir.NewCollaboratorError("data reader", fmt.Errorf("failed to open Excel file: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no sheets", reservoir.ErrEmptyTable, r.filePath)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, reservoir.NewCollaboratorError("data reader", fmt.Errorf("failed to read %s: %w", sheets[0], err))
	}
	r.logger.Debug("%s sheet %q read in %.2fms (%d rows)", r.filePath, sheets[0], float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSVRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, reservoir.NewCollaboratorError("data reader", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	start := time.Now()
	rows, err := reader.ReadAll()
	if err != nil {
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			return nil, reservoir.NewValidationError(r.filePath, parseErr.Error())
		}
		return nil, reservoir.NewCollaboratorError("data reader", err)
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", r.filePath, float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

// ReadTable parses a dataset table. The first column describes the rows; the header of
// every further column is the sample id. A column may end early (blank trailing cells)
// but may not have gaps; row counts are checked later against the batch method.
func (r *DataReader) ReadTable() (*reservoir.Table, error) {
	if r.fileType == "json" {
		return r.readJSONTable()
	}
	rows, err := r.ReadRows()
	if err != nil {
		return nil, err
	}
	return parseTable(rows)
}

func parseTable(rows [][]string) (*reservoir.Table, error) {
	rows = dropBlankRows(rows)
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: need a header row and at least one data row", reservoir.ErrEmptyTable)
	}

	header := trimTrailingBlanks(rows[0])
	if len(header) < 2 {
		return nil, reservoir.ErrEmptyTable
	}

	table := &reservoir.Table{Descriptor: strings.TrimSpace(header[0])}
	seen := make(map[string]bool, len(header)-1)
	for j, cell := range header[1:] {
		id := strings.TrimSpace(cell)
		if id == "" {
			return nil, fmt.Errorf("%w: blank column header at %s", reservoir.ErrMalformedColumn, cellName(j+1, 0))
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate column header %q", reservoir.ErrMalformedColumn, id)
		}
		seen[id] = true
		table.Columns = append(table.Columns, reservoir.Column{ID: id})
	}

	ended := make([]bool, len(table.Columns))
	for i, row := range rows[1:] {
		if len(row) > 0 {
			table.RowLabels = append(table.RowLabels, strings.TrimSpace(row[0]))
		} else {
			table.RowLabels = append(table.RowLabels, "")
		}
		if len(trimTrailingBlanks(row)) > len(header) {
			return nil, fmt.Errorf("%w: row %d has cells beyond the last header", reservoir.ErrMalformedColumn, i+2)
		}

		for j := range table.Columns {
			raw := ""
			if j+1 < len(row) {
				raw = strings.TrimSpace(row[j+1])
			}
			if raw == "" {
				ended[j] = true
				continue
			}
			if ended[j] {
				return nil, fmt.Errorf("%w: %q has a gap before %s", reservoir.ErrMalformedColumn, table.Columns[j].ID, cellName(j+1, i+1))
			}
			v, err := parseNumber(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %q at %s is not a number: %q", reservoir.ErrMalformedColumn, table.Columns[j].ID, cellName(j+1, i+1), raw)
			}
			table.Columns[j].Values = append(table.Columns[j].Values, v)
		}
	}
	return table, nil
}

// ReadCurve parses a calibration curve with calendar_year, age and age_sd columns in any order.
func (r *DataReader) ReadCurve(name string) (*reservoir.CalibrationTable, error) {
	rows, err := r.ReadRows()
	if err != nil {
		return nil, err
	}
	curve, err := parseCurve(name, rows)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("curve %s loaded from %s (%d rows)", name, r.filePath, curve.Len())
	return curve, nil
}

func parseCurve(name string, rows [][]string) (*reservoir.CalibrationTable, error) {
	rows = dropBlankRows(rows)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", reservoir.ErrEmptyCurve, name)
	}

	index := map[string]int{}
	for j, cell := range rows[0] {
		index[strings.ToLower(strings.TrimSpace(cell))] = j
	}
	cols := make([]int, 3)
	for k, h := range []string{headerCalendarYear, headerAge, headerAgeSD} {
		j, ok := index[h]
		if !ok {
			return nil, reservoir.NewValidationError(fmt.Sprintf("curve %q", name), fmt.Sprintf("missing %s column", h))
		}
		cols[k] = j
	}

	points := make([]reservoir.CurvePoint, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var vals [3]float64
		for k, j := range cols {
			raw := ""
			if j < len(row) {
				raw = strings.TrimSpace(row[j])
			}
			v, err := parseNumber(raw)
			if err != nil {
				return nil, reservoir.NewValidationError(fmt.Sprintf("curve %q cell %s", name, cellName(j, i+1)), fmt.Sprintf("not a number: %q", raw))
			}
			vals[k] = v
		}
		points = append(points, reservoir.CurvePoint{CalendarYear: vals[0], Age: vals[1], AgeSD: vals[2]})
	}
	return reservoir.NewCalibrationTable(name, points)
}

func parseNumber(raw string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
}

// cellName converts 0-based column and row indices to a spreadsheet reference such as "C4"
func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return fmt.Sprintf("R%dC%d", row+1, col+1)
	}
	return name
}

func trimTrailingBlanks(row []string) []string {
	n := len(row)
	for n > 0 && strings.TrimSpace(row[n-1]) == "" {
		n--
	}
	return row[:n]
}

func dropBlankRows(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		if len(trimTrailingBlanks(row)) > 0 {
			out = append(out, row)
		}
	}
	return out
}
