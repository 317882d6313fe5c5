package testkit

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"deltar/domain/reservoir"
)

// Curve names used by generated datasets
const (
	MarineCurveName      = "marine-synthetic"
	TerrestrialCurveName = "terrestrial-synthetic"
)

// Dataset is a synthetic reservoir study: a terrestrial curve, a marine curve offset from
// it by a global reservoir age, and a table of samples whose local offset is known.
type Dataset struct {
	Terrestrial []reservoir.CurvePoint
	Marine      []reservoir.CurvePoint
	Table       *reservoir.Table

	// TrueOffsets holds the offset each column was generated with, in column order
	TrueOffsets []float64
}

// Config controls the generator. The same config always yields the same dataset.
type Config struct {
	Seed   uint64
	Method reservoir.Method

	// Curve grid in calendar years BP
	FirstYear float64
	LastYear  float64
	Step      float64

	// Marine curve = terrestrial curve + ReservoirAge
	ReservoirAge  float64
	TerrestrialSD float64
	MarineSD      float64

	// Local offset of every sample: Normal(Offset, OffsetSD)
	Offset   float64
	OffsetSD float64

	Columns    int
	TrueAgeSD  float64
	MeasuredSD float64
}

func DefaultConfig() Config {
	return Config{
		Seed:          42,
		Method:        reservoir.MethodPair,
		FirstYear:     0,
		LastYear:      5000,
		Step:          5,
		ReservoirAge:  400,
		TerrestrialSD: 15,
		MarineSD:      25,
		Offset:        150,
		OffsetSD:      20,
		Columns:       9,
		TrueAgeSD:     20,
		MeasuredSD:    30,
	}
}

// Generate builds a dataset from cfg.
func Generate(cfg Config) (*Dataset, error) {
	method, err := reservoir.ParseMethod(string(cfg.Method))
	if err != nil {
		return nil, err
	}
	if cfg.Columns <= 0 {
		return nil, fmt.Errorf("columns must be > 0")
	}
	if cfg.Step <= 0 || cfg.LastYear <= cfg.FirstYear {
		return nil, fmt.Errorf("curve grid must have a positive step and span")
	}
	if method == reservoir.MethodShell && (cfg.FirstYear > 0 || cfg.LastYear < 150) {
		return nil, fmt.Errorf("shell datasets need a curve covering 0-150 BP")
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))

	ds := &Dataset{}
	for y := cfg.FirstYear; y <= cfg.LastYear; y += cfg.Step {
		age := terrestrialAge(y)
		ds.Terrestrial = append(ds.Terrestrial, reservoir.CurvePoint{CalendarYear: y, Age: age, AgeSD: cfg.TerrestrialSD})
		ds.Marine = append(ds.Marine, reservoir.CurvePoint{CalendarYear: y, Age: age + cfg.ReservoirAge, AgeSD: cfg.MarineSD})
	}

	table := &reservoir.Table{Descriptor: "sample", RowLabels: method.RowLabels()}
	span := cfg.LastYear - cfg.FirstYear
	for i := 0; i < cfg.Columns; i++ {
		offset := cfg.Offset + rng.NormFloat64()*cfg.OffsetSD
		ds.TrueOffsets = append(ds.TrueOffsets, offset)

		var col reservoir.Column
		switch method {
		case reservoir.MethodShell:
			collectedAD := 1800 + math.Round(rng.Float64()*150)
			year := reservoir.BaseYearAD - collectedAD
			measured := marineAge(year, cfg) + offset + rng.NormFloat64()*cfg.MeasuredSD
			col = reservoir.Column{
				ID:     fmt.Sprintf("S-%02d", i+1),
				Values: []float64{collectedAD, round(measured, 0), cfg.MeasuredSD},
			}
		case reservoir.MethodPair:
			year := cfg.FirstYear + span*(0.2+0.6*rng.Float64())
			measured := marineAge(year, cfg) + offset + rng.NormFloat64()*cfg.MeasuredSD
			col = reservoir.Column{
				ID:     fmt.Sprintf("P-%02d", i+1),
				Values: []float64{round(year+rng.NormFloat64()*cfg.TrueAgeSD, 0), cfg.TrueAgeSD, round(measured, 0), cfg.MeasuredSD},
			}
		}
		table.Columns = append(table.Columns, col)
	}
	ds.Table = table

	return ds, nil
}

// terrestrialAge is a smooth monotone-ish curve with wiggles, loosely shaped like real calibration data
func terrestrialAge(year float64) float64 {
	return year + 40*math.Sin(year/180) + 15*math.Sin(year/37)
}

func marineAge(year float64, cfg Config) float64 {
	return terrestrialAge(year) + cfg.ReservoirAge
}

// TableRows lays a table out as cells: descriptor column first, one column per sample
func TableRows(t *reservoir.Table) [][]string {
	header := append([]string{t.Descriptor}, t.ColumnIDs()...)
	rows := [][]string{header}

	depth := len(t.RowLabels)
	for _, c := range t.Columns {
		depth = max(depth, len(c.Values))
	}
	for r := 0; r < depth; r++ {
		label := ""
		if r < len(t.RowLabels) {
			label = t.RowLabels[r]
		}
		row := []string{label}
		for _, c := range t.Columns {
			if r < len(c.Values) {
				row = append(row, fToStr(c.Values[r]))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// CurveRows lays curve points out as cells with a calendar_year, age, age_sd header
func CurveRows(points []reservoir.CurvePoint) [][]string {
	rows := [][]string{{"calendar_year", "age", "age_sd"}}
	for _, p := range points {
		rows = append(rows, []string{fToStr(p.CalendarYear), fToStr(p.Age), fToStr(p.AgeSD)})
	}
	return rows
}

// WriteFile writes rows as csv or xlsx, chosen by the file extension
func WriteFile(path string, rows [][]string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return WriteCSV(path, rows)
	case ".xlsx":
		return WriteXLSX(path, rows)
	}
	return fmt.Errorf("unsupported format: %s", path)
}

func WriteCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func WriteXLSX(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range rows {
		for c, v := range row {
			if v == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return err
			}
			// numbers are stored as numbers so spreadsheets treat them as such
			var value interface{} = v
			if x, err := strconv.ParseFloat(v, 64); err == nil {
				value = x
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}

func round(x float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(x*p) / p
}

func fToStr(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
