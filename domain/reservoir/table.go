package reservoir

import (
	"time"

	"github.com/google/uuid"
)

// Column is one sample (or sample pair) of an input table.
type Column struct {
	ID     string    `json:"id"`
	Values []float64 `json:"values"`
}

// Table is an input table: a descriptor column naming the rows, then one column per sample.
type Table struct {
	Descriptor string   `json:"descriptor"`
	RowLabels  []string `json:"row_labels"`
	Columns    []Column `json:"columns"`
}

// ColumnIDs returns the data column ids in table order.
func (t *Table) ColumnIDs() []string {
	ids := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		ids[i] = c.ID
	}
	return ids
}

// StatisticsRow is one row of a batch statistics table.
type StatisticsRow struct {
	ID string `json:"id"`
	OffsetStatistics
}

// DrawColumn holds the raw offset draws of one column.
type DrawColumn struct {
	ID     string       `json:"id"`
	Sample OffsetSample `json:"sample"`
}

// BatchResult is the output of a batch run. Statistics and Draws share the same ordered
// keys: the input table's data column ids.
type BatchResult struct {
	RunID       string          `json:"run_id"`
	Method      Method          `json:"method"`
	Mode        CalibrationMode `json:"mode,omitempty"`
	Iterations  int             `json:"iterations"`
	Confidence  float64         `json:"confidence"`
	Seed        uint64          `json:"seed"`
	CompletedAt time.Time       `json:"completed_at"`
	Statistics  []StatisticsRow `json:"statistics"`
	Draws       []DrawColumn    `json:"draws,omitempty"`
}

// Keys returns the column ids of the statistics table in order.
func (r *BatchResult) Keys() []string {
	keys := make([]string, len(r.Statistics))
	for i, row := range r.Statistics {
		keys[i] = row.ID
	}
	return keys
}

// DrawKeys returns the column ids of the draws table in order.
func (r *BatchResult) DrawKeys() []string {
	keys := make([]string, len(r.Draws))
	for i, d := range r.Draws {
		keys[i] = d.ID
	}
	return keys
}

// Lookup returns the statistics and draws for a column id.
func (r *BatchResult) Lookup(id string) (OffsetStatistics, OffsetSample, bool) {
	for i, row := range r.Statistics {
		if row.ID == id {
			var sample OffsetSample
			if i < len(r.Draws) {
				sample = r.Draws[i].Sample
			}
			return row.OffsetStatistics, sample, true
		}
	}
	return OffsetStatistics{}, nil, false
}

// NewRunID returns a time-ordered identifier for a batch run.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
