package api

import (
	"deltar/app"
	"deltar/domain/reservoir"
)

// MeasurementBody is a dated value with its one-sigma uncertainty
type MeasurementBody struct {
	Value *float64 `json:"value" validate:"required"`
	SD    *float64 `json:"sd" validate:"required,gte=0"`
}

func (m MeasurementBody) measurement() reservoir.DatedMeasurement {
	return reservoir.DatedMeasurement{Value: *m.Value, SD: *m.SD}
}

// OptionsBody overrides the server's run parameters. Iterations arrive as a JSON number and
// must be a positive whole value.
type OptionsBody struct {
	Iterations     *float64 `json:"iterations,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	Seed           *uint64  `json:"seed,omitempty"`
	ReservoirCurve string   `json:"reservoir_curve,omitempty" validate:"max=128"`
}

func (o OptionsBody) resolve(defaults app.Options) (app.Options, error) {
	opts := defaults
	if o.Iterations != nil {
		n, err := reservoir.ValidateIterations(*o.Iterations)
		if err != nil {
			return opts, err
		}
		opts.Iterations = n
	}
	if o.Confidence != nil {
		if err := reservoir.ValidateConfidence(*o.Confidence); err != nil {
			return opts, err
		}
		opts.Confidence = *o.Confidence
	}
	if o.Seed != nil {
		opts.Seed = *o.Seed
	}
	if o.ReservoirCurve != "" {
		opts.ReservoirCurve = o.ReservoirCurve
	}
	return opts, nil
}

// ShellRequest is the body of POST /v1/estimate/shell
type ShellRequest struct {
	ID             string          `json:"id" validate:"max=128"`
	CollectionYear *float64        `json:"collection_year" validate:"required"`
	Measured       MeasurementBody `json:"measured"`
	Options        OptionsBody     `json:"options"`
	IncludeSample  bool            `json:"include_sample"`
}

// PairRequest is the body of POST /v1/estimate/pair
type PairRequest struct {
	ID            string          `json:"id" validate:"max=128"`
	TrueAge       MeasurementBody `json:"true_age"`
	Measured      MeasurementBody `json:"measured"`
	Mode          string          `json:"mode" validate:"required"`
	Curve         string          `json:"curve" validate:"max=128"`
	Options       OptionsBody     `json:"options"`
	IncludeSample bool            `json:"include_sample"`
}

// ColumnBody is one data column of an inline table
type ColumnBody struct {
	ID     string    `json:"id" validate:"required,max=128"`
	Values []float64 `json:"values" validate:"required"`
}

// TableBody is an inline input table
type TableBody struct {
	Descriptor string       `json:"descriptor"`
	RowLabels  []string     `json:"row_labels"`
	Columns    []ColumnBody `json:"columns" validate:"required,min=1,dive"`
}

func (t *TableBody) table() *reservoir.Table {
	table := &reservoir.Table{
		Descriptor: t.Descriptor,
		RowLabels:  t.RowLabels,
		Columns:    make([]reservoir.Column, len(t.Columns)),
	}
	for i, c := range t.Columns {
		table.Columns[i] = reservoir.Column{ID: c.ID, Values: c.Values}
	}
	return table
}

// BatchRequest is the body of POST /v1/batch. Exactly one of Table and Inline is set.
type BatchRequest struct {
	Method       string      `json:"method" validate:"required"`
	Mode         string      `json:"mode"`
	Curve        string      `json:"curve" validate:"max=128"`
	Table        string      `json:"table" validate:"required_without=Inline,excluded_with=Inline,max=128"`
	Inline       *TableBody  `json:"inline_table" validate:"required_without=Table"`
	Options      OptionsBody `json:"options"`
	IncludeDraws bool        `json:"include_draws"`
}

// CurvesResponse is the body of GET /v1/curves
type CurvesResponse struct {
	Curves           []string `json:"curves"`
	Tables           []string `json:"tables"`
	DefaultReservoir string   `json:"default_reservoir"`
}

// ErrorBody is the payload of every failed request
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the error code and a readable message
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
