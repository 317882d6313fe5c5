package tables

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"

	"deltar/domain/reservoir"
)

// readJSONTable reads a table in the layout the HTTP API accepts inline:
//
//	{"descriptor": "...", "row_labels": [...], "columns": [{"id": "A", "values": [...]}]}
func (r *DataReader) readJSONTable() (*reservoir.Table, error) {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return nil, reservoir.NewCollaboratorError("data reader", err)
	}
	return parseJSONTable(r.filePath, data)
}

func parseJSONTable(source string, data []byte) (*reservoir.Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, reservoir.NewValidationError(source, "not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	columns := doc.Get("columns")
	if !columns.IsArray() || len(columns.Array()) == 0 {
		return nil, fmt.Errorf("%w: %s has no columns array", reservoir.ErrEmptyTable, source)
	}

	table := &reservoir.Table{Descriptor: doc.Get("descriptor").String()}
	for _, label := range doc.Get("row_labels").Array() {
		table.RowLabels = append(table.RowLabels, label.String())
	}

	seen := map[string]bool{}
	for i, col := range columns.Array() {
		id := col.Get("id")
		if id.Type != gjson.String || id.String() == "" {
			return nil, fmt.Errorf("%w: columns.%d has no id", reservoir.ErrMalformedColumn, i)
		}
		if seen[id.String()] {
			return nil, fmt.Errorf("%w: duplicate column id %q", reservoir.ErrMalformedColumn, id.String())
		}
		seen[id.String()] = true

		values := col.Get("values")
		if !values.IsArray() {
			return nil, fmt.Errorf("%w: column %q has no values array", reservoir.ErrMalformedColumn, id.String())
		}
		column := reservoir.Column{ID: id.String()}
		for k, v := range values.Array() {
			if v.Type != gjson.Number {
				return nil, fmt.Errorf("%w: column %q value %d is %s, not a number", reservoir.ErrMalformedColumn, id.String(), k, v.Raw)
			}
			column.Values = append(column.Values, v.Float())
		}
		table.Columns = append(table.Columns, column)
	}
	return table, nil
}
