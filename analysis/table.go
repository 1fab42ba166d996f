package analysis

import (
	"bytes"
	"encoding/csv"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/thedevsaddam/gojsonq/v2"
	"golang.org/x/xerrors"
)

// Table is tabular dataset content. Missing cells are empty strings.
type Table struct {
	Columns []string
	Rows    [][]string
}

var errNotTabular = xerrors.New("content is not tabular")

// ParseTable reads CSV with a header row, or JSON holding an array of
// objects. For JSON, path selects the array inside a root object.
func ParseTable(data []byte, path string) (*Table, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errNotTabular
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		return parseJSON(string(trimmed), path)
	}
	return parseCSV(trimmed)
}

func parseCSV(data []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, xerrors.Errorf("reading csv header: %w", err)
	}
	if len(header) < 2 {
		return nil, errNotTabular
	}
	t := &Table{Columns: header}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Errorf("reading csv row %d: %w", len(t.Rows)+1, err)
		}
		row := make([]string, len(header))
		copy(row, rec)
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func parseJSON(data, path string) (*Table, error) {
	jq := gojsonq.New().FromString(data)
	if path != "" {
		jq = jq.From(path)
	}
	if err := jq.Error(); err != nil {
		return nil, xerrors.Errorf("parsing json: %w", err)
	}
	records, ok := jq.Get().([]interface{})
	if !ok {
		return nil, errNotTabular
	}

	keys := map[string]struct{}{}
	for _, r := range records {
		obj, ok := r.(map[string]interface{})
		if !ok {
			return nil, errNotTabular
		}
		for k := range obj {
			keys[k] = struct{}{}
		}
	}
	t := &Table{}
	for k := range keys {
		t.Columns = append(t.Columns, k)
	}
	sort.Strings(t.Columns)
	for _, r := range records {
		obj := r.(map[string]interface{})
		row := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			row[i] = cell(obj[c])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func cell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Numeric returns the columns whose non-empty cells all parse as finite
// numbers, with NaN for missing cells.
func (t *Table) Numeric() map[string][]float64 {
	out := map[string][]float64{}
	for i, c := range t.Columns {
		values := make([]float64, len(t.Rows))
		numeric, seen := true, false
		for j, row := range t.Rows {
			s := strings.TrimSpace(row[i])
			if s == "" {
				values[j] = nan
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				numeric = false
				break
			}
			values[j] = f
			seen = true
		}
		if numeric && seen {
			out[c] = values
		}
	}
	return out
}

// Missing counts the empty cells of the table.
func (t *Table) Missing() int {
	n := 0
	for _, row := range t.Rows {
		for _, v := range row {
			if strings.TrimSpace(v) == "" {
				n++
			}
		}
	}
	return n
}
