package models

import (
	"fmt"
	"strings"
)

// Sheet is one tabular unit of an uploaded spreadsheet: an ordered list of
// named columns and rows of scalar values. Parsing the physical file format
// is the caller's concern; the engine only ever sees this shape.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// Row holds one spreadsheet row keyed by header name.
type Row map[string]any

// String returns the cell value for col coerced to a trimmed string.
// Missing cells and nils come back as "".
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// HasValue reports whether col holds a non-empty value.
func (r Row) HasValue(col string) bool {
	return r.String(col) != ""
}
