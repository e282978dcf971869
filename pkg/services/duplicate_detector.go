package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/models"
)

// DuplicateDetector decides whether an incoming row is "logically the same"
// as an existing record, using the table's business key rather than its
// primary key. An empty predicate never matches anything.
type DuplicateDetector struct {
	dialect datasource.Dialect
	schemas map[string]models.TableSchema
	logger  *zap.Logger
}

// NewDuplicateDetector creates a detector over the run's schema model.
func NewDuplicateDetector(dialect datasource.Dialect, schemas map[string]models.TableSchema, logger *zap.Logger) *DuplicateDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DuplicateDetector{dialect: dialect, schemas: schemas, logger: logger}
}

// KeyColumns returns the business-key candidates that exist on the table.
func (d *DuplicateDetector) KeyColumns(table *models.TableSchema) []string {
	var cols []string
	for _, candidate := range businessKeysFor(table.Name) {
		if table.HasColumn(candidate) {
			cols = append(cols, candidate)
		}
	}
	return cols
}

// FindExisting looks up an existing record whose business-key columns all
// equal this row's values. Candidate columns with no value, or with
// implausible data, stay out of the predicate. Returns the existing primary
// key value when a match is found.
func (d *DuplicateDetector) FindExisting(
	ctx context.Context,
	exec datasource.Executor,
	table *models.TableSchema,
	mapping models.ColumnMapping,
	row models.Row,
	resolved map[string]any,
) (any, bool, error) {
	pk := table.PrimaryKey()
	if pk == "" {
		return nil, false, nil
	}

	var conditions []string
	var args []any

	for _, keyCol := range d.KeyColumns(table) {
		if v, ok := resolved[keyCol]; ok {
			conditions = append(conditions, fmt.Sprintf("%s = %s",
				d.dialect.QuoteIdentifier(keyCol), d.dialect.Placeholder(len(args)+1)))
			args = append(args, v)
			continue
		}

		sheetCol, ok := mapping.SheetColumn(keyCol)
		if !ok {
			continue
		}
		value := row.String(sheetCol)
		if value == "" || !plausibleValue(keyCol, value) {
			continue
		}
		conditions = append(conditions, fmt.Sprintf("%s = %s",
			d.dialect.QuoteIdentifier(keyCol), d.dialect.Placeholder(len(args)+1)))
		args = append(args, value)
	}

	if len(conditions) == 0 {
		return nil, false, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		d.dialect.QuoteIdentifier(pk),
		d.dialect.QuoteIdentifier(table.Name),
		strings.Join(conditions, " AND "),
	)

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("duplicate check on %s: %w", table.Name, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0][pk], true, nil
}

// plausibleValue filters out key values that are clearly misaligned sheet
// data. Collector-style name columns must contain letters and not read as a
// number; date columns must look like a date or an Excel serial after 1900.
func plausibleValue(column, value string) bool {
	lower := strings.ToLower(column)

	switch {
	case strings.Contains(lower, "collector"):
		hasLetter := false
		for _, r := range value {
			if unicode.IsLetter(r) {
				hasLetter = true
				break
			}
		}
		if !hasLetter {
			return false
		}
		stripped := strings.NewReplacer(".", "", " ", "", ",", "").Replace(value)
		if _, err := strconv.ParseFloat(stripped, 64); err == nil {
			return false
		}
		return true

	case strings.Contains(lower, "date"):
		if strings.Contains(value, "-") || strings.Contains(value, "/") {
			for _, r := range value {
				if unicode.IsDigit(r) {
					return true
				}
			}
			return false
		}
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return n > 1900
		}
		return false
	}

	return strings.TrimSpace(value) != ""
}
