package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/apperrors"
	"github.com/haoxai/import-engine/pkg/models"
)

// sheetKeywords route sheet names to table kinds. Checked in order; the
// bare "location" keyword comes last so storage sheets win the more
// specific keywords first.
var sheetKeywords = []struct {
	kind     string
	keywords []string
}{
	{"screen", []string{"screening", "screen"}},
	{"storage", []string{"storage", "freezer", "box", "cabinet"}},
	{"taxonom", []string{"taxon"}},
	{"team", []string{"team"}},
	{"host", []string{"host", "market"}},
	{"sample", []string{"sample", "swab", "tissue"}},
	{"location", []string{"location"}},
}

// dependencyRanks order sheet processing so referenced tables are imported
// before the tables that point at them. Lower ranks go first.
var dependencyRanks = []struct {
	kind string
	rank int
}{
	{"location", 1},
	{"taxonom", 1},
	{"team", 1},
	{"project", 1},
	{"host", 2},
	{"environment", 2},
	{"sample", 3},
	{"screen", 4},
	{"storage", 4},
}

// Orchestrator runs a whole import: introspection, sheet assignment,
// dependency ordering, and one transaction per sheet.
type Orchestrator interface {
	// Run imports all sheets and returns the structured run report. The
	// returned error covers run-fatal conditions only; per-sheet and
	// per-row failures live inside the report.
	Run(ctx context.Context, sheetList []models.Sheet, mode models.ImportMode, overrides *models.Overrides) (*models.RunReport, error)

	// Preview maps every sheet without writing anything.
	Preview(ctx context.Context, sheetList []models.Sheet, overrides *models.Overrides) (*models.PreviewReport, error)
}

// Config carries the engine's tunables.
type Config struct {
	// ExcludedTables are never import targets.
	ExcludedTables []string
	// AutoCreateKinds are table-name fragments whose referenced rows the
	// resolver may create on the fly.
	AutoCreateKinds []string
	// CreatedBy is stamped into created_by on insert when present.
	CreatedBy string
}

type orchestrator struct {
	adapter datasource.Adapter
	cfg     Config
	logger  *zap.Logger
}

// NewOrchestrator creates the import engine over an open datasource adapter.
// If logger is nil, a no-op logger is used.
func NewOrchestrator(adapter datasource.Adapter, cfg Config, logger *zap.Logger) Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &orchestrator{adapter: adapter, cfg: cfg, logger: logger}
}

// assignment pairs a sheet with its resolved target table and mapping.
type assignment struct {
	sheet   models.Sheet
	table   string
	mapping models.ColumnMapping
	reason  string // set when the sheet cannot be imported
}

func (o *orchestrator) Run(ctx context.Context, sheetList []models.Sheet, mode models.ImportMode, overrides *models.Overrides) (*models.RunReport, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("invalid import mode %q", mode)
	}

	schemas, err := NewIntrospector(o.adapter, o.cfg.ExcludedTables, o.logger).Introspect(ctx)
	if err != nil {
		return nil, err
	}

	rules := DeriveForeignKeyRules(schemas)
	registry := NewSessionRegistry()
	resolver := NewForeignKeyResolver(o.adapter.Dialect(), schemas, rules, registry, o.cfg.AutoCreateKinds, o.logger)
	detector := NewDuplicateDetector(o.adapter.Dialect(), schemas, o.logger)
	importer := NewTableImporter(o.adapter.Dialect(), schemas, resolver, detector, registry, o.cfg.CreatedBy, o.logger)

	assignments := o.assignSheets(sheetList, schemas, overrides)

	report := &models.RunReport{
		RunID: uuid.New(),
		Mode:  mode,
	}

	for _, a := range assignments {
		sheetLogger := o.logger.With(zap.String("sheet", a.sheet.Name))

		if a.reason != "" {
			sheetLogger.Warn("skipping sheet", zap.String("reason", a.reason))
			report.Sheets = append(report.Sheets, models.SheetReport{
				Sheet:     a.sheet.Name,
				Skipped:   true,
				Reason:    a.reason,
				TotalRows: len(a.sheet.Rows),
			})
			continue
		}

		table := schemas[a.table]
		before, err := o.countRows(ctx, a.table)
		if err != nil {
			sheetLogger.Warn("row count failed", zap.Error(err))
		}

		outcome, err := o.importSheet(ctx, importer, &table, &a.sheet, a.mapping, mode)
		if err != nil {
			sheetLogger.Error("sheet import failed", zap.Error(err))
			report.Sheets = append(report.Sheets, models.SheetReport{
				Sheet:     a.sheet.Name,
				Table:     a.table,
				Skipped:   true,
				Reason:    err.Error(),
				TotalRows: len(a.sheet.Rows),
			})
			continue
		}

		after, err := o.countRows(ctx, a.table)
		if err != nil {
			sheetLogger.Warn("row count failed", zap.Error(err))
		}

		sheetLogger.Info("sheet imported",
			zap.String("table", a.table),
			zap.Int("created", outcome.Created),
			zap.Int("updated", outcome.Updated),
			zap.Int("failed", outcome.Failed))

		report.Sheets = append(report.Sheets, models.SheetReport{
			Sheet:      a.sheet.Name,
			Table:      a.table,
			TotalRows:  len(a.sheet.Rows),
			RowsBefore: before,
			RowsAfter:  after,
			Outcome:    outcome,
		})
		report.Totals.Add(outcome)
	}

	return report, nil
}

// importSheet runs one sheet inside its own transaction. Row-level failures
// stay in the outcome; only transaction plumbing errors roll the sheet back.
func (o *orchestrator) importSheet(
	ctx context.Context,
	importer *TableImporter,
	table *models.TableSchema,
	sheet *models.Sheet,
	mapping models.ColumnMapping,
	mode models.ImportMode,
) (*models.ImportOutcome, error) {
	tx, err := o.adapter.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sheet transaction: %w", err)
	}

	outcome := importer.ImportSheet(ctx, tx, table, sheet, mapping, mode)

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("commit sheet transaction: %w", err)
	}
	return outcome, nil
}

// assignSheets resolves every sheet's target table and mapping, then orders
// the importable sheets by table dependency rank so referenced rows exist
// before the rows that point at them. Unassignable sheets keep their
// original position at the end.
func (o *orchestrator) assignSheets(sheetList []models.Sheet, schemas map[string]models.TableSchema, overrides *models.Overrides) []assignment {
	assignments := make([]assignment, 0, len(sheetList))

	for _, sheet := range sheetList {
		a := assignment{sheet: sheet}

		if len(sheet.Rows) == 0 {
			a.reason = "sheet is empty"
			assignments = append(assignments, a)
			continue
		}

		if forced, ok := overrides.ForcedTable(sheet.Name); ok {
			table, found := findTable(schemas, forced)
			if !found {
				a.reason = fmt.Sprintf("%v: %s", apperrors.ErrNoTargetTable, forced)
				assignments = append(assignments, a)
				continue
			}
			a.table = table.Name
			a.mapping = MapColumns(&table, &sheet, overrides)
			assignments = append(assignments, a)
			continue
		}

		table, mapping, ok := o.assignTable(&sheet, schemas, overrides)
		if !ok {
			a.reason = "no suitable target table"
			assignments = append(assignments, a)
			continue
		}
		a.table = table
		a.mapping = mapping
		assignments = append(assignments, a)
	}

	sort.SliceStable(assignments, func(x, y int) bool {
		return rankOf(assignments[x].table) < rankOf(assignments[y].table)
	})
	return assignments
}

// assignTable picks the target table for a sheet: sheet-name keywords first,
// validated by the mapped-column score, then the highest-scoring table as a
// fallback.
func (o *orchestrator) assignTable(sheet *models.Sheet, schemas map[string]models.TableSchema, overrides *models.Overrides) (string, models.ColumnMapping, bool) {
	mappings := make(map[string]models.ColumnMapping, len(schemas))
	var names []string
	for name := range schemas {
		table := schemas[name]
		if m := MapColumns(&table, sheet, overrides); len(m) > 0 {
			mappings[name] = m
			names = append(names, name)
		}
	}
	if len(mappings) == 0 {
		return "", nil, false
	}
	sort.Strings(names)

	sheetLower := strings.ToLower(sheet.Name)

	for _, entry := range sheetKeywords {
		matched := false
		for _, kw := range entry.keywords {
			if strings.Contains(sheetLower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		for _, name := range names {
			if !strings.Contains(inflection.Singular(strings.ToLower(name)), entry.kind) {
				continue
			}
			table := schemas[name]
			if o.acceptMapping(&table, sheet, mappings[name]) {
				return name, mappings[name], true
			}
		}
	}

	// Fallback: most mapped columns wins, business-key hits counting double.
	bestName := ""
	bestScore := 0
	for _, name := range names {
		table := schemas[name]
		keyHits := mappedKeyCount(&table, mappings[name])
		if len(businessKeysFor(name)) > 0 && keyHits == 0 && len(mappings[name]) < 5 {
			continue
		}
		score := len(mappings[name]) + keyHits*2
		if score > bestScore {
			bestScore = score
			bestName = name
		}
	}
	if bestName == "" {
		return "", nil, false
	}
	return bestName, mappings[bestName], true
}

// acceptMapping validates a keyword-based assignment: at least one
// business-key column mapped with plausible first-row data, or at least
// three mapped columns.
func (o *orchestrator) acceptMapping(table *models.TableSchema, sheet *models.Sheet, mapping models.ColumnMapping) bool {
	if len(mapping) >= 3 {
		return true
	}
	if len(sheet.Rows) == 0 {
		return false
	}

	first := sheet.Rows[0]
	for _, keyCol := range businessKeysFor(table.Name) {
		sheetCol, ok := mapping.SheetColumn(keyCol)
		if !ok {
			continue
		}
		value := first.String(sheetCol)
		if value != "" && plausibleValue(keyCol, value) {
			return true
		}
	}
	return false
}

// mappedKeyCount counts business-key columns present in the mapping.
func mappedKeyCount(table *models.TableSchema, mapping models.ColumnMapping) int {
	count := 0
	for _, keyCol := range businessKeysFor(table.Name) {
		if _, ok := mapping.SheetColumn(keyCol); ok {
			count++
		}
	}
	return count
}

// rankOf returns a table's dependency rank. Unassigned sheets sort last.
func rankOf(table string) int {
	if table == "" {
		return 99
	}
	singular := inflection.Singular(strings.ToLower(table))
	for _, entry := range dependencyRanks {
		if strings.Contains(singular, entry.kind) {
			return entry.rank
		}
	}
	return 9
}

// countRows returns the current row count of a table.
func (o *orchestrator) countRows(ctx context.Context, table string) (int64, error) {
	dialect := o.adapter.Dialect()
	rows, err := o.adapter.Query(ctx, fmt.Sprintf("SELECT COUNT(*) AS total FROM %s", dialect.QuoteIdentifier(table)))
	if err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["total"]), nil
}

// toInt64 coerces the count value across driver result types.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
