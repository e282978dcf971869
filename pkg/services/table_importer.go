package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/models"
)

// TableImporter walks one sheet's rows through the import cycle against its
// assigned table: skip empties, resolve foreign keys, check duplicates, then
// insert or update inside the sheet's transaction. A failing row is recorded
// and processing continues.
type TableImporter struct {
	dialect   datasource.Dialect
	schemas   map[string]models.TableSchema
	resolver  *ForeignKeyResolver
	detector  *DuplicateDetector
	registry  *SessionRegistry
	createdBy string
	logger    *zap.Logger
}

// NewTableImporter creates an importer sharing the run's resolver, detector,
// and session registry. createdBy is stamped into created_by when the target
// table has that column; empty means leave it null.
func NewTableImporter(
	dialect datasource.Dialect,
	schemas map[string]models.TableSchema,
	resolver *ForeignKeyResolver,
	detector *DuplicateDetector,
	registry *SessionRegistry,
	createdBy string,
	logger *zap.Logger,
) *TableImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableImporter{
		dialect:   dialect,
		schemas:   schemas,
		resolver:  resolver,
		detector:  detector,
		registry:  registry,
		createdBy: createdBy,
		logger:    logger,
	}
}

// ImportSheet imports every row of sheet into table within tx. Each row runs
// under its own savepoint, so a failed statement rolls back only that row and
// never poisons the sheet's transaction. PostgreSQL would otherwise refuse
// every statement after the first error until the whole transaction ends.
func (i *TableImporter) ImportSheet(
	ctx context.Context,
	tx datasource.Tx,
	table *models.TableSchema,
	sheet *models.Sheet,
	mapping models.ColumnMapping,
	mode models.ImportMode,
) *models.ImportOutcome {
	outcome := &models.ImportOutcome{Table: table.Name}

	for idx, row := range sheet.Rows {
		// Header occupies row 1, so data row 0 is sheet row 2.
		rowNumber := idx + 2

		if !hasMeaningfulData(mapping, row) {
			outcome.Tally(models.RowSkippedEmpty)
			continue
		}

		status, detail := i.importRow(ctx, tx, table, sheet, mapping, row, mode, outcome)
		outcome.Tally(status)
		if detail != "" {
			outcome.Errors = append(outcome.Errors, models.RowError{
				RowNumber: rowNumber,
				Status:    status,
				Message:   detail,
			})
		}
	}

	return outcome
}

// importRow runs one row under a savepoint on tx. On failure the savepoint
// and the row's session registry entries are both rolled back, so the
// registry never references rows the database undid. The returned detail is
// non-empty for statuses worth reporting per row.
func (i *TableImporter) importRow(
	ctx context.Context,
	tx datasource.Tx,
	table *models.TableSchema,
	sheet *models.Sheet,
	mapping models.ColumnMapping,
	row models.Row,
	mode models.ImportMode,
	outcome *models.ImportOutcome,
) (models.RowStatus, string) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return models.RowFailed, fmt.Sprintf("begin row savepoint: %v", err)
	}
	mark := i.registry.Mark()

	status, detail, id, err := i.applyRow(ctx, sp, table, sheet, mapping, row, mode, outcome)
	if err != nil {
		_ = sp.Rollback(ctx)
		i.registry.Rewind(mark)
		return models.RowFailed, err.Error()
	}
	if err := sp.Commit(ctx); err != nil {
		_ = sp.Rollback(ctx)
		i.registry.Rewind(mark)
		return models.RowFailed, fmt.Sprintf("release row savepoint: %v", err)
	}

	if id != nil {
		outcome.CreatedIDs = append(outcome.CreatedIDs, id)
	}
	return status, detail
}

// applyRow is the import cycle for one row: resolve foreign keys, check the
// business key, then insert or update through exec. The returned id is the
// inserted row's primary key value, when there is one.
func (i *TableImporter) applyRow(
	ctx context.Context,
	exec datasource.Executor,
	table *models.TableSchema,
	sheet *models.Sheet,
	mapping models.ColumnMapping,
	row models.Row,
	mode models.ImportMode,
	outcome *models.ImportOutcome,
) (models.RowStatus, string, any, error) {
	resolver := i.resolver.WithExecutor(exec)
	resolution := resolver.Resolve(ctx, table.Name, sheet, row)
	outcome.ResolutionGaps += resolution.Gaps

	i.inferHostType(table, sheet, mapping, row, resolution.Values)

	if missing := missingRequired(table, mapping, row, resolution.Values); missing != "" {
		return models.RowSkippedRequired, fmt.Sprintf("required column %s has no value", missing), nil, nil
	}

	existingID, isDuplicate, err := i.detector.FindExisting(ctx, exec, table, mapping, row, resolution.Values)
	if err != nil {
		return models.RowFailed, "", nil, err
	}

	switch {
	case isDuplicate && mode == models.ModeSkip:
		return models.RowSkippedDuplicate, "", nil, nil

	case isDuplicate:
		if err := i.updateRow(ctx, exec, table, mapping, row, resolution.Values, existingID); err != nil {
			return models.RowFailed, "", nil, err
		}
		return models.RowUpdated, "", nil, nil

	default:
		id, err := i.insertRow(ctx, exec, table, mapping, row, resolution.Values)
		if err != nil {
			return models.RowFailed, "", nil, err
		}
		return models.RowInserted, "", id, nil
	}
}

// hasMeaningfulData reports whether any mapped sheet column holds a value.
func hasMeaningfulData(mapping models.ColumnMapping, row models.Row) bool {
	for _, match := range mapping {
		if row.HasValue(match.SheetColumn) {
			return true
		}
	}
	return false
}

// missingRequired returns the first required column with no incoming value,
// or "" when all are satisfied. A non-nullable foreign key that resolution
// could not fill counts as missing too.
func missingRequired(table *models.TableSchema, mapping models.ColumnMapping, row models.Row, resolved map[string]any) string {
	for _, req := range table.RequiredColumns() {
		if _, ok := resolved[req]; ok {
			continue
		}
		if sheetCol, ok := mapping.SheetColumn(req); ok && row.HasValue(sheetCol) {
			continue
		}
		return req
	}
	for _, fk := range table.ForeignKeys {
		col, ok := table.Column(fk.FromColumn)
		if !ok || col.Nullable || col.HasDefault {
			continue
		}
		if _, ok := resolved[col.Name]; !ok {
			return col.Name
		}
	}
	return ""
}

// inferHostType fills host_type from the sheet name when a hosts-like table
// has the column but the row carries no value for it.
func (i *TableImporter) inferHostType(table *models.TableSchema, sheet *models.Sheet, mapping models.ColumnMapping, row models.Row, resolved map[string]any) {
	if !strings.Contains(strings.ToLower(table.Name), "host") || !table.HasColumn("host_type") {
		return
	}
	if sheetCol, ok := mapping.SheetColumn("host_type"); ok && row.HasValue(sheetCol) {
		return
	}

	sheetLower := strings.ToLower(sheet.Name)
	switch {
	case strings.Contains(sheetLower, "bat"):
		resolved["host_type"] = "Bat"
	case strings.Contains(sheetLower, "rodent"):
		resolved["host_type"] = "Rodent"
	case strings.Contains(sheetLower, "market"):
		resolved["host_type"] = "Market"
	}
}

// insertRow builds and runs a dynamic INSERT from the row's mapped values,
// the resolved foreign keys, and whatever system columns the table carries.
// New rows land in the session registry under their identifying values.
func (i *TableImporter) insertRow(
	ctx context.Context,
	exec datasource.Executor,
	table *models.TableSchema,
	mapping models.ColumnMapping,
	row models.Row,
	resolved map[string]any,
) (any, error) {
	var columns []string
	var args []any
	used := make(map[string]bool)

	matchFields := make(map[string]string)
	for dbCol, match := range mapping {
		value := row.String(match.SheetColumn)
		if value == "" {
			continue
		}
		columns = append(columns, dbCol)
		args = append(args, value)
		used[strings.ToLower(dbCol)] = true
		matchFields[strings.ToLower(dbCol)] = value
	}

	for dbCol, value := range resolved {
		if used[strings.ToLower(dbCol)] {
			continue
		}
		columns = append(columns, dbCol)
		args = append(args, value)
		used[strings.ToLower(dbCol)] = true
	}

	now := time.Now().UTC()
	for _, sys := range []string{"created_at", "updated_at"} {
		if table.HasColumn(sys) && !used[sys] {
			columns = append(columns, sys)
			args = append(args, now)
		}
	}
	if i.createdBy != "" && table.HasColumn("created_by") && !used["created_by"] {
		columns = append(columns, "created_by")
		args = append(args, i.createdBy)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns to insert into %s", table.Name)
	}

	pk := table.PrimaryKey()
	if pk == "" {
		quoted := make([]string, len(columns))
		placeholders := make([]string, len(columns))
		for n, c := range columns {
			quoted[n] = i.dialect.QuoteIdentifier(c)
			placeholders[n] = i.dialect.Placeholder(n + 1)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			i.dialect.QuoteIdentifier(table.Name),
			strings.Join(quoted, ", "),
			strings.Join(placeholders, ", "))
		if _, err := exec.Exec(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("insert into %s: %w", table.Name, err)
		}
		return nil, nil
	}

	id, err := exec.InsertReturningID(ctx, i.dialect.InsertReturning(table.Name, columns, pk), args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table.Name, err)
	}

	i.registry.Record(table.Name, id, matchFields)
	return id, nil
}

// updateRow refreshes an existing record in update mode. Resolved foreign
// keys are always written; mapped columns only when the incoming value is
// non-empty, so blanks never destroy existing data.
func (i *TableImporter) updateRow(
	ctx context.Context,
	exec datasource.Executor,
	table *models.TableSchema,
	mapping models.ColumnMapping,
	row models.Row,
	resolved map[string]any,
	existingID any,
) error {
	pk := table.PrimaryKey()
	if pk == "" {
		return fmt.Errorf("cannot update %s without a primary key", table.Name)
	}

	var assignments []string
	var args []any
	used := make(map[string]bool)

	set := func(col string, value any) {
		assignments = append(assignments, fmt.Sprintf("%s = %s",
			i.dialect.QuoteIdentifier(col), i.dialect.Placeholder(len(args)+1)))
		args = append(args, value)
		used[strings.ToLower(col)] = true
	}

	for dbCol, value := range resolved {
		if strings.EqualFold(dbCol, pk) {
			continue
		}
		set(dbCol, value)
	}

	for dbCol, match := range mapping {
		if used[strings.ToLower(dbCol)] || strings.EqualFold(dbCol, pk) {
			continue
		}
		value := row.String(match.SheetColumn)
		if value == "" {
			continue
		}
		set(dbCol, value)
	}

	if len(assignments) == 0 {
		return nil
	}

	if table.HasColumn("updated_at") && !used["updated_at"] {
		set("updated_at", time.Now().UTC())
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		i.dialect.QuoteIdentifier(table.Name),
		strings.Join(assignments, ", "),
		i.dialect.QuoteIdentifier(pk),
		i.dialect.Placeholder(len(args)+1))
	args = append(args, existingID)

	if _, err := exec.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", table.Name, err)
	}
	return nil
}
