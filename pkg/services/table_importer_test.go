package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/models"
)

func newTestImporter(exec *mockExecutor, schemas map[string]models.TableSchema, registry *SessionRegistry) *TableImporter {
	rules := DeriveForeignKeyRules(schemas)
	resolver := NewForeignKeyResolver(mockDialect{}, schemas, rules, registry,
		[]string{"location", "taxonom", "environment", "team"}, nil)
	detector := NewDuplicateDetector(mockDialect{}, schemas, nil)
	return NewTableImporter(mockDialect{}, schemas, resolver, detector, registry, "importer", nil)
}

func TestImportSheetInsertsRows(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{}
	registry := NewSessionRegistry()
	importer := newTestImporter(exec, schemas, registry)

	sheet := &models.Sheet{
		Name:    "Bat Hosts",
		Headers: []string{"bag_id", "collectors"},
		Rows: []models.Row{
			{"bag_id": "B-1", "collectors": "K. Phommachanh"},
			{"bag_id": "B-2", "collectors": "S. Douangboupha"},
		},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &hosts, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 2, outcome.Created)
	assert.Zero(t, outcome.Failed)
	assert.Len(t, outcome.CreatedIDs, 2)
	require.Len(t, exec.inserts, 2)

	// System columns and the configured creating user ride along.
	assert.Contains(t, exec.inserts[0].SQL, "created_at")
	assert.Contains(t, exec.inserts[0].SQL, "updated_at")
	assert.Contains(t, exec.inserts[0].SQL, "created_by")
	assert.Contains(t, exec.inserts[0].Args, "importer")

	// New rows are findable through the session registry.
	id, ok := registry.Lookup("hosts", "bag_id", "B-2")
	require.True(t, ok)
	assert.Equal(t, outcome.CreatedIDs[1], id)
}

func TestImportSheetSkipsEmptyRows(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Hosts",
		Headers: []string{"bag_id", "collectors"},
		Rows: []models.Row{
			{"bag_id": "", "collectors": "   "},
			{"bag_id": "B-1"},
		},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &hosts, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 1, outcome.SkippedEmpty)
	assert.Equal(t, 1, outcome.Created)
}

func TestImportSheetSkipsMissingRequired(t *testing.T) {
	schemas := map[string]models.TableSchema{
		"samples": {
			Name: "samples",
			Columns: []models.ColumnDef{
				{Name: "sample_pk", IsPrimaryKey: true, HasDefault: true},
				{Name: "sample_id", Nullable: false},
				{Name: "sample_type", Nullable: true},
			},
		},
	}
	table := schemas["samples"]
	exec := &mockExecutor{}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Samples",
		Headers: []string{"sample_id", "sample_type"},
		Rows: []models.Row{
			{"sample_id": "", "sample_type": "Saliva"},
			{"sample_id": "S-1", "sample_type": "Saliva"},
		},
	}
	mapping := MapColumns(&table, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &table, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 1, outcome.SkippedRequired)
	assert.Equal(t, 1, outcome.Created)
	require.Len(t, outcome.Errors, 1)
	// Header is sheet row 1, so the first data row reports as row 2.
	assert.Equal(t, 2, outcome.Errors[0].RowNumber)
	assert.Contains(t, outcome.Errors[0].Message, "sample_id")
}

func TestImportSheetSkipsUnresolvedMandatoryForeignKey(t *testing.T) {
	schemas := map[string]models.TableSchema{
		"hosts": schemaFixture()["hosts"],
		"samples": {
			Name: "samples",
			Columns: []models.ColumnDef{
				{Name: "sample_pk", IsPrimaryKey: true, HasDefault: true},
				{Name: "sample_id", Nullable: true},
				{Name: "host_id", Nullable: false},
			},
			ForeignKeys: []models.ForeignKeyDef{
				{FromColumn: "host_id", TargetTable: "hosts", TargetColumn: "host_id"},
			},
		},
	}
	table := schemas["samples"]
	exec := &mockExecutor{}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Samples",
		Headers: []string{"sample_id", "bag_id"},
		Rows:    []models.Row{{"sample_id": "S-1", "bag_id": "B-404"}},
	}
	mapping := MapColumns(&table, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &table, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 1, outcome.SkippedRequired)
	assert.Zero(t, outcome.Created)
	require.Len(t, outcome.Errors, 1)
	assert.Contains(t, outcome.Errors[0].Message, "host_id")
	assert.Empty(t, exec.inserts)
}

func TestImportSheetSkipMode(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{
		onQuery: func(sql string, args []any) []map[string]any {
			if strings.Contains(sql, "FROM hosts") {
				return []map[string]any{{"host_id": int64(11)}}
			}
			return nil
		},
	}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Hosts",
		Headers: []string{"bag_id"},
		Rows:    []models.Row{{"bag_id": "B-1"}},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &hosts, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 1, outcome.SkippedDuplicate)
	assert.Zero(t, outcome.Created)
	assert.Empty(t, exec.inserts)
	assert.Empty(t, exec.execs)
}

func TestImportSheetUpdateModePreservesBlanks(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{
		onQuery: func(sql string, args []any) []map[string]any {
			if strings.Contains(sql, "FROM hosts") {
				return []map[string]any{{"host_id": int64(11)}}
			}
			return nil
		},
	}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Hosts",
		Headers: []string{"bag_id", "collectors", "host_type"},
		Rows:    []models.Row{{"bag_id": "B-1", "collectors": "", "host_type": "Bat"}},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	outcome := importer.ImportSheet(context.Background(), mockTx{exec}, &hosts, sheet, mapping, models.ModeUpdate)

	assert.Equal(t, 1, outcome.Updated)
	require.Len(t, exec.execs, 1)

	update := exec.execs[0]
	assert.Contains(t, update.SQL, "UPDATE hosts SET")
	assert.Contains(t, update.SQL, "host_type")
	assert.Contains(t, update.SQL, "updated_at")
	assert.NotContains(t, update.SQL, "collectors", "blank values never overwrite existing data")
	assert.Equal(t, int64(11), update.Args[len(update.Args)-1])
}

func TestImportSheetInfersHostType(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Rodent Trapping",
		Headers: []string{"bag_id"},
		Rows:    []models.Row{{"bag_id": "B-1"}},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	importer.ImportSheet(context.Background(), mockTx{exec}, &hosts, sheet, mapping, models.ModeSkip)

	require.Len(t, exec.inserts, 1)
	assert.Contains(t, exec.inserts[0].SQL, "host_type")
	assert.Contains(t, exec.inserts[0].Args, "Rodent")
}

func TestImportSheetRowFailureContinues(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{}
	importer := newTestImporter(exec, schemas, NewSessionRegistry())

	sheet := &models.Sheet{
		Name:    "Hosts",
		Headers: []string{"bag_id"},
		Rows: []models.Row{
			{"bag_id": "B-1"},
			{"bag_id": "B-2"},
		},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	// First insert fails, second succeeds.
	calls := 0
	flaky := &flakyExecutor{mockExecutor: exec, failFirst: &calls}

	outcome := importer.ImportSheet(context.Background(), mockTx{flaky}, &hosts, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 1, outcome.Created)
	assert.Equal(t, 1, outcome.Failed)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 2, outcome.Errors[0].RowNumber)
}

// flakyExecutor fails the first InsertReturningID call and passes the rest
// through.
type flakyExecutor struct {
	*mockExecutor
	failFirst *int
}

func (f *flakyExecutor) InsertReturningID(ctx context.Context, sql string, args ...any) (any, error) {
	*f.failFirst++
	if *f.failFirst == 1 {
		return nil, assert.AnError
	}
	return f.mockExecutor.InsertReturningID(ctx, sql, args...)
}

func TestImportSheetRowFailureDoesNotAbortLaterRows(t *testing.T) {
	schemas := schemaFixture()
	hosts := schemas["hosts"]
	exec := &mockExecutor{}
	registry := NewSessionRegistry()
	importer := newTestImporter(exec, schemas, registry)

	sheet := &models.Sheet{
		Name:    "Hosts",
		Headers: []string{"bag_id"},
		Rows: []models.Row{
			{"bag_id": "B-1"},
			{"bag_id": "B-2"},
			{"bag_id": "B-3"},
		},
	}
	mapping := MapColumns(&hosts, sheet, nil)

	// The second insert fails and poisons the transaction until its
	// savepoint is rolled back, the way PostgreSQL behaves.
	var inserts int
	aborted := false
	tx := abortingTx{mockExecutor: exec, failOnInsert: 2, insertCalls: &inserts, aborted: &aborted}

	outcome := importer.ImportSheet(context.Background(), tx, &hosts, sheet, mapping, models.ModeSkip)

	assert.Equal(t, 2, outcome.Created)
	assert.Equal(t, 1, outcome.Failed)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, 3, outcome.Errors[0].RowNumber)
	assert.Equal(t, models.RowFailed, outcome.Errors[0].Status)
	assert.False(t, aborted, "savepoint rollback restores the transaction")

	// The failed row left nothing in the session registry.
	_, ok := registry.Lookup("hosts", "bag_id", "B-2")
	assert.False(t, ok)
	_, ok = registry.Lookup("hosts", "bag_id", "B-3")
	assert.True(t, ok)
}

var errTxAborted = errors.New("current transaction is aborted, commands ignored until end of transaction block")

// abortingTx mimics PostgreSQL transaction semantics: after a failed
// statement every later call on the transaction errors until the savepoint
// is rolled back.
type abortingTx struct {
	*mockExecutor
	failOnInsert int
	insertCalls  *int
	aborted      *bool
}

func (t abortingTx) Begin(context.Context) (datasource.Tx, error) {
	if *t.aborted {
		return nil, errTxAborted
	}
	return t, nil
}

func (t abortingTx) Query(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	if *t.aborted {
		return nil, errTxAborted
	}
	return t.mockExecutor.Query(ctx, sql, args...)
}

func (t abortingTx) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if *t.aborted {
		return 0, errTxAborted
	}
	return t.mockExecutor.Exec(ctx, sql, args...)
}

func (t abortingTx) InsertReturningID(ctx context.Context, sql string, args ...any) (any, error) {
	if *t.aborted {
		return nil, errTxAborted
	}
	*t.insertCalls++
	if *t.insertCalls == t.failOnInsert {
		*t.aborted = true
		return nil, errTxAborted
	}
	return t.mockExecutor.InsertReturningID(ctx, sql, args...)
}

func (t abortingTx) Commit(context.Context) error {
	if *t.aborted {
		return errTxAborted
	}
	return nil
}

func (t abortingTx) Rollback(context.Context) error {
	*t.aborted = false
	return nil
}
