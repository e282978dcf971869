package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/models"
)

// statement records one executed SQL call.
type statement struct {
	SQL  string
	Args []any
}

// mockExecutor implements datasource.Executor for testing. Queries are
// answered by the optional onQuery hook; inserts hand out sequential IDs.
type mockExecutor struct {
	onQuery func(sql string, args []any) []map[string]any

	queries []statement
	execs   []statement
	inserts []statement

	queryErr  error
	execErr   error
	insertErr error

	nextID int64
}

func (m *mockExecutor) Query(_ context.Context, sql string, args ...any) ([]map[string]any, error) {
	m.queries = append(m.queries, statement{SQL: sql, Args: args})
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.onQuery != nil {
		return m.onQuery(sql, args), nil
	}
	return nil, nil
}

func (m *mockExecutor) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	m.execs = append(m.execs, statement{SQL: sql, Args: args})
	if m.execErr != nil {
		return 0, m.execErr
	}
	return 1, nil
}

func (m *mockExecutor) InsertReturningID(_ context.Context, sql string, args ...any) (any, error) {
	m.inserts = append(m.inserts, statement{SQL: sql, Args: args})
	if m.insertErr != nil {
		return nil, m.insertErr
	}
	m.nextID++
	return m.nextID, nil
}

// mockDialect quotes nothing and uses $n placeholders, keeping assembled SQL
// easy to assert on.
type mockDialect struct{}

func (mockDialect) QuoteIdentifier(name string) string { return name }

func (mockDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (mockDialect) InsertReturning(table string, columns []string, pkColumn string) string {
	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "), pkColumn)
}

// mockTx wraps an executor with no-op transaction control. Begin hands back
// the same executor, flattening savepoints away.
type mockTx struct {
	datasource.Executor
}

func (t mockTx) Begin(context.Context) (datasource.Tx, error) { return t, nil }
func (mockTx) Commit(context.Context) error                   { return nil }
func (mockTx) Rollback(context.Context) error                 { return nil }

// mockAdapter implements datasource.Adapter over a scripted schema and a
// shared mockExecutor, so orchestrator tests run without a database.
type mockAdapter struct {
	*mockExecutor

	tables      []datasource.TableMetadata
	columns     map[string][]datasource.ColumnMetadata
	foreignKeys []datasource.ForeignKeyMetadata
}

func (a *mockAdapter) DiscoverTables(context.Context) ([]datasource.TableMetadata, error) {
	return a.tables, nil
}

func (a *mockAdapter) DiscoverColumns(_ context.Context, table string) ([]datasource.ColumnMetadata, error) {
	return a.columns[table], nil
}

func (a *mockAdapter) DiscoverForeignKeys(context.Context) ([]datasource.ForeignKeyMetadata, error) {
	return a.foreignKeys, nil
}

func (a *mockAdapter) Begin(context.Context) (datasource.Tx, error) {
	return mockTx{a.mockExecutor}, nil
}

func (a *mockAdapter) Dialect() datasource.Dialect { return mockDialect{} }

func (a *mockAdapter) Close() error { return nil }

// schemaFixture is a small specimen-domain schema shared across tests.
func schemaFixture() map[string]models.TableSchema {
	return map[string]models.TableSchema{
		"locations": {
			Name: "locations",
			Columns: []models.ColumnDef{
				{Name: "location_id", DeclaredType: "INTEGER", IsPrimaryKey: true, HasDefault: true},
				{Name: "province", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "district", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "village", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "site_name", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "created_at", DeclaredType: "TIMESTAMP", Nullable: true},
				{Name: "updated_at", DeclaredType: "TIMESTAMP", Nullable: true},
			},
		},
		"taxonomy": {
			Name: "taxonomy",
			Columns: []models.ColumnDef{
				{Name: "taxonomy_id", DeclaredType: "INTEGER", IsPrimaryKey: true, HasDefault: true},
				{Name: "scientific_name", DeclaredType: "VARCHAR"},
				{Name: "species", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "created_at", DeclaredType: "TIMESTAMP", Nullable: true},
				{Name: "updated_at", DeclaredType: "TIMESTAMP", Nullable: true},
			},
		},
		"hosts": {
			Name: "hosts",
			Columns: []models.ColumnDef{
				{Name: "host_id", DeclaredType: "INTEGER", IsPrimaryKey: true, HasDefault: true},
				{Name: "bag_id", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "host_type", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "scientific_name", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "collection_date", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "collectors", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "location_id", DeclaredType: "INTEGER", Nullable: true},
				{Name: "taxonomy_id", DeclaredType: "INTEGER", Nullable: true},
				{Name: "created_at", DeclaredType: "TIMESTAMP", Nullable: true},
				{Name: "updated_at", DeclaredType: "TIMESTAMP", Nullable: true},
				{Name: "created_by", DeclaredType: "VARCHAR", Nullable: true},
			},
			ForeignKeys: []models.ForeignKeyDef{
				{FromColumn: "location_id", TargetTable: "locations", TargetColumn: "location_id"},
				{FromColumn: "taxonomy_id", TargetTable: "taxonomy", TargetColumn: "taxonomy_id"},
			},
		},
		"samples": {
			Name: "samples",
			Columns: []models.ColumnDef{
				{Name: "sample_pk", DeclaredType: "INTEGER", IsPrimaryKey: true, HasDefault: true},
				{Name: "sample_id", DeclaredType: "VARCHAR"},
				{Name: "sample_type", DeclaredType: "VARCHAR", Nullable: true},
				{Name: "host_id", DeclaredType: "INTEGER", Nullable: true},
				{Name: "created_at", DeclaredType: "TIMESTAMP", Nullable: true},
				{Name: "updated_at", DeclaredType: "TIMESTAMP", Nullable: true},
			},
			ForeignKeys: []models.ForeignKeyDef{
				{FromColumn: "host_id", TargetTable: "hosts", TargetColumn: "host_id"},
			},
		},
	}
}
