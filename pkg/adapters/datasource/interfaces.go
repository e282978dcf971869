package datasource

import "context"

// TableMetadata identifies a discovered base table.
type TableMetadata struct {
	TableName string `json:"table_name"`
}

// ColumnMetadata describes one discovered column.
type ColumnMetadata struct {
	ColumnName      string  `json:"column_name"`
	DataType        string  `json:"data_type"`
	IsNullable      bool    `json:"is_nullable"`
	IsPrimaryKey    bool    `json:"is_primary_key"`
	OrdinalPosition int     `json:"ordinal_position"`
	DefaultValue    *string `json:"default_value,omitempty"`
}

// ForeignKeyMetadata describes one discovered foreign key relationship.
type ForeignKeyMetadata struct {
	ConstraintName string `json:"constraint_name"`
	SourceTable    string `json:"source_table"`
	SourceColumn   string `json:"source_column"`
	TargetTable    string `json:"target_table"`
	TargetColumn   string `json:"target_column"`
}

// Executor runs parameterized SQL. Placeholders follow the adapter's dialect
// (see Dialect.Placeholder); args are matched positionally.
type Executor interface {
	// Query runs a SELECT and returns all rows as column-keyed maps.
	Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error)

	// Exec runs a DML statement and returns the affected row count.
	Exec(ctx context.Context, sqlText string, args ...any) (int64, error)

	// InsertReturningID runs an INSERT produced by Dialect.InsertReturning
	// and returns the newly assigned identifier.
	InsertReturningID(ctx context.Context, sqlText string, args ...any) (any, error)
}

// Tx is a database transaction. One is opened per sheet.
type Tx interface {
	Executor

	// Begin opens a nested transaction backed by a savepoint. Rolling it
	// back undoes only the work since the savepoint, leaving the enclosing
	// transaction usable. PostgreSQL aborts the whole transaction after a
	// failed statement, so per-row writes must run inside one of these.
	Begin(ctx context.Context) (Tx, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Dialect abstracts the SQL differences between supported engines so the
// engine can assemble statements without knowing which database it targets.
type Dialect interface {
	// QuoteIdentifier safely quotes a table or column name.
	QuoteIdentifier(name string) string

	// Placeholder returns the 1-based positional parameter marker
	// ("$1" for PostgreSQL, "@p1" for SQL Server).
	Placeholder(n int) string

	// InsertReturning builds an INSERT over columns that yields the new
	// row's pkColumn value (RETURNING / OUTPUT INSERTED).
	InsertReturning(table string, columns []string, pkColumn string) string
}

// SchemaDiscoverer reads the live catalog of the target database.
type SchemaDiscoverer interface {
	// DiscoverTables returns all base tables in the configured schema.
	DiscoverTables(ctx context.Context) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table.
	DiscoverColumns(ctx context.Context, tableName string) ([]ColumnMetadata, error)

	// DiscoverForeignKeys returns all foreign key relationships in the
	// configured schema.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)
}

// Adapter is one open handle to a target database: catalog discovery plus
// SQL execution and per-sheet transactions. Each adapter owns its connection
// and must be closed when done.
type Adapter interface {
	Executor
	SchemaDiscoverer

	// Begin opens a transaction for one sheet's writes.
	Begin(ctx context.Context) (Tx, error)

	// Dialect returns the adapter's SQL dialect.
	Dialect() Dialect

	// Close releases the database connection.
	Close() error
}

// Config holds the connection settings shared by all adapters.
type Config struct {
	Engine   string // "postgres" or "mssql"
	Host     string
	Port     int
	Database string
	// Schema is the namespace to introspect and write to.
	// Defaults to "public" (PostgreSQL) or "dbo" (SQL Server).
	Schema   string
	Username string
	Password string
	SSLMode  string // PostgreSQL only
}
