package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver
	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
)

// Adapter implements datasource.Adapter for SQL Server.
type Adapter struct {
	db     *sql.DB
	schema string
	logger *zap.Logger
}

// buildConnectionString builds a sqlserver:// URL with proper escaping.
func buildConnectionString(cfg datasource.Config) string {
	query := url.Values{}
	query.Add("database", cfg.Database)
	query.Add("encrypt", "true")
	query.Add("TrustServerCertificate", "true")

	return fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		query.Encode(),
	)
}

// NewAdapter opens a SQL Server connection and verifies connectivity.
// If logger is nil, a no-op logger is used.
func NewAdapter(ctx context.Context, cfg datasource.Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "dbo"
	}

	return &Adapter{db: db, schema: schema, logger: logger}, nil
}

// Close releases the database connection.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Dialect returns the SQL Server dialect.
func (a *Adapter) Dialect() datasource.Dialect {
	return mssqlDialect{}
}

// Query runs a SELECT and returns all rows as column-keyed maps.
func (a *Adapter) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := a.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return collectRows(rows)
}

// Exec runs a DML statement and returns the affected row count.
func (a *Adapter) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	result, err := a.db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// InsertReturningID runs an INSERT ... OUTPUT INSERTED statement and returns
// the newly assigned identifier.
func (a *Adapter) InsertReturningID(ctx context.Context, sqlText string, args ...any) (any, error) {
	var id any
	if err := a.db.QueryRowContext(ctx, sqlText, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

// Begin opens a transaction for one sheet's writes.
func (a *Adapter) Begin(ctx context.Context) (datasource.Tx, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &mssqlTx{tx: tx}, nil
}

// mssqlTx adapts *sql.Tx to datasource.Tx. spSeq numbers the savepoints
// handed out by Begin so nested scopes never collide.
type mssqlTx struct {
	tx    *sql.Tx
	spSeq int
}

func (t *mssqlTx) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := t.tx.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return collectRows(rows)
}

func (t *mssqlTx) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	result, err := t.tx.ExecContext(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

func (t *mssqlTx) InsertReturningID(ctx context.Context, sqlText string, args ...any) (any, error) {
	var id any
	if err := t.tx.QueryRowContext(ctx, sqlText, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

// Begin marks a savepoint with SAVE TRANSACTION. database/sql has no nested
// transactions, so the savepoint is managed by hand on the same *sql.Tx.
func (t *mssqlTx) Begin(ctx context.Context) (datasource.Tx, error) {
	t.spSeq++
	name := fmt.Sprintf("sp%d", t.spSeq)
	if _, err := t.tx.ExecContext(ctx, "SAVE TRANSACTION "+name); err != nil {
		return nil, fmt.Errorf("create savepoint: %w", err)
	}
	return &mssqlSavepoint{mssqlTx: t, name: name}, nil
}

func (t *mssqlTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *mssqlTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback()
}

// mssqlSavepoint scopes statements to a savepoint on the enclosing
// transaction. SQL Server releases savepoints with the outer commit, so
// Commit here is a no-op.
type mssqlSavepoint struct {
	*mssqlTx
	name string
}

func (s *mssqlSavepoint) Commit(context.Context) error { return nil }

func (s *mssqlSavepoint) Rollback(ctx context.Context) error {
	if _, err := s.tx.ExecContext(ctx, "ROLLBACK TRANSACTION "+s.name); err != nil {
		return fmt.Errorf("rollback savepoint: %w", err)
	}
	return nil
}

// collectRows drains a database/sql result set into column-keyed maps.
func collectRows(rows *sql.Rows) ([]map[string]any, error) {
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		rowMap := make(map[string]any, len(names))
		for i, name := range names {
			// Normalize []byte values so the engine sees plain strings.
			if b, ok := values[i].([]byte); ok {
				rowMap[name] = string(b)
				continue
			}
			rowMap[name] = values[i]
		}
		result = append(result, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// mssqlDialect implements datasource.Dialect for SQL Server.
type mssqlDialect struct{}

func (mssqlDialect) QuoteIdentifier(name string) string {
	return quoteName(name)
}

func (mssqlDialect) Placeholder(n int) string {
	return fmt.Sprintf("@p%d", n)
}

func (d mssqlDialect) InsertReturning(table string, columns []string, pkColumn string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
		placeholders[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.%s VALUES (%s)",
		d.QuoteIdentifier(table),
		strings.Join(quoted, ", "),
		d.QuoteIdentifier(pkColumn),
		strings.Join(placeholders, ", "),
	)
}

// Ensure Adapter implements datasource.Adapter at compile time.
var _ datasource.Adapter = (*Adapter)(nil)
