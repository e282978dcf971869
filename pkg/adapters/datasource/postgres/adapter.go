package postgres

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
)

// Adapter implements datasource.Adapter for PostgreSQL.
type Adapter struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

// buildConnectionString builds a PostgreSQL URL with proper escaping.
// All user-provided fields must be URL-escaped to handle special characters
// in passwords (e.g., @, /, #, ?) that would otherwise break URL parsing.
func buildConnectionString(cfg datasource.Config) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.Username),
		url.QueryEscape(cfg.Password),
		cfg.Host,
		cfg.Port,
		url.QueryEscape(cfg.Database),
		sslMode,
	)
}

// NewAdapter opens a PostgreSQL connection pool and verifies connectivity.
// If logger is nil, a no-op logger is used.
func NewAdapter(ctx context.Context, cfg datasource.Config, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	return &Adapter{pool: pool, schema: schema, logger: logger}, nil
}

// NewAdapterFromPool wraps an existing pool (for tests).
func NewAdapterFromPool(pool *pgxpool.Pool, schema string, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schema == "" {
		schema = "public"
	}
	return &Adapter{pool: pool, schema: schema, logger: logger}
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

// Dialect returns the PostgreSQL dialect.
func (a *Adapter) Dialect() datasource.Dialect {
	return pgDialect{}
}

// Query runs a SELECT and returns all rows as column-keyed maps.
func (a *Adapter) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := a.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return collectRows(rows)
}

// Exec runs a DML statement and returns the affected row count.
func (a *Adapter) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	tag, err := a.pool.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertReturningID runs an INSERT ... RETURNING statement and returns the
// newly assigned identifier.
func (a *Adapter) InsertReturningID(ctx context.Context, sqlText string, args ...any) (any, error) {
	var id any
	if err := a.pool.QueryRow(ctx, sqlText, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

// Begin opens a transaction for one sheet's writes.
func (a *Adapter) Begin(ctx context.Context) (datasource.Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// pgTx adapts pgx.Tx to datasource.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Query(ctx context.Context, sqlText string, args ...any) ([]map[string]any, error) {
	rows, err := t.tx.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	return collectRows(rows)
}

func (t *pgTx) Exec(ctx context.Context, sqlText string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, fmt.Errorf("execute statement: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) InsertReturningID(ctx context.Context, sqlText string, args ...any) (any, error) {
	var id any
	if err := t.tx.QueryRow(ctx, sqlText, args...).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert returning id: %w", err)
	}
	return id, nil
}

// Begin opens a nested transaction; pgx issues a SAVEPOINT under the hood.
func (t *pgTx) Begin(ctx context.Context) (datasource.Tx, error) {
	nested, err := t.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin nested transaction: %w", err)
	}
	return &pgTx{tx: nested}, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// collectRows drains a pgx result set into column-keyed maps.
func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	names := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		names[i] = string(fd.Name)
	}

	result := make([]map[string]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		rowMap := make(map[string]any, len(names))
		for i, name := range names {
			rowMap[name] = values[i]
		}
		result = append(result, rowMap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// pgDialect implements datasource.Dialect for PostgreSQL.
type pgDialect struct{}

func (pgDialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (pgDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (d pgDialect) InsertReturning(table string, columns []string, pkColumn string) string {
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.QuoteIdentifier(c)
		placeholders[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		d.QuoteIdentifier(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		d.QuoteIdentifier(pkColumn),
	)
}

// Ensure Adapter implements datasource.Adapter at compile time.
var _ datasource.Adapter = (*Adapter)(nil)
