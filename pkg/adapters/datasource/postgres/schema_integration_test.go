package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haoxai/import-engine/pkg/testhelpers"
)

func TestDiscoverTablesIntegration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	adapter := NewAdapterFromPool(db.Pool, "public", nil)

	tables, err := adapter.DiscoverTables(context.Background())
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, table := range tables {
		names[table.TableName] = true
	}
	assert.True(t, names["hosts"])
	assert.True(t, names["samples"])
	assert.True(t, names["locations"])
	assert.True(t, names["taxonomy"])
}

func TestDiscoverColumnsIntegration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	adapter := NewAdapterFromPool(db.Pool, "public", nil)

	columns, err := adapter.DiscoverColumns(context.Background(), "hosts")
	require.NoError(t, err)
	require.NotEmpty(t, columns)

	byName := map[string]int{}
	for i, col := range columns {
		byName[col.ColumnName] = i
	}

	pk := columns[byName["host_id"]]
	assert.True(t, pk.IsPrimaryKey)
	assert.NotNil(t, pk.DefaultValue, "serial columns carry a default")

	bagID := columns[byName["bag_id"]]
	assert.False(t, bagID.IsPrimaryKey)
	assert.True(t, bagID.IsNullable)

	sci, ok := byName["scientific_name"]
	require.True(t, ok)
	assert.True(t, columns[sci].IsNullable)
}

func TestDiscoverForeignKeysIntegration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	adapter := NewAdapterFromPool(db.Pool, "public", nil)

	fks, err := adapter.DiscoverForeignKeys(context.Background())
	require.NoError(t, err)

	found := false
	for _, fk := range fks {
		if fk.SourceTable == "samples" && fk.SourceColumn == "host_id" {
			found = true
			assert.Equal(t, "hosts", fk.TargetTable)
			assert.Equal(t, "host_id", fk.TargetColumn)
		}
	}
	assert.True(t, found, "samples.host_id -> hosts.host_id should be discovered")
}

func TestInsertReturningIntegration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	db.TruncateAll(t)
	adapter := NewAdapterFromPool(db.Pool, "public", nil)
	ctx := context.Background()

	dialect := adapter.Dialect()
	sql := dialect.InsertReturning("locations", []string{"province", "district"}, "location_id")

	id, err := adapter.InsertReturningID(ctx, sql, "Vientiane", "Xaythany")
	require.NoError(t, err)
	assert.NotNil(t, id)

	rows, err := adapter.Query(ctx,
		"SELECT province FROM locations WHERE location_id = $1", id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Vientiane", rows[0]["province"])
}

func TestTransactionRollbackIntegration(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	db.TruncateAll(t)
	adapter := NewAdapterFromPool(db.Pool, "public", nil)
	ctx := context.Background()

	tx, err := adapter.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Exec(ctx, "INSERT INTO locations (province) VALUES ($1)", "Savannakhet")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	rows, err := adapter.Query(ctx, "SELECT COUNT(*) AS total FROM locations")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 0, rows[0]["total"])
}
