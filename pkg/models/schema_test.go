package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleTable() TableSchema {
	return TableSchema{
		Name: "samples",
		Columns: []ColumnDef{
			{Name: "sample_id", DeclaredType: "integer", IsPrimaryKey: true},
			{Name: "sample_code", DeclaredType: "text", Nullable: false},
			{Name: "host_id", DeclaredType: "integer", Nullable: true},
			{Name: "collection_date", DeclaredType: "date", Nullable: true},
			{Name: "notes", DeclaredType: "text", Nullable: true},
			{Name: "status", DeclaredType: "text", Nullable: false, HasDefault: true},
			{Name: "created_at", DeclaredType: "timestamp", Nullable: false},
		},
		ForeignKeys: []ForeignKeyDef{
			{FromColumn: "host_id", TargetTable: "hosts", TargetColumn: "host_id"},
		},
	}
}

func TestTableSchemaColumnLookup(t *testing.T) {
	table := sampleTable()

	col, ok := table.Column("sample_code")
	assert.True(t, ok)
	assert.Equal(t, "sample_code", col.Name)

	// case-insensitive
	_, ok = table.Column("Sample_Code")
	assert.True(t, ok)

	_, ok = table.Column("missing")
	assert.False(t, ok)
	assert.True(t, table.HasColumn("notes"))
}

func TestTableSchemaPrimaryKey(t *testing.T) {
	table := sampleTable()
	assert.Equal(t, "sample_id", table.PrimaryKey())

	noPK := TableSchema{Name: "t", Columns: []ColumnDef{{Name: "a"}}}
	assert.Equal(t, "", noPK.PrimaryKey())

	composite := TableSchema{Name: "t", Columns: []ColumnDef{
		{Name: "a", IsPrimaryKey: true},
		{Name: "b", IsPrimaryKey: true},
	}}
	assert.Equal(t, "", composite.PrimaryKey())
}

func TestTableSchemaForeignKeys(t *testing.T) {
	table := sampleTable()
	assert.True(t, table.IsForeignKeyColumn("host_id"))
	assert.False(t, table.IsForeignKeyColumn("notes"))

	fk, ok := table.ForeignKey("host_id")
	assert.True(t, ok)
	assert.Equal(t, "hosts", fk.TargetTable)
}

func TestRequiredColumns(t *testing.T) {
	table := sampleTable()

	// sample_code is the only non-nullable column without a default that is
	// not a PK, FK, or system column.
	assert.Equal(t, []string{"sample_code"}, table.RequiredColumns())
}

func TestIsSystemColumn(t *testing.T) {
	assert.True(t, IsSystemColumn("created_at"))
	assert.True(t, IsSystemColumn("Updated_At"))
	assert.True(t, IsSystemColumn("created_by"))
	assert.False(t, IsSystemColumn("collection_date"))
}
