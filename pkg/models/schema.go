package models

import "strings"

// systemColumns are bookkeeping columns the importer manages itself.
// They are never mapped from sheet data and never treated as required input.
var systemColumns = map[string]struct{}{
	"created_at": {},
	"updated_at": {},
	"created_by": {},
}

// IsSystemColumn reports whether a column is importer-managed bookkeeping
// (creation/modification timestamps, creating-user reference).
func IsSystemColumn(name string) bool {
	_, ok := systemColumns[strings.ToLower(name)]
	return ok
}

// ColumnDef describes one column of a live database table.
type ColumnDef struct {
	Name         string
	DeclaredType string
	Nullable     bool
	IsPrimaryKey bool
	HasDefault   bool
}

// ForeignKeyDef describes one foreign key constraint on a table.
type ForeignKeyDef struct {
	FromColumn   string
	TargetTable  string
	TargetColumn string
}

// TableSchema is the normalized in-memory model of one live table,
// built fresh per run by the introspector and read-only afterwards.
type TableSchema struct {
	Name        string
	Columns     []ColumnDef
	ForeignKeys []ForeignKeyDef
}

// Column returns the definition of the named column, case-insensitively.
func (t *TableSchema) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// HasColumn reports whether the table has the named column.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// PrimaryKey returns the table's single-column primary key name,
// or "" when the table has no primary key (or a composite one).
func (t *TableSchema) PrimaryKey() string {
	var pk string
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			if pk != "" {
				return ""
			}
			pk = c.Name
		}
	}
	return pk
}

// IsForeignKeyColumn reports whether the named column participates in a
// foreign key constraint on this table.
func (t *TableSchema) IsForeignKeyColumn(name string) bool {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.FromColumn, name) {
			return true
		}
	}
	return false
}

// ForeignKey returns the constraint whose source column matches name.
func (t *TableSchema) ForeignKey(name string) (ForeignKeyDef, bool) {
	for _, fk := range t.ForeignKeys {
		if strings.EqualFold(fk.FromColumn, name) {
			return fk, true
		}
	}
	return ForeignKeyDef{}, false
}

// RequiredColumns returns columns that must receive a value from sheet data:
// non-nullable, no default, and not a primary key, foreign key, or
// importer-managed system column.
func (t *TableSchema) RequiredColumns() []string {
	var required []string
	for _, c := range t.Columns {
		if c.Nullable || c.HasDefault || c.IsPrimaryKey {
			continue
		}
		if IsSystemColumn(c.Name) || t.IsForeignKeyColumn(c.Name) {
			continue
		}
		required = append(required, c.Name)
	}
	return required
}
