package models

// MatchConfidence says which matching tier produced a column mapping.
type MatchConfidence string

const (
	ConfidenceExact      MatchConfidence = "exact"
	ConfidenceSynonym    MatchConfidence = "synonym"
	ConfidenceNormalized MatchConfidence = "normalized"
)

// ColumnMatch is one sheet column matched to a database column.
type ColumnMatch struct {
	SheetColumn string          `json:"sheet_column"`
	Confidence  MatchConfidence `json:"confidence"`
}

// ColumnMapping maps database column name to its matched sheet column for one
// (sheet, table) pair. It exists only while that sheet is being processed.
type ColumnMapping map[string]ColumnMatch

// SheetColumn returns the sheet column mapped to dbColumn, if any.
func (m ColumnMapping) SheetColumn(dbColumn string) (string, bool) {
	match, ok := m[dbColumn]
	if !ok {
		return "", false
	}
	return match.SheetColumn, true
}

// ForeignKeyRule holds, for one foreign key column, the ranked list of
// plausible lookup columns on the referenced table. Derived once per run
// from the schema model and cached for the run's lifetime.
type ForeignKeyRule struct {
	Column        string   // FK column on the source table
	TargetTable   string
	TargetColumn  string   // referenced column, always a valid lookup fallback
	LookupColumns []string // ranked: PK, generic identifiers, table-kind columns
}

// BusinessKeySpec lists the columns that jointly identify a "logically same"
// record for tables whose name matches Table. Used purely for duplicate
// detection; independent of the primary key.
type BusinessKeySpec struct {
	Table   string   `yaml:"table"` // singular name fragment, e.g. "sample"
	Columns []string `yaml:"columns"`
}

// SessionRecord is one row created during the current import run, indexed by
// the session registry so later sheets can resolve foreign keys to it.
// Never persisted beyond the run.
type SessionRecord struct {
	Table       string
	AssignedID  any
	MatchFields map[string]string
}

// Overrides let the caller force sheet→table assignments, force specific
// column mappings, or exclude columns from import. All take precedence over
// the automatic heuristics.
type Overrides struct {
	// SheetTables maps sheet name to a forced target table.
	SheetTables map[string]string
	// ColumnMappings maps table name to dbColumn→sheetColumn pairs.
	ColumnMappings map[string]map[string]string
	// ExcludedColumns maps table name to db columns that must not be imported.
	ExcludedColumns map[string][]string
}

// ForcedTable returns the forced target table for a sheet, if any.
func (o *Overrides) ForcedTable(sheet string) (string, bool) {
	if o == nil {
		return "", false
	}
	table, ok := o.SheetTables[sheet]
	return table, ok
}

// ForcedMapping returns the forced sheet column for a table's db column.
func (o *Overrides) ForcedMapping(table, dbColumn string) (string, bool) {
	if o == nil {
		return "", false
	}
	cols, ok := o.ColumnMappings[table]
	if !ok {
		return "", false
	}
	sheetCol, ok := cols[dbColumn]
	return sheetCol, ok
}

// Excluded reports whether a table's db column is excluded from import.
func (o *Overrides) Excluded(table, dbColumn string) bool {
	if o == nil {
		return false
	}
	for _, c := range o.ExcludedColumns[table] {
		if c == dbColumn {
			return true
		}
	}
	return false
}
