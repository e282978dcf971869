package services

import (
	"strings"

	"github.com/haoxai/import-engine/pkg/models"
)

// genericIdentifierPatterns mark columns that plausibly carry an external
// identifier a sheet might reference a record by.
var genericIdentifierPatterns = []string{"id", "code", "name", "number", "no"}

// tableKindLookupColumns lists the well-known lookup columns for tables whose
// name contains the kind fragment. Ordered by preference.
var tableKindLookupColumns = []struct {
	kind    string
	columns []string
}{
	{"host", []string{"bag_id", "bag_code", "source_id", "field_id", "field_no", "host_id"}},
	{"sample", []string{"sample_id", "sample_code", "saliva_id", "anal_id", "urine_id", "ecto_id", "blood_id", "tissue_id", "rna_plate"}},
	{"location", []string{"province", "district", "village", "site_name", "country"}},
	{"taxonom", []string{"scientific_name", "species", "genus", "family", "order", "class"}},
	{"environment", []string{"source_id", "pool_id", "env_id"}},
	{"project", []string{"project_code", "project_name", "project_id"}},
	{"team", []string{"team_name", "team_id", "team_code"}},
	{"user", []string{"user_id", "username", "email"}},
	{"dept", []string{"dept_id", "dept_name", "department_id"}},
	{"emp", []string{"emp_id", "emp_name", "employee_id"}},
}

// DeriveForeignKeyRules computes, for every foreign key in the schema model,
// the ranked lookup columns on the referenced table: its primary key first,
// then generic identifier columns, then the well-known columns of the
// table's kind. Derived once per run and reused for every row.
func DeriveForeignKeyRules(schemas map[string]models.TableSchema) map[string][]models.ForeignKeyRule {
	rules := make(map[string][]models.ForeignKeyRule)

	for tableName, table := range schemas {
		for _, fk := range table.ForeignKeys {
			target, ok := findTable(schemas, fk.TargetTable)
			if !ok {
				// Referenced table is excluded or outside the schema.
				continue
			}

			var lookups []string
			seen := make(map[string]bool)
			add := func(col string) {
				lower := strings.ToLower(col)
				if !seen[lower] && target.HasColumn(col) {
					seen[lower] = true
					lookups = append(lookups, col)
				}
			}

			if pk := target.PrimaryKey(); pk != "" {
				add(pk)
			}

			for _, col := range target.Columns {
				lower := strings.ToLower(col.Name)
				for _, pattern := range genericIdentifierPatterns {
					if strings.Contains(lower, pattern) {
						add(col.Name)
						break
					}
				}
			}

			targetLower := strings.ToLower(target.Name)
			for _, kind := range tableKindLookupColumns {
				if strings.Contains(targetLower, kind.kind) {
					for _, col := range kind.columns {
						add(col)
					}
					break
				}
			}

			// The referenced column itself always works as a lookup.
			add(fk.TargetColumn)

			rules[tableName] = append(rules[tableName], models.ForeignKeyRule{
				Column:        fk.FromColumn,
				TargetTable:   target.Name,
				TargetColumn:  fk.TargetColumn,
				LookupColumns: lookups,
			})
		}
	}

	return rules
}

// findTable resolves a table name case-insensitively.
func findTable(schemas map[string]models.TableSchema, name string) (models.TableSchema, bool) {
	if t, ok := schemas[name]; ok {
		return t, true
	}
	for n, t := range schemas {
		if strings.EqualFold(n, name) {
			return t, true
		}
	}
	return models.TableSchema{}, false
}
