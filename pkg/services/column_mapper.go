package services

import (
	"strings"

	"github.com/haoxai/import-engine/pkg/models"
)

// NormalizeHeader lowercases a sheet header and collapses spaces and hyphens
// to underscores, so "Sample Code" and "sample-code" both read sample_code.
func NormalizeHeader(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

// stripSeparators removes underscores, spaces, and hyphens entirely, the
// loosest normalization the matcher ever applies.
func stripSeparators(s string) string {
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// NormalizeSheet returns the sheet's headers in normalized form, paired with
// a lookup from normalized name back to the original header.
func NormalizeSheet(sheet *models.Sheet) ([]string, map[string]string) {
	normalized := make([]string, 0, len(sheet.Headers))
	original := make(map[string]string, len(sheet.Headers))
	for _, h := range sheet.Headers {
		n := NormalizeHeader(h)
		if _, seen := original[n]; seen {
			continue
		}
		normalized = append(normalized, n)
		original[n] = h
	}
	return normalized, original
}

// matchColumn finds the sheet column for one database column using the
// tiered strategy: exact, curated synonym, then separator-stripped equality
// of at least three characters. It never falls back to substring guessing.
// claimed columns are already taken by another database column.
func matchColumn(dbColumn string, sheetColumns []string, claimed map[string]bool) (string, models.MatchConfidence, bool) {
	dbLower := strings.ToLower(dbColumn)

	for _, sc := range sheetColumns {
		if sc == dbLower && !claimed[sc] {
			return sc, models.ConfidenceExact, true
		}
	}

	for _, alias := range synonymsFor(dbLower) {
		for _, sc := range sheetColumns {
			if sc == alias && !claimed[sc] {
				return sc, models.ConfidenceSynonym, true
			}
		}
	}

	dbStripped := stripSeparators(dbLower)
	if len(dbStripped) >= 3 {
		for _, sc := range sheetColumns {
			if !claimed[sc] && stripSeparators(sc) == dbStripped {
				return sc, models.ConfidenceNormalized, true
			}
		}
	}

	return "", "", false
}

// MapColumns matches a sheet's columns against one table. Primary key,
// foreign key, and system columns are never mapped from sheet data; the
// resolver and importer own those. Overrides win over every tier, and an
// excluded column is never mapped at all. Each sheet column feeds at most
// one database column.
func MapColumns(table *models.TableSchema, sheet *models.Sheet, overrides *models.Overrides) models.ColumnMapping {
	sheetColumns, original := NormalizeSheet(sheet)

	mapping := make(models.ColumnMapping)
	claimed := make(map[string]bool)

	for _, col := range table.Columns {
		if col.IsPrimaryKey || models.IsSystemColumn(col.Name) || table.IsForeignKeyColumn(col.Name) {
			continue
		}
		if overrides.Excluded(table.Name, col.Name) {
			continue
		}

		if forced, ok := overrides.ForcedMapping(table.Name, col.Name); ok {
			mapping[col.Name] = models.ColumnMatch{SheetColumn: forced, Confidence: models.ConfidenceExact}
			claimed[NormalizeHeader(forced)] = true
			continue
		}

		sheetCol, confidence, ok := matchColumn(col.Name, sheetColumns, claimed)
		if !ok {
			continue
		}
		claimed[sheetCol] = true
		mapping[col.Name] = models.ColumnMatch{SheetColumn: original[sheetCol], Confidence: confidence}
	}

	return mapping
}

// FindSheetColumn matches one database column against a sheet without
// regard to claims or overrides. The foreign key resolver uses it to pull
// lookup values for columns that belong to other tables.
func FindSheetColumn(dbColumn string, sheet *models.Sheet) (string, bool) {
	sheetColumns, original := NormalizeSheet(sheet)
	sheetCol, _, ok := matchColumn(dbColumn, sheetColumns, nil)
	if !ok {
		return "", false
	}
	return original[sheetCol], true
}
