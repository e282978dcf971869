package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/models"
)

// locationFields are gathered together whenever a location row is
// synthesized, so an auto-created location carries everything the sheet row
// knows about the place.
var locationFields = []string{"province", "district", "village", "site_name"}

// ForeignKeyResolver fills foreign key columns for one row at a time:
// session registry first, then a database lookup, then auto-creation for
// allow-listed table kinds, and finally null plus a recorded gap.
type ForeignKeyResolver struct {
	exec     datasource.Executor
	dialect  datasource.Dialect
	schemas  map[string]models.TableSchema
	rules    map[string][]models.ForeignKeyRule
	registry *SessionRegistry
	// autoCreateKinds are table-name fragments whose referenced rows may be
	// created on the fly. Anything else fails resolution to a gap.
	autoCreateKinds []string
	logger          *zap.Logger
}

// NewForeignKeyResolver creates a per-run resolver bound to the run's schema
// model, derived rules, and session registry. exec is rebound per row via
// WithExecutor so lookups and auto-creates join the row's savepoint.
func NewForeignKeyResolver(
	dialect datasource.Dialect,
	schemas map[string]models.TableSchema,
	rules map[string][]models.ForeignKeyRule,
	registry *SessionRegistry,
	autoCreateKinds []string,
	logger *zap.Logger,
) *ForeignKeyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForeignKeyResolver{
		dialect:         dialect,
		schemas:         schemas,
		rules:           rules,
		registry:        registry,
		autoCreateKinds: autoCreateKinds,
		logger:          logger,
	}
}

// WithExecutor returns a shallow copy bound to exec, normally the current
// sheet's transaction.
func (r *ForeignKeyResolver) WithExecutor(exec datasource.Executor) *ForeignKeyResolver {
	clone := *r
	clone.exec = exec
	return &clone
}

// Resolution is one row's resolved foreign key values. Gaps counts FK
// columns that had sheet data but could not be resolved; those columns are
// left null.
type Resolution struct {
	Values map[string]any
	Gaps   int
}

// Resolve computes foreign key values for one sheet row targeting tableName.
func (r *ForeignKeyResolver) Resolve(ctx context.Context, tableName string, sheet *models.Sheet, row models.Row) Resolution {
	res := Resolution{Values: make(map[string]any)}

	table, ok := findTable(r.schemas, tableName)
	if !ok {
		return res
	}

	for _, rule := range r.rules[tableName] {
		hadValue := false

		for _, lookupCol := range rule.LookupColumns {
			sheetCol, ok := FindSheetColumn(lookupCol, sheet)
			if !ok {
				continue
			}
			value := row.String(sheetCol)
			if value == "" {
				continue
			}
			hadValue = true

			if id, ok := r.registry.Lookup(rule.TargetTable, lookupCol, value); ok {
				res.Values[rule.Column] = id
				break
			}

			id, found, err := r.lookupTarget(ctx, rule, lookupCol, value)
			if err != nil {
				r.logger.Warn("foreign key lookup failed",
					zap.String("table", tableName),
					zap.String("column", rule.Column),
					zap.String("lookup_column", lookupCol),
					zap.Error(err))
				continue
			}
			if found {
				res.Values[rule.Column] = id
				break
			}

			id, created, err := r.autoCreate(ctx, rule, lookupCol, value, sheet, row)
			if err != nil {
				r.logger.Warn("auto-create failed",
					zap.String("target_table", rule.TargetTable),
					zap.String("lookup_column", lookupCol),
					zap.Error(err))
				continue
			}
			if created {
				res.Values[rule.Column] = id
				break
			}
		}

		if _, resolved := res.Values[rule.Column]; resolved {
			continue
		}

		// Unresolvable location references on a non-nullable column fall
		// back to a shared "Unknown" location rather than failing the row.
		if col, ok := table.Column(rule.Column); ok && !col.Nullable &&
			r.kindAllowed(rule.TargetTable) && strings.Contains(strings.ToLower(rule.TargetTable), "location") {
			if id, err := r.getOrCreateTarget(ctx, rule, map[string]string{"province": "Unknown"}); err == nil {
				res.Values[rule.Column] = id
				continue
			}
		}

		if hadValue {
			res.Gaps++
		}
	}

	return res
}

// lookupTarget queries the referenced table for a single row whose
// lookupCol equals value, returning its primary key.
func (r *ForeignKeyResolver) lookupTarget(ctx context.Context, rule models.ForeignKeyRule, lookupCol, value string) (any, bool, error) {
	target, ok := findTable(r.schemas, rule.TargetTable)
	if !ok {
		return nil, false, nil
	}
	pk := target.PrimaryKey()
	if pk == "" {
		pk = rule.TargetColumn
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		r.dialect.QuoteIdentifier(pk),
		r.dialect.QuoteIdentifier(target.Name),
		r.dialect.QuoteIdentifier(lookupCol),
		r.dialect.Placeholder(1),
	)

	rows, err := r.exec.Query(ctx, query, value)
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s by %s: %w", target.Name, lookupCol, err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0][pk], true, nil
}

// kindAllowed reports whether the target table's kind is on the auto-create
// allow-list.
func (r *ForeignKeyResolver) kindAllowed(targetTable string) bool {
	lower := strings.ToLower(targetTable)
	for _, kind := range r.autoCreateKinds {
		if strings.Contains(lower, kind) {
			return true
		}
	}
	return false
}

// autoCreate synthesizes a minimal referenced row when the lookup missed and
// the target's kind allows it. Location rows gather every location field the
// sheet row carries; taxonomy rows derive species from the scientific name.
func (r *ForeignKeyResolver) autoCreate(ctx context.Context, rule models.ForeignKeyRule, lookupCol, value string, sheet *models.Sheet, row models.Row) (any, bool, error) {
	if !r.kindAllowed(rule.TargetTable) {
		return nil, false, nil
	}

	targetLower := strings.ToLower(rule.TargetTable)
	fields := map[string]string{}

	switch {
	case strings.Contains(targetLower, "location"):
		for _, f := range locationFields {
			if sheetCol, ok := FindSheetColumn(f, sheet); ok {
				if v := row.String(sheetCol); v != "" {
					fields[f] = v
				}
			}
		}
		if len(fields) == 0 {
			fields[strings.ToLower(lookupCol)] = value
		}

	case strings.Contains(targetLower, "taxonom"):
		sciName := ""
		if lookupCol == "scientific_name" {
			sciName = value
		} else if sheetCol, ok := FindSheetColumn("scientific_name", sheet); ok {
			sciName = row.String(sheetCol)
		}
		if sciName == "" {
			return nil, false, nil
		}
		fields["scientific_name"] = sciName
		if parts := strings.Fields(sciName); len(parts) > 1 {
			fields["species"] = parts[len(parts)-1]
		}

	case strings.Contains(targetLower, "environment"):
		for _, f := range []string{"source_id", "pool_id"} {
			if sheetCol, ok := FindSheetColumn(f, sheet); ok {
				if v := row.String(sheetCol); v != "" {
					fields[f] = v
				}
			}
		}
		for _, f := range locationFields {
			if sheetCol, ok := FindSheetColumn(f, sheet); ok {
				if v := row.String(sheetCol); v != "" {
					fields[f] = v
				}
			}
		}
		if fields["source_id"] == "" && fields["pool_id"] == "" {
			return nil, false, nil
		}

	default:
		fields[strings.ToLower(lookupCol)] = value
	}

	id, err := r.getOrCreateTarget(ctx, rule, fields)
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// getOrCreateTarget finds a referenced row matching every given field, or
// inserts one. Either way the result lands in the session registry so the
// next row resolves without touching the database.
func (r *ForeignKeyResolver) getOrCreateTarget(ctx context.Context, rule models.ForeignKeyRule, fields map[string]string) (any, error) {
	target, ok := findTable(r.schemas, rule.TargetTable)
	if !ok {
		return nil, fmt.Errorf("unknown target table %q", rule.TargetTable)
	}

	// Keep only fields the target actually has.
	columns := make([]string, 0, len(fields))
	for _, col := range target.Columns {
		if _, ok := fields[strings.ToLower(col.Name)]; ok {
			columns = append(columns, col.Name)
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no usable fields for %s", target.Name)
	}

	pk := target.PrimaryKey()
	if pk == "" {
		pk = rule.TargetColumn
	}

	conditions := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		conditions[i] = fmt.Sprintf("%s = %s", r.dialect.QuoteIdentifier(col), r.dialect.Placeholder(i+1))
		args[i] = fields[strings.ToLower(col)]
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		r.dialect.QuoteIdentifier(pk),
		r.dialect.QuoteIdentifier(target.Name),
		strings.Join(conditions, " AND "),
	)
	rows, err := r.exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("check existing %s: %w", target.Name, err)
	}
	if len(rows) > 0 {
		return rows[0][pk], nil
	}

	insertCols := make([]string, len(columns))
	copy(insertCols, columns)
	insertArgs := make([]any, len(args))
	copy(insertArgs, args)

	now := time.Now().UTC()
	for _, sys := range []string{"created_at", "updated_at"} {
		if target.HasColumn(sys) {
			insertCols = append(insertCols, sys)
			insertArgs = append(insertArgs, now)
		}
	}

	id, err := r.exec.InsertReturningID(ctx, r.dialect.InsertReturning(target.Name, insertCols, pk), insertArgs...)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", target.Name, err)
	}

	r.logger.Info("auto-created referenced row",
		zap.String("table", target.Name),
		zap.Any("id", id))

	matchFields := make(map[string]string, len(columns))
	for _, col := range columns {
		matchFields[strings.ToLower(col)] = fields[strings.ToLower(col)]
	}
	r.registry.Record(target.Name, id, matchFields)

	return id, nil
}
