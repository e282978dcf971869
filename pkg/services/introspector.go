package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
	"github.com/haoxai/import-engine/pkg/apperrors"
	"github.com/haoxai/import-engine/pkg/models"
)

// Introspector builds the in-memory schema model from the live database
// catalog. The model is rebuilt once per run and cached for its lifetime.
type Introspector interface {
	// Introspect returns all importable tables keyed by name, with the
	// excluded tables removed.
	Introspect(ctx context.Context) (map[string]models.TableSchema, error)
}

type introspector struct {
	discoverer datasource.SchemaDiscoverer
	excluded   map[string]struct{}
	logger     *zap.Logger

	cache map[string]models.TableSchema
}

// NewIntrospector creates a schema introspector. excludedTables are never
// offered as import targets (reserved system and bookkeeping tables).
// If logger is nil, a no-op logger is used.
func NewIntrospector(discoverer datasource.SchemaDiscoverer, excludedTables []string, logger *zap.Logger) Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}

	excluded := make(map[string]struct{}, len(excludedTables))
	for _, t := range excludedTables {
		excluded[strings.ToLower(t)] = struct{}{}
	}

	return &introspector{
		discoverer: discoverer,
		excluded:   excluded,
		logger:     logger,
	}
}

func (s *introspector) Introspect(ctx context.Context) (map[string]models.TableSchema, error) {
	if s.cache != nil {
		return s.cache, nil
	}

	tables, err := s.discoverer.DiscoverTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: discover tables: %v", apperrors.ErrSchemaUnavailable, err)
	}

	foreignKeys, err := s.discoverer.DiscoverForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: discover foreign keys: %v", apperrors.ErrSchemaUnavailable, err)
	}
	fksByTable := make(map[string][]models.ForeignKeyDef)
	for _, fk := range foreignKeys {
		fksByTable[strings.ToLower(fk.SourceTable)] = append(fksByTable[strings.ToLower(fk.SourceTable)], models.ForeignKeyDef{
			FromColumn:   fk.SourceColumn,
			TargetTable:  fk.TargetTable,
			TargetColumn: fk.TargetColumn,
		})
	}

	schemas := make(map[string]models.TableSchema, len(tables))
	for _, table := range tables {
		if _, skip := s.excluded[strings.ToLower(table.TableName)]; skip {
			s.logger.Debug("excluding reserved table", zap.String("table", table.TableName))
			continue
		}

		columns, err := s.discoverer.DiscoverColumns(ctx, table.TableName)
		if err != nil {
			return nil, fmt.Errorf("%w: discover columns for %s: %v", apperrors.ErrSchemaUnavailable, table.TableName, err)
		}

		defs := make([]models.ColumnDef, 0, len(columns))
		for _, col := range columns {
			defs = append(defs, models.ColumnDef{
				Name:         col.ColumnName,
				DeclaredType: col.DataType,
				Nullable:     col.IsNullable,
				IsPrimaryKey: col.IsPrimaryKey,
				HasDefault:   col.DefaultValue != nil,
			})
		}

		schemas[table.TableName] = models.TableSchema{
			Name:        table.TableName,
			Columns:     defs,
			ForeignKeys: fksByTable[strings.ToLower(table.TableName)],
		}
	}

	s.logger.Info("schema introspected",
		zap.Int("tables", len(schemas)),
		zap.Int("foreign_keys", len(foreignKeys)))

	s.cache = schemas
	return schemas, nil
}
