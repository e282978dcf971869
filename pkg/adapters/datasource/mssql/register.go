package mssql

import (
	"context"

	"go.uber.org/zap"

	"github.com/haoxai/import-engine/pkg/adapters/datasource"
)

func init() {
	datasource.Register("mssql", func(ctx context.Context, cfg datasource.Config, logger *zap.Logger) (datasource.Adapter, error) {
		return NewAdapter(ctx, cfg, logger)
	})
}
