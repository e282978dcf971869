package services

import (
	"context"

	"github.com/haoxai/import-engine/pkg/models"
)

// previewSampleRows caps how many rows each sheet contributes to a preview.
const previewSampleRows = 5

func (o *orchestrator) Preview(ctx context.Context, sheetList []models.Sheet, overrides *models.Overrides) (*models.PreviewReport, error) {
	schemas, err := NewIntrospector(o.adapter, o.cfg.ExcludedTables, o.logger).Introspect(ctx)
	if err != nil {
		return nil, err
	}

	report := &models.PreviewReport{}
	for _, a := range o.assignSheets(sheetList, schemas, overrides) {
		preview := models.SheetPreview{
			Sheet:     a.sheet.Name,
			Table:     a.table,
			Reason:    a.reason,
			Mappings:  a.mapping,
			TotalRows: len(a.sheet.Rows),
		}
		for n := 0; n < len(a.sheet.Rows) && n < previewSampleRows; n++ {
			preview.SampleRows = append(preview.SampleRows, a.sheet.Rows[n])
		}
		report.Sheets = append(report.Sheets, preview)
	}
	return report, nil
}
