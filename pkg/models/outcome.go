package models

import "github.com/google/uuid"

// ImportMode controls what happens when an incoming row matches an existing
// record by business key.
type ImportMode string

const (
	// ModeSkip leaves the existing row untouched.
	ModeSkip ImportMode = "skip"
	// ModeUpdate overwrites only the columns whose incoming value is non-empty.
	ModeUpdate ImportMode = "update"
)

// Valid reports whether the mode is one of the supported values.
func (m ImportMode) Valid() bool {
	return m == ModeSkip || m == ModeUpdate
}

// RowStatus is the terminal state of one row's import cycle.
type RowStatus string

const (
	RowInserted         RowStatus = "inserted"
	RowUpdated          RowStatus = "updated"
	RowSkippedDuplicate RowStatus = "skipped_duplicate"
	RowSkippedEmpty     RowStatus = "skipped_empty"
	RowSkippedRequired  RowStatus = "skipped_missing_required"
	RowFailed           RowStatus = "failed"
)

// RowError records a single row's problem with the originating sheet row
// number, so the surrounding UI can point the user at the exact cell range.
type RowError struct {
	RowNumber int       `json:"row_number"`
	Status    RowStatus `json:"status"`
	Message   string    `json:"message"`
}

// ImportOutcome aggregates one table's results for one sheet.
type ImportOutcome struct {
	Table            string     `json:"table"`
	Created          int        `json:"created"`
	Updated          int        `json:"updated"`
	SkippedDuplicate int        `json:"skipped_duplicate"`
	SkippedEmpty     int        `json:"skipped_empty"`
	SkippedRequired  int        `json:"skipped_missing_required"`
	Failed           int        `json:"failed"`
	ResolutionGaps   int        `json:"resolution_gaps"`
	CreatedIDs       []any      `json:"created_ids"`
	Errors           []RowError `json:"errors,omitempty"`
}

// Tally counts one row's terminal status.
func (o *ImportOutcome) Tally(status RowStatus) {
	switch status {
	case RowInserted:
		o.Created++
	case RowUpdated:
		o.Updated++
	case RowSkippedDuplicate:
		o.SkippedDuplicate++
	case RowSkippedEmpty:
		o.SkippedEmpty++
	case RowSkippedRequired:
		o.SkippedRequired++
	case RowFailed:
		o.Failed++
	}
}

// SheetReport is one sheet's slice of the run report. Sheets that could not
// be assigned a target table carry the reason and no outcome.
type SheetReport struct {
	Sheet      string         `json:"sheet"`
	Table      string         `json:"table,omitempty"`
	Skipped    bool           `json:"skipped"`
	Reason     string         `json:"reason,omitempty"`
	TotalRows  int            `json:"total_rows"`
	RowsBefore int64          `json:"rows_before,omitempty"`
	RowsAfter  int64          `json:"rows_after,omitempty"`
	Outcome    *ImportOutcome `json:"outcome,omitempty"`
}

// ImportTotals sums row dispositions across all sheets of a run.
type ImportTotals struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunReport is the structured result of one import run.
type RunReport struct {
	RunID  uuid.UUID     `json:"run_id"`
	Mode   ImportMode    `json:"mode"`
	Sheets []SheetReport `json:"sheets"`
	Totals ImportTotals  `json:"totals"`
}

// Add folds a sheet's outcome into the run totals.
func (t *ImportTotals) Add(o *ImportOutcome) {
	if o == nil {
		return
	}
	t.Created += o.Created
	t.Updated += o.Updated
	t.Skipped += o.SkippedDuplicate + o.SkippedEmpty + o.SkippedRequired
	t.Failed += o.Failed
}

// SheetPreview is the read-only mapping preview for one sheet.
type SheetPreview struct {
	Sheet      string        `json:"sheet"`
	Table      string        `json:"table,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Mappings   ColumnMapping `json:"column_mappings"`
	SampleRows []Row         `json:"sample_rows"`
	TotalRows  int           `json:"total_rows"`
}

// PreviewReport is the structured result of a read-only preview.
type PreviewReport struct {
	Sheets []SheetPreview `json:"sheets"`
}
