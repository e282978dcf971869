// Package sheets supplies spreadsheet data to the import engine. The engine
// only ever sees the parsed Sheet model; physical file parsing lives behind
// the Source interface.
package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haoxai/import-engine/pkg/models"
)

// Source produces the sheets of one upload.
type Source interface {
	GetSheets(ctx context.Context) ([]models.Sheet, error)
}

// CSVSource reads one CSV file, or every CSV file in a directory, each file
// becoming one sheet named after the file stem.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source over a CSV file or a directory of them.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

func (s *CSVSource) GetSheets(ctx context.Context) ([]models.Sheet, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(s.path)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", s.path, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
				continue
			}
			files = append(files, filepath.Join(s.path, entry.Name()))
		}
		sort.Strings(files)
		if len(files) == 0 {
			return nil, fmt.Errorf("no csv files in %s", s.path)
		}
	} else {
		files = []string{s.path}
	}

	sheets := make([]models.Sheet, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sheet, err := readCSV(file)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheet)
	}
	return sheets, nil
}

// readCSV parses one file into a sheet. The first record is the header row;
// short records leave trailing cells empty.
func readCSV(path string) (models.Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Sheet{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return models.Sheet{}, fmt.Errorf("parse %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	sheet := models.Sheet{Name: name}
	if len(records) == 0 {
		return sheet, nil
	}

	headers := make([]string, 0, len(records[0]))
	for _, h := range records[0] {
		headers = append(headers, strings.TrimSpace(h))
	}
	sheet.Headers = headers

	for _, record := range records[1:] {
		row := make(models.Row, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			}
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}
