package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"themerizr/internal/converter"
	"themerizr/internal/manifest"
)

// ReportRow is one line of a conversion report.
type ReportRow struct {
	Source string `json:"source"`
	Output string `json:"output"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Error  string `json:"error,omitempty"`
}

var headers = []string{"Source", "Output", "Kind", "Status", "Width", "Height", "Tag", "Error"}

// Rows flattens results into report rows. Failed files get no tag since
// they are not part of the theme.
func Rows(prefix string, results []converter.Result) []ReportRow {
	rows := make([]ReportRow, 0, len(results))
	for _, r := range results {
		row := ReportRow{
			Source: r.Source,
			Output: r.Output,
			Kind:   string(r.Kind),
			Status: "ok",
			Width:  r.Width,
			Height: r.Height,
		}
		if r.OK() {
			row.Tag = manifest.Tag(prefix, r.Output)
		} else {
			row.Status = "failed"
			row.Error = r.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// Export writes the report to path in the format named by its extension.
func Export(path, prefix string, results []converter.Result) error {
	rows := Rows(prefix, results)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := WriteCSV(f, rows); err != nil {
			return err
		}
		return f.Close()
	case ".xlsx":
		return ExportToExcel(path, rows)
	case ".json":
		return ExportToJSON(path, rows)
	default:
		return fmt.Errorf("unsupported report format: %s", path)
	}
}

// WriteCSV writes rows with a header line.
func WriteCSV(out io.Writer, rows []ReportRow) error {
	w := csv.NewWriter(out)
	if err := w.Write(headers); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(r.record()); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ExportToJSON writes rows as an indented JSON array.
func ExportToJSON(path string, rows []ReportRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ExportToExcel writes rows into a single-sheet workbook.
func ExportToExcel(path string, rows []ReportRow) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Conversion Report"
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	for i, r := range rows {
		row := i + 2
		values := []any{r.Source, r.Output, r.Kind, r.Status, r.Width, r.Height, r.Tag, r.Error}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(path)
}

func (r ReportRow) record() []string {
	return []string{
		r.Source, r.Output, r.Kind, r.Status,
		strconv.Itoa(r.Width), strconv.Itoa(r.Height),
		r.Tag, r.Error,
	}
}
