package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"themerizr/internal/converter"
)

var sample = []converter.Result{
	{Source: "b.png", Output: "b.png", Kind: converter.KindCopied, Width: 16, Height: 16},
	{Source: "Load_Balancer.svg", Output: "Load_Balancer.png", Kind: converter.KindConverted, Width: 192, Height: 64},
	{Source: "bad.svg", Output: "bad.png", Kind: converter.KindConverted, Err: errors.New("boom")},
}

func TestRows(t *testing.T) {
	rows := Rows("icons", sample)
	require.Len(t, rows, 3)
	assert.Equal(t, ReportRow{
		Source: "Load_Balancer.svg", Output: "Load_Balancer.png", Kind: "converted",
		Status: "ok", Width: 192, Height: 64, Tag: "icons/Load Balancer",
	}, rows[1])
	assert.Equal(t, "failed", rows[2].Status)
	assert.Equal(t, "boom", rows[2].Error)
	assert.Empty(t, rows[2].Tag)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Rows("icons", sample)))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, headers, records[0])
	assert.Equal(t, []string{"b.png", "b.png", "copied", "ok", "16", "16", "icons/b", ""}, records[1])
}

func TestExportFormats(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "report.csv")
	require.NoError(t, Export(csvPath, "icons", sample))
	assert.FileExists(t, csvPath)

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, Export(jsonPath, "icons", sample))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var rows []ReportRow
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Equal(t, Rows("icons", sample), rows)

	xlsxPath := filepath.Join(dir, "report.xlsx")
	require.NoError(t, Export(xlsxPath, "icons", sample))
	f, err := excelize.OpenFile(xlsxPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := f.GetRows("Conversion Report")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, headers, got[0])
	assert.Equal(t, "bad.svg", got[3][0])
	assert.Equal(t, "boom", got[3][7])

	assert.Error(t, Export(filepath.Join(dir, "report.txt"), "icons", sample))
}
