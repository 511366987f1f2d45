// Package filerunner executes File step variants: reading and writing CSV
// (via encoding/csv) and Excel (via excelize) artifacts against the blob
// store, recording FileMetadata into the Job Context as a side effect.
package filerunner

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/blobstore"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/xuri/excelize/v2"
)

// Runner executes domain.FileStep configurations against the blob store.
//
// Write steps source their tabular data from a prior step's recorded
// output rather than from a template field — SourcePath, for a Write op,
// holds the plain step id whose Output supplies the rows (not a blob
// path, and not a "${...}" reference: the resolver has already run and a
// bare step id passes through untouched).
type Runner struct {
	store  *blobstore.Store
	logger *slog.Logger
}

func New(store *blobstore.Store, logger *slog.Logger) *Runner {
	return &Runner{store: store, logger: logger.With("component", "filerunner")}
}

func (r *Runner) Execute(ctx context.Context, step *domain.Step, jobCtx *domain.JobContext) (domain.StepOutput, error) {
	started := time.Now()
	if step.File == nil {
		return domain.StepOutput{}, fmt.Errorf("filerunner: step %s has no file config", step.ID)
	}
	f := step.File

	var output any
	var err error
	switch f.Op {
	case domain.FileRead:
		output, err = r.read(ctx, f, jobCtx)
	case domain.FileWrite:
		output, err = r.write(ctx, f, jobCtx)
	default:
		err = fmt.Errorf("filerunner: unknown op %q", f.Op)
	}

	completed := time.Now()
	if err != nil {
		return domain.StepOutput{
			StepID: step.ID, Status: domain.StepStatusFailed,
			StartedAt: started, CompletedAt: completed,
		}, err
	}
	return domain.StepOutput{
		StepID: step.ID, Status: domain.StepStatusSuccess, Output: output,
		StartedAt: started, CompletedAt: completed,
	}, nil
}

func (r *Runner) read(ctx context.Context, f *domain.FileStep, jobCtx *domain.JobContext) (any, error) {
	data, err := r.store.Get(ctx, f.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("filerunner: read %q: %w", f.SourcePath, err)
	}

	var rows [][]string
	var sheet string
	switch f.Format {
	case domain.FileCSV:
		rows, err = readCSV(data, delimiterRune(f.Delimiter))
	case domain.FileExcel:
		rows, sheet, err = readExcel(data, f.SheetName)
	default:
		return nil, fmt.Errorf("filerunner: unknown format %q", f.Format)
	}
	if err != nil {
		return nil, err
	}

	rowCount := int64(len(rows))
	jobCtx.Files = append(jobCtx.Files, domain.FileMetadata{
		BlobPath: f.SourcePath,
		Filename: baseName(f.SourcePath),
		Size:     int64(len(data)),
		RowCount: &rowCount,
		At:       time.Now(),
	})

	r.logger.DebugContext(ctx, "file read", "path", f.SourcePath, "rows", len(rows))

	result := map[string]any{"rows": rowsToAny(rows), "rowCount": len(rows)}
	if sheet != "" {
		result["sheet"] = sheet
	}
	return result, nil
}

func (r *Runner) write(ctx context.Context, f *domain.FileStep, jobCtx *domain.JobContext) (any, error) {
	source, ok := jobCtx.Steps[f.SourcePath]
	if !ok {
		return nil, fmt.Errorf("filerunner: write source step %q has no recorded output", f.SourcePath)
	}
	rows := toRows(source.Output)

	var data []byte
	var err error
	switch f.Format {
	case domain.FileCSV:
		data, err = writeCSV(rows, delimiterRune(f.Delimiter))
	case domain.FileExcel:
		data, err = writeExcel(rows, f.SheetName)
	default:
		return nil, fmt.Errorf("filerunner: unknown format %q", f.Format)
	}
	if err != nil {
		return nil, err
	}

	if err := r.store.Put(ctx, f.DestPath, data, contentType(f.Format)); err != nil {
		return nil, fmt.Errorf("filerunner: write %q: %w", f.DestPath, err)
	}

	rowCount := int64(len(rows))
	jobCtx.Files = append(jobCtx.Files, domain.FileMetadata{
		BlobPath: f.DestPath,
		Filename: baseName(f.DestPath),
		Size:     int64(len(data)),
		RowCount: &rowCount,
		At:       time.Now(),
	})

	r.logger.DebugContext(ctx, "file written", "path", f.DestPath, "rows", len(rows))
	return map[string]any{"blobPath": f.DestPath, "rowCount": len(rows)}, nil
}

func readCSV(data []byte, delim rune) ([][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("filerunner: parse csv: %w", err)
	}
	return records, nil
}

func writeCSV(rows [][]string, delim rune) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delim
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("filerunner: write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func readExcel(data []byte, sheetName string) ([][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("filerunner: parse excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	if sheetName == "" {
		sheetName = f.GetSheetList()[0]
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, "", fmt.Errorf("filerunner: read sheet %q: %w", sheetName, err)
	}
	return rows, sheetName, nil
}

func writeExcel(rows [][]string, sheetName string) ([]byte, error) {
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if sheetName != "Sheet1" {
		if _, err := f.NewSheet(sheetName); err != nil {
			return nil, fmt.Errorf("filerunner: create sheet %q: %w", sheetName, err)
		}
		f.SetActiveSheet(0)
		_ = f.DeleteSheet("Sheet1")
	}

	for i, row := range rows {
		cellRow := make([]any, len(row))
		for j, v := range row {
			cellRow[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("filerunner: cell coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &cellRow); err != nil {
			return nil, fmt.Errorf("filerunner: write row %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("filerunner: serialize excel: %w", err)
	}
	return buf.Bytes(), nil
}

func delimiterRune(d string) rune {
	if d == "" {
		return ','
	}
	return []rune(d)[0]
}

func contentType(format domain.FileFormat) string {
	if format == domain.FileExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func rowsToAny(rows [][]string) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		cells := make([]any, len(row))
		for j, c := range row {
			cells[j] = c
		}
		out[i] = cells
	}
	return out
}

// toRows flattens a prior step's recorded output into a plain string grid
// a CSV/Excel writer can consume: a "rows" field holding either row-objects
// (keys become the header row) or row-arrays passes through; anything else
// is rendered as a single cell.
func toRows(output any) [][]string {
	m, ok := output.(map[string]any)
	if ok {
		if raw, ok := m["rows"]; ok {
			output = raw
		}
	}

	arr, ok := output.([]any)
	if !ok {
		return [][]string{{fmt.Sprintf("%v", output)}}
	}
	if len(arr) == 0 {
		return nil
	}

	if _, ok := arr[0].(map[string]any); ok {
		return objectRowsToGrid(arr)
	}
	return arrayRowsToGrid(arr)
}

func objectRowsToGrid(arr []any) [][]string {
	var header []string
	seen := make(map[string]bool)
	for _, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for k := range obj {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}

	grid := make([][]string, 0, len(arr)+1)
	grid = append(grid, header)
	for _, item := range arr {
		obj, _ := item.(map[string]any)
		row := make([]string, len(header))
		for i, k := range header {
			row[i] = fmt.Sprintf("%v", obj[k])
		}
		grid = append(grid, row)
	}
	return grid
}

func arrayRowsToGrid(arr []any) [][]string {
	grid := make([][]string, len(arr))
	for i, item := range arr {
		if cells, ok := item.([]any); ok {
			row := make([]string, len(cells))
			for j, c := range cells {
				row[j] = fmt.Sprintf("%v", c)
			}
			grid[i] = row
			continue
		}
		grid[i] = []string{fmt.Sprintf("%v", item)}
	}
	return grid
}
