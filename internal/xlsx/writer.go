// Package xlsx renders report tables as a workbook with one sheet per period.
package xlsx

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"worktime/internal/domain"
)

const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	rowHeader     = []any{"Key", "Name", "Assignee", "Minutes", "Hours"}
	summaryHeader = []any{"Assignee", "Hours", "Days", "Tasks"}
)

// Write renders the report into w.
func Write(w io.Writer, report domain.Report) error {
	if len(report.Tables) == 0 {
		return fmt.Errorf("report has no tables")
	}
	f := excelize.NewFile()
	defer f.Close()
	for i, table := range report.Tables {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), table.Sheet); err != nil {
				return fmt.Errorf("sheet %s: %w", table.Sheet, err)
			}
		} else if _, err := f.NewSheet(table.Sheet); err != nil {
			return fmt.Errorf("sheet %s: %w", table.Sheet, err)
		}
		if err := writeTable(f, table); err != nil {
			return fmt.Errorf("sheet %s: %w", table.Sheet, err)
		}
	}
	f.SetActiveSheet(0)
	_, err := f.WriteTo(w)
	return err
}

// Bytes renders the report into memory.
func Bytes(report domain.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTable(f *excelize.File, t domain.Table) error {
	row := 1
	put := func(values []any) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return f.SetSheetRow(t.Sheet, cell, &values)
	}
	if err := put(rowHeader); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := put([]any{r.Key, r.Name, r.Assignee, r.Minutes, r.Hours}); err != nil {
			return err
		}
	}
	if err := put([]any{"Total", "", "", t.TotalMinutes, t.TotalHours}); err != nil {
		return err
	}
	row++
	if err := put(summaryHeader); err != nil {
		return err
	}
	for _, s := range t.Assignees {
		if err := put([]any{s.Assignee, s.Hours, s.Days, s.Tasks}); err != nil {
			return err
		}
	}
	return nil
}
