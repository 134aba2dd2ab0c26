package xlsx_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"worktime/internal/domain"
	"worktime/internal/xlsx"
)

func sampleReport() domain.Report {
	return domain.Report{
		Status: "in progress",
		Tables: []domain.Table{
			{
				Sheet: "2024-03-04_2024-03-08",
				Rows: []domain.Row{
					{Key: "A", Name: "Alpha", Assignee: "Ann", Minutes: 540, Hours: 9},
					{Key: "B", Name: "Beta", Assignee: "Unassigned"},
				},
				TotalMinutes: 540,
				TotalHours:   9,
				Assignees: []domain.AssigneeSummary{
					{Assignee: "Ann", Hours: 9, Days: 1.1, Tasks: 1},
					{Assignee: "Unassigned"},
				},
			},
			{Sheet: "2024-03-04_2024-03-08 (2)", Rows: []domain.Row{{Key: "A", Name: "Alpha", Assignee: "Ann"}}},
		},
	}
}

func TestWriteOneSheetPerTable(t *testing.T) {
	data, err := xlsx.Bytes(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"2024-03-04_2024-03-08", "2024-03-04_2024-03-08 (2)"}, f.GetSheetList())

	rows, err := f.GetRows("2024-03-04_2024-03-08")
	require.NoError(t, err)
	assert.Equal(t, []string{"Key", "Name", "Assignee", "Minutes", "Hours"}, rows[0])
	assert.Equal(t, []string{"A", "Alpha", "Ann", "540", "9"}, rows[1])
	assert.Equal(t, []string{"B", "Beta", "Unassigned", "0", "0"}, rows[2])
	assert.Equal(t, []string{"Total", "", "", "540", "9"}, rows[3])
	assert.Equal(t, []string{"Assignee", "Hours", "Days", "Tasks"}, rows[5])
	assert.Equal(t, []string{"Ann", "9", "1.1", "1"}, rows[6])
}

func TestWriteRejectsEmptyReport(t *testing.T) {
	_, err := xlsx.Bytes(domain.Report{})
	assert.Error(t, err)
}
