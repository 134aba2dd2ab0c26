package engine_test

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"worktime/internal/calendar"
	"worktime/internal/domain"
	"worktime/internal/engine"
)

var cal = calendar.Default()

// at returns a March 2024 instant in the calendar zone; the 4th is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 3, day, hour, minute, 0, 0, cal.Location)
}

func newEngine() engine.Engine {
	log := logrus.New()
	log.SetOutput(io.Discard)
	e := engine.New(cal, log)
	e.Now = func() time.Time { return at(20, 12, 0) }
	return e
}

func items(keys ...string) []domain.WorkItem {
	out := make([]domain.WorkItem, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.WorkItem{Key: k, Name: "Task " + k, WorkItemID: "id-" + k})
	}
	return out
}

func rowFor(t *testing.T, table domain.Table, key string) domain.Row {
	t.Helper()
	for _, r := range table.Rows {
		if r.Key == key {
			return r
		}
	}
	t.Fatalf("row %s not found in %s", key, table.Sheet)
	return domain.Row{}
}

func TestSingleDaySpanningBusinessHours(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 7, 0), "in progress"),
			ev("A", at(4, 18, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress",
	})
	require.NoError(t, err)
	require.Len(t, res.Report.Tables, 1)
	row := rowFor(t, res.Report.Tables[0], "A")
	assert.Equal(t, 540.0, row.Minutes)
	assert.Equal(t, 9.0, row.Hours)
	assert.Empty(t, res.Report.Warnings)
}

func TestItemNeverInStatusStillListed(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A", "B"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), "in progress"),
			ev("A", at(4, 10, 0), "done"),
			ev("B", at(4, 9, 0), "review"),
		},
		Periods: []domain.PeriodInput{
			{Start: "2024-03-04", End: "2024-03-05"},
			{Start: "2024-03-06", End: "2024-03-08"},
		},
		Status: "in progress",
	})
	require.NoError(t, err)
	require.Len(t, res.Report.Tables, 2)
	for _, table := range res.Report.Tables {
		require.Len(t, table.Rows, 2)
		assert.Zero(t, rowFor(t, table, "B").Minutes)
	}
	assert.Equal(t, 60.0, rowFor(t, res.Report.Tables[0], "A").Minutes)
	assert.Len(t, res.Aggregates, 4)
}

func TestInvalidPeriodDropped(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), "in progress"),
			ev("A", at(4, 10, 0), "done"),
		},
		Periods: []domain.PeriodInput{
			{Start: "2024-03-04", End: "2024-03-04"},
			{Start: "2024-03-05", End: ""},
		},
		Status: "in progress",
	})
	require.NoError(t, err)
	require.Len(t, res.Report.Tables, 1)
	assert.Equal(t, "2024-03-04_2024-03-04", res.Report.Tables[0].Sheet)
	require.Len(t, res.Report.Warnings, 1)
	assert.Contains(t, res.Report.Warnings[0], "period 2")
}

func TestIntervalAcrossWeekend(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(8, 10, 0), "in progress"),
			ev("A", at(11, 10, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-08", End: "2024-03-11"}},
		Status:  "in progress",
	})
	require.NoError(t, err)
	assert.Equal(t, 540.0, rowFor(t, res.Report.Tables[0], "A").Minutes)
}

func TestWeekendPeriodIsZero(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A", "B"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), "in progress"),
			ev("B", at(8, 9, 0), "in progress"),
			ev("B", at(12, 9, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-09", End: "2024-03-10"}},
		Status:  "in progress",
	})
	require.NoError(t, err)
	for _, row := range res.Report.Tables[0].Rows {
		assert.Zero(t, row.Minutes, row.Key)
	}
	assert.Zero(t, res.Report.Tables[0].TotalMinutes)
}

func TestRequestErrors(t *testing.T) {
	e := newEngine()
	_, err := e.GenerateReport(engine.Input{
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress",
	})
	assert.ErrorIs(t, err, engine.ErrNoItems)

	_, err = e.GenerateReport(engine.Input{
		Items:   items("A"),
		Periods: []domain.PeriodInput{{Start: "2024-03-05", End: "2024-03-04"}, {Start: "", End: "2024-03-04"}},
		Status:  "in progress",
	})
	require.ErrorIs(t, err, engine.ErrNoValidPeriods)
	var reqErr *engine.RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Contains(t, reqErr.Reason, "period 1")
	assert.Contains(t, reqErr.Reason, "period 2")

	_, err = e.GenerateReport(engine.Input{
		Items:   items("A"),
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
	})
	assert.ErrorIs(t, err, engine.ErrNoStatus)
}

func TestUnknownStatusYieldsZeroReport(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), "in progress"),
			ev("A", at(4, 12, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-08"}},
		Status:  "blocked",
	})
	require.NoError(t, err)
	assert.Zero(t, res.Report.Tables[0].TotalMinutes)
	require.Len(t, res.Report.Warnings, 1)
	assert.Contains(t, res.Report.Warnings[0], "blocked")
}

func TestOpenIntervalPolicies(t *testing.T) {
	in := engine.Input{
		Items:   items("A"),
		Events:  []domain.StatusEvent{ev("A", at(4, 9, 0), "in progress")},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-08"}},
		Status:  "in progress",
	}
	e := newEngine()
	res, err := e.GenerateReport(in)
	require.NoError(t, err)
	// Monday 09:00-17:00 plus Tuesday to Friday.
	assert.Equal(t, 8.0+4*9, rowFor(t, res.Report.Tables[0], "A").Hours)

	e.Now = func() time.Time { return at(5, 12, 0) }
	in.OpenInterval = engine.CloseAtNow
	res, err = e.GenerateReport(in)
	require.NoError(t, err)
	assert.Equal(t, 8.0+4, rowFor(t, res.Report.Tables[0], "A").Hours)

	// Opened after the reference instant: contributes nothing.
	e.Now = func() time.Time { return at(4, 8, 0) }
	res, err = e.GenerateReport(in)
	require.NoError(t, err)
	assert.Zero(t, rowFor(t, res.Report.Tables[0], "A").Minutes)
}

func TestAliasesUnifyLookalikeStatus(t *testing.T) {
	lookalike := "in pr\u043egress"
	e := newEngine()
	in := engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), lookalike),
			ev("A", at(4, 11, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress",
	}
	res, err := e.GenerateReport(in)
	require.NoError(t, err)
	assert.Zero(t, rowFor(t, res.Report.Tables[0], "A").Minutes)

	e.Aliases = map[string]string{lookalike: "in progress"}
	res, err = e.GenerateReport(in)
	require.NoError(t, err)
	assert.Equal(t, 120.0, rowFor(t, res.Report.Tables[0], "A").Minutes)
}

func TestSurroundingSpaceIgnoredOnBothSides(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), " in progress"),
			ev("A", at(4, 10, 0), "in progress "),
			ev("A", at(4, 11, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress ",
	})
	require.NoError(t, err)
	assert.Equal(t, 120.0, rowFor(t, res.Report.Tables[0], "A").Minutes)
	assert.Empty(t, res.Report.Warnings)
}

func TestItemsWithoutKeyDroppedWithWarning(t *testing.T) {
	in := items("A")
	in = append(in, domain.WorkItem{Name: "orphan", WorkItemID: "9"}, domain.WorkItem{Key: "  "})
	res, err := newEngine().GenerateReport(engine.Input{
		Items:   in,
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress",
	})
	require.NoError(t, err)
	require.Len(t, res.Report.Tables[0].Rows, 1)
	assert.Contains(t, res.Report.Warnings, "2 work item(s) without a key ignored")
}

func TestRowsSortedAndAssigneeMarker(t *testing.T) {
	in := items("C", "A", "B")
	in[0].Assignee = "Zoe"
	in[1].Assignee = "Adam"
	e := newEngine()
	e.Unassigned = "Nobody"
	res, err := e.GenerateReport(engine.Input{
		Items: in,
		Events: []domain.StatusEvent{
			ev("C", at(4, 8, 0), "in progress"),
			ev("C", at(4, 12, 0), "done"),
			ev("A", at(4, 8, 0), "in progress"),
			ev("A", at(4, 9, 0), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-04"}},
		Status:  "in progress",
	})
	require.NoError(t, err)
	table := res.Report.Tables[0]
	var keys []string
	for _, r := range table.Rows {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"A", "B", "C"}, keys)
	assert.Equal(t, "Nobody", rowFor(t, table, "B").Assignee)
	assert.Equal(t, 300.0, table.TotalMinutes)
	assert.Equal(t, 5.0, table.TotalHours)
	require.Len(t, table.Assignees, 3)
	assert.Equal(t, domain.AssigneeSummary{Assignee: "Adam", Hours: 1, Days: 0.1, Tasks: 1}, table.Assignees[0])
	assert.Equal(t, domain.AssigneeSummary{Assignee: "Nobody"}, table.Assignees[1])
	assert.Equal(t, domain.AssigneeSummary{Assignee: "Zoe", Hours: 4, Days: 0.5, Tasks: 1}, table.Assignees[2])
}

func TestDuplicatePeriodsGetDistinctSheets(t *testing.T) {
	res, err := newEngine().GenerateReport(engine.Input{
		Items: items("A"),
		Periods: []domain.PeriodInput{
			{Start: "2024-03-04", End: "2024-03-08"},
			{Start: "2024-03-04", End: "2024-03-08"},
			{Start: "2024-03-11", End: "2024-03-15"},
		},
		Status: "in progress",
	})
	require.NoError(t, err)
	var sheets []string
	for _, table := range res.Report.Tables {
		sheets = append(sheets, table.Sheet)
	}
	assert.Equal(t, []string{"2024-03-04_2024-03-08", "2024-03-04_2024-03-08 (2)", "2024-03-11_2024-03-15"}, sheets)
}

func TestGenerateReportIsDeterministic(t *testing.T) {
	in := engine.Input{
		Items: items("B", "A", "C"),
		Events: []domain.StatusEvent{
			ev("A", at(4, 9, 0), "in progress"),
			ev("B", at(5, 9, 0), "in progress"),
			ev("A", at(6, 9, 0), "done"),
			ev("C", at(7, 9, 0), "in progress"),
			ev("C", at(7, 15, 30), "done"),
		},
		Periods: []domain.PeriodInput{{Start: "2024-03-04", End: "2024-03-06"}, {Start: "2024-03-07", End: "2024-03-08"}},
		Status:  "in progress",
	}
	e := newEngine()
	first, err := e.GenerateReport(in)
	require.NoError(t, err)
	second, err := e.GenerateReport(in)
	require.NoError(t, err)
	a, _ := json.Marshal(first.Report.Tables)
	b, _ := json.Marshal(second.Report.Tables)
	assert.Equal(t, string(a), string(b))
}

// Durations summed over disjoint periods never exceed the working time of the
// item's intervals.
func TestAggregateBoundedByIntervals(t *testing.T) {
	e := newEngine()
	statuses := []string{"todo", "in progress", "review"}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "events")
		var events []domain.StatusEvent
		for i := 0; i < n; i++ {
			offset := time.Duration(rapid.IntRange(0, 60*24*21).Draw(rt, "offset")) * time.Minute
			status := rapid.SampledFrom(statuses).Draw(rt, "status")
			events = append(events, ev("A", at(1, 0, 0).Add(offset), status))
		}
		var periods []domain.PeriodInput
		day := 1
		for day < 22 {
			length := rapid.IntRange(0, 6).Draw(rt, "length")
			end := day + length
			if end > 21 {
				end = 21
			}
			periods = append(periods, domain.PeriodInput{
				Start: at(day, 0, 0).Format("2006-01-02"),
				End:   at(end, 0, 0).Format("2006-01-02"),
			})
			day = end + 1 + rapid.IntRange(0, 2).Draw(rt, "gap")
		}
		res, err := e.GenerateReport(engine.Input{Items: items("A"), Events: events, Periods: periods, Status: "in progress"})
		if err != nil {
			rt.Fatalf("generate: %v", err)
		}
		var aggregated, bound time.Duration
		for _, a := range res.Aggregates {
			if a.Duration < 0 {
				rt.Fatalf("negative aggregate %v", a)
			}
			aggregated += a.Duration
		}
		ivs := res.Intervals["A"]
		for i, iv := range ivs {
			if i > 0 && iv.Start.Before(ivs[i-1].End) {
				rt.Fatalf("intervals overlap: %v %v", ivs[i-1], iv)
			}
			bound += cal.WorkingTime(calendar.Range{Start: iv.Start, End: iv.End})
		}
		if aggregated > bound {
			rt.Fatalf("aggregated %v exceeds interval working time %v", aggregated, bound)
		}
	})
}
