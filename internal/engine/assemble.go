package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"worktime/internal/domain"
)

const (
	// HoursPerDay converts hours into person-days in assignee summaries.
	HoursPerDay = 8
	// maxSheetName is the spreadsheet limit on sheet name length.
	maxSheetName = 31
)

// Minutes are reported rounded to two decimals; hours are minutes/60 rounded
// to two decimals. Both derive from the exact duration, never from each other.
func minutes(d time.Duration) float64 { return round(d.Minutes(), 2) }
func hours(d time.Duration) float64   { return round(d.Hours(), 2) }

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// SortItems orders items deterministically for the given row order. Key and
// then work item id always break ties.
func SortItems(items []domain.WorkItem, order RowOrder) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch order {
		case OrderByAssignee:
			if a.Assignee != b.Assignee {
				return a.Assignee < b.Assignee
			}
		case OrderByName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.WorkItemID < b.WorkItemID
	})
}

type cell struct {
	key    string
	period int
}

// Assemble builds one table per period. Items must already be sorted.
func Assemble(items []domain.WorkItem, periods []domain.Period, aggs []domain.Aggregate, unassigned string) []domain.Table {
	durations := make(map[cell]time.Duration, len(aggs))
	for _, a := range aggs {
		durations[cell{a.ItemKey, a.PeriodIndex}] += a.Duration
	}
	names := SheetNames(periods)
	tables := make([]domain.Table, 0, len(periods))
	for i, p := range periods {
		t := domain.Table{Sheet: names[i], Period: p, Rows: make([]domain.Row, 0, len(items))}
		var total time.Duration
		byAssignee := map[string]*domain.AssigneeSummary{}
		perAssignee := map[string]time.Duration{}
		var assignees []string
		for _, it := range items {
			d := durations[cell{it.Key, p.Index}]
			total += d
			assignee := it.Assignee
			if assignee == "" {
				assignee = unassigned
			}
			t.Rows = append(t.Rows, domain.Row{
				Key:      it.Key,
				Name:     it.Name,
				Assignee: assignee,
				Minutes:  minutes(d),
				Hours:    hours(d),
			})
			s, ok := byAssignee[assignee]
			if !ok {
				s = &domain.AssigneeSummary{Assignee: assignee}
				byAssignee[assignee] = s
				assignees = append(assignees, assignee)
			}
			perAssignee[assignee] += d
			if d > 0 {
				s.Tasks++
			}
		}
		sort.Strings(assignees)
		for _, a := range assignees {
			s := byAssignee[a]
			s.Hours = hours(perAssignee[a])
			s.Days = round(perAssignee[a].Hours()/HoursPerDay, 1)
			t.Assignees = append(t.Assignees, *s)
		}
		t.TotalMinutes = minutes(total)
		t.TotalHours = hours(total)
		tables = append(tables, t)
	}
	return tables
}

// SheetNames derives unique page names "start_end". Repeated periods get
// their 1-based position appended, so names only depend on the period list.
func SheetNames(periods []domain.Period) []string {
	used := make(map[string]bool, len(periods))
	names := make([]string, len(periods))
	for i, p := range periods {
		base := truncate(p.Start+"_"+p.End, maxSheetName)
		name := base
		for n := i + 1; used[name]; n++ {
			suffix := fmt.Sprintf(" (%d)", n)
			name = truncate(base, maxSheetName-len(suffix)) + suffix
		}
		used[name] = true
		names[i] = name
	}
	return names
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
