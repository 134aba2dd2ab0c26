// Package engine computes how long work items spent in a target status within
// requested periods, counting business hours only, and lays the result out as
// one table per period.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"worktime/internal/calendar"
	"worktime/internal/domain"
)

// Engine is stateless apart from its settings; it is safe to share between
// goroutines as long as each call gets its own input.
type Engine struct {
	Calendar     calendar.Calendar
	OpenInterval OpenIntervalPolicy
	Aliases      map[string]string
	Unassigned   string
	Order        RowOrder
	Log          logrus.FieldLogger
	Now          func() time.Time
}

func New(cal calendar.Calendar, log logrus.FieldLogger) Engine {
	return Engine{
		Calendar:     cal,
		OpenInterval: CloseAtPeriodEnd,
		Unassigned:   "Unassigned",
		Order:        OrderByKey,
		Log:          log,
		Now:          time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() logrus.FieldLogger {
	if e.Log != nil {
		return e.Log
	}
	return logrus.StandardLogger()
}

// Input is everything one report needs. Events reference items by key.
type Input struct {
	Items   []domain.WorkItem
	Events  []domain.StatusEvent
	Periods []domain.PeriodInput
	Status  string
	// OpenInterval and Order override the engine settings when set.
	OpenInterval OpenIntervalPolicy
	Order        RowOrder
}

// Result carries the intermediate data alongside the report.
type Result struct {
	Report        domain.Report
	Periods       []domain.Period
	Intervals     map[string][]domain.StatusInterval
	Aggregates    []domain.Aggregate
	SkippedEvents int
}

// GenerateReport aggregates time in status per item and period.
func (e Engine) GenerateReport(in Input) (Result, error) {
	log := e.log()
	status := strings.TrimSpace(in.Status)
	if status == "" {
		return Result{}, requestError(ErrNoStatus, "status name is required")
	}
	if len(in.Items) == 0 {
		return Result{}, requestError(ErrNoItems, "no work items to report on")
	}
	periods, dropped := ValidPeriods(e.Calendar, in.Periods)
	logDropped(log, dropped)
	if len(periods) == 0 {
		if len(dropped) == 0 {
			return Result{}, requestError(ErrNoValidPeriods, "no periods supplied")
		}
		return Result{}, requestError(ErrNoValidPeriods, "no valid periods: %s", strings.Join(dropped, "; "))
	}

	items, dupes, keyless := uniqueItems(in.Items)
	for _, it := range keyless {
		log.WithFields(logrus.Fields{"name": it.Name, "workitem": it.WorkItemID}).Warn("work item without key ignored")
	}
	if len(items) == 0 {
		return Result{}, requestError(ErrNoItems, "no work items with a key to report on")
	}
	for _, key := range dupes {
		log.WithField("item", key).Warn("duplicate work item ignored")
	}
	order := in.Order
	if order == "" {
		order = e.Order
	}
	SortItems(items, order)

	byItem := make(map[string][]domain.StatusEvent, len(items))
	for _, ev := range in.Events {
		byItem[ev.ItemKey] = append(byItem[ev.ItemKey], ev)
	}

	matcher := NewStatusMatcher(status, e.Aliases)
	ref := e.openIntervalEnd(in.OpenInterval, periods)
	res := Result{Periods: periods, Intervals: make(map[string][]domain.StatusInterval, len(items))}
	keys := make([]string, 0, len(items))
	matched := false
	for _, it := range items {
		keys = append(keys, it.Key)
		events := byItem[it.Key]
		intervals, skipped := ExtractIntervals(it.Key, events, matcher)
		if skipped > 0 {
			log.WithFields(logrus.Fields{"item": it.Key, "skipped": skipped}).Warn("malformed status events skipped")
			res.SkippedEvents += skipped
		}
		for _, ev := range events {
			if !matched && !ev.Malformed() && matcher.Match(ev.Status) {
				matched = true
			}
		}
		res.Intervals[it.Key] = closeOpen(intervals, ref)
	}

	res.Aggregates = Aggregate(e.Calendar, keys, res.Intervals, periods)
	unassigned := e.Unassigned
	if unassigned == "" {
		unassigned = "Unassigned"
	}
	res.Report = domain.Report{
		Status:      status,
		GeneratedAt: e.Calendar.In(e.now()),
		Tables:      Assemble(items, periods, res.Aggregates, unassigned),
	}
	res.Report.Warnings = append(res.Report.Warnings, dropped...)
	for _, key := range dupes {
		res.Report.Warnings = append(res.Report.Warnings, fmt.Sprintf("duplicate work item %s ignored", key))
	}
	if len(keyless) > 0 {
		res.Report.Warnings = append(res.Report.Warnings, fmt.Sprintf("%d work item(s) without a key ignored", len(keyless)))
	}
	if res.SkippedEvents > 0 {
		res.Report.Warnings = append(res.Report.Warnings, fmt.Sprintf("%d malformed status event(s) skipped", res.SkippedEvents))
	}
	if !matched {
		log.WithField("status", status).Warn("target status not found in any history")
		res.Report.Warnings = append(res.Report.Warnings, fmt.Sprintf("status %q does not occur in any item history", status))
	}
	return res, nil
}

func (e Engine) openIntervalEnd(override OpenIntervalPolicy, periods []domain.Period) time.Time {
	policy := override
	if policy == "" {
		policy = e.OpenInterval
	}
	if policy == CloseAtNow {
		return e.now()
	}
	latest := periods[0].To
	for _, p := range periods[1:] {
		if p.To.After(latest) {
			latest = p.To
		}
	}
	return latest
}

// uniqueItems drops items without a key and repeated keys, keeping the first.
func uniqueItems(in []domain.WorkItem) ([]domain.WorkItem, []string, []domain.WorkItem) {
	seen := make(map[string]bool, len(in))
	out := make([]domain.WorkItem, 0, len(in))
	var dupes []string
	var keyless []domain.WorkItem
	for _, it := range in {
		if strings.TrimSpace(it.Key) == "" {
			keyless = append(keyless, it)
			continue
		}
		if seen[it.Key] {
			dupes = append(dupes, it.Key)
			continue
		}
		seen[it.Key] = true
		out = append(out, it)
	}
	return out, dupes, keyless
}
