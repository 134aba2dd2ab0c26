package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"worktime/internal/calendar"
	"worktime/internal/domain"
)

// ValidPeriods parses the requested periods and drops invalid ones. The
// returned reasons describe every dropped period in input order.
func ValidPeriods(cal calendar.Calendar, inputs []domain.PeriodInput) ([]domain.Period, []string) {
	var periods []domain.Period
	var dropped []string
	for i, in := range inputs {
		if strings.TrimSpace(in.Start) == "" || strings.TrimSpace(in.End) == "" {
			dropped = append(dropped, fmt.Sprintf("period %d: start and end are required", i+1))
			continue
		}
		r, err := cal.Dates(in.Start, in.End)
		if err != nil {
			dropped = append(dropped, fmt.Sprintf("period %d: %v", i+1, err))
			continue
		}
		periods = append(periods, domain.Period{
			Index: len(periods),
			Start: r.Start.Format("2006-01-02"),
			End:   r.End.AddDate(0, 0, -1).Format("2006-01-02"),
			From:  r.Start,
			To:    r.End,
		})
	}
	return periods, dropped
}

func periodRange(p domain.Period) calendar.Range {
	return calendar.Range{Start: p.From, End: p.To}
}

func intervalRange(iv domain.StatusInterval) calendar.Range {
	return calendar.Range{Start: iv.Start, End: iv.End}
}

// Aggregate computes one entry per (item, period) in item-major order,
// zero durations included.
func Aggregate(cal calendar.Calendar, keys []string, intervals map[string][]domain.StatusInterval, periods []domain.Period) []domain.Aggregate {
	out := make([]domain.Aggregate, 0, len(keys)*len(periods))
	for _, key := range keys {
		for _, p := range periods {
			pr := periodRange(p)
			var total time.Duration
			for _, iv := range intervals[key] {
				total += cal.Overlap(intervalRange(iv), pr)
			}
			out = append(out, domain.Aggregate{ItemKey: key, PeriodIndex: p.Index, Duration: total})
		}
	}
	return out
}

func logDropped(log logrus.FieldLogger, dropped []string) {
	for _, reason := range dropped {
		log.WithField("reason", reason).Warn("period dropped")
	}
}
