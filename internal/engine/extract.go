package engine

import (
	"sort"
	"time"

	"worktime/internal/domain"
)

// ExtractIntervals turns the status log of one item into ascending,
// non-overlapping intervals spent in the matcher's target status. Events are
// sorted by timestamp; equal timestamps keep their input order. An interval
// opens on a transition into the target and closes at the next event with a
// different status; if no such event follows it stays open. Malformed events
// are dropped and counted.
func ExtractIntervals(itemKey string, events []domain.StatusEvent, m StatusMatcher) ([]domain.StatusInterval, int) {
	valid := make([]domain.StatusEvent, 0, len(events))
	skipped := 0
	for _, e := range events {
		if e.Malformed() {
			skipped++
			continue
		}
		valid = append(valid, e)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp.Before(valid[j].Timestamp)
	})

	var intervals []domain.StatusInterval
	var current *domain.StatusInterval
	for _, e := range valid {
		in := m.Match(e.Status)
		switch {
		case in && current == nil:
			current = &domain.StatusInterval{ItemKey: itemKey, Start: e.Timestamp}
		case !in && current != nil:
			current.End = e.Timestamp
			if current.End.After(current.Start) {
				intervals = append(intervals, *current)
			}
			current = nil
		}
	}
	if current != nil {
		current.Open = true
		intervals = append(intervals, *current)
	}
	return intervals, skipped
}

// closeOpen resolves open intervals at ref. An interval opened at or after
// ref contributes nothing and is dropped.
func closeOpen(intervals []domain.StatusInterval, ref time.Time) []domain.StatusInterval {
	out := intervals[:0]
	for _, iv := range intervals {
		if iv.Open {
			if !ref.After(iv.Start) {
				continue
			}
			iv.End = ref
		}
		out = append(out, iv)
	}
	return out
}
