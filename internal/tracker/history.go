package tracker

import (
	"fmt"
	"strings"
	"time"

	"worktime/internal/domain"
)

// StatusUpdated is the history entry type carrying status transitions.
const StatusUpdated = "StatusUpdated"

// HistoryEntry is one raw record of a work item history. Data stays loosely
// typed because its shape depends on Type.
type HistoryEntry struct {
	Date string         `json:"date"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// NewStatus returns data.newValue.statusName, or "" when absent.
func (e HistoryEntry) NewStatus() string {
	nv, ok := e.Data["newValue"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := nv["statusName"].(string)
	return name
}

// StatusEvents keeps the status transitions of a history. Entries with an
// unreadable date or payload are returned as malformed events (zero
// timestamp or empty status) so the engine can count and skip them.
func StatusEvents(itemKey string, entries []HistoryEntry) []domain.StatusEvent {
	var out []domain.StatusEvent
	for _, e := range entries {
		if e.Type != StatusUpdated {
			continue
		}
		ev := domain.StatusEvent{ItemKey: itemKey}
		if ts, err := ParseTimestamp(e.Date); err == nil {
			ev.Timestamp = ts
		}
		ev.Status = e.NewStatus()
		out = append(out, ev)
	}
	return out
}

// ParseTimestamp reads ISO-8601 instants such as "2024-03-04T09:00:00Z" or
// "2024-03-04T12:00:00.123+03:00". Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
