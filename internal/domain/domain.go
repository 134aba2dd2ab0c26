package domain

import (
	"strings"
	"time"
)

// WorkItem is a tracked task as loaded from an upload or the tracker.
type WorkItem struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspace_id"`
	WorkItemID  string `json:"workitem_id"`
	Assignee    string `json:"assignee,omitempty"`
}

// StatusEvent is one observed status transition of a work item.
type StatusEvent struct {
	ItemKey   string    `json:"item_key"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

// Malformed reports whether the event lacks a timestamp or a status name.
func (e StatusEvent) Malformed() bool {
	return e.Timestamp.IsZero() || strings.TrimSpace(e.Status) == ""
}

// StatusInterval is a maximal span [Start, End) spent in the target status.
// Open intervals have no observed closing event; End is zero until resolved.
type StatusInterval struct {
	ItemKey string    `json:"item_key"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end,omitempty"`
	Open    bool      `json:"open"`
}

// PeriodInput is a user supplied date range, "YYYY-MM-DD" inclusive on both ends.
type PeriodInput struct {
	Start string `json:"start" example:"2024-03-04"`
	End   string `json:"end" example:"2024-03-08"`
}

// Period is a validated inclusive date range.
type Period struct {
	Index int       `json:"index"`
	Start string    `json:"start"`
	End   string    `json:"end"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Aggregate is the working time one item spent in the target status within one period.
type Aggregate struct {
	ItemKey     string        `json:"item_key"`
	PeriodIndex int           `json:"period_index"`
	Duration    time.Duration `json:"duration"`
}

// Minutes returns the aggregate duration in minutes.
func (a Aggregate) Minutes() float64 {
	return a.Duration.Minutes()
}

// Row is one item line of a period table.
type Row struct {
	Key      string  `json:"key"`
	Name     string  `json:"name"`
	Assignee string  `json:"assignee"`
	Minutes  float64 `json:"minutes"`
	Hours    float64 `json:"hours"`
}

// AssigneeSummary totals a period table per assignee.
type AssigneeSummary struct {
	Assignee string  `json:"assignee"`
	Hours    float64 `json:"hours"`
	Days     float64 `json:"days"`
	Tasks    int     `json:"tasks"`
}

// Table is the report page for a single period.
type Table struct {
	Sheet        string            `json:"sheet"`
	Period       Period            `json:"period"`
	Rows         []Row             `json:"rows"`
	TotalMinutes float64           `json:"total_minutes"`
	TotalHours   float64           `json:"total_hours"`
	Assignees    []AssigneeSummary `json:"assignees"`
}

// Report is the full result of one generation run.
type Report struct {
	Status      string    `json:"status"`
	GeneratedAt time.Time `json:"generated_at"`
	Tables      []Table   `json:"tables"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// ReportRun is a persisted report generation.
type ReportRun struct {
	ID           string   `json:"id"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	Status       string   `json:"status"`
	Filename     string   `json:"filename"`
	Periods      []Period `json:"periods"`
	ItemCount    int      `json:"item_count"`
	Sheets       []string `json:"sheets"`
	Warnings     []string `json:"warnings,omitempty"`
	DownloadedAt *string  `json:"downloaded_at,omitempty" format:"date-time"`
}

// Workspace is a tracker project container.
type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// Event is an entry of the local audit log.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}
