// Package upload reads the JSON work item files users upload instead of
// picking items from the tracker.
package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"worktime/internal/domain"
	"worktime/internal/tracker"
)

// Item is a work item in upload and API form. History is optional; when it
// is present the item can be reported on without calling the tracker.
type Item struct {
	Key         string                 `json:"key"`
	Name        string                 `json:"name,omitempty"`
	WorkspaceID string                 `json:"workspaceId,omitempty"`
	WorkItemID  string                 `json:"workitemId,omitempty"`
	Assignee    string                 `json:"assignee,omitempty"`
	History     []tracker.HistoryEntry `json:"history,omitempty"`
}

// WorkItem drops the history.
func (it Item) WorkItem() domain.WorkItem {
	return domain.WorkItem{
		Key:         it.Key,
		Name:        it.Name,
		WorkspaceID: it.WorkspaceID,
		WorkItemID:  it.WorkItemID,
		Assignee:    it.Assignee,
	}
}

var ErrInvalidJSON = errors.New("invalid JSON file")

// Parse reads {"items": [...]}. Item fields are read leniently: tracker
// spellings (id, title, assignee objects, numeric ids) are accepted.
func Parse(r io.Reader) ([]Item, error) {
	var doc struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	items := make([]Item, 0, len(doc.Items))
	for i, raw := range doc.Items {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidJSON, i+1, err)
		}
		var h struct {
			History []tracker.HistoryEntry `json:"history"`
		}
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, fmt.Errorf("%w: item %d history: %v", ErrInvalidJSON, i+1, err)
		}
		wi := tracker.ItemFromMap(m)
		items = append(items, Item{
			Key:         wi.Key,
			Name:        wi.Name,
			WorkspaceID: wi.WorkspaceID,
			WorkItemID:  wi.WorkItemID,
			Assignee:    wi.Assignee,
			History:     h.History,
		})
	}
	return items, nil
}

// Split separates items from the status events of their embedded histories.
// The returned set lists keys that carried a history.
func Split(items []Item) ([]domain.WorkItem, []domain.StatusEvent, map[string]bool) {
	work := make([]domain.WorkItem, 0, len(items))
	var events []domain.StatusEvent
	embedded := map[string]bool{}
	for _, it := range items {
		work = append(work, it.WorkItem())
		if it.History != nil {
			embedded[it.Key] = true
			events = append(events, tracker.StatusEvents(it.Key, it.History)...)
		}
	}
	return work, events, embedded
}
