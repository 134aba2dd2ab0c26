package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"worktime/internal/domain"
)

// unwrapList accepts a bare JSON array or an object wrapping it under one of keys.
func unwrapList(data []byte, keys ...string) ([]map[string]any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	var list []any
	switch v := raw.(type) {
	case []any:
		list = v
	case map[string]any:
		found := false
		for _, k := range keys {
			if inner, ok := v[k].([]any); ok {
				list, found = inner, true
				break
			}
		}
		if !found && len(v) > 0 {
			list = []any{v}
		}
	}
	out := make([]map[string]any, 0, len(list))
	for _, el := range list {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// field returns the first non-empty value among keys as a string.
func field(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// assigneeName reads an assignee given either as an object or a plain name.
func assigneeName(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		return field(a, "displayName", "name", "fullName", "login")
	}
	return ""
}

func toWorkspace(m map[string]any) (domain.Workspace, bool) {
	ws := domain.Workspace{
		ID:   field(m, "id", "workspaceId", "_id"),
		Name: field(m, "name", "title", "displayName", "workspaceName"),
		Key:  field(m, "key", "workspaceKey"),
	}
	if ws.Name == "" {
		ws.Name = "Untitled"
	}
	return ws, ws.ID != ""
}

func toWorkItem(m map[string]any, workspaceID string) (domain.WorkItem, bool) {
	it := domain.WorkItem{
		Key:         field(m, "key", "id", "_id"),
		Name:        field(m, "name", "title", "displayName", "workItemName"),
		WorkspaceID: workspaceID,
		WorkItemID:  field(m, "id", "workitemId", "workItemId", "_id"),
		Assignee:    assigneeName(m["assignee"]),
	}
	if it.Name == "" {
		it.Name = "Untitled"
	}
	return it, it.Key != "" && it.WorkItemID != ""
}

// ItemFromMap converts a loosely shaped work item, as found in uploads, into a WorkItem.
func ItemFromMap(m map[string]any) domain.WorkItem {
	it, _ := toWorkItem(m, field(m, "workspaceId", "workspace_id"))
	if id := field(m, "workitemId", "workItemId", "workitem_id", "id", "_id"); id != "" {
		it.WorkItemID = id
	}
	return it
}
