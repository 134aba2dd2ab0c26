package server

import (
	"worktime/internal/domain"
	"worktime/internal/upload"
)

// Request payloads

type ProcessRequest struct {
	Items         []upload.Item        `json:"items"`
	Periods       []domain.PeriodInput `json:"periods"`
	SessionCookie string               `json:"session_cookie,omitempty"`
	StatusName    string               `json:"status_name,omitempty" example:"in progress"`
	OpenInterval  string               `json:"open_interval,omitempty" enum:"period_end,now"`
	RowOrder      string               `json:"row_order,omitempty" enum:"key,assignee,name"`
}

// Response payloads

type ProcessResponse struct {
	ReportID     string   `json:"report_id"`
	Filename     string   `json:"filename"`
	DownloadPath string   `json:"download_path"`
	Sheets       []string `json:"sheets"`
	Warnings     []string `json:"warnings"`
}

type UploadResponse struct {
	Items []upload.Item `json:"items"`
	Count int           `json:"count"`
}

type WorkspacesResponse struct {
	Workspaces []domain.Workspace `json:"workspaces"`
}

type WorkItemsResponse struct {
	Items []upload.Item `json:"items"`
}

type ReportsResponse struct {
	Items []domain.ReportRun `json:"items"`
}

func workItemResponse(items []domain.WorkItem) []upload.Item {
	res := make([]upload.Item, 0, len(items))
	for _, it := range items {
		res = append(res, upload.Item{
			Key:         it.Key,
			Name:        it.Name,
			WorkspaceID: it.WorkspaceID,
			WorkItemID:  it.WorkItemID,
			Assignee:    it.Assignee,
		})
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
