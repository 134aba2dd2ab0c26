package worktimesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal worktime HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  60 * time.Second,
	}
}

// HistoryEntry is a raw tracker history record.
type HistoryEntry struct {
	Date string         `json:"date"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Item is a work item as uploaded or sent for processing.
type Item struct {
	Key         string         `json:"key"`
	Name        string         `json:"name,omitempty"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	WorkItemID  string         `json:"workitemId,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	History     []HistoryEntry `json:"history,omitempty"`
}

// Period is an inclusive date range, "YYYY-MM-DD".
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ProcessRequest struct {
	Items         []Item   `json:"items"`
	Periods       []Period `json:"periods"`
	SessionCookie string   `json:"session_cookie,omitempty"`
	StatusName    string   `json:"status_name,omitempty"`
	OpenInterval  string   `json:"open_interval,omitempty"`
	RowOrder      string   `json:"row_order,omitempty"`
}

type ProcessResponse struct {
	ReportID     string   `json:"report_id"`
	Filename     string   `json:"filename"`
	DownloadPath string   `json:"download_path"`
	Sheets       []string `json:"sheets"`
	Warnings     []string `json:"warnings"`
}

// Report is a stored report run.
type Report struct {
	ID           string   `json:"id"`
	CreatedAt    string   `json:"created_at"`
	Status       string   `json:"status"`
	Filename     string   `json:"filename"`
	ItemCount    int      `json:"item_count"`
	Sheets       []string `json:"sheets"`
	Warnings     []string `json:"warnings,omitempty"`
	DownloadedAt *string  `json:"downloaded_at,omitempty"`
}

type Workspace struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Health checks that the service answers.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected health status %q", resp.Status)
	}
	return nil
}

// Process generates a report and returns its download handle.
func (c *Client) Process(ctx context.Context, req ProcessRequest) (ProcessResponse, error) {
	var resp ProcessResponse
	err := c.do(ctx, http.MethodPost, "process", req, &resp)
	return resp, err
}

// Download fetches a generated workbook. The server hands out each workbook once.
func (c *Client) Download(ctx context.Context, reportID string) ([]byte, string, error) {
	resp, err := c.send(ctx, http.MethodGet, "download/"+url.PathEscape(reportID), nil, "")
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	filename := "report.xlsx"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}
	return data, filename, nil
}

// Reports lists stored report runs, newest first.
func (c *Client) Reports(ctx context.Context, limit int) ([]Report, error) {
	endpoint := "reports"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Report `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Workspaces lists the tracker workspaces visible to a session.
func (c *Client) Workspaces(ctx context.Context, sessionCookie string) ([]Workspace, error) {
	var resp struct {
		Workspaces []Workspace `json:"workspaces"`
	}
	err := c.do(ctx, http.MethodGet, "workspaces?session_cookie="+url.QueryEscape(sessionCookie), nil, &resp)
	return resp.Workspaces, err
}

// UploadJSON sends a work item file and returns the items the server parsed.
func (c *Client) UploadJSON(ctx context.Context, filename string, r io.Reader) ([]Item, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, http.MethodPost, "upload-json", &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Items []Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.send(ctx, method, endpoint, &buf, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// send performs the request; non-2xx responses are returned as *APIError.
func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
