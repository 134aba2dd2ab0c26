// Package tracker talks to the task tracker HTTP API on behalf of a caller
// who supplies the tracker session cookie with every call.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"worktime/internal/domain"
)

var (
	ErrUnauthorized = errors.New("tracker rejected the session")
	ErrNotFound     = errors.New("tracker resource not found")
)

// StatusError wraps non-2xx responses other than auth failures.
type StatusError struct {
	Code int
	URL  string
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker error: status=%d url=%s body=%s", e.Code, e.URL, e.Body)
}

var workspaceEndpoints = []string{
	"/api/v1/workspaces",
	"/api/workspaces",
	"/api/v1/user/workspaces",
	"/rest/api/1.0/workspaces",
	"/rest/api/workspaces",
}

var workItemEndpoints = []string{
	"/api/v1/workspaces/%s/workItems",
	"/api/workspaces/%s/workItems",
	"/api/v1/workspaces/%s/items",
	"/api/workspaces/%s/items",
	"/rest/api/1.0/workspaces/%s/workItems",
	"/rest/api/workspaces/%s/workItems",
}

const historyEndpoint = "/history/api/v1/workspaces/%s/workItems/%s/history"

// Client is a tracker API client.
type Client struct {
	BaseURL    string
	CookieName string
	HTTPClient *http.Client
	Log        logrus.FieldLogger
}

// New creates a client with a request timeout.
func New(baseURL string, timeout time.Duration, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:    baseURL,
		CookieName: "session",
		HTTPClient: &http.Client{Timeout: timeout},
		Log:        log,
	}
}

// ListWorkspaces tries the known workspace endpoints until one answers with data.
func (c *Client) ListWorkspaces(ctx context.Context, session string) ([]domain.Workspace, error) {
	for _, endpoint := range workspaceEndpoints {
		data, err := c.get(ctx, session, endpoint)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			c.log().WithError(err).WithField("endpoint", endpoint).Debug("workspace endpoint failed")
			continue
		}
		list, err := unwrapList(data, "workspaces", "items", "data")
		if err != nil {
			c.log().WithError(err).WithField("endpoint", endpoint).Debug("workspace endpoint returned garbage")
			continue
		}
		var out []domain.Workspace
		for _, m := range list {
			if ws, ok := toWorkspace(m); ok {
				out = append(out, ws)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("list workspaces: %w", ErrNotFound)
}

// ListWorkItems returns the work items of a workspace that carry both a key and an id.
func (c *Client) ListWorkItems(ctx context.Context, session, workspaceID string) ([]domain.WorkItem, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, errors.New("workspace id is required")
	}
	for _, pattern := range workItemEndpoints {
		endpoint := fmt.Sprintf(pattern, url.PathEscape(workspaceID))
		data, err := c.get(ctx, session, endpoint)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
				return nil, err
			}
			c.log().WithError(err).WithField("endpoint", endpoint).Debug("work item endpoint failed")
			continue
		}
		list, err := unwrapList(data, "items", "workItems", "data", "results")
		if err != nil {
			continue
		}
		var out []domain.WorkItem
		for _, m := range list {
			if it, ok := toWorkItem(m, workspaceID); ok {
				out = append(out, it)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	return nil, fmt.Errorf("list work items of %s: %w", workspaceID, ErrNotFound)
}

// History returns the raw history of a work item.
func (c *Client) History(ctx context.Context, session, workspaceID, workItemID string) ([]HistoryEntry, error) {
	endpoint := fmt.Sprintf(historyEndpoint, url.PathEscape(workspaceID), url.PathEscape(workItemID))
	data, err := c.get(ctx, session, endpoint)
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", workItemID, err)
	}
	return entries, nil
}

// StatusHistory fetches the status transitions of an item.
func (c *Client) StatusHistory(ctx context.Context, session string, item domain.WorkItem) ([]domain.StatusEvent, error) {
	if item.WorkspaceID == "" || item.WorkItemID == "" {
		return nil, fmt.Errorf("item %s: workspace id and work item id are required", item.Key)
	}
	entries, err := c.History(ctx, session, item.WorkspaceID, item.WorkItemID)
	if err != nil {
		return nil, err
	}
	return StatusEvents(item.Key, entries), nil
}

func (c *Client) get(ctx context.Context, session, endpoint string) ([]byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName(), Value: session})
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case resp.StatusCode >= 300:
		return nil, &StatusError{Code: resp.StatusCode, URL: u, Body: truncate(string(body), 200)}
	}
	return body, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) cookieName() string {
	if c.CookieName != "" {
		return c.CookieName
	}
	return "session"
}

func (c *Client) log() logrus.FieldLogger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
