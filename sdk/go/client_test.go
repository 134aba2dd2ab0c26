package worktimesdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"unauthorized","message":"authentication required"}}`))
			return
		}
		var req ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Periods) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"code":"bad_request","message":"no valid periods supplied"}}`))
			return
		}
		json.NewEncoder(w).Encode(ProcessResponse{
			ReportID:     "r1",
			Filename:     "report.xlsx",
			DownloadPath: "/api/download/r1",
			Sheets:       []string{req.Periods[0].Start + "_" + req.Periods[0].End},
		})
	})
	mux.HandleFunc("/api/download/r1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="march.xlsx"`)
		w.Write([]byte("PK"))
	})
	mux.HandleFunc("/api/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"items":[{"id":"r1","status":"in progress","sheets":["a_b"]}]}`))
	})
	mux.HandleFunc("/api/upload-json", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newFakeAPI(t)
	c := New(srv.URL)
	c.BearerToken = "tok"

	require.NoError(t, c.Health(ctx))

	resp, err := c.Process(ctx, ProcessRequest{
		Items:   []Item{{Key: "A-1"}},
		Periods: []Period{{Start: "2024-03-04", End: "2024-03-08"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.ReportID)
	assert.Equal(t, []string{"2024-03-04_2024-03-08"}, resp.Sheets)

	data, name, err := c.Download(ctx, resp.ReportID)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data)
	assert.Equal(t, "march.xlsx", name)

	reports, err := c.Reports(ctx, 5)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "r1", reports[0].ID)

	items, err := c.UploadJSON(ctx, "items.json", strings.NewReader(`{"items":[{"key":"A-1","workitemId":"7"}]}`))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "7", items[0].WorkItemID)
}

func TestClientAPIError(t *testing.T) {
	srv := newFakeAPI(t)
	c := New(srv.URL)

	_, err := c.Process(context.Background(), ProcessRequest{Periods: []Period{{Start: "x", End: "y"}}})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)

	c.BearerToken = "tok"
	_, err = c.Process(context.Background(), ProcessRequest{})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "bad_request", apiErr.Code)
}
