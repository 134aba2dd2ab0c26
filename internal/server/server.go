package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"worktime/internal/app"
	"worktime/internal/engine"
	"worktime/internal/repo"
	"worktime/internal/tracker"
	"worktime/internal/upload"
	"worktime/internal/xlsx"
)

const maxUploadBytes = 32 << 20

// Config for the HTTP API handler.
type Config struct {
	Service        *app.Service
	BasePath       string
	Auth           AuthConfig
	AllowedOrigins []string
	// DefaultStatus is used when a process request names no status.
	DefaultStatus string
	Logger        logrus.FieldLogger
}

func (c Config) logger() logrus.FieldLogger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"no valid periods supplied"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the worktime API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("server: report service is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimRight(basePath, "/")
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.logger()))
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.logger()
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Worktime API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{svc: cfg.Service, basePath: basePath, defaultStatus: cfg.DefaultStatus, log: cfg.logger()}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerTracker(group)
	h.registerReports(group)
	router.Post(path.Join(basePath, "upload-json"), h.uploadJSON)
	registerOpenAPI(router, api, basePath, cfg.Auth.enabled())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var reqErr *engine.RequestError
	if errors.As(err, &reqErr) {
		return newAPIError(http.StatusBadRequest, "bad_request", reqErr.Error(), map[string]any{"reason": reqErr.Err.Error()})
	}
	if errors.Is(err, upload.ErrInvalidJSON) {
		return newAPIError(http.StatusBadRequest, "invalid_json", err.Error(), nil)
	}
	if errors.Is(err, tracker.ErrUnauthorized) {
		return newAPIError(http.StatusUnauthorized, "tracker_unauthorized", "tracker rejected the session cookie", nil)
	}
	if errors.Is(err, app.ErrAlreadyDownloaded) {
		return newAPIError(http.StatusGone, "already_downloaded", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, tracker.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var se *tracker.StatusError
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadGateway, "tracker_error", "tracker request failed", map[string]any{"status": se.Code})
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", "upstream timed out", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": ww.Status(),
				"bytes":  ww.BytesWritten(),
			}).Debug("request")
		})
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, withAuth bool) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if withAuth {
				applyAuthSecurity(oas, basePath)
			}
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Worktime API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Upload work items with POST %s as multipart field "file".
    </p>
  </body>
</html>`, specURL, path.Join("/", basePath, "upload-json"))
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type handlers struct {
	svc           *app.Service
	basePath      string
	defaultStatus string
	log           logrus.FieldLogger
}

func (h handlers) registerTracker(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workspaces",
		Method:      http.MethodGet,
		Path:        "/workspaces",
		Summary:     "List tracker workspaces visible to the session",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		SessionCookie string `query:"session_cookie"`
	}) (*struct {
		Body WorkspacesResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.SessionCookie) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "session_cookie is required", nil)
		}
		items, err := h.svc.Workspaces(ctx, input.SessionCookie)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkspacesResponse `json:"body"`
		}{Body: WorkspacesResponse{Workspaces: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workitems",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace_id}/workitems",
		Summary:     "List work items of a workspace",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		WorkspaceID   string `path:"workspace_id"`
		SessionCookie string `query:"session_cookie"`
	}) (*struct {
		Body WorkItemsResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.SessionCookie) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "session_cookie is required", nil)
		}
		items, err := h.svc.WorkItems(ctx, input.SessionCookie, input.WorkspaceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemsResponse `json:"body"`
		}{Body: WorkItemsResponse{Items: workItemResponse(items)}}, nil
	})
}

func (h handlers) registerReports(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "process",
		Method:      http.MethodPost,
		Path:        "/process",
		Summary:     "Generate a time-in-status report",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ProcessRequest
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		req := input.Body
		status := strings.TrimSpace(req.StatusName)
		if status == "" {
			status = h.defaultStatus
		}
		policy, err := engine.ParseOpenIntervalPolicy(req.OpenInterval)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		order, err := engine.ParseRowOrder(req.RowOrder)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if req.OpenInterval == "" {
			policy = ""
		}
		if req.RowOrder == "" {
			order = ""
		}
		out, err := h.svc.Generate(ctx, app.Request{
			Items:         req.Items,
			Periods:       req.Periods,
			Status:        status,
			SessionCookie: req.SessionCookie,
			OpenInterval:  policy,
			Order:         order,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: ProcessResponse{
			ReportID:     out.Run.ID,
			Filename:     out.Run.Filename,
			DownloadPath: path.Join(h.basePath, "download", out.Run.ID),
			Sheets:       nonNilSlice(out.Run.Sheets),
			Warnings:     nonNilSlice(out.Run.Warnings),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-report",
		Method:      http.MethodGet,
		Path:        "/download/{report_id}",
		Summary:     "Download a generated workbook once",
		Errors:      []int{http.StatusNotFound, http.StatusGone},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		run, content, err := h.svc.Download(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        xlsx.ContentType,
			ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": run.Filename}),
			Body:               content,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List generated reports",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body ReportsResponse `json:"body"`
	}, error) {
		runs, err := h.svc.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportsResponse `json:"body"`
		}{Body: ReportsResponse{Items: nonNilSlice(runs)}}, nil
	})
}

// uploadJSON parses a multipart JSON upload and echoes the items back.
func (h handlers) uploadJSON(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "expected a multipart form with a file field", nil))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file is required", nil))
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".json") {
		respondStatusError(w, newAPIError(http.StatusBadRequest, "bad_request", "file must be a .json file", map[string]any{"filename": header.Filename}))
		return
	}
	items, err := upload.Parse(file)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	h.log.WithFields(logrus.Fields{"file": header.Filename, "items": len(items)}).Info("work items uploaded")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UploadResponse{Items: nonNilSlice(items), Count: len(items)})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
