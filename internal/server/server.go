package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"piplan/internal/domain"
	"piplan/internal/engine"
	"piplan/internal/report"
	"piplan/internal/repo"
	"piplan/internal/snapshot"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"run not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every failing endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the planning API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		// request validation failures surface as 400 bad_request
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestLogger(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("PI Planning API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerPlans(group, cfg.Engine)
	registerRunViews(group, cfg.Engine)
	registerOpenAPI(router, api, basePath, cfg.Auth.JWTSecret != "")

	return router, nil
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidRequest):
		return newAPIError(http.StatusBadRequest, "invalid_plan_request", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newAPIError(http.StatusServiceUnavailable, "canceled", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, secured bool) {
	var (
		once sync.Once
		spec []byte
		err  error
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, _ *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			if secured {
				applyAuthSecurity(oas, basePath)
			}
			spec, err = json.Marshal(oas)
		})
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "openapi document unavailable", nil))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
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
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Post, item.Put, item.Patch, item.Delete} {
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

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-plan",
		Method:      http.MethodPost,
		Path:        "/plans",
		Summary:     "Run a planning negotiation",
		Description: "Plans the posted snapshot, or the built-in demo when demo is true.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		body := input.Body
		var snap *snapshot.Snapshot
		switch {
		case body.Demo:
			snap = snapshot.Demo()
		case len(body.Snapshot) > 0 && !bytes.Equal(bytes.TrimSpace(body.Snapshot), []byte("null")):
			parsed, err := snapshot.Parse(body.Snapshot, snapshot.FormatJSON)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "invalid_snapshot", err.Error(), nil)
			}
			snap = parsed
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "snapshot or demo is required", nil)
		}
		res, err := e.Plan(ctx, engine.PlanRequest{
			Snapshot:       snap,
			Iterations:     body.Iterations,
			TeamFilter:     body.Teams,
			CapacityBuffer: body.CapacityBuffer,
			MaxRounds:      body.MaxRounds,
			FallbackEffort: body.FallbackEffort,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List planning runs, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedRuns `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		createdAt, id, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		runs, err := e.ListRuns(ctx, limit+1, createdAt, id)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedRuns{Items: []domain.Run{}}
		if len(runs) > limit {
			last := runs[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			runs = runs[:limit]
		}
		resp.Items = append(resp.Items, runs...)
		return &struct {
			Body paginatedRuns `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{run_id}",
		Summary:     "Get a planning run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		res, err := loadResult(ctx, e, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(res)}, nil
	})
}

// loadResult returns the stored result, or just the run header for a run that
// never finished.
func loadResult(ctx context.Context, e engine.Engine, runID string) (engine.Result, error) {
	run, err := e.GetRun(ctx, runID)
	if err != nil {
		return engine.Result{}, err
	}
	res, err := e.GetResult(ctx, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return engine.Result{Run: run}, nil
	}
	return res, err
}

func registerRunViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/plans/{run_id}/assignments",
		Summary:     "List accepted assignments of a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID     string `path:"run_id"`
		Team      string `query:"team"`
		Iteration string `query:"iteration"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		items, err := e.ListAssignments(ctx, input.RunID, input.Team, input.Iteration)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Assignment{}
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-events",
		Method:      http.MethodGet,
		Path:        "/plans/{run_id}/events",
		Summary:     "List the negotiation trace of a run",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID  string `path:"run_id"`
		Type   string `query:"type" enum:"proposal,assignment.accepted,assignment.rejected,gap_filling.start"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, input.RunID, cursorID, limit+1, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan-risks",
		Method:      http.MethodGet,
		Path:        "/plans/{run_id}/risks",
		Summary:     "Risks and dependency findings of a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RiskResponse `json:"body"`
	}, error) {
		res, err := loadResult(ctx, e, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RiskResponse `json:"body"`
		}{Body: riskResponse(res.Analysis)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan-board",
		Method:      http.MethodGet,
		Path:        "/plans/{run_id}/board",
		Summary:     "Render the program board",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID  string `path:"run_id"`
		Format string `query:"format" default:"html"`
	}) (*struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}, error) {
		format, err := report.ParseFormat(input.Format)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		res, err := e.GetResult(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := report.Board(&buf, res, format); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType string `header:"Content-Type"`
			Body        []byte
		}{ContentType: format.ContentType(), Body: buf.Bytes()}, nil
	})
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

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
