// Package api exposes the deployment engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/api/openapi"
)

// Engine is the deployment engine behind the API.
type Engine interface {
	Deploy(ctx context.Context, cfg domain.DeploymentConfig) domain.DeploymentResult
	Status(ctx context.Context, ref domain.WorkloadRef) (*domain.WorkloadDescription, error)
	Rollback(ctx context.Context, ref domain.WorkloadRef) domain.RollbackResult
	History() []domain.HistoryEntry
}

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	engine  Engine
	metrics http.Handler
	openapi *openapi.Generator
	logger  *slog.Logger
}

// NewHandler creates a new API handler. metrics may be nil, which leaves
// /metrics unrouted.
func NewHandler(engine Engine, metrics http.Handler, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	h := &Handler{
		engine:  engine,
		metrics: metrics,
		openapi: openapi.NewGenerator(),
		logger:  l.With("component", "api"),
	}
	for _, route := range documentedRoutes {
		h.openapi.Register(route)
	}
	return h
}

const workloadPath = "/platforms/{platform}/namespaces/{namespace}/workloads/{name}"

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)
	r.Get("/openapi.json", h.openapi.Handler())
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.jsonContentType)

		r.Post("/deployments", h.handleDeploy)
		r.Get(workloadPath, h.handleStatus)
		r.Post(workloadPath+"/rollback", h.handleRollback)
		r.Get("/history", h.handleHistory)
	})

	return r
}

// documentedRoutes feeds the OpenAPI document.
var documentedRoutes = []openapi.Route{
	{
		Method: http.MethodGet, Path: "/health", OperationID: "getHealth",
		Summary: "Liveness probe", Tag: "Health", Response: HealthResponse{},
	},
	{
		Method: http.MethodPost, Path: "/api/v1/deployments", OperationID: "createDeployment",
		Summary: "Run a deployment and wait for its result", Tag: "Deployments",
		Request: DeployRequest{}, Response: domain.DeploymentResult{},
		Errors: []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	},
	{
		Method: http.MethodGet, Path: "/api/v1" + workloadPath, OperationID: "getWorkload",
		Summary: "Describe a workload", Tag: "Workloads",
		Query:    []openapi.QueryParam{{Name: "dry_run", Type: "boolean", Description: "Query the simulated platform"}},
		Response: domain.WorkloadDescription{},
		Errors:   []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway},
	},
	{
		Method: http.MethodPost, Path: "/api/v1" + workloadPath + "/rollback", OperationID: "rollbackWorkload",
		Summary: "Undo the last rollout of a workload", Tag: "Workloads",
		Query:    []openapi.QueryParam{{Name: "dry_run", Type: "boolean", Description: "Roll back on the simulated platform"}},
		Response: domain.RollbackResult{},
		Errors:   []int{http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity},
	},
	{
		Method: http.MethodGet, Path: "/api/v1/history", OperationID: "listHistory",
		Summary: "List finished deployment runs", Tag: "Deployments", Response: HistoryResponse{},
	},
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleDeploy runs the deployment synchronously; the response carries the
// full execution trace.
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", CodeValidation, "")
		return
	}

	cfg, err := req.Config()
	if err == nil {
		err = domain.ValidateConfig(cfg.WithDefaults())
	}
	if err != nil {
		h.writeConfigError(w, err)
		return
	}

	res := h.engine.Deploy(r.Context(), cfg)
	switch {
	case res.Succeeded():
		h.writeJSON(w, http.StatusOK, res)
	case res.Message == domain.ErrDeploymentInProgress.Error():
		h.writeError(w, http.StatusConflict, res.Message, CodeConflict, "")
	default:
		h.writeJSON(w, http.StatusUnprocessableEntity, res)
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := workloadRef(r)
	if err != nil {
		h.writeConfigError(w, err)
		return
	}

	desc, err := h.engine.Status(r.Context(), ref)
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, desc)
	case errors.Is(err, domain.ErrInvalidConfig):
		h.writeConfigError(w, err)
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error(), CodeNotFound, "")
	default:
		h.logger.Error("status query failed", "workload", ref.Key(), "error", err)
		h.writeError(w, http.StatusBadGateway, err.Error(), CodeInternal, "")
	}
}

func (h *Handler) handleRollback(w http.ResponseWriter, r *http.Request) {
	ref, err := workloadRef(r)
	if err != nil {
		h.writeConfigError(w, err)
		return
	}

	res := h.engine.Rollback(r.Context(), ref)
	switch {
	case res.Status == domain.StatusSuccess:
		h.writeJSON(w, http.StatusOK, res)
	case res.Message == domain.ErrDeploymentInProgress.Error():
		h.writeError(w, http.StatusConflict, res.Message, CodeConflict, "")
	default:
		h.writeJSON(w, http.StatusUnprocessableEntity, res)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.engine.History()
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{Entries: entries, Count: len(entries)})
}

// =============================================================================
// Helpers
// =============================================================================

// workloadRef reads the workload address from the path and query.
func workloadRef(r *http.Request) (domain.WorkloadRef, error) {
	platform, err := domain.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		return domain.WorkloadRef{}, err
	}
	ref := domain.WorkloadRef{
		Name:      chi.URLParam(r, "name"),
		Namespace: chi.URLParam(r, "namespace"),
		Platform:  platform,
	}
	if v := r.URL.Query().Get("dry_run"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			return ref, domain.NewConfigError("dry_run", "must be a boolean")
		}
		ref.DryRun = dryRun
	}
	return ref, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code, field string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
		Field: field,
	})
}

func (h *Handler) writeConfigError(w http.ResponseWriter, err error) {
	var cfgErr *domain.ConfigError
	if errors.As(err, &cfgErr) {
		h.writeError(w, http.StatusBadRequest, cfgErr.Error(), CodeValidation, cfgErr.Field)
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error(), CodeValidation, "")
}
