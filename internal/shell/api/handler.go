// Package api provides the HTTP surface for the berth daemon.
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

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/manifest"
	"github.com/artpar/berth/internal/shell/deploy"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/store"
)

// =============================================================================
// Handler
// =============================================================================

// Deployer runs and reverses deployments. Satisfied by deploy.Orchestrator.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*domain.DeploymentAttempt, error)
	Remove(ctx context.Context, name string) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	store    store.Store
	docker   docker.Client
	deployer Deployer
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, d docker.Client, deployer Deployer, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:    s,
		docker:   d,
		deployer: deployer,
		logger:   l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/healthz", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.handleListProjects)
			r.Get("/{name}", h.handleGetProject)
			r.Delete("/{name}", h.handleRemoveProject)
			r.Get("/{name}/attempts", h.handleListAttempts)
		})

		r.Post("/deployments", h.handleCreateDeployment)
		r.Get("/routes", h.handleListRoutes)
	})

	return r
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
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	checks["database"] = "ok"

	if err := h.docker.Ping(); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	deployReq, err := buildDeployRequest(req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	attempt, err := h.deployer.Deploy(r.Context(), deployReq)
	if err != nil {
		status, code := deployErrorStatus(err)
		if attempt != nil {
			h.logger.Error("deployment failed",
				"project", req.Name,
				"stage", attempt.FailedStage,
				"kind", attempt.ErrorKind,
				"error", err,
			)
		}
		h.writeError(w, status, err.Error(), code)
		return
	}

	h.writeJSON(w, http.StatusCreated, attemptToResponse(attempt))
}

// buildDeployRequest merges an optional manifest into the request. Explicit
// request fields win over the manifest.
func buildDeployRequest(req DeployRequest) (deploy.Request, error) {
	out := deploy.Request{
		Name:        req.Name,
		Domain:      req.Domain,
		Port:        req.Port,
		Environment: domain.EnvironmentClass(req.Environment),
		Image:       req.Image,
		Env:         req.Env,
		BuildParams: req.BuildParams,
	}

	if req.Manifest == "" {
		return out, nil
	}

	m, err := manifest.Parse(req.Manifest)
	if err != nil {
		return deploy.Request{}, err
	}
	if out.Image == "" {
		out.Image = m.Image
	}
	if out.Port == 0 {
		out.Port = m.ContainerPort
	}
	if out.BuildParams == nil {
		out.BuildParams = m.BuildParams()
	}
	if len(m.Env) > 0 {
		merged := make(map[string]string, len(m.Env)+len(out.Env))
		for k, v := range m.Env {
			merged[k] = v
		}
		for k, v := range out.Env {
			merged[k] = v
		}
		out.Env = merged
	}
	return out, nil
}

// deployErrorStatus maps a pipeline failure to an HTTP status and error code.
func deployErrorStatus(err error) (int, string) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, "validation_error"
	case domain.KindConnectivity:
		return http.StatusBadGateway, "connectivity_error"
	case domain.KindConfiguration:
		return http.StatusUnprocessableEntity, "configuration_error"
	case domain.KindReload:
		return http.StatusInternalServerError, "reload_error"
	default:
		return http.StatusInternalServerError, "infrastructure_error"
	}
}

// =============================================================================
// Project Handlers
// =============================================================================

func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	projects, err := h.store.ListProjects(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list projects", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list projects", "internal_error")
		return
	}

	resp := ListProjectsResponse{
		Projects: make([]ProjectResponse, 0, len(projects)),
		Total:    len(projects),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, projectToResponse(&p))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	project, err := h.store.GetProject(r.Context(), name)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "project not found", "project_not_found")
			return
		}
		h.logger.Error("failed to get project", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get project", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, projectToResponse(project))
}

func (h *Handler) handleRemoveProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.deployer.Remove(r.Context(), name); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "project not found", "project_not_found")
			return
		}
		h.logger.Error("failed to remove project", "project", name, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to remove project: "+err.Error(), "removal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	opts := listOptions(r)

	attempts, err := h.store.ListAttemptsByProject(r.Context(), name, opts)
	if err != nil {
		h.logger.Error("failed to list attempts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list attempts", "internal_error")
		return
	}

	resp := ListAttemptsResponse{
		Attempts: make([]AttemptResponse, 0, len(attempts)),
		Total:    len(attempts),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptToResponse(&a))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Route Handlers
// =============================================================================

func (h *Handler) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.store.ListRoutes(r.Context())
	if err != nil {
		h.logger.Error("failed to list routes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list routes", "internal_error")
		return
	}

	resp := ListRoutesResponse{
		Routes: make([]RouteResponse, 0, len(routes)),
		Total:  len(routes),
	}
	for _, rt := range routes {
		resp.Routes = append(resp.Routes, RouteResponse{
			Domain:      rt.Domain,
			ProjectName: rt.ProjectName,
			Upstream:    rt.Upstream,
			AppliedAt:   rt.AppliedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	return opts
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func projectToResponse(p *domain.Project) ProjectResponse {
	resp := ProjectResponse{
		Name:        p.Name,
		Domain:      p.Domain,
		Port:        p.UpstreamPort,
		Environment: string(p.Environment),
		Image:       p.Image,
		Env:         p.Env,
		ContainerID: p.ContainerID,
	}
	if p.UpstreamAddr != "" {
		resp.Upstream = p.Upstream()
	}
	return resp
}

func attemptToResponse(a *domain.DeploymentAttempt) AttemptResponse {
	stages := make([]string, 0, len(a.StagesDone))
	for _, s := range a.StagesDone {
		stages = append(stages, string(s))
	}
	resp := AttemptResponse{
		ID:          a.ID,
		ProjectName: a.ProjectName,
		StagesDone:  stages,
		Outcome:     string(a.Outcome),
		RolledBack:  a.RolledBack,
		FailedStage: string(a.FailedStage),
		ErrorKind:   string(a.ErrorKind),
		ErrorDetail: a.ErrorDetail,
		StartedAt:   a.StartedAt,
		FinishedAt:  a.FinishedAt,
	}
	return resp
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
