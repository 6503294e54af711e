package api

import "time"

// =============================================================================
// Request Types
// =============================================================================

// DeployRequest is the body of POST /api/v1/deployments.
type DeployRequest struct {
	Name        string            `json:"name"`
	Domain      string            `json:"domain"`
	Port        int               `json:"port,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Image       string            `json:"image,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	BuildParams map[string]string `json:"build_params,omitempty"`

	// Manifest is an optional compose document. Its image, port, env and
	// build parameters fill the fields left empty above.
	Manifest string `json:"manifest,omitempty"`
}

// =============================================================================
// Response Types
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the readiness check response.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ProjectResponse is the API representation of a project.
type ProjectResponse struct {
	Name        string            `json:"name"`
	Domain      string            `json:"domain"`
	Port        int               `json:"port"`
	Environment string            `json:"environment"`
	Image       string            `json:"image,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	ContainerID string            `json:"container_id,omitempty"`
	Upstream    string            `json:"upstream,omitempty"`
}

// ListProjectsResponse wraps a page of projects.
type ListProjectsResponse struct {
	Projects []ProjectResponse `json:"projects"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// AttemptResponse is the API representation of a deployment attempt.
type AttemptResponse struct {
	ID          string    `json:"id"`
	ProjectName string    `json:"project_name"`
	StagesDone  []string  `json:"stages_done"`
	Outcome     string    `json:"outcome"`
	RolledBack  bool      `json:"rolled_back"`
	FailedStage string    `json:"failed_stage,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// ListAttemptsResponse wraps a page of attempts.
type ListAttemptsResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

// RouteResponse is the API representation of a published route.
type RouteResponse struct {
	Domain      string    `json:"domain"`
	ProjectName string    `json:"project_name"`
	Upstream    string    `json:"upstream"`
	AppliedAt   time.Time `json:"applied_at"`
}

// ListRoutesResponse wraps the published route set.
type ListRoutesResponse struct {
	Routes []RouteResponse `json:"routes"`
	Total  int             `json:"total"`
}
