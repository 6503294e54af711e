package store

import (
	"context"

	"github.com/artpar/berth/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store is the registry of deployed projects, published routes, and
// deployment attempts. It is the source of truth for idempotent re-entry:
// a redeploy consults it to find the previous container and route.
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProject(ctx context.Context, name string) (*domain.Project, error)
	GetProjectByDomain(ctx context.Context, fqdn string) (*domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	DeleteProject(ctx context.Context, name string) error
	ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error)

	// Route operations. At most one active route per domain; UpsertRoute
	// replaces the previous record for the same domain.
	UpsertRoute(ctx context.Context, route *domain.DomainRoute) error
	GetRoute(ctx context.Context, fqdn string) (*domain.DomainRoute, error)
	DeleteRoute(ctx context.Context, fqdn string) error
	ListRoutes(ctx context.Context) ([]domain.DomainRoute, error)

	// Attempt operations
	CreateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error
	UpdateAttempt(ctx context.Context, attempt *domain.DeploymentAttempt) error
	GetAttempt(ctx context.Context, id string) (*domain.DeploymentAttempt, error)
	ListAttemptsByProject(ctx context.Context, project string, opts ListOptions) ([]domain.DeploymentAttempt, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
