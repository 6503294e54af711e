package deploy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/docker"
)

// =============================================================================
// Image Builder
// =============================================================================

// Builder makes a project's image available locally. Deployment treats the
// build step as a black box behind this interface.
type Builder interface {
	// Ensure returns the image reference to run, guaranteed present in the
	// local image store.
	Ensure(ctx context.Context, project *domain.Project) (string, error)
}

// PullBuilder is the shipped Builder: it never builds, it only ensures the
// named image exists locally, pulling from the registry when missing.
// A pull failure for an image that is already present locally is tolerated.
type PullBuilder struct {
	docker docker.Client
	logger *slog.Logger
}

// NewPullBuilder creates a pull-only image builder.
func NewPullBuilder(d docker.Client, logger *slog.Logger) *PullBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PullBuilder{
		docker: d,
		logger: logger.With("component", "builder"),
	}
}

func (b *PullBuilder) Ensure(ctx context.Context, project *domain.Project) (string, error) {
	image := project.Image
	if image == "" {
		image = project.Name + ":latest"
	}

	exists, err := b.docker.ImageExists(image)
	if err != nil {
		return "", fmt.Errorf("check image %s: %w", image, err)
	}
	if exists {
		return image, nil
	}

	b.logger.Info("pulling image", "image", image)
	if err := b.docker.PullImage(image, docker.PullOptions{}); err != nil {
		return "", fmt.Errorf("pull image %s: %w", image, err)
	}
	return image, nil
}
