// Package netman manages the berth network topology: the single shared
// network joining the proxy to every project, and one isolated network
// per project.
package netman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/retry"
	"github.com/artpar/berth/internal/shell/docker"
)

// =============================================================================
// Naming
// =============================================================================

// SharedNetworkName is the name of the proxy-facing network.
const SharedNetworkName = "berth-shared"

// IsolatedNetworkName generates the private network name for a project.
// Pattern: berth-{project}-isolated
func IsolatedNetworkName(project string) string {
	return fmt.Sprintf("berth-%s-isolated", project)
}

// =============================================================================
// Manager
// =============================================================================

// Config bounds the manager's retry loops.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig returns the default retry bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       time.Second,
	}
}

// Manager creates and wires the managed networks. All ensure operations
// are idempotent: already-satisfied state is never an error.
type Manager struct {
	docker docker.Client
	config Config
	logger *slog.Logger
}

// NewManager creates a network topology manager.
func NewManager(d docker.Client, config Config, logger *slog.Logger) *Manager {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.Delay == 0 {
		config.Delay = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		docker: d,
		config: config,
		logger: logger.With("component", "netman"),
	}
}

func (m *Manager) retryCfg() retry.Config {
	return retry.Config{
		MaxAttempts: m.config.MaxAttempts,
		Delay:       retry.Fixed(m.config.Delay),
	}
}

// EnsureSharedNetwork creates the shared network if it does not exist and
// returns its ID. Safe to call on every deployment.
func (m *Manager) EnsureSharedNetwork(ctx context.Context) (string, error) {
	id, err := retry.DoValue(ctx, m.retryCfg(), func(context.Context) (string, error) {
		return m.ensureNetwork(SharedNetworkName, map[string]string{
			docker.LabelManaged: "true",
			docker.LabelRole:    "shared-network",
		})
	})
	if err != nil {
		return "", domain.NewInfrastructureError(domain.StageNetworks, "ensure shared network", err)
	}
	return id, nil
}

// EnsureIsolatedNetwork creates a project's private network if it does not
// exist and returns its ID.
func (m *Manager) EnsureIsolatedNetwork(ctx context.Context, project string) (string, error) {
	name := IsolatedNetworkName(project)
	id, err := retry.DoValue(ctx, m.retryCfg(), func(context.Context) (string, error) {
		return m.ensureNetwork(name, map[string]string{
			docker.LabelManaged: "true",
			docker.LabelProject: project,
			docker.LabelRole:    "isolated-network",
		})
	})
	if err != nil {
		return "", domain.NewInfrastructureError(domain.StageNetworks, "ensure isolated network", err)
	}
	return id, nil
}

// ensureNetwork finds or creates one network by name.
func (m *Manager) ensureNetwork(name string, labels map[string]string) (string, error) {
	existing, err := m.docker.FindNetworkByName(name)
	if err == nil {
		m.logger.Debug("network already exists", "network", name, "network_id", existing.ID)
		return existing.ID, nil
	}
	if !errors.Is(err, docker.ErrNetworkNotFound) {
		return "", err
	}

	id, err := m.docker.CreateNetwork(docker.NetworkSpec{
		Name:   name,
		Labels: labels,
	})
	if err != nil {
		// Lost a race with a concurrent create; the existing network wins.
		if errors.Is(err, docker.ErrNetworkAlreadyExists) {
			if existing, findErr := m.docker.FindNetworkByName(name); findErr == nil {
				return existing.ID, nil
			}
		}
		return "", err
	}
	m.logger.Info("created network", "network", name, "network_id", id)
	return id, nil
}

// Attach connects a container to a network. Connecting an already-attached
// container is not an error.
func (m *Manager) Attach(ctx context.Context, networkID, containerID string) error {
	err := retry.Do(ctx, m.retryCfg(), func(context.Context) error {
		return m.docker.ConnectNetwork(networkID, containerID)
	})
	if err != nil {
		return domain.NewInfrastructureError(domain.StageNetworks, "attach container to network", err)
	}
	return nil
}

// Detach disconnects a container from a network. A container that is not
// attached is not an error.
func (m *Manager) Detach(ctx context.Context, networkID, containerID string) error {
	err := m.docker.DisconnectNetwork(networkID, containerID, true)
	if err != nil && !errors.Is(err, docker.ErrNetworkNotFound) && !errors.Is(err, docker.ErrContainerNotFound) {
		return domain.NewInfrastructureError(domain.StageTeardown, "detach container from network", err)
	}
	return nil
}

// RemoveIsolatedNetwork removes a project's private network at teardown.
// A network that is already gone is not an error.
func (m *Manager) RemoveIsolatedNetwork(ctx context.Context, project string) error {
	name := IsolatedNetworkName(project)
	info, err := m.docker.FindNetworkByName(name)
	if err != nil {
		if errors.Is(err, docker.ErrNetworkNotFound) {
			return nil
		}
		return domain.NewInfrastructureError(domain.StageTeardown, "find isolated network", err)
	}
	if err := m.docker.RemoveNetwork(info.ID); err != nil {
		return domain.NewInfrastructureError(domain.StageTeardown, "remove isolated network", err)
	}
	m.logger.Info("removed network", "network", name)
	return nil
}
