package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/shell/docker"
)

// =============================================================================
// Reload Controller
// =============================================================================

// Controller applies and retracts route units against the running proxy.
// Every apply follows the same sequence: stage the unit file alongside the
// applied set, validate the full configuration, then reload gracefully.
// Validation failure retracts only the staged unit; applied routes are
// never touched.
type Controller struct {
	docker    docker.Client
	configDir string
	lock      *DirLock
	logger    *slog.Logger
}

// NewController creates a reload controller over the route unit directory.
func NewController(d docker.Client, configDir string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		docker:    d,
		configDir: configDir,
		lock:      NewDirLock(configDir),
		logger:    logger.With("component", "proxy_reload"),
	}
}

// Apply publishes one route unit. On a redeploy of the same domain the
// previous unit is kept as a backup and restored if the new one fails
// validation, so the domain never loses its route.
func (c *Controller) Apply(ctx context.Context, proxyContainerID string, unit *route.Unit) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return domain.NewInfrastructureError(domain.StageApply, "acquire config lock", err)
	}
	defer c.lock.Release()

	unitPath := filepath.Join(c.configDir, unit.FileName())
	backupPath := unitPath + ".prev"

	replacing := false
	if _, err := os.Stat(unitPath); err == nil {
		replacing = true
		if err := os.Rename(unitPath, backupPath); err != nil {
			return domain.NewInfrastructureError(domain.StageApply, "back up previous unit", err)
		}
	}

	if err := os.WriteFile(unitPath, []byte(unit.Serialize()), 0o644); err != nil {
		c.restoreBackup(replacing, unitPath, backupPath)
		return domain.NewInfrastructureError(domain.StageApply, "write route unit", err)
	}

	if err := c.validate(proxyContainerID); err != nil {
		// Retract only the staged unit. The applied set validated before
		// and is restored byte for byte.
		os.Remove(unitPath)
		c.restoreBackup(replacing, unitPath, backupPath)
		return err
	}

	os.Remove(backupPath)

	if err := c.reload(proxyContainerID); err != nil {
		// The unit is syntactically valid and stays on disk. A failed
		// reload signal leaves the previous worker config serving; this
		// needs an operator, not an automatic retraction.
		c.logger.Error("proxy reload failed after successful validation, route unit kept on disk",
			"domain", unit.Domain,
			"unit", unit.FileName(),
			"error", err,
		)
		return err
	}

	c.logger.Info("route unit applied",
		"domain", unit.Domain,
		"upstream", unit.Upstream,
		"replaced", replacing,
	)
	return nil
}

// Retract removes a domain's route unit and reloads. A missing unit is
// not an error.
func (c *Controller) Retract(ctx context.Context, proxyContainerID, routeDomain string) error {
	if err := c.lock.Acquire(ctx); err != nil {
		return domain.NewInfrastructureError(domain.StageTeardown, "acquire config lock", err)
	}
	defer c.lock.Release()

	unitPath := filepath.Join(c.configDir, routeDomain+".conf")
	if err := os.Remove(unitPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.NewInfrastructureError(domain.StageTeardown, "remove route unit", err)
	}

	if err := c.reload(proxyContainerID); err != nil {
		return err
	}

	c.logger.Info("route unit retracted", "domain", routeDomain)
	return nil
}

// validate runs the proxy's syntax check over the full applied set plus
// the staged unit.
func (c *Controller) validate(proxyContainerID string) error {
	res, err := c.docker.Exec(proxyContainerID, []string{"nginx", "-t"})
	if err != nil {
		return domain.NewInfrastructureError(domain.StageApply, "nginx -t", err)
	}
	if res.ExitCode != 0 {
		return domain.NewConfigurationError("nginx -t",
			fmt.Errorf("configuration rejected: %s", res.Stderr))
	}
	return nil
}

// reload sends the graceful reload signal. Existing connections drain on
// the old workers while new workers pick up the new configuration.
func (c *Controller) reload(proxyContainerID string) error {
	res, err := c.docker.Exec(proxyContainerID, []string{"nginx", "-s", "reload"})
	if err != nil {
		return domain.NewReloadError("nginx -s reload", err)
	}
	if res.ExitCode != 0 {
		return domain.NewReloadError("nginx -s reload",
			fmt.Errorf("reload signal failed: %s", res.Stderr))
	}
	return nil
}

func (c *Controller) restoreBackup(had bool, unitPath, backupPath string) {
	if !had {
		return
	}
	if err := os.Rename(backupPath, unitPath); err != nil {
		c.logger.Error("failed to restore previous route unit", "path", unitPath, "error", err)
	}
}
