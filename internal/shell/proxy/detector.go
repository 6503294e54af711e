// Package proxy manages the shared reverse proxy: lifecycle detection and
// bootstrap, and the validate-before-reload application of route units.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/retry"
	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/netman"
)

// =============================================================================
// Configuration
// =============================================================================

// Paths inside the proxy container. The host config and cert directories
// are bind-mounted here.
const (
	containerConfDir = "/etc/nginx/conf.d"
	containerCertDir = "/etc/berth/certs"
)

// Config describes the shared proxy deployment.
type Config struct {
	// ContainerName identifies the proxy container.
	ContainerName string

	// Image is the proxy image.
	Image string

	// HTTPPort and HTTPSPort are the host ports the proxy publishes.
	HTTPPort  int
	HTTPSPort int

	// ConfigDir is the host directory of route units, mounted at
	// /etc/nginx/conf.d.
	ConfigDir string

	// CertDir is the host certificate directory, mounted read-only at
	// /etc/berth/certs.
	CertDir string

	// ACMEUpstream is the HTTP-01 challenge responder address as seen from
	// inside the proxy container. Empty means no challenge forwarding is
	// configured.
	ACMEUpstream string

	// StartAttempts and StartDelay bound proxy start retries.
	StartAttempts int
	StartDelay    time.Duration

	// Dial overrides the TCP dialer used by the listening-port health
	// check. Nil means net.DialTimeout.
	Dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// DefaultConfig returns the default proxy deployment.
func DefaultConfig() Config {
	return Config{
		ContainerName: "berth-proxy",
		Image:         "nginx:1.27-alpine",
		HTTPPort:      80,
		HTTPSPort:     443,
		StartAttempts: 3,
		StartDelay:    2 * time.Second,
	}
}

// FallbackCertPlacer supplies the bootstrap fallback certificate so the
// proxy can start before any real domain certificate exists.
type FallbackCertPlacer interface {
	EnsureFallback() error
}

// =============================================================================
// Detector
// =============================================================================

// Detector classifies the shared proxy as absent, stopped or running, and
// drives recovery to a healthy running state.
type Detector struct {
	docker docker.Client
	netman *netman.Manager
	certs  FallbackCertPlacer
	config Config
	logger *slog.Logger

	// dial is swappable for tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewDetector creates a proxy lifecycle detector.
func NewDetector(d docker.Client, nm *netman.Manager, certs FallbackCertPlacer, config Config, logger *slog.Logger) *Detector {
	if config.ContainerName == "" {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	dial := config.Dial
	if dial == nil {
		dial = net.DialTimeout
	}
	return &Detector{
		docker: d,
		netman: nm,
		certs:  certs,
		config: config,
		logger: logger.With("component", "proxy_detector"),
		dial:   dial,
	}
}

// Detect classifies the shared proxy.
func (d *Detector) Detect() (domain.ProxyState, *docker.ContainerInfo, error) {
	info, err := d.docker.FindContainerByName(d.config.ContainerName)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return domain.ProxyAbsent, nil, nil
		}
		return "", nil, err
	}
	return domain.ClassifyProxy(true, info.State), info, nil
}

// EnsureRunning drives the proxy to a healthy running state:
//
//	Absent  → full bootstrap (network, base config, fallback cert, start)
//	Stopped → start, then verify health
//	Running → verify health
//
// No deployment proceeds against an unhealthy proxy: health failures after
// bounded start retries are fatal.
func (d *Detector) EnsureRunning(ctx context.Context) (*domain.ProxyInstance, error) {
	state, info, err := d.Detect()
	if err != nil {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, "detect proxy", err)
	}

	d.logger.Info("proxy state detected", "state", state)

	switch state {
	case domain.ProxyAbsent:
		info, err = d.bootstrap(ctx)
	case domain.ProxyStopped:
		err = d.startWithRetry(ctx, info.ID)
	}
	if err != nil {
		return nil, err
	}

	// Re-inspect for network membership after any start.
	info, err = d.docker.InspectContainer(info.ID)
	if err != nil {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, "inspect proxy", err)
	}

	health, err := d.Health(ctx, info.ID)
	if err != nil {
		return nil, err
	}
	if !health.Healthy() {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, health.FailingCheck(),
			fmt.Errorf("proxy is running but unhealthy"))
	}

	networks := map[string]string{}
	for name, ep := range info.Networks {
		networks[name] = ep.IPAddress
	}

	return &domain.ProxyInstance{
		ContainerID: info.ID,
		State:       domain.ProxyRunning,
		Networks:    networks,
		ListenPorts: []int{d.config.HTTPPort, d.config.HTTPSPort},
	}, nil
}

// bootstrap creates everything the proxy needs from an empty host: the
// shared network, the base config snippets the route units reference, a
// fallback certificate, and the proxy container itself.
func (d *Detector) bootstrap(ctx context.Context) (*docker.ContainerInfo, error) {
	d.logger.Info("bootstrapping shared proxy",
		"image", d.config.Image,
		"config_dir", d.config.ConfigDir,
	)

	if _, err := d.netman.EnsureSharedNetwork(ctx); err != nil {
		return nil, err
	}

	if err := d.writeBaseConfig(); err != nil {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, "write base config", err)
	}

	if err := d.certs.EnsureFallback(); err != nil {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, "place fallback certificate", err)
	}

	if exists, _ := d.docker.ImageExists(d.config.Image); !exists {
		if err := d.docker.PullImage(d.config.Image, docker.PullOptions{}); err != nil {
			return nil, domain.NewInfrastructureError(domain.StageProxyReady, "pull proxy image", err)
		}
	}

	// The challenge responder runs on the host, so the container needs the
	// gateway alias to reach it.
	var extraHosts []string
	if d.config.ACMEUpstream != "" {
		extraHosts = []string{"host.docker.internal:host-gateway"}
	}

	id, err := d.docker.CreateContainer(docker.ContainerSpec{
		Name:  d.config.ContainerName,
		Image: d.config.Image,
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelRole:    "proxy",
		},
		ExtraHosts: extraHosts,
		Ports: []docker.PortBinding{
			{ContainerPort: 80, HostPort: d.config.HTTPPort},
			{ContainerPort: 443, HostPort: d.config.HTTPSPort},
		},
		Volumes: []docker.VolumeMount{
			{Source: d.config.ConfigDir, Target: containerConfDir},
			{Source: d.config.CertDir, Target: containerCertDir, ReadOnly: true},
		},
		Networks:      []string{netman.SharedNetworkName},
		RestartPolicy: docker.RestartPolicy{Name: "always"},
	})
	if err != nil {
		return nil, domain.NewInfrastructureError(domain.StageProxyReady, "create proxy container", err)
	}

	if err := d.startWithRetry(ctx, id); err != nil {
		return nil, err
	}

	return d.docker.InspectContainer(id)
}

// writeBaseConfig lays down the http-level snippets route units depend on.
// Existing files are rewritten: the snippets are versioned with the binary,
// not with any deployment.
func (d *Detector) writeBaseConfig() error {
	if err := os.MkdirAll(d.config.ConfigDir, 0o755); err != nil {
		return err
	}
	tmpl := route.DefaultTemplate()
	tmpl.ACMEUpstream = d.config.ACMEUpstream
	base := filepath.Join(d.config.ConfigDir, "00-berth-base.conf")
	if err := os.WriteFile(base, []byte(route.BaseConf(tmpl)), 0o644); err != nil {
		return err
	}
	headers := filepath.Join(d.config.ConfigDir, "berth-security-headers.inc")
	return os.WriteFile(headers, []byte(route.SecurityHeaders()), 0o644)
}

// startWithRetry starts the proxy container with bounded fixed backoff.
func (d *Detector) startWithRetry(ctx context.Context, containerID string) error {
	cfg := retry.Config{
		MaxAttempts: d.config.StartAttempts,
		Delay:       retry.Fixed(d.config.StartDelay),
	}
	err := retry.Do(ctx, cfg, func(context.Context) error {
		startErr := d.docker.StartContainer(containerID)
		if errors.Is(startErr, docker.ErrContainerAlreadyRunning) {
			return nil
		}
		return startErr
	})
	if err != nil {
		return domain.NewInfrastructureError(domain.StageProxyReady, "start proxy", err)
	}
	return nil
}

// =============================================================================
// Health
// =============================================================================

// Health runs the three proxy health checks: config syntax, listening
// ports, and a live worker process.
func (d *Detector) Health(ctx context.Context, containerID string) (domain.ProxyHealth, error) {
	var health domain.ProxyHealth

	res, err := d.docker.Exec(containerID, []string{"nginx", "-t"})
	if err != nil {
		return health, domain.NewInfrastructureError(domain.StageProxyReady, "nginx -t", err)
	}
	health.SyntaxOK = res.ExitCode == 0

	health.PortsListening = d.portListening(d.config.HTTPPort) && d.portListening(d.config.HTTPSPort)

	// pidof is present in both the alpine and debian nginx images.
	res, err = d.docker.Exec(containerID, []string{"pidof", "nginx"})
	if err == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		health.WorkerActive = true
	}

	return health, nil
}

func (d *Detector) portListening(port int) bool {
	conn, err := d.dial("tcp", fmt.Sprintf("127.0.0.1:%d", port), 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
