// Package verify gates route publication on upstream reachability. A
// route is only ever compiled against an address this package observed
// and probed in the same run.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/retry"
	"github.com/artpar/berth/internal/shell/docker"
)

// =============================================================================
// Results
// =============================================================================

// Status grades a successful verification.
type Status string

const (
	// StatusVerified means the upstream answered its /health endpoint.
	StatusVerified Status = "verified"

	// StatusReachable means the health probe mechanism was unavailable and
	// only basic TCP reachability was confirmed. Readiness is unknown.
	StatusReachable Status = "reachable"
)

// Result is a successful upstream verification.
type Result struct {
	// Address is the literal IP observed on the shared network. Symbolic
	// names are never used: the proxy's name resolution must not be a
	// dependency for arbitrary project names.
	Address string

	Status Status
}

// =============================================================================
// Verifier
// =============================================================================

// Config bounds the verifier's polling loops.
type Config struct {
	// ResolveAttempts / ResolveDelay bound the wait for a shared-network
	// address to appear on the project container.
	ResolveAttempts int
	ResolveDelay    time.Duration

	// ProbeAttempts / ProbeDelay bound the health probing.
	ProbeAttempts int
	ProbeDelay    time.Duration

	// ProbeTimeout caps one probe request.
	ProbeTimeout time.Duration
}

// DefaultConfig returns the default verification bounds.
func DefaultConfig() Config {
	return Config{
		ResolveAttempts: 10,
		ResolveDelay:    500 * time.Millisecond,
		ProbeAttempts:   10,
		ProbeDelay:      time.Second,
		ProbeTimeout:    5 * time.Second,
	}
}

// Verifier resolves and probes a project's upstream on the shared network.
type Verifier struct {
	docker        docker.Client
	sharedNetwork string
	config        Config
	logger        *slog.Logger

	// dial is swappable for tests.
	dial func(network, addr string, timeout time.Duration) (net.Conn, error)
}

// NewVerifier creates a connectivity verifier. sharedNetwork is the name
// of the network joining the proxy and every project.
func NewVerifier(d docker.Client, sharedNetwork string, config Config, logger *slog.Logger) *Verifier {
	if config.ResolveAttempts == 0 {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		docker:        d,
		sharedNetwork: sharedNetwork,
		config:        config,
		logger:        logger.With("component", "verify"),
		dial:          net.DialTimeout,
	}
}

// ResolveAddress polls the project container's network membership until a
// literal address on the shared network is observed.
func (v *Verifier) ResolveAddress(ctx context.Context, containerID string) (string, error) {
	cfg := retry.Config{
		MaxAttempts: v.config.ResolveAttempts,
		Delay:       retry.Fixed(v.config.ResolveDelay),
	}

	addr, err := retry.DoValue(ctx, cfg, func(context.Context) (string, error) {
		info, err := v.docker.InspectContainer(containerID)
		if err != nil {
			return "", err
		}
		ep, ok := info.Networks[v.sharedNetwork]
		if !ok || ep.IPAddress == "" {
			return "", fmt.Errorf("no address on network %s yet", v.sharedNetwork)
		}
		return ep.IPAddress, nil
	})
	if err != nil {
		return "", domain.NewConnectivityError("address resolution", err)
	}

	v.logger.Debug("resolved upstream address", "container_id", containerID, "address", addr)
	return addr, nil
}

// Verify resolves the project's shared-network address and confirms the
// upstream is reachable, probing /health from the proxy's execution
// context. It returns a ConnectivityError when every probe fails; no route
// may be published in that case.
func (v *Verifier) Verify(ctx context.Context, proxyContainerID, projectContainerID string, port int) (*Result, error) {
	addr, err := v.ResolveAddress(ctx, projectContainerID)
	if err != nil {
		return nil, err
	}

	healthURL := fmt.Sprintf("http://%s:%d/health", addr, port)
	cfg := retry.Config{
		MaxAttempts: v.config.ProbeAttempts,
		Delay:       retry.Fixed(v.config.ProbeDelay),
	}

	probeUnavailable := false
	err = retry.Do(ctx, cfg, func(context.Context) error {
		probeErr := v.probeHealth(proxyContainerID, healthURL)
		if errors.Is(probeErr, docker.ErrBinaryNotFound) {
			// No probe binary in the proxy image. Fall back to a basic
			// reachability check rather than failing outright.
			probeUnavailable = true
			return v.probeTCP(addr, port)
		}
		return probeErr
	})
	if err != nil {
		return nil, domain.NewConnectivityError("health probe", fmt.Errorf("upstream %s:%d: %w", addr, port, err))
	}

	status := StatusVerified
	if probeUnavailable {
		status = StatusReachable
		v.logger.Warn("health probe unavailable, upstream reachable but readiness unknown",
			"address", addr,
			"port", port,
		)
	} else {
		v.logger.Info("upstream verified", "address", addr, "port", port)
	}

	return &Result{Address: addr, Status: status}, nil
}

// probeHealth requests the upstream's /health from inside the proxy
// container. wget ships with the nginx images; curl is the fallback.
func (v *Verifier) probeHealth(proxyContainerID, url string) error {
	timeoutSecs := fmt.Sprintf("%d", int(v.config.ProbeTimeout.Seconds()))

	res, err := v.docker.Exec(proxyContainerID, []string{"wget", "-q", "-O-", "-T", timeoutSecs, url})
	if errors.Is(err, docker.ErrBinaryNotFound) {
		res, err = v.docker.Exec(proxyContainerID, []string{"curl", "-fsS", "--max-time", timeoutSecs, url})
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("health probe exited %d: %s", res.ExitCode, res.Stderr)
	}
	return nil
}

// probeTCP confirms the upstream port accepts connections from the host.
func (v *Verifier) probeTCP(addr string, port int) error {
	conn, err := v.dial("tcp", fmt.Sprintf("%s:%d", addr, port), v.config.ProbeTimeout)
	if err != nil {
		return fmt.Errorf("tcp probe: %w", err)
	}
	return conn.Close()
}
