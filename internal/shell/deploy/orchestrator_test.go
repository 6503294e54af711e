package deploy

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/shell/cert"
	"github.com/artpar/berth/internal/shell/dnsprovider"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/netman"
	"github.com/artpar/berth/internal/shell/proxy"
	"github.com/artpar/berth/internal/shell/store"
	"github.com/artpar/berth/internal/shell/verify"
)

// =============================================================================
// Harness
// =============================================================================

type fakeSmoke struct {
	mu       sync.Mutex
	newSeen  []string
	regSeen  []string
	failWith error
}

func (s *fakeSmoke) TestNew(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.newSeen = append(s.newSeen, domain)
	return nil
}

func (s *fakeSmoke) TestExisting(_ context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regSeen = append(s.regSeen, domain)
	return nil
}

type harness struct {
	fake      *docker.FakeClient
	configDir string
	registry  store.Store
	smoke     *fakeSmoke
	orch      *Orchestrator
}

// healthyExec answers the proxy health and probe commands the way a live
// nginx container would.
func healthyExec(_ string, cmd []string) (*docker.ExecResult, error) {
	switch cmd[0] {
	case "pidof":
		return &docker.ExecResult{ExitCode: 0, Stdout: "12 13"}, nil
	default:
		return &docker.ExecResult{ExitCode: 0}, nil
	}
}

func pipeDial(string, string, time.Duration) (net.Conn, error) {
	client, server := net.Pipe()
	server.Close()
	return client, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fake := docker.NewFakeClient()
	fake.ExecHandler = healthyExec

	configDir := t.TempDir()
	certDir := t.TempDir()

	nm := netman.NewManager(fake, netman.Config{MaxAttempts: 2, Delay: time.Millisecond}, nil)
	certs := cert.NewManager(certDir, nil, nil)

	proxyCfg := proxy.DefaultConfig()
	proxyCfg.ConfigDir = configDir
	proxyCfg.CertDir = certDir
	proxyCfg.StartDelay = time.Millisecond
	proxyCfg.Dial = pipeDial
	detector := proxy.NewDetector(fake, nm, certs, proxyCfg, nil)

	controller := proxy.NewController(fake, configDir, nil)

	verifier := verify.NewVerifier(fake, netman.SharedNetworkName, verify.Config{
		ResolveAttempts: 3,
		ResolveDelay:    time.Millisecond,
		ProbeAttempts:   2,
		ProbeDelay:      time.Millisecond,
		ProbeTimeout:    50 * time.Millisecond,
	}, nil)

	registry, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	smoke := &fakeSmoke{}

	orch := NewOrchestrator(
		fake,
		nm,
		detector,
		verifier,
		certs,
		dnsprovider.NewNoopProvider(nil),
		controller,
		NewPullBuilder(fake, nil),
		registry,
		smoke,
		route.DefaultTemplate(),
		nil,
	)

	return &harness{
		fake:      fake,
		configDir: configDir,
		registry:  registry,
		smoke:     smoke,
		orch:      orch,
	}
}

func deployRequest(name, fqdn string) Request {
	return Request{
		Name:   name,
		Domain: fqdn,
		Port:   3000,
		Image:  name + ":latest",
	}
}

func (h *harness) unitPath(fqdn string) string {
	return filepath.Join(h.configDir, fqdn+".conf")
}

// =============================================================================
// Scenarios
// =============================================================================

func TestDeploy_BootstrapAndPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	attempt, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSucceeded, attempt.Outcome)
	assert.True(t, attempt.Completed(domain.StageProxyReady))
	assert.True(t, attempt.Completed(domain.StageApply))
	assert.True(t, attempt.Completed(domain.StageSmokeTest))

	// Proxy was bootstrapped.
	proxyInfo, err := h.fake.FindContainerByName("berth-proxy")
	require.NoError(t, err)
	assert.Equal(t, "running", proxyInfo.State)

	// Route unit is on disk and in the registry.
	data, err := os.ReadFile(h.unitPath("alpha.example.com"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "server_name alpha.example.com www.alpha.example.com;")

	record, err := h.registry.GetRoute(ctx, "alpha.example.com")
	require.NoError(t, err)
	assert.Equal(t, "alpha", record.ProjectName)

	// The container sits on both its isolated network and the shared one,
	// and the route upstream is the literal shared-network address.
	ctr, err := h.fake.FindContainerByName(ContainerName("alpha"))
	require.NoError(t, err)
	require.Contains(t, ctr.Networks, netman.SharedNetworkName)
	require.Contains(t, ctr.Networks, netman.IsolatedNetworkName("alpha"))

	project, err := h.registry.GetProject(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, ctr.Networks[netman.SharedNetworkName].IPAddress, project.UpstreamAddr)
	assert.Contains(t, string(data), "proxy_pass http://"+project.Upstream()+";")

	assert.Equal(t, []string{"alpha.example.com"}, h.smoke.newSeen)
}

func TestDeploy_SecondDeployLeavesFirstUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)
	alphaBefore, err := os.ReadFile(h.unitPath("alpha.example.com"))
	require.NoError(t, err)

	_, err = h.orch.Deploy(ctx, deployRequest("beta", "beta.example.com"))
	require.NoError(t, err)

	alphaAfter, err := os.ReadFile(h.unitPath("alpha.example.com"))
	require.NoError(t, err)
	assert.Equal(t, alphaBefore, alphaAfter, "existing unit must be byte-identical after another deploy")

	// Both routes live; isolated networks are distinct.
	routes, err := h.registry.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Len(t, routes, 2)

	alphaNet, err := h.fake.FindNetworkByName(netman.IsolatedNetworkName("alpha"))
	require.NoError(t, err)
	betaNet, err := h.fake.FindNetworkByName(netman.IsolatedNetworkName("beta"))
	require.NoError(t, err)
	assert.NotEqual(t, alphaNet.ID, betaNet.ID)

	// The regression probe re-checked the first domain.
	assert.Equal(t, []string{"alpha.example.com"}, h.smoke.regSeen)
}

func TestDeploy_InvalidDomainFailsPreMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, deployRequest("alpha", "not a domain"))
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	// Nothing was created: no proxy, no networks, no containers, no attempt.
	_, err = h.fake.FindContainerByName("berth-proxy")
	assert.Error(t, err)
	_, err = h.fake.FindNetworkByName(netman.SharedNetworkName)
	assert.Error(t, err)
	attempts, err := h.registry.ListAttemptsByProject(ctx, "alpha", store.DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestDeploy_DomainClaimedByOtherProject(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)

	req := deployRequest("beta", "alpha.example.com")
	_, err = h.orch.Deploy(ctx, req)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDeploy_UnreachableUpstreamPublishesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Exec probes fail as they would against an app that never listens;
	// the host-side TCP fallback dials an unroutable fake address.
	h.fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		switch cmd[0] {
		case "pidof":
			return &docker.ExecResult{ExitCode: 0, Stdout: "12"}, nil
		case "wget", "curl":
			return &docker.ExecResult{ExitCode: 1, Stderr: "connection refused"}, nil
		default:
			return &docker.ExecResult{ExitCode: 0}, nil
		}
	}

	attempt, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.Error(t, err)
	assert.Equal(t, domain.KindConnectivity, domain.KindOf(err))
	assert.Equal(t, domain.OutcomeFailed, attempt.Outcome)
	assert.True(t, attempt.RolledBack)

	// No route was published, on disk or in the registry.
	_, statErr := os.Stat(h.unitPath("alpha.example.com"))
	assert.True(t, os.IsNotExist(statErr))
	_, err = h.registry.GetRoute(ctx, "alpha.example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Compensation removed the container and isolated network but left the
	// proxy and shared network alone.
	_, err = h.fake.FindContainerByName(ContainerName("alpha"))
	assert.Error(t, err)
	_, err = h.fake.FindNetworkByName(netman.IsolatedNetworkName("alpha"))
	assert.Error(t, err)
	_, err = h.fake.FindContainerByName("berth-proxy")
	assert.NoError(t, err)
	_, err = h.fake.FindNetworkByName(netman.SharedNetworkName)
	assert.NoError(t, err)
}

func TestDeploy_SmokeFailureUnwindsFirstDeploy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.smoke.failWith = errors.New("tls handshake timeout")

	attempt, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeFailed, attempt.Outcome)
	assert.Equal(t, domain.StageSmokeTest, attempt.FailedStage)
	assert.True(t, attempt.RolledBack)

	// The project and route rows written mid-pipeline are both unwound; a
	// project that never served traffic leaves no registry trace.
	_, err = h.registry.GetProject(ctx, "alpha")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.registry.GetRoute(ctx, "alpha.example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, statErr := os.Stat(h.unitPath("alpha.example.com"))
	assert.True(t, os.IsNotExist(statErr))
	_, err = h.fake.FindContainerByName(ContainerName("alpha"))
	assert.Error(t, err)
}

func TestDeploy_ValidationFailureRollsBackOnlyNewUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)
	alphaBefore, err := os.ReadFile(h.unitPath("alpha.example.com"))
	require.NoError(t, err)

	// nginx -t rejects the configuration once beta's unit is staged.
	h.fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		if len(cmd) >= 2 && cmd[0] == "nginx" && cmd[1] == "-t" {
			if _, err := os.Stat(h.unitPath("beta.example.com")); err == nil {
				return &docker.ExecResult{ExitCode: 1, Stderr: "cannot load certificate"}, nil
			}
		}
		return healthyExec("", cmd)
	}

	attempt, err := h.orch.Deploy(ctx, deployRequest("beta", "beta.example.com"))
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Equal(t, domain.StageApply, attempt.FailedStage)

	// The applied set is byte-identical; the rejected unit is gone.
	alphaAfter, err := os.ReadFile(h.unitPath("alpha.example.com"))
	require.NoError(t, err)
	assert.Equal(t, alphaBefore, alphaAfter)
	_, statErr := os.Stat(h.unitPath("beta.example.com"))
	assert.True(t, os.IsNotExist(statErr))

	// Beta's resources were compensated; alpha is untouched.
	_, err = h.fake.FindContainerByName(ContainerName("beta"))
	assert.Error(t, err)
	_, err = h.fake.FindContainerByName(ContainerName("alpha"))
	assert.NoError(t, err)
	_, err = h.registry.GetRoute(ctx, "alpha.example.com")
	assert.NoError(t, err)
}

func TestDeploy_ConcurrentDeploysBothLand(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, req := range []Request{
		deployRequest("alpha", "alpha.example.com"),
		deployRequest("beta", "beta.example.com"),
	} {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			_, errs[i] = h.orch.Deploy(context.Background(), req)
		}(i, req)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for _, fqdn := range []string{"alpha.example.com", "beta.example.com"} {
		_, err := os.Stat(h.unitPath(fqdn))
		assert.NoError(t, err, fqdn)
	}
}

func TestDeploy_Reentry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)

	// Redeploy with identical inputs reuses the running container.
	ctrBefore, err := h.fake.FindContainerByName(ContainerName("alpha"))
	require.NoError(t, err)
	second, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)
	ctrAfter, err := h.fake.FindContainerByName(ContainerName("alpha"))
	require.NoError(t, err)

	assert.Equal(t, ctrBefore.ID, ctrAfter.ID)
	assert.NotEqual(t, first.ID, second.ID, "each run records its own attempt")

	attempts, err := h.registry.ListAttemptsByProject(ctx, "alpha", store.DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestRemove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, deployRequest("alpha", "alpha.example.com"))
	require.NoError(t, err)
	_, err = h.orch.Deploy(ctx, deployRequest("beta", "beta.example.com"))
	require.NoError(t, err)

	require.NoError(t, h.orch.Remove(ctx, "alpha"))

	// Alpha is fully gone.
	_, statErr := os.Stat(h.unitPath("alpha.example.com"))
	assert.True(t, os.IsNotExist(statErr))
	_, err = h.fake.FindContainerByName(ContainerName("alpha"))
	assert.Error(t, err)
	_, err = h.fake.FindNetworkByName(netman.IsolatedNetworkName("alpha"))
	assert.Error(t, err)
	_, err = h.registry.GetProject(ctx, "alpha")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Beta and the shared infrastructure are untouched.
	_, err = os.Stat(h.unitPath("beta.example.com"))
	assert.NoError(t, err)
	_, err = h.fake.FindContainerByName("berth-proxy")
	assert.NoError(t, err)

	// Removing a missing project errors cleanly.
	assert.ErrorIs(t, h.orch.Remove(ctx, "alpha"), store.ErrNotFound)
}
