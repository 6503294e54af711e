// Package deploy runs the deployment pipeline: one strictly sequential
// state machine per run, taking a project from request to published route,
// with compensating teardown on abort.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/core/validation"
	"github.com/artpar/berth/internal/shell/cert"
	"github.com/artpar/berth/internal/shell/dnsprovider"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/netman"
	"github.com/artpar/berth/internal/shell/store"
	"github.com/artpar/berth/internal/shell/verify"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// ProxyManager drives the shared proxy to a healthy running state.
type ProxyManager interface {
	EnsureRunning(ctx context.Context) (*domain.ProxyInstance, error)
}

// RouteApplier stages, validates, and applies route units.
type RouteApplier interface {
	Apply(ctx context.Context, proxyContainerID string, unit *route.Unit) error
	Retract(ctx context.Context, proxyContainerID, routeDomain string) error
}

// Verifier resolves and probes a project's upstream.
type Verifier interface {
	ResolveAddress(ctx context.Context, containerID string) (string, error)
	Verify(ctx context.Context, proxyContainerID, projectContainerID string, port int) (*verify.Result, error)
}

// CertPlacer supplies certificate material for a domain.
type CertPlacer interface {
	EnsureDomain(ctx context.Context, domain string) (cert.Paths, error)
}

// SmokeTester probes a published domain through the proxy's public ports.
type SmokeTester interface {
	TestNew(ctx context.Context, domain string) error
	TestExisting(ctx context.Context, domain string) error
}

// =============================================================================
// Orchestrator
// =============================================================================

// Request is the deploy operation's input.
type Request struct {
	Name        string
	Domain      string
	Port        int
	Environment domain.EnvironmentClass
	Image       string
	Env         map[string]string
	BuildParams map[string]string
}

// Orchestrator runs the deploy and remove pipelines. Runs are serialized:
// an in-process mutex covers the whole pipeline, and the route applier's
// directory lock extends the exclusion across processes.
type Orchestrator struct {
	docker   docker.Client
	networks *netman.Manager
	proxy    ProxyManager
	verifier Verifier
	certs    CertPlacer
	dns      dnsprovider.Provider
	routes   RouteApplier
	builder  Builder
	registry store.Store
	smoke    SmokeTester
	template route.Template
	logger   *slog.Logger

	mu sync.Mutex
}

// NewOrchestrator wires a deployment orchestrator.
func NewOrchestrator(
	d docker.Client,
	networks *netman.Manager,
	proxy ProxyManager,
	verifier Verifier,
	certs CertPlacer,
	dns dnsprovider.Provider,
	routes RouteApplier,
	builder Builder,
	registry store.Store,
	smoke SmokeTester,
	template route.Template,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		docker:   d,
		networks: networks,
		proxy:    proxy,
		verifier: verifier,
		certs:    certs,
		dns:      dns,
		routes:   routes,
		builder:  builder,
		registry: registry,
		smoke:    smoke,
		template: template,
		logger:   logger.With("component", "orchestrator"),
	}
}

// ContainerName returns the managed container name for a project.
// Pattern: berth-{project}
func ContainerName(project string) string {
	return "berth-" + project
}

// createdResources tracks what this run created, for compensation.
type createdResources struct {
	containerID       string
	containerCreated  bool
	isolatedNetworkID string
	networkCreated    bool
	routeApplied      bool
	projectCreated    bool
	proxyContainerID  string
	domain            string
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy runs the full pipeline for one project. The run either completes
// or fully aborts; on abort, everything created in this run is torn down
// before the error is returned.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*domain.DeploymentAttempt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	attempt := &domain.DeploymentAttempt{
		ID:          uuid.NewString(),
		ProjectName: req.Name,
		Outcome:     domain.OutcomeInProgress,
		StartedAt:   time.Now().UTC(),
	}

	// Step 0: validate before any mutation. Validation failures are never
	// recorded as attempts against infrastructure that was never touched.
	project, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	attempt.MarkStage(domain.StageValidate)

	if err := o.registry.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	created := &createdResources{domain: project.Domain}
	runErr := o.run(ctx, project, attempt, created)
	if runErr != nil {
		o.compensate(ctx, project, created)
		attempt.RolledBack = created.containerCreated || created.networkCreated || created.routeApplied
		attempt.Outcome = domain.OutcomeFailed
		attempt.FailedStage = domain.StageOf(runErr)
		attempt.ErrorKind = domain.KindOf(runErr)
		attempt.ErrorDetail = runErr.Error()
	} else {
		attempt.Outcome = domain.OutcomeSucceeded
	}
	attempt.FinishedAt = time.Now().UTC()

	if err := o.registry.UpdateAttempt(ctx, attempt); err != nil {
		o.logger.Error("failed to record attempt outcome", "attempt_id", attempt.ID, "error", err)
	}

	if runErr != nil {
		return attempt, runErr
	}

	o.logger.Info("deployment complete",
		"project", project.Name,
		"domain", project.Domain,
		"upstream", project.Upstream(),
	)
	return attempt, nil
}

// validate checks the request and the registry's domain claims. Pure
// checks first, then the single registry read; nothing is mutated.
func (o *Orchestrator) validate(ctx context.Context, req Request) (*domain.Project, error) {
	fqdn := validation.NormalizeDomain(req.Domain)

	if err := validation.ValidateDeployRequest(req.Name, fqdn, req.Port); err != nil {
		return nil, domain.NewValidationError("deploy request", err)
	}

	env := req.Environment
	if env == "" {
		env = domain.EnvProduction
	}
	if !env.Valid() {
		return nil, domain.NewValidationError("environment class",
			fmt.Errorf("unknown environment class %q", req.Environment))
	}

	// A domain may only be claimed by one project.
	if owner, err := o.registry.GetProjectByDomain(ctx, fqdn); err == nil && owner.Name != req.Name {
		return nil, domain.NewValidationError("domain claim",
			fmt.Errorf("domain %s is already claimed by project %s", fqdn, owner.Name))
	}

	return &domain.Project{
		Name:         req.Name,
		Domain:       fqdn,
		UpstreamPort: req.Port,
		Environment:  env,
		Image:        req.Image,
		Env:          req.Env,
		BuildParams:  req.BuildParams,
	}, nil
}

// run executes stages 1-7. Mutating state lives in project and created.
func (o *Orchestrator) run(ctx context.Context, project *domain.Project, attempt *domain.DeploymentAttempt, created *createdResources) error {
	// 1. Proxy ready.
	proxy, err := o.proxy.EnsureRunning(ctx)
	if err != nil {
		return err
	}
	created.proxyContainerID = proxy.ContainerID
	attempt.MarkStage(domain.StageProxyReady)

	// 2. Networks, container, attachment.
	if _, err := o.networks.EnsureSharedNetwork(ctx); err != nil {
		return err
	}
	isolatedID, err := o.networks.EnsureIsolatedNetwork(ctx, project.Name)
	if err != nil {
		return err
	}
	project.IsolatedNetworkID = isolatedID
	created.isolatedNetworkID = isolatedID
	created.networkCreated = true
	attempt.MarkStage(domain.StageNetworks)

	if err := o.ensureContainer(ctx, project, created); err != nil {
		return err
	}
	attempt.MarkStage(domain.StageContainer)

	// DNS before certificate: issuance may need the name to resolve.
	if err := o.dns.EnsureRecord(ctx, project.Domain); err != nil {
		return domain.NewInfrastructureError(domain.StageDNS, "dns record upsert", err)
	}
	attempt.MarkStage(domain.StageDNS)

	// 3. Certificate material at the paths the route will reference.
	paths, err := o.certs.EnsureDomain(ctx, project.Domain)
	if err != nil {
		return domain.NewInfrastructureError(domain.StageCertificate, "certificate placement", err)
	}
	project.CertPath = paths.CertFile
	project.KeyPath = paths.KeyFile
	attempt.MarkStage(domain.StageCertificate)

	// 4. Connectivity: literal address, then reachability gate.
	addr, err := o.verifier.ResolveAddress(ctx, project.ContainerID)
	if err != nil {
		return err
	}
	project.UpstreamAddr = addr
	result, err := o.verifier.Verify(ctx, created.proxyContainerID, project.ContainerID, project.UpstreamPort)
	if err != nil {
		return err
	}
	o.logger.Info("upstream verified",
		"project", project.Name,
		"address", result.Address,
		"status", result.Status,
	)
	attempt.MarkStage(domain.StageConnectivity)

	// 5. Compile.
	unit, err := route.Compile(o.template, *project)
	if err != nil {
		return err
	}
	attempt.MarkStage(domain.StageCompile)

	// 6. Stage, validate, apply or roll back.
	if err := o.routes.Apply(ctx, created.proxyContainerID, unit); err != nil {
		return err
	}
	created.routeApplied = true
	attempt.MarkStage(domain.StageApply)

	// The route row references the project row, so the project must be in
	// the registry before the route is recorded.
	if err := o.persistProject(ctx, project, created); err != nil {
		return err
	}
	if err := o.recordRoute(ctx, project, unit); err != nil {
		return err
	}

	// 7. Smoke test through the public ports, plus one regression probe.
	if err := o.smokeTest(ctx, project); err != nil {
		return err
	}
	attempt.MarkStage(domain.StageSmokeTest)

	return nil
}

// ensureContainer makes the project container exist and run, attached to
// the isolated network and the shared network. Re-entry reuses a matching
// running container from a previous cancelled run.
func (o *Orchestrator) ensureContainer(ctx context.Context, project *domain.Project, created *createdResources) error {
	image, err := o.builder.Ensure(ctx, project)
	if err != nil {
		return domain.NewInfrastructureError(domain.StageContainer, "image", err)
	}
	project.Image = image

	name := ContainerName(project.Name)
	if existing, err := o.docker.FindContainerByName(name); err == nil {
		if existing.State == "running" && existing.Image == image {
			o.logger.Info("reusing existing container", "project", project.Name, "container_id", existing.ID)
			project.ContainerID = existing.ID
			return o.attachNetworks(ctx, project)
		}
		// Stale or outdated container from a previous run: replace it. The
		// domain's live route, if any, keeps serving until step 6.
		o.logger.Info("replacing existing container",
			"project", project.Name,
			"container_id", existing.ID,
			"state", existing.State,
		)
		timeout := 10 * time.Second
		_ = o.docker.StopContainer(existing.ID, &timeout)
		if err := o.docker.RemoveContainer(existing.ID, docker.RemoveOptions{Force: true}); err != nil {
			return domain.NewInfrastructureError(domain.StageContainer, "remove stale container", err)
		}
	} else if !errors.Is(err, docker.ErrContainerNotFound) {
		return domain.NewInfrastructureError(domain.StageContainer, "find container", err)
	}

	env := map[string]string{"BERTH_ENV": string(project.Environment)}
	for k, v := range project.Env {
		env[k] = v
	}

	id, err := o.docker.CreateContainer(docker.ContainerSpec{
		Name:  name,
		Image: image,
		Env:   env,
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelProject: project.Name,
			docker.LabelRole:    "project",
		},
		Networks:      []string{netman.IsolatedNetworkName(project.Name)},
		RestartPolicy: docker.RestartPolicy{Name: project.Environment.RestartPolicy()},
	})
	if err != nil {
		return domain.NewInfrastructureError(domain.StageContainer, "create container", err)
	}
	project.ContainerID = id
	created.containerID = id
	created.containerCreated = true

	if err := o.docker.StartContainer(id); err != nil {
		return domain.NewInfrastructureError(domain.StageContainer, "start container", err)
	}

	return o.attachNetworks(ctx, project)
}

// attachNetworks wires the container into the topology: isolated first,
// shared second.
func (o *Orchestrator) attachNetworks(ctx context.Context, project *domain.Project) error {
	if err := o.networks.Attach(ctx, project.IsolatedNetworkID, project.ContainerID); err != nil {
		return err
	}
	shared, err := o.docker.FindNetworkByName(netman.SharedNetworkName)
	if err != nil {
		return domain.NewInfrastructureError(domain.StageNetworks, "find shared network", err)
	}
	return o.networks.Attach(ctx, shared.ID, project.ContainerID)
}

// recordRoute persists the project's route in the registry.
func (o *Orchestrator) recordRoute(ctx context.Context, project *domain.Project, unit *route.Unit) error {
	return o.registry.UpsertRoute(ctx, &domain.DomainRoute{
		Domain:      project.Domain,
		ProjectName: project.Name,
		Upstream:    project.Upstream(),
		Unit:        unit.Serialize(),
		AppliedAt:   time.Now().UTC(),
	})
}

// smokeTest probes the new domain, then re-probes one pre-existing domain
// as a regression check.
func (o *Orchestrator) smokeTest(ctx context.Context, project *domain.Project) error {
	if err := o.smoke.TestNew(ctx, project.Domain); err != nil {
		return domain.NewInfrastructureError(domain.StageSmokeTest, "new domain probe", err)
	}

	routes, err := o.registry.ListRoutes(ctx)
	if err != nil {
		return err
	}
	for _, r := range routes {
		if r.Domain == project.Domain {
			continue
		}
		if err := o.smoke.TestExisting(ctx, r.Domain); err != nil {
			return domain.NewInfrastructureError(domain.StageSmokeTest,
				fmt.Sprintf("regression probe for %s", r.Domain), err)
		}
		break
	}
	return nil
}

// persistProject creates or updates the registry row. A row created here
// is compensated away if a later stage aborts the run.
func (o *Orchestrator) persistProject(ctx context.Context, project *domain.Project, created *createdResources) error {
	if _, err := o.registry.GetProject(ctx, project.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if err := o.registry.CreateProject(ctx, project); err != nil {
				return err
			}
			created.projectCreated = true
			return nil
		}
		return err
	}
	return o.registry.UpdateProject(ctx, project)
}

// compensate tears down everything this run created, in reverse order.
// The shared network, the proxy, and other projects' resources are never
// touched.
func (o *Orchestrator) compensate(ctx context.Context, project *domain.Project, created *createdResources) {
	if created.routeApplied {
		if err := o.routes.Retract(ctx, created.proxyContainerID, created.domain); err != nil {
			o.logger.Error("compensation: failed to retract route", "domain", created.domain, "error", err)
		} else if err := o.registry.DeleteRoute(ctx, created.domain); err != nil {
			o.logger.Error("compensation: failed to delete route record", "domain", created.domain, "error", err)
		}
	}

	if created.containerCreated {
		timeout := 10 * time.Second
		_ = o.docker.StopContainer(created.containerID, &timeout)
		if err := o.docker.RemoveContainer(created.containerID, docker.RemoveOptions{Force: true}); err != nil {
			o.logger.Error("compensation: failed to remove container", "container_id", created.containerID, "error", err)
		}
	}

	if created.networkCreated {
		if err := o.networks.RemoveIsolatedNetwork(ctx, project.Name); err != nil {
			o.logger.Error("compensation: failed to remove isolated network", "project", project.Name, "error", err)
		}
	}

	if created.projectCreated {
		if err := o.registry.DeleteProject(ctx, project.Name); err != nil {
			o.logger.Error("compensation: failed to delete project record", "project", project.Name, "error", err)
		}
	}
}

// =============================================================================
// Remove
// =============================================================================

// Remove reverses a deployment: retract the route, tear down the container
// and isolated network, delete the registry rows and the DNS record.
func (o *Orchestrator) Remove(ctx context.Context, name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	project, err := o.registry.GetProject(ctx, name)
	if err != nil {
		return err
	}

	proxy, err := o.proxy.EnsureRunning(ctx)
	if err == nil {
		if err := o.routes.Retract(ctx, proxy.ContainerID, project.Domain); err != nil {
			return err
		}
	} else {
		// No healthy proxy means no live route to retract; continue with
		// resource teardown.
		o.logger.Warn("proxy unavailable during removal, skipping route retraction",
			"project", name, "error", err)
	}
	if err := o.registry.DeleteRoute(ctx, project.Domain); err != nil {
		return err
	}

	if containerID := project.ContainerID; containerID != "" {
		timeout := 10 * time.Second
		if err := o.docker.StopContainer(containerID, &timeout); err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
			o.logger.Warn("failed to stop container during removal", "container_id", containerID, "error", err)
		}
		if err := o.docker.RemoveContainer(containerID, docker.RemoveOptions{Force: true}); err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
			return domain.NewInfrastructureError(domain.StageTeardown, "remove container", err)
		}
	}

	if err := o.networks.RemoveIsolatedNetwork(ctx, name); err != nil {
		return err
	}

	if err := o.dns.RemoveRecord(ctx, project.Domain); err != nil {
		o.logger.Warn("failed to remove dns record", "domain", project.Domain, "error", err)
	}

	if err := o.registry.DeleteProject(ctx, name); err != nil {
		return err
	}

	o.logger.Info("project removed", "project", name, "domain", project.Domain)
	return nil
}
