// Command berth deploys web projects into containers behind a shared
// nginx proxy, publishing one HTTPS route per project.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/manifest"
	"github.com/artpar/berth/internal/shell/deploy"
	"github.com/artpar/berth/internal/shell/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `usage: berth <command> [flags]

commands:
  deploy   deploy a project and publish its route
  remove   tear down a project and retract its route
  status   show projects, routes and recent attempts
  serve    run the admin API server
  version  print version and exit

run 'berth <command> -h' for command flags
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return ExitConfigError
	}

	switch args[0] {
	case "deploy":
		return runDeploy(args[1:])
	case "remove":
		return runRemove(args[1:])
	case "status":
		return runStatus(args[1:])
	case "serve":
		return runServe(args[1:])
	case "version":
		fmt.Printf("berth %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return ExitConfigError
	}
}

// envVars collects repeated -e KEY=VALUE flags.
type envVars map[string]string

func (e envVars) String() string { return "" }

func (e envVars) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected KEY=VALUE, got %q", s)
	}
	e[k] = v
	return nil
}

// setup loads config, builds the logger, and wires the app.
func setup(configPath string) (*App, int) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return nil, ExitConfigError
	}
	logger := SetupLogger(cfg)

	app, err := NewApp(cfg, logger)
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			logger.Error("startup failed", "operation", appErr.Op, "error", appErr.Err)
			return nil, appErr.ExitCode
		}
		logger.Error("startup failed", "error", err)
		return nil, ExitConfigError
	}
	return app, ExitSuccess
}

// =============================================================================
// deploy
// =============================================================================

func runDeploy(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Project name")
	fqdn := fs.String("domain", "", "Domain to serve the project on")
	port := fs.Int("port", 0, "Port the application listens on")
	env := fs.String("env", "", "Environment class (production, staging, development)")
	image := fs.String("image", "", "Container image (defaults to {name}:latest)")
	manifestPath := fs.String("manifest", "", "Path to a compose manifest")
	vars := envVars{}
	fs.Var(vars, "e", "Environment variable as KEY=VALUE (repeatable)")
	buildArgs := envVars{}
	fs.Var(buildArgs, "build-arg", "Builder parameter as KEY=VALUE (repeatable)")
	fs.Parse(args)

	req := deploy.Request{
		Name:        *name,
		Domain:      *fqdn,
		Port:        *port,
		Environment: domain.EnvironmentClass(*env),
		Image:       *image,
		Env:         vars,
	}
	if len(buildArgs) > 0 {
		req.BuildParams = buildArgs
	}

	if *manifestPath != "" {
		content, err := os.ReadFile(*manifestPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot read manifest: %v\n", err)
			return ExitConfigError
		}
		m, err := manifest.Parse(string(content))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid manifest: %v\n", err)
			return ExitValidation
		}
		mergeManifest(&req, m)
	}

	app, code := setup(*configPath)
	if app == nil {
		return code
	}
	defer app.Close()

	attempt, err := app.orchestrator.Deploy(context.Background(), req)
	if err != nil {
		if attempt != nil {
			fmt.Fprintf(os.Stderr, "deploy failed at stage %s: %v\n", attempt.FailedStage, err)
		} else {
			fmt.Fprintf(os.Stderr, "deploy failed: %v\n", err)
		}
		return exitCodeFor(err)
	}

	fmt.Printf("deployed %s, serving https://%s\n", attempt.ProjectName, req.Domain)
	return ExitSuccess
}

// mergeManifest fills request fields the flags left empty. Explicit flags
// win over the manifest.
func mergeManifest(req *deploy.Request, m *manifest.Manifest) {
	if req.Image == "" {
		req.Image = m.Image
	}
	if req.Port == 0 {
		req.Port = m.ContainerPort
	}
	if req.BuildParams == nil {
		req.BuildParams = m.BuildParams()
	}
	for k, v := range m.Env {
		if _, set := req.Env[k]; !set {
			req.Env[k] = v
		}
	}
}

// exitCodeFor maps a pipeline error to the command's exit code.
func exitCodeFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return ExitValidation
	}
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return ExitValidation
	case domain.KindConnectivity:
		return ExitConnectivity
	case domain.KindConfiguration:
		return ExitConfiguration
	case domain.KindReload:
		return ExitReload
	default:
		return ExitInfrastructure
	}
}

// =============================================================================
// remove
// =============================================================================

func runRemove(args []string) int {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Project name")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "remove: -name is required")
		return ExitConfigError
	}

	app, code := setup(*configPath)
	if app == nil {
		return code
	}
	defer app.Close()

	if err := app.orchestrator.Remove(context.Background(), *name); err != nil {
		fmt.Fprintf(os.Stderr, "remove failed: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("removed %s\n", *name)
	return ExitSuccess
}

// =============================================================================
// status
// =============================================================================

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	name := fs.String("name", "", "Project name (optional)")
	fs.Parse(args)

	app, code := setup(*configPath)
	if app == nil {
		return code
	}
	defer app.Close()

	ctx := context.Background()

	if *name != "" {
		return printProjectStatus(ctx, app, *name)
	}

	projects, err := app.store.ListProjects(ctx, store.DefaultListOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return ExitDatabaseError
	}
	if len(projects) == 0 {
		fmt.Println("no projects deployed")
		return ExitSuccess
	}
	for _, p := range projects {
		fmt.Printf("%-20s %-30s %s\n", p.Name, p.Domain, p.Environment)
	}
	return ExitSuccess
}

func printProjectStatus(ctx context.Context, app *App, name string) int {
	p, err := app.store.GetProject(ctx, name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("project:     %s\n", p.Name)
	fmt.Printf("domain:      %s\n", p.Domain)
	fmt.Printf("environment: %s\n", p.Environment)
	fmt.Printf("image:       %s\n", p.Image)
	if p.UpstreamAddr != "" {
		fmt.Printf("upstream:    %s\n", p.Upstream())
	}

	attempts, err := app.store.ListAttemptsByProject(ctx, name, store.ListOptions{Limit: 5})
	if err != nil {
		fmt.Fprintf(os.Stderr, "status failed: %v\n", err)
		return ExitDatabaseError
	}
	if len(attempts) > 0 {
		fmt.Println("recent attempts:")
		for _, a := range attempts {
			line := fmt.Sprintf("  %s  %-10s", a.StartedAt.Format("2006-01-02 15:04:05"), a.Outcome)
			if a.Outcome == domain.OutcomeFailed {
				line += fmt.Sprintf("  %s (%s)", a.FailedStage, a.ErrorKind)
			}
			fmt.Println(line)
		}
	}
	return ExitSuccess
}

// =============================================================================
// serve
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	app, code := setup(*configPath)
	if app == nil {
		return code
	}
	defer app.Close()

	app.logger.Info("starting berth", "version", Version)

	if err := app.Serve(context.Background()); err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			app.logger.Error("server error", "operation", appErr.Op, "error", appErr.Err)
			return appErr.ExitCode
		}
		app.logger.Error("server error", "error", err)
		return ExitHTTPError
	}
	return ExitSuccess
}
