package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/shell/api"
	"github.com/artpar/berth/internal/shell/cert"
	"github.com/artpar/berth/internal/shell/deploy"
	"github.com/artpar/berth/internal/shell/dnsprovider"
	"github.com/artpar/berth/internal/shell/docker"
	"github.com/artpar/berth/internal/shell/netman"
	"github.com/artpar/berth/internal/shell/proxy"
	"github.com/artpar/berth/internal/shell/store"
	"github.com/artpar/berth/internal/shell/verify"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess        = 0
	ExitConfigError    = 1
	ExitDatabaseError  = 2
	ExitDockerError    = 3
	ExitHTTPError      = 4
	ExitValidation     = 5
	ExitInfrastructure = 6
	ExitConnectivity   = 7
	ExitConfiguration  = 8
	ExitReload         = 9
)

// =============================================================================
// App
// =============================================================================

// App holds the wired object graph shared by every subcommand.
type App struct {
	config       *Config
	store        store.Store
	docker       docker.Client
	orchestrator *deploy.Orchestrator
	issuer       *cert.ACMEIssuer // nil unless ACME is enabled
	logger       *slog.Logger
}

// AppError carries the exit code for a failed command.
type AppError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *AppError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewApp builds the full deployment stack from configuration.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitDatabaseError}
	}

	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitDockerError}
	}
	if err := d.Ping(); err != nil {
		s.Close()
		d.Close()
		return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitDockerError}
	}

	networks := netman.NewManager(d, netman.DefaultConfig(), logger)

	var acmeIssuer *cert.ACMEIssuer
	var issuer cert.Issuer
	var acmeUpstream string
	if cfg.ACME.Enabled {
		acmeIssuer = cert.NewACMEIssuer(cfg.Proxy.CertDir, cfg.ACME.Email)
		issuer = acmeIssuer
		// The responder listens on the host; the proxy reaches it through
		// the host-gateway alias.
		acmeUpstream = fmt.Sprintf("host.docker.internal:%d", cfg.ACME.ChallengePort)
	}
	certs := cert.NewManager(cfg.Proxy.CertDir, issuer, logger)

	proxyCfg := proxy.DefaultConfig()
	proxyCfg.ConfigDir = cfg.Proxy.ConfigDir
	proxyCfg.CertDir = cfg.Proxy.CertDir
	proxyCfg.HTTPPort = cfg.Proxy.HTTPPort
	proxyCfg.HTTPSPort = cfg.Proxy.HTTPSPort
	proxyCfg.ACMEUpstream = acmeUpstream
	detector := proxy.NewDetector(d, networks, certs, proxyCfg, logger)
	controller := proxy.NewController(d, cfg.Proxy.ConfigDir, logger)

	verifier := verify.NewVerifier(d, netman.SharedNetworkName, verify.DefaultConfig(), logger)

	var dns dnsprovider.Provider
	switch cfg.DNS.Provider {
	case "cloudflare":
		dns, err = dnsprovider.NewCloudflareProvider(dnsprovider.CloudflareConfig{
			APIToken:   cfg.DNS.APIToken,
			ZoneID:     cfg.DNS.ZoneID,
			ServerAddr: cfg.DNS.ServerAddr,
			Proxied:    cfg.DNS.Proxied,
		}, logger)
		if err != nil {
			s.Close()
			d.Close()
			return nil, &AppError{Op: "NewApp", Err: err, ExitCode: ExitConfigError}
		}
	default:
		dns = dnsprovider.NewNoopProvider(logger)
	}

	smoke := deploy.NewHostSmoke(cfg.Proxy.HTTPSPort, cfg.Proxy.HTTPPort, logger)

	template := route.DefaultTemplate()
	template.ACMEUpstream = acmeUpstream

	orchestrator := deploy.NewOrchestrator(
		d,
		networks,
		detector,
		verifier,
		certs,
		dns,
		controller,
		deploy.NewPullBuilder(d, logger),
		s,
		smoke,
		template,
		logger,
	)

	return &App{
		config:       cfg,
		store:        s,
		docker:       d,
		orchestrator: orchestrator,
		issuer:       acmeIssuer,
		logger:       logger,
	}, nil
}

// Close releases the app's connections.
func (a *App) Close() {
	if err := a.docker.Close(); err != nil {
		a.logger.Error("docker client close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}
}

// =============================================================================
// Serve
// =============================================================================

// Serve runs the admin API server and blocks until shutdown.
func (a *App) Serve(ctx context.Context) error {
	handler := api.NewHandler(a.store, a.docker, a.orchestrator, a.logger)

	srv := &http.Server{
		Addr:         a.config.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}

	// With ACME enabled the proxy forwards /.well-known/acme-challenge/ to
	// this responder during issuance.
	var challengeSrv *http.Server
	if a.issuer != nil {
		challengeSrv = &http.Server{
			Addr:        fmt.Sprintf(":%d", a.config.ACME.ChallengePort),
			Handler:     a.issuer.ChallengeHandler(http.NotFoundHandler()),
			ReadTimeout: a.config.Server.ReadTimeout,
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting admin API server", "address", a.config.Server.Address())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if challengeSrv != nil {
		go func() {
			a.logger.Info("starting acme challenge responder", "address", challengeSrv.Addr)
			if err := challengeSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case sig := <-sigCh:
		a.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &AppError{Op: "Serve", Err: err, ExitCode: ExitHTTPError}
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", "error", err)
	}
	if challengeSrv != nil {
		if err := challengeSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("challenge responder shutdown error", "error", err)
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
