// Package domain contains the core entities for berth deployments.
// Following ADR-002: Values as Boundaries - this package contains NO I/O.
package domain

import "fmt"

// =============================================================================
// Environment Classes
// =============================================================================

// EnvironmentClass selects the runtime profile for a project container.
type EnvironmentClass string

const (
	EnvProduction  EnvironmentClass = "production"
	EnvStaging     EnvironmentClass = "staging"
	EnvDevelopment EnvironmentClass = "development"
)

// Valid reports whether e is a known environment class.
func (e EnvironmentClass) Valid() bool {
	switch e {
	case EnvProduction, EnvStaging, EnvDevelopment:
		return true
	}
	return false
}

// RestartPolicy maps an environment class to a Docker restart policy name.
// Production containers always restart; development containers never do.
func (e EnvironmentClass) RestartPolicy() string {
	switch e {
	case EnvProduction:
		return "always"
	case EnvStaging:
		return "on-failure"
	default:
		return "no"
	}
}

// =============================================================================
// Project
// =============================================================================

// Project is one deployable web project: a single container serving a single
// domain behind the shared proxy.
type Project struct {
	// Name is the project identifier (slug rules, see validation package).
	Name string

	// Domain is the fully qualified domain the project is served on.
	Domain string

	// UpstreamPort is the port the application listens on inside its container.
	UpstreamPort int

	// Environment selects restart policy and injected environment.
	Environment EnvironmentClass

	// Image is the container image to run. Defaults to "{name}:latest" when
	// no manifest supplies one.
	Image string

	// Env holds extra environment variables for the container.
	Env map[string]string

	// BuildParams are opaque parameters handed to the image builder.
	BuildParams map[string]string

	// ContainerID is set once the project container exists.
	ContainerID string

	// IsolatedNetworkID is the project-private network, never shared with
	// the proxy or any other project.
	IsolatedNetworkID string

	// UpstreamAddr is the literal IP of the container on the shared network,
	// set by the connectivity verifier. Never a symbolic name.
	UpstreamAddr string

	// CertPath and KeyPath reference the certificate material the compiled
	// route will use.
	CertPath string
	KeyPath  string
}

// Upstream returns the address:port the proxy forwards to.
// Only meaningful after the connectivity verifier has resolved UpstreamAddr.
func (p Project) Upstream() string {
	return fmt.Sprintf("%s:%d", p.UpstreamAddr, p.UpstreamPort)
}

// ServerNames returns the domain names a route for this project answers on:
// the bare domain and its www. form.
func (p Project) ServerNames() []string {
	return []string{p.Domain, "www." + p.Domain}
}
