package domain

import "time"

// =============================================================================
// Domain Routes
// =============================================================================

// DomainRoute is a compiled, applied routing unit for one domain.
// At most one active DomainRoute exists per domain; it is created when a
// route unit reaches Applied and destroyed only by explicit teardown.
type DomainRoute struct {
	// Domain is the bare domain the unit routes (www. form included in the
	// unit itself).
	Domain string

	// ProjectName is the owning project.
	ProjectName string

	// Upstream is the address:port the route forwards to, recorded at the
	// moment the route was published.
	Upstream string

	// Unit is the serialized route unit as written to the config directory.
	Unit string

	// AppliedAt is when the unit went live.
	AppliedAt time.Time
}

// ConfigFileName returns the file the unit lives under in the proxy's
// config directory.
func (r DomainRoute) ConfigFileName() string {
	return r.Domain + ".conf"
}

// =============================================================================
// Network Topology
// =============================================================================

// NetworkTopology records the managed networks: one shared network joining
// the proxy to every project, and one isolated network per project.
type NetworkTopology struct {
	// SharedNetworkID is the single proxy-facing network.
	SharedNetworkID string

	// Isolated maps project name to its private network ID.
	Isolated map[string]string
}

// IsolatedFor returns the isolated network for a project, if created.
func (t NetworkTopology) IsolatedFor(project string) (string, bool) {
	id, ok := t.Isolated[project]
	return id, ok
}
