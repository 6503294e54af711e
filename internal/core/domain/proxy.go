package domain

// =============================================================================
// Proxy State
// =============================================================================

// ProxyState classifies the shared reverse proxy container.
type ProxyState string

const (
	// ProxyAbsent means no proxy container exists; a full bootstrap is needed.
	ProxyAbsent ProxyState = "absent"

	// ProxyStopped means the container exists but is not running.
	ProxyStopped ProxyState = "stopped"

	// ProxyRunning means the container is up; deployments may proceed once
	// health is confirmed.
	ProxyRunning ProxyState = "running"
)

// ClassifyProxy maps a container lookup result to a proxy state.
// Pure function - no I/O.
//
// Example:
//
//	ClassifyProxy(false, "")        // ProxyAbsent
//	ClassifyProxy(true, "exited")   // ProxyStopped
//	ClassifyProxy(true, "running")  // ProxyRunning
func ClassifyProxy(exists bool, status string) ProxyState {
	if !exists {
		return ProxyAbsent
	}
	if status == "running" {
		return ProxyRunning
	}
	return ProxyStopped
}

// ProxyInstance describes the live shared proxy.
type ProxyInstance struct {
	ContainerID string
	State       ProxyState

	// Networks maps network name to the proxy's address on it.
	Networks map[string]string

	// ListenPorts are the host ports the proxy publishes (plaintext, TLS).
	ListenPorts []int
}

// ProxyHealth is the result of the three proxy health checks.
type ProxyHealth struct {
	// SyntaxOK is true when the config validator accepted the live set.
	SyntaxOK bool

	// PortsListening is true when every published port accepts connections.
	PortsListening bool

	// WorkerActive is true when at least one proxy worker process is alive.
	WorkerActive bool
}

// Healthy reports whether all checks passed. No deployment proceeds
// against an unhealthy proxy.
func (h ProxyHealth) Healthy() bool {
	return h.SyntaxOK && h.PortsListening && h.WorkerActive
}

// FailingCheck names the first failing health check, or "" when healthy.
func (h ProxyHealth) FailingCheck() string {
	switch {
	case !h.SyntaxOK:
		return "syntax validation"
	case !h.PortsListening:
		return "listening ports"
	case !h.WorkerActive:
		return "worker process"
	}
	return ""
}
