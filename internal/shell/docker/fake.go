package docker

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Fake Client (for tests)
// =============================================================================

// FakeClient is an in-memory Client used by package tests across berth.
// It models just enough runtime behavior for the orchestration paths:
// container lifecycle, network membership with assigned addresses, and
// pluggable exec handling.
type FakeClient struct {
	mu sync.Mutex

	nextID     int
	containers map[string]*fakeContainer
	networks   map[string]*NetworkInfo

	// ExecHandler, when set, serves Exec calls. The default returns
	// exit code 0 with empty output.
	ExecHandler func(containerID string, cmd []string) (*ExecResult, error)

	// Error injection per operation name ("CreateNetwork", "StartContainer", ...).
	Errors map[string]error

	// PulledImages records PullImage calls.
	PulledImages []string

	// ExistingImages marks images already present locally.
	ExistingImages map[string]bool
}

type fakeContainer struct {
	info ContainerInfo
	spec ContainerSpec
}

// NewFakeClient creates an empty fake runtime.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		containers:     map[string]*fakeContainer{},
		networks:       map[string]*NetworkInfo{},
		Errors:         map[string]error{},
		ExistingImages: map[string]bool{},
	}
}

// Inject sets the error returned by the named operation.
func (f *FakeClient) Inject(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[op] = err
}

func (f *FakeClient) injected(op string) error {
	return f.Errors[op]
}

func (f *FakeClient) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

// =============================================================================
// Containers
// =============================================================================

func (f *FakeClient) CreateContainer(spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("CreateContainer"); err != nil {
		return "", err
	}
	for _, c := range f.containers {
		if c.info.Name == spec.Name {
			return "", NewError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
	}

	id := f.newID("ctr")
	info := ContainerInfo{
		ID:        id,
		Name:      spec.Name,
		Image:     spec.Image,
		Status:    ContainerStatusCreated,
		State:     "created",
		CreatedAt: time.Now(),
		Labels:    spec.Labels,
		Ports:     spec.Ports,
		Networks:  map[string]NetworkEndpoint{},
	}
	f.containers[id] = &fakeContainer{info: info, spec: spec}

	for _, netName := range spec.Networks {
		if err := f.connectLocked(netName, id); err != nil {
			return "", err
		}
	}
	return id, nil
}

// SpecOf returns the spec a container was created with.
func (f *FakeClient) SpecOf(containerID string) (ContainerSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return ContainerSpec{}, false
	}
	return c.spec, true
}

func (f *FakeClient) StartContainer(containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("StartContainer"); err != nil {
		return err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return NewError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
	}
	c.info.State = "running"
	c.info.Status = ContainerStatusRunning
	now := time.Now()
	c.info.StartedAt = &now
	return nil
}

func (f *FakeClient) StopContainer(containerID string, _ *time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("StopContainer"); err != nil {
		return err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return NewError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
	}
	c.info.State = "exited"
	c.info.Status = ContainerStatusExited
	return nil
}

func (f *FakeClient) RemoveContainer(containerID string, _ RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("RemoveContainer"); err != nil {
		return err
	}
	if _, ok := f.containers[containerID]; !ok {
		return NewError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
	}
	for _, n := range f.networks {
		delete(n.Containers, containerID)
	}
	delete(f.containers, containerID)
	return nil
}

func (f *FakeClient) InspectContainer(containerID string) (*ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("InspectContainer"); err != nil {
		return nil, err
	}
	c, ok := f.containers[containerID]
	if !ok {
		return nil, NewError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
	}
	info := c.info
	info.Networks = map[string]NetworkEndpoint{}
	for name, ep := range c.info.Networks {
		info.Networks[name] = ep
	}
	return &info, nil
}

func (f *FakeClient) FindContainerByName(name string) (*ContainerInfo, error) {
	f.mu.Lock()
	var id string
	for cid, c := range f.containers {
		if c.info.Name == name {
			id = cid
			break
		}
	}
	f.mu.Unlock()
	if id == "" {
		return nil, NewError("FindContainerByName", "container", name, "container not found", ErrContainerNotFound)
	}
	return f.InspectContainer(id)
}

func (f *FakeClient) ListContainers(opts ListOptions) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ListContainers"); err != nil {
		return nil, err
	}
	var result []ContainerInfo
	for _, c := range f.containers {
		if !opts.All && c.info.State != "running" {
			continue
		}
		if label, ok := opts.Filters["label"]; ok {
			k, v, _ := strings.Cut(label, "=")
			if c.info.Labels[k] != v {
				continue
			}
		}
		if name, ok := opts.Filters["name"]; ok {
			if !strings.Contains(c.info.Name, name) {
				continue
			}
		}
		result = append(result, c.info)
	}
	return result, nil
}

func (f *FakeClient) ContainerLogs(containerID string, _ LogOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return nil, NewError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

func (f *FakeClient) Exec(containerID string, cmd []string) (*ExecResult, error) {
	f.mu.Lock()
	handler := f.ExecHandler
	_, ok := f.containers[containerID]
	f.mu.Unlock()
	if !ok {
		return nil, NewError("Exec", "container", containerID, "container not found", ErrContainerNotFound)
	}
	if handler != nil {
		return handler(containerID, cmd)
	}
	return &ExecResult{ExitCode: 0}, nil
}

// =============================================================================
// Networks
// =============================================================================

func (f *FakeClient) CreateNetwork(spec NetworkSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("CreateNetwork"); err != nil {
		return "", err
	}
	id := f.newID("net")
	f.networks[id] = &NetworkInfo{
		ID:         id,
		Name:       spec.Name,
		Driver:     spec.Driver,
		Labels:     spec.Labels,
		Containers: map[string]string{},
	}
	return id, nil
}

func (f *FakeClient) RemoveNetwork(networkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("RemoveNetwork"); err != nil {
		return err
	}
	n, ok := f.networks[networkID]
	if !ok {
		return NewError("RemoveNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	}
	if len(n.Containers) > 0 {
		return NewError("RemoveNetwork", "network", networkID, "network has active endpoints", ErrNetworkInUse)
	}
	for _, c := range f.containers {
		delete(c.info.Networks, n.Name)
	}
	delete(f.networks, networkID)
	return nil
}

func (f *FakeClient) FindNetworkByName(name string) (*NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("FindNetworkByName"); err != nil {
		return nil, err
	}
	for _, n := range f.networks {
		if n.Name == name {
			copy := *n
			return &copy, nil
		}
	}
	return nil, NewError("FindNetworkByName", "network", name, "network not found", ErrNetworkNotFound)
}

func (f *FakeClient) InspectNetwork(networkID string) (*NetworkInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return nil, NewError("InspectNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	}
	copy := *n
	return &copy, nil
}

func (f *FakeClient) ConnectNetwork(networkID, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("ConnectNetwork"); err != nil {
		return err
	}
	n, ok := f.networks[networkID]
	if !ok {
		return NewError("ConnectNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	}
	return f.connectLocked(n.Name, containerID)
}

// connectLocked attaches a container to a network by name, assigning the
// next address in a per-network /24.
func (f *FakeClient) connectLocked(networkName, containerID string) error {
	var n *NetworkInfo
	for _, candidate := range f.networks {
		if candidate.Name == networkName {
			n = candidate
			break
		}
	}
	if n == nil {
		return NewError("ConnectNetwork", "network", networkName, "network not found", ErrNetworkNotFound)
	}
	// Stable per-network subnet derived from the ID suffix.
	subnet := 0
	fmt.Sscanf(n.ID, "net-%d", &subnet)
	c, ok := f.containers[containerID]
	if !ok {
		return NewError("ConnectNetwork", "container", containerID, "container not found", ErrContainerNotFound)
	}
	if _, connected := n.Containers[containerID]; connected {
		return nil
	}
	addr := fmt.Sprintf("10.%d.0.%d", subnet, len(n.Containers)+2)
	n.Containers[containerID] = addr
	c.info.Networks[networkName] = NetworkEndpoint{NetworkID: n.ID, IPAddress: addr}
	return nil
}

func (f *FakeClient) DisconnectNetwork(networkID, containerID string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.networks[networkID]
	if !ok {
		return NewError("DisconnectNetwork", "network", networkID, "network not found", ErrNetworkNotFound)
	}
	delete(n.Containers, containerID)
	if c, ok := f.containers[containerID]; ok {
		delete(c.info.Networks, n.Name)
	}
	return nil
}

// =============================================================================
// Images / Lifecycle
// =============================================================================

func (f *FakeClient) PullImage(image string, _ PullOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.injected("PullImage"); err != nil {
		return err
	}
	f.PulledImages = append(f.PulledImages, image)
	f.ExistingImages[image] = true
	return nil
}

func (f *FakeClient) ImageExists(image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ExistingImages[image], nil
}

func (f *FakeClient) Ping() error {
	return f.injected("Ping")
}

func (f *FakeClient) Close() error { return nil }
