package netman

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/shell/docker"
)

func testManager(fake *docker.FakeClient) *Manager {
	return NewManager(fake, Config{MaxAttempts: 2, Delay: time.Millisecond}, nil)
}

// =============================================================================
// EnsureSharedNetwork Tests
// =============================================================================

func TestEnsureSharedNetwork_CreatesOnce(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	id, err := m.EnsureSharedNetwork(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	info, err := fake.FindNetworkByName(SharedNetworkName)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "true", info.Labels[docker.LabelManaged])
}

// Idempotence: repeated calls leave exactly one network and never error.
func TestEnsureSharedNetwork_Idempotent(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	first, err := m.EnsureSharedNetwork(context.Background())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		again, err := m.EnsureSharedNetwork(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestEnsureSharedNetwork_FailureIsInfrastructureError(t *testing.T) {
	fake := docker.NewFakeClient()
	fake.Inject("FindNetworkByName", errors.New("daemon unavailable"))
	m := testManager(fake)

	_, err := m.EnsureSharedNetwork(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindInfrastructure, domain.KindOf(err))
	assert.Equal(t, domain.StageNetworks, domain.StageOf(err))
}

// =============================================================================
// EnsureIsolatedNetwork Tests
// =============================================================================

func TestEnsureIsolatedNetwork_Idempotent(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	first, err := m.EnsureIsolatedNetwork(context.Background(), "alpha")
	require.NoError(t, err)

	again, err := m.EnsureIsolatedNetwork(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	info, err := fake.FindNetworkByName("berth-alpha-isolated")
	require.NoError(t, err)
	assert.Equal(t, "alpha", info.Labels[docker.LabelProject])
}

func TestEnsureIsolatedNetwork_DistinctPerProject(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	alpha, err := m.EnsureIsolatedNetwork(context.Background(), "alpha")
	require.NoError(t, err)
	beta, err := m.EnsureIsolatedNetwork(context.Background(), "beta")
	require.NoError(t, err)

	assert.NotEqual(t, alpha, beta)
}

// =============================================================================
// Attach / Detach Tests
// =============================================================================

func TestAttach(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	netID, err := m.EnsureSharedNetwork(context.Background())
	require.NoError(t, err)

	ctrID, err := fake.CreateContainer(docker.ContainerSpec{Name: "alpha"})
	require.NoError(t, err)

	require.NoError(t, m.Attach(context.Background(), netID, ctrID))

	info, err := fake.InspectContainer(ctrID)
	require.NoError(t, err)
	ep, ok := info.Networks[SharedNetworkName]
	require.True(t, ok)
	assert.NotEmpty(t, ep.IPAddress)

	// Re-attaching is not an error.
	require.NoError(t, m.Attach(context.Background(), netID, ctrID))
}

func TestRemoveIsolatedNetwork_MissingIsNoError(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	assert.NoError(t, m.RemoveIsolatedNetwork(context.Background(), "ghost"))
}

func TestRemoveIsolatedNetwork(t *testing.T) {
	fake := docker.NewFakeClient()
	m := testManager(fake)

	_, err := m.EnsureIsolatedNetwork(context.Background(), "alpha")
	require.NoError(t, err)

	require.NoError(t, m.RemoveIsolatedNetwork(context.Background(), "alpha"))

	_, err = fake.FindNetworkByName("berth-alpha-isolated")
	assert.ErrorIs(t, err, docker.ErrNetworkNotFound)
}

func TestIsolatedNetworkName(t *testing.T) {
	assert.Equal(t, "berth-alpha-isolated", IsolatedNetworkName("alpha"))
}
