package proxy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/domain"
	"github.com/artpar/berth/internal/core/route"
	"github.com/artpar/berth/internal/shell/docker"
)

func testUnit(t *testing.T, name, host, addr string) *route.Unit {
	t.Helper()
	unit, err := route.Compile(route.DefaultTemplate(), domain.Project{
		Name:         name,
		Domain:       host,
		UpstreamPort: 3000,
		UpstreamAddr: addr,
	})
	require.NoError(t, err)
	return unit
}

func runningProxy(t *testing.T, fake *docker.FakeClient) string {
	t.Helper()
	id, err := fake.CreateContainer(docker.ContainerSpec{Name: "berth-proxy", Image: "nginx"})
	require.NoError(t, err)
	require.NoError(t, fake.StartContainer(id))
	return id
}

func TestController_ApplyWritesUnitAndReloads(t *testing.T) {
	fake := docker.NewFakeClient()
	var execs [][]string
	fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		execs = append(execs, cmd)
		return &docker.ExecResult{ExitCode: 0}, nil
	}
	proxyID := runningProxy(t, fake)

	dir := t.TempDir()
	c := NewController(fake, dir, nil)
	unit := testUnit(t, "alpha", "alpha.example.com", "10.0.0.5")

	require.NoError(t, c.Apply(context.Background(), proxyID, unit))

	written, err := os.ReadFile(filepath.Join(dir, "alpha.example.com.conf"))
	require.NoError(t, err)
	assert.Equal(t, unit.Serialize(), string(written))

	// Validate precedes reload, always in that order.
	require.Len(t, execs, 2)
	assert.Equal(t, []string{"nginx", "-t"}, execs[0])
	assert.Equal(t, []string{"nginx", "-s", "reload"}, execs[1])

	// The lock is released.
	_, err = os.Stat(filepath.Join(dir, lockFileName))
	assert.True(t, os.IsNotExist(err))
}

func TestController_ApplyRetractsOnlyNewUnitOnValidationFailure(t *testing.T) {
	fake := docker.NewFakeClient()
	proxyID := runningProxy(t, fake)
	dir := t.TempDir()
	c := NewController(fake, dir, nil)

	// First route validates and goes live.
	require.NoError(t, c.Apply(context.Background(), proxyID, testUnit(t, "alpha", "alpha.example.com", "10.0.0.5")))

	// Second route fails validation.
	reloads := 0
	fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		if cmd[1] == "-t" {
			return &docker.ExecResult{ExitCode: 1, Stderr: `unknown directive "serverx"`}, nil
		}
		reloads++
		return &docker.ExecResult{ExitCode: 0}, nil
	}
	err := c.Apply(context.Background(), proxyID, testUnit(t, "beta", "beta.example.com", "10.0.0.6"))
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Contains(t, err.Error(), "serverx", "validator output must be surfaced")

	// The rejected unit is gone, the applied one untouched, no reload issued.
	_, statErr := os.Stat(filepath.Join(dir, "beta.example.com.conf"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dir, "alpha.example.com.conf"))
	assert.NoError(t, statErr)
	assert.Zero(t, reloads)
}

func TestController_ApplyRestoresPreviousUnitOnRedeployFailure(t *testing.T) {
	fake := docker.NewFakeClient()
	proxyID := runningProxy(t, fake)
	dir := t.TempDir()
	c := NewController(fake, dir, nil)

	first := testUnit(t, "alpha", "alpha.example.com", "10.0.0.5")
	require.NoError(t, c.Apply(context.Background(), proxyID, first))

	fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		if cmd[1] == "-t" {
			return &docker.ExecResult{ExitCode: 1, Stderr: "rejected"}, nil
		}
		return &docker.ExecResult{ExitCode: 0}, nil
	}
	second := testUnit(t, "alpha", "alpha.example.com", "10.0.0.9")
	err := c.Apply(context.Background(), proxyID, second)
	require.Error(t, err)

	// The domain keeps its previous working route.
	written, readErr := os.ReadFile(filepath.Join(dir, "alpha.example.com.conf"))
	require.NoError(t, readErr)
	assert.Equal(t, first.Serialize(), string(written))
	_, statErr := os.Stat(filepath.Join(dir, "alpha.example.com.conf.prev"))
	assert.True(t, os.IsNotExist(statErr), "backup must not linger")
}

func TestController_ApplyReportsExecFailureAsApplyStage(t *testing.T) {
	fake := docker.NewFakeClient()
	proxyID := runningProxy(t, fake)
	dir := t.TempDir()
	c := NewController(fake, dir, nil)

	// The exec transport itself fails, not the validator.
	fake.ExecHandler = func(_ string, _ []string) (*docker.ExecResult, error) {
		return nil, errors.New("exec attach lost")
	}
	err := c.Apply(context.Background(), proxyID, testUnit(t, "alpha", "alpha.example.com", "10.0.0.5"))
	require.Error(t, err)
	assert.Equal(t, domain.StageApply, domain.StageOf(err))
	assert.Equal(t, domain.KindInfrastructure, domain.KindOf(err))
}

func TestController_ApplyKeepsUnitOnReloadFailure(t *testing.T) {
	fake := docker.NewFakeClient()
	proxyID := runningProxy(t, fake)
	dir := t.TempDir()
	c := NewController(fake, dir, nil)

	fake.ExecHandler = func(_ string, cmd []string) (*docker.ExecResult, error) {
		if cmd[1] == "-t" {
			return &docker.ExecResult{ExitCode: 0}, nil
		}
		return &docker.ExecResult{ExitCode: 1, Stderr: "signal process started"}, nil
	}
	err := c.Apply(context.Background(), proxyID, testUnit(t, "alpha", "alpha.example.com", "10.0.0.5"))
	require.Error(t, err)
	assert.Equal(t, domain.KindReload, domain.KindOf(err))

	// The validated unit stays on disk for the operator.
	_, statErr := os.Stat(filepath.Join(dir, "alpha.example.com.conf"))
	assert.NoError(t, statErr)
}

func TestController_Retract(t *testing.T) {
	fake := docker.NewFakeClient()
	proxyID := runningProxy(t, fake)
	dir := t.TempDir()
	c := NewController(fake, dir, nil)

	require.NoError(t, c.Apply(context.Background(), proxyID, testUnit(t, "alpha", "alpha.example.com", "10.0.0.5")))
	require.NoError(t, c.Retract(context.Background(), proxyID, "alpha.example.com"))

	_, statErr := os.Stat(filepath.Join(dir, "alpha.example.com.conf"))
	assert.True(t, os.IsNotExist(statErr))

	// Retracting an absent route is a no-op.
	assert.NoError(t, c.Retract(context.Background(), proxyID, "alpha.example.com"))
}
