package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirLock_AcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewDirLock(dir)

	require.NoError(t, lock.Acquire(context.Background()))
	_, err := os.Stat(filepath.Join(dir, lockFileName))
	assert.NoError(t, err, "lock file should exist while held")

	require.NoError(t, lock.Release())
	_, err = os.Stat(filepath.Join(dir, lockFileName))
	assert.True(t, os.IsNotExist(err), "lock file should be gone after release")
}

func TestDirLock_BlocksSecondHolder(t *testing.T) {
	dir := t.TempDir()
	first := NewDirLock(dir)
	second := NewDirLock(dir)

	require.NoError(t, first.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := second.Acquire(ctx)
	assert.Error(t, err, "second holder must not acquire while first holds")

	require.NoError(t, first.Release())
	require.NoError(t, second.Acquire(context.Background()))
	require.NoError(t, second.Release())
}

func TestDirLock_BreaksStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, lockFileName)
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))
	old := time.Now().Add(-2 * staleLockAge)
	require.NoError(t, os.Chtimes(path, old, old))

	lock := NewDirLock(dir)
	require.NoError(t, lock.Acquire(context.Background()))
	require.NoError(t, lock.Release())
}

func TestDirLock_ReleaseWithoutAcquire(t *testing.T) {
	lock := NewDirLock(t.TempDir())
	assert.NoError(t, lock.Release())
}
