package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/artpar/berth/internal/core/retry"
)

// =============================================================================
// Config Directory Lock
// =============================================================================

// lockFileName lives inside the config directory so every process mutating
// the directory contends on the same file.
const lockFileName = ".berth.lock"

// staleLockAge is how old a lock file must be before a crashed holder is
// assumed and the lock is broken.
const staleLockAge = 2 * time.Minute

// DirLock serializes "stage → validate → reload" across berth processes.
// The critical section covers the shared configuration directory and the
// live reload operation: without it a concurrent validation pass could
// silently drop another run's staged-but-unreloaded unit.
type DirLock struct {
	path string
}

// NewDirLock creates a lock for the given config directory.
func NewDirLock(configDir string) *DirLock {
	return &DirLock{path: filepath.Join(configDir, lockFileName)}
}

// Acquire takes the lock, retrying with fixed backoff. Lock files older
// than staleLockAge are treated as leftovers of a crashed run and broken.
func (l *DirLock) Acquire(ctx context.Context) error {
	cfg := retry.Config{
		MaxAttempts: 60,
		Delay:       retry.Fixed(500 * time.Millisecond),
	}
	return retry.Do(ctx, cfg, func(context.Context) error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			return f.Close()
		}
		if !os.IsExist(err) {
			return err
		}
		if info, statErr := os.Stat(l.path); statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(l.path)
			return fmt.Errorf("removed stale lock, retrying")
		}
		return fmt.Errorf("config directory locked by another run")
	})
}

// Release drops the lock.
func (l *DirLock) Release() error {
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
