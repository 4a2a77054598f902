package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
	lockRetryDelay = 250 * time.Millisecond
)

// DBLock serializes writers of the history database across processes.
type DBLock struct {
	lock *flock.Flock
	path string
}

// NewDBLock returns the lock guarding the database at dbPath, creating the
// database directory if needed.
func NewDBLock(dbPath string) (*DBLock, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", filepath.Dir(absPath), err)
	}
	lockPath := absPath + lockFileSuffix
	return &DBLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Lock acquires the lock. When another process holds it, Lock polls until
// the lock is free or ctx is done.
func (l *DBLock) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if locked {
		return nil
	}

	Log.Warnf("Another e6grab run is recording to %s, waiting for it to finish", l.path)
	locked, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("gave up waiting for lock on %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire lock on %s", l.path)
	}
	return nil
}

// Locked reports whether this process holds the lock.
func (l *DBLock) Locked() bool { return l.lock.Locked() }

// Unlock releases the lock and closes the lock file. It is a no-op when the
// lock is not held.
func (l *DBLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// GetAbsDBPath resolves the database path. An empty path maps to the
// per-user default location.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "e6grab", "history.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}
