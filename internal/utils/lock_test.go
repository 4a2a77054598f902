package utils

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDBLock_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.sqlite")

	l, err := NewDBLock(dbPath)
	require.NoError(t, err)
	require.NoError(t, l.Lock(context.Background()))
	require.True(t, l.Locked())
	require.FileExists(t, dbPath+lockFileSuffix)
	require.NoError(t, l.Unlock())
	require.False(t, l.Locked())
}

func TestDBLock_WaitRespectsContext(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.sqlite")

	holder, err := NewDBLock(dbPath)
	require.NoError(t, err)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock()

	waiter, err := NewDBLock(dbPath)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, waiter.Lock(ctx), context.DeadlineExceeded)
	require.False(t, waiter.Locked())
}

func TestDBLock_UnlockWithoutLock(t *testing.T) {
	l, err := NewDBLock(filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
}
