package lock

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockThenContend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCloseReleasesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first, err := TryLock(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := TryLock(path)
	require.NoError(t, err)
	defer second.Close()
}

func TestLockBlocksUntilReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first, err := TryLock(path)
	require.NoError(t, err)

	notified := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		second, err := Lock(path, func() { notified <- struct{}{} })
		require.NoError(t, err)
		second.Close()
		close(done)
	}()

	<-notified
	require.NoError(t, first.Close())
	<-done
}
