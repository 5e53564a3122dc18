package dirlock_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunroy/kvs/internal/dirlock"
)

func Test_TryLock_SecondAttempt_Fails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".kvs.lock")

	lock1, err := dirlock.TryLock(path)
	require.NoError(t, err)

	defer lock1.Close()

	_, err = dirlock.TryLock(path)
	assert.ErrorIs(t, err, dirlock.ErrHeld)
}

func Test_TryLock_AfterClose_CanReacquire(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".kvs.lock")

	lock1, err := dirlock.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, lock1.Close())

	lock2, err := dirlock.TryLock(path)
	require.NoError(t, err)
	require.NoError(t, lock2.Close())
}

func Test_Lock_Close_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".kvs.lock")

	lock, err := dirlock.TryLock(path)
	require.NoError(t, err)

	require.NoError(t, lock.Close())
	require.NoError(t, lock.Close())
}
