// Package dirlock provides an advisory, process-lifetime exclusive lock on
// a directory, used to enforce the storage engine's assumption that it has
// exclusive access to its data directory (spec §5).
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrHeld is returned by TryLock when another process already holds the
// lock.
var ErrHeld = errors.New("directory already locked by another process")

// Lock is a held advisory lock. Call Close to release it.
type Lock struct {
	file *os.File
}

// TryLock attempts to acquire an exclusive, non-blocking flock on path,
// creating it if necessary. It returns ErrHeld if another process holds
// the lock.
//
// flock locks an inode, not a pathname; callers should use a stable,
// dedicated lock file path (e.g. "<data-dir>/.kvs.lock") and never
// replace it while the lock may be held.
func TryLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("dirlock: open %q: %w", path, err)
	}

	if err := flockRetryEINTR(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrHeld
		}

		return nil, fmt.Errorf("dirlock: flock %q: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Close releases the lock and closes the underlying descriptor. Closing a
// file descriptor also releases any flock held by the process, so Close
// attempts an explicit unlock first on a best-effort basis. Idempotent.
func (l *Lock) Close() error {
	if l == nil || l.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	return errors.Join(unlockErr, closeErr)
}

// flockRetryEINTR wraps flock(2), retrying on EINTR: a blocking syscall
// interrupted by a signal (SIGWINCH, SIGCHLD, ...) didn't fail, it just
// needs to be retried.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = syscall.Flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}

	return err
}
