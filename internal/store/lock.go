package store

import (
	"fmt"
	"os"

	cerrors "github.com/archival/canonicalize/errors"
)

// Lock acquires the single-writer sentinel lock: an exclusive-create of
// lockPath. Collision returns ErrStoreLocked; the caller must refuse to
// start rather than proceed, since two concurrent writers could race each
// other's transactions.
func Lock(lockPath string) (*os.File, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", cerrors.ErrStoreLocked, lockPath)
		}
		return nil, fmt.Errorf("failed to create lock file %s: %w", lockPath, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// Unlock releases the sentinel lock, closing and removing the lock file.
func Unlock(lockPath string, f *os.File) error {
	if f != nil {
		_ = f.Close()
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", lockPath, err)
	}
	return nil
}
