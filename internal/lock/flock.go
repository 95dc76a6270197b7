package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a non-blocking lock is held by someone else.
var ErrLocked = errors.New("lock held by another process")

// openLocked opens (creating if needed) path and takes an exclusive flock(2)
// on it. With wait false the call fails fast with ErrLocked.
func openLocked(path string, wait bool) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_EX
	if !wait {
		how |= unix.LOCK_NB
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire lock %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	return f, nil
}

func unlockClose(f *os.File) error {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
