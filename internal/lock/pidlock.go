package lock

import (
	"fmt"
	"os"
)

// PIDLock keeps a single deployhook server per state directory.
// The lock lives as long as the file descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// AcquirePIDLock takes the lock at lockPath without blocking and records the
// current PID in it. A running server yields an error wrapping ErrLocked.
func AcquirePIDLock(lockPath string) (*PIDLock, error) {
	f, err := openLocked(lockPath, false)
	if err != nil {
		return nil, err
	}

	if err := writePID(f); err != nil {
		_ = unlockClose(f)
		return nil, err
	}

	return &PIDLock{path: lockPath, f: f}, nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (l *PIDLock) Path() string { return l.path }

func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockClose(l.f)
	l.f = nil
	return err
}
