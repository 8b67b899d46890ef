package collector

import (
	"errors"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
)

// cycleLock is an exclusive flock(2) held for the duration of one cycle.
type cycleLock struct {
	f *os.File
}

// acquireLock takes the lock at path without blocking. An empty path yields
// a no-op lock. A lock held elsewhere is reported as a BUSY error.
func acquireLock(path string) (*cycleLock, error) {
	if path == "" {
		return &cycleLock{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodePersistence,
			"create lock directory", err, map[string]any{"path": path})
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, apperrors.WrapWithContext(apperrors.ErrCodePersistence,
			"open lock file", err, map[string]any{"path": path})
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodeBusy,
				"another cycle is running", err, map[string]any{"path": path})
		}
		return nil, apperrors.WrapWithContext(apperrors.ErrCodePersistence,
			"lock", err, map[string]any{"path": path})
	}

	return &cycleLock{f: f}, nil
}

func (l *cycleLock) release() {
	if l == nil || l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
	l.f = nil
}
