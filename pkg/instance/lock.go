package instance

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("another attend serve owns this directory")

// Lock is a held serve lock. The zero value and nil are released.
type Lock struct {
	f *os.File
}

// TryLock takes the exclusive serve lock without blocking. The lock lives
// as long as the returned Lock's file stays open, so a crashed process
// never leaves it behind.
func (m *Manager) TryLock() (*Lock, error) {
	f, err := os.OpenFile(m.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", m.lockPath, err)
	}

	switch err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); {
	case err == nil:
		return &Lock{f: f}, nil
	case errors.Is(err, syscall.EWOULDBLOCK):
		_ = f.Close()
		return nil, ErrLocked
	default:
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", m.lockPath, err)
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	unlockErr := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("releasing serve lock: %w", unlockErr)
	}
	return closeErr
}
