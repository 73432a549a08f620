package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by Lock.Acquire when a live process owns the lock.
var ErrLocked = errors.New("scheduler lock is held by another live process")

// LockInfo is the content of the scheduler lock file.
type LockInfo struct {
	OwnerID    string    `json:"owner_id"`
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ProcessAlive reports whether pid names a running process. EPERM means the
// process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// LockOptions holds the injectable parts of a Lock.
type LockOptions struct {
	Alive func(pid int) bool // Optional: defaults to ProcessAlive
	Now   func() time.Time   // Optional: defaults to time.Now
	PID   int                // Optional: defaults to os.Getpid()
}

// Lock is the single-active-scheduler lock. The lock file is created with
// O_EXCL; a lock whose owner is no longer alive, or whose content cannot be
// parsed, is stale and gets reclaimed.
type Lock struct {
	path  string
	alive func(int) bool
	now   func() time.Time
	pid   int
	held  *LockInfo
}

// NewLock creates a Lock for the file at path.
func NewLock(path string) *Lock {
	return NewLockWithOptions(path, LockOptions{})
}

// NewLockWithOptions creates a Lock with explicit dependencies.
func NewLockWithOptions(path string, opts LockOptions) *Lock {
	l := &Lock{path: path, alive: opts.Alive, now: opts.Now, pid: opts.PID}
	if l.alive == nil {
		l.alive = ProcessAlive
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.pid == 0 {
		l.pid = os.Getpid()
	}
	return l
}

// Acquire takes the lock. When a live owner holds it, Acquire returns that
// owner's info and an error wrapping ErrLocked, and touches nothing.
func (l *Lock) Acquire() (*LockInfo, error) {
	if l.held != nil {
		return l.held, nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	hostname, _ := os.Hostname()
	info := &LockInfo{
		OwnerID:    uuid.NewString(),
		PID:        l.pid,
		Hostname:   hostname,
		AcquiredAt: l.now().UTC(),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// Two attempts: the second follows reclaiming a stale lock.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("failed to write lock: %w", errors.Join(werr, cerr))
			}
			// Another process reclaiming the same stale lock may have
			// replaced ours between create and write.
			current, rerr := ReadLock(l.path)
			if rerr != nil || current == nil || current.OwnerID != info.OwnerID {
				return current, fmt.Errorf("%w: lost reclaim race", ErrLocked)
			}
			l.held = info
			return info, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, rerr := ReadLock(l.path)
		if rerr == nil && existing != nil && l.alive(existing.PID) {
			return existing, fmt.Errorf("%w: pid %d on %s since %s",
				ErrLocked, existing.PID, existing.Hostname, existing.AcquiredAt.Format(time.RFC3339))
		}

		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: could not reclaim stale lock", ErrLocked)
}

// Release removes the lock file if this Lock still owns it.
func (l *Lock) Release() error {
	if l.held == nil {
		return nil
	}
	owner := l.held.OwnerID
	l.held = nil

	current, err := ReadLock(l.path)
	if err != nil || current == nil || current.OwnerID != owner {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Held returns the info of the lock this instance owns, or nil.
func (l *Lock) Held() *LockInfo {
	return l.held
}

// Status reads the lock file and reports whether its owner is alive.
// It returns nil info when no lock file exists.
func (l *Lock) Status() (*LockInfo, bool, error) {
	info, err := ReadLock(l.path)
	if err != nil || info == nil {
		return info, false, err
	}
	return info, l.alive(info.PID), nil
}

// ReadLock parses the lock file at path. It returns nil, nil when the file
// does not exist.
func ReadLock(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock: %w", err)
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse lock: %w", err)
	}
	return &info, nil
}
