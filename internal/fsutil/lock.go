package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/survey.report/internal/timeutil"
)

// LockFileName is created inside a directory while it is locked.
const LockFileName = ".lock"

// ErrLockTimeout is returned when a directory lock cannot be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for directory lock")

// ErrLockLost is returned when the lock file no longer carries this holder's
// token, typically because another process judged it stale and took over.
var ErrLockLost = errors.New("directory lock lost")

// LockOptions tune LockDir.
type LockOptions struct {
	// Timeout bounds the wait. Zero means try once.
	Timeout time.Duration
	// Poll is the retry interval (default 50ms).
	Poll time.Duration
	// StaleAfter breaks locks whose file was not touched for this long
	// (default 10m). Long holders call Touch to stay fresh.
	StaleAfter time.Duration
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

func (o LockOptions) withDefaults() LockOptions {
	if o.Poll <= 0 {
		o.Poll = 50 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// DirLock is an exclusive lock on a directory, held across goroutines of
// this process and across processes sharing the filesystem.
type DirLock struct {
	path  string
	token string
	clock timeutil.Clock
	mu    *sync.Mutex
	once  sync.Once
}

var (
	localMu    sync.Mutex
	localLocks = map[string]*sync.Mutex{}
)

func localLock(dir string) *sync.Mutex {
	localMu.Lock()
	defer localMu.Unlock()
	m, ok := localLocks[dir]
	if !ok {
		m = &sync.Mutex{}
		localLocks[dir] = m
	}
	return m
}

// LockDir takes the exclusive lock on dir, creating dir if needed.
func LockDir(dir string, opts LockOptions) (*DirLock, error) {
	opts = opts.withDefaults()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	start := opts.Clock.Now()
	mu := localLock(abs)
	for !mu.TryLock() {
		if opts.Clock.Since(start) >= opts.Timeout {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, abs)
		}
		opts.Clock.Sleep(opts.Poll)
	}

	path := filepath.Join(abs, LockFileName)
	token, err := acquireLockFile(path, opts, start)
	if err != nil {
		mu.Unlock()
		return nil, err
	}
	return &DirLock{path: path, token: token, clock: opts.Clock, mu: mu}, nil
}

// acquireLockFile creates the lock file at path holding a fresh token,
// breaking it when stale. It is the cross-process half of LockDir.
func acquireLockFile(path string, opts LockOptions, start time.Time) (string, error) {
	token := strconv.Itoa(os.Getpid()) + " " + uuid.NewString()
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.WriteString(token)
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(path)
				return "", fmt.Errorf("failed to write lock file: %w", werr)
			}
			return token, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create lock file: %w", err)
		}
		if stale(path, opts.Clock.Now(), opts.StaleAfter) {
			os.Remove(path)
			continue
		}
		if opts.Clock.Since(start) >= opts.Timeout {
			return "", fmt.Errorf("%w: %s", ErrLockTimeout, filepath.Dir(path))
		}
		opts.Clock.Sleep(opts.Poll)
	}
}

// stale reports whether the lock file at path was last touched more than
// staleAfter before now.
func stale(path string, now time.Time, staleAfter time.Duration) bool {
	info, err := os.Stat(path)
	return err == nil && now.Sub(info.ModTime()) > staleAfter
}

// Path is the lock file path.
func (l *DirLock) Path() string { return l.path }

// owned checks that the lock file still carries this holder's token.
func (l *DirLock) owned() error {
	b, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockLost, err)
	}
	if string(b) != l.token {
		return fmt.Errorf("%w: %s held by %q", ErrLockLost, l.path, b)
	}
	return nil
}

// Touch marks the lock as live so other processes do not break it as stale.
// It fails with ErrLockLost when the lock was taken over.
func (l *DirLock) Touch() error {
	if err := l.owned(); err != nil {
		return err
	}
	now := l.clock.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		return fmt.Errorf("failed to touch lock file: %w", err)
	}
	return nil
}

// Unlock releases the lock. The lock file is removed only while it still
// carries this holder's token; otherwise ErrLockLost is returned and the
// new holder's file is left alone. Calling it more than once is a no-op.
func (l *DirLock) Unlock() error {
	var err error
	l.once.Do(func() {
		defer l.mu.Unlock()
		if err = l.owned(); err != nil {
			return
		}
		err = os.Remove(l.path)
	})
	return err
}
