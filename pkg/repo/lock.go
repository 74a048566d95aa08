package repo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	repoLockFile   = "repo.lock"
	lockRetryDelay = 5 * time.Millisecond
)

// repoLock is the single-writer discipline for one repository. Writers hold
// mu exclusively plus an O_EXCL lockfile that keeps other processes out;
// readers share mu. Every acquisition gives up after wait with ErrBusy.
type repoLock struct {
	mu   sync.RWMutex
	path string
	wait time.Duration
}

func newRepoLock(path string, wait time.Duration) *repoLock {
	return &repoLock{path: path, wait: wait}
}

func (l *repoLock) lock() (func(), error) {
	deadline := time.Now().Add(l.wait)
	for !l.mu.TryLock() {
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		time.Sleep(lockRetryDelay)
	}

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			l.mu.Unlock()
			return nil, fmt.Errorf("acquire repository lock: %w", err)
		}
		if time.Now().After(deadline) {
			l.mu.Unlock()
			return nil, l.heldError()
		}
		time.Sleep(lockRetryDelay)
	}

	return func() {
		os.Remove(l.path)
		l.mu.Unlock()
	}, nil
}

// heldError names the lockfile and its recorded holder. A writer that
// crashed leaves the file behind; it has to be removed by hand.
func (l *repoLock) heldError() error {
	holder := "another process"
	if data, err := os.ReadFile(l.path); err == nil {
		if pid := strings.TrimSpace(string(data)); pid != "" {
			holder = "process " + pid
		}
	}
	return fmt.Errorf("%w: %s is held by %s; if that process is no longer running, remove the file", ErrBusy, l.path, holder)
}

func (l *repoLock) rlock() (func(), error) {
	deadline := time.Now().Add(l.wait)
	for !l.mu.TryRLock() {
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		time.Sleep(lockRetryDelay)
	}
	return l.mu.RUnlock, nil
}

func (r *Repo) writeLock(op string) (func(), error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	unlock, err := r.lock.lock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return unlock, nil
}

func (r *Repo) readLock(op string) (func(), error) {
	if r.closed.Load() {
		return nil, fmt.Errorf("%s: %w", op, ErrClosed)
	}
	unlock, err := r.lock.rlock()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return unlock, nil
}
