package repo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterTimesOutWithBusy(t *testing.T) {
	r := newTestRepo(t, WithLockTimeout(30*time.Millisecond))
	tip := commitFiles(t, r, "main", map[string]string{"a": "1"}, "root")

	unlock, err := r.writeLock("test")
	if err != nil {
		t.Fatalf("writeLock: %v", err)
	}
	start := time.Now()
	err = r.CreateBranch("feature", tip)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("CreateBranch while locked err = %v, want ErrBusy", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("lock wait took %v, want bounded", elapsed)
	}
	if _, err := r.ListBranches(); !errors.Is(err, ErrBusy) {
		t.Fatalf("reader while writer holds lock err = %v, want ErrBusy", err)
	}
	unlock()

	if err := r.CreateBranch("feature", tip); err != nil {
		t.Fatalf("CreateBranch after unlock: %v", err)
	}
}

func TestReadersShareLock(t *testing.T) {
	r := newTestRepo(t, WithLockTimeout(30*time.Millisecond))
	commitFiles(t, r, "main", map[string]string{"a": "1"}, "root")

	unlock, err := r.readLock("test")
	if err != nil {
		t.Fatalf("readLock: %v", err)
	}
	defer unlock()

	if _, err := r.ListBranches(); err != nil {
		t.Fatalf("concurrent reader: %v", err)
	}
	if _, err := r.Commit("main", buildTree(t, r, map[string]string{"a": "2"}), "blocked", "x"); !errors.Is(err, ErrBusy) {
		t.Fatalf("writer while reader holds lock err = %v, want ErrBusy", err)
	}
}

func TestLockfileFromAnotherProcess(t *testing.T) {
	r := newTestRepo(t, WithLockTimeout(30*time.Millisecond))
	tip := commitFiles(t, r, "main", map[string]string{"a": "1"}, "root")

	lockPath := filepath.Join(r.Dir, repoLockFile)
	if err := os.WriteFile(lockPath, []byte("99999\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := r.CreateBranch("feature", tip)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("CreateBranch with foreign lockfile err = %v, want ErrBusy", err)
	}
	for _, want := range []string{lockPath, "process 99999", "remove the file"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("ErrBusy message %q does not mention %q", err, want)
		}
	}
	// The in-process lock must be released after the failed attempt.
	if _, err := r.ListBranches(); err != nil {
		t.Fatalf("ListBranches after failed writer: %v", err)
	}
	if err := os.Remove(lockPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.CreateBranch("feature", tip); err != nil {
		t.Fatalf("CreateBranch after lock removed: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatalf("lockfile left behind: %v", err)
	}
}
