package refs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/odvcencio/keel/pkg/object"
)

func hashOf(s string) object.Hash {
	return object.HashBytes([]byte(s))
}

func newTestStore(t *testing.T, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	return NewStore(dir, opts...), dir
}

func TestSetGetOverwrite(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Set("refs/heads/main", hashOf("a")); err != nil {
		t.Fatalf("Set(a): %v", err)
	}
	got, err := s.Get("refs/heads/main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != hashOf("a") {
		t.Fatalf("Get = %s, want %s", got, hashOf("a"))
	}

	if err := s.Set("refs/heads/main", hashOf("b")); err != nil {
		t.Fatalf("Set(b): %v", err)
	}
	got, err = s.Get("refs/heads/main")
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if got != hashOf("b") {
		t.Fatalf("Get after overwrite = %s, want %s", got, hashOf("b"))
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get("refs/heads/nope")
	if !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("Get missing: err = %v, want ErrRefNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.Set("refs/heads/team/feature", hashOf("a")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete("refs/heads/team/feature"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("refs/heads/team/feature"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("Get after delete: err = %v, want ErrRefNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "refs", "heads", "team")); !os.IsNotExist(err) {
		t.Fatalf("empty namespace directory should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "refs", "heads")); err != nil {
		t.Fatalf("refs/heads should be kept: %v", err)
	}
	if err := s.Delete("refs/heads/team/feature"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("second Delete: err = %v, want ErrRefNotFound", err)
	}
}

func TestListSortedByName(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"refs/heads/zeta", "refs/heads/alpha", "refs/tags/v1", "refs/remotes/origin/main"} {
		if err := s.Set(name, hashOf(name)); err != nil {
			t.Fatalf("Set(%s): %v", name, err)
		}
	}

	heads, err := s.List(HeadsPrefix)
	if err != nil {
		t.Fatalf("List(heads): %v", err)
	}
	if len(heads) != 2 || heads[0].Name != "refs/heads/alpha" || heads[1].Name != "refs/heads/zeta" {
		t.Fatalf("List(heads) = %+v", heads)
	}
	if heads[0].Hash != hashOf("refs/heads/alpha") {
		t.Fatalf("alpha hash = %s", heads[0].Hash)
	}

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List(all) returned %d refs, want 4", len(all))
	}
}

func TestListEmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	refs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("List = %+v, want empty", refs)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"HEAD", "refs/heads/main", "refs/heads/feature/x-1", "refs/remotes/origin/main"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q): %v", name, err)
		}
	}
	invalid := []string{"main", "refs/heads/", "refs//x", "refs/heads/../x", "refs/heads/a.lock", "refs/heads/has space", "refs/heads/.hidden", "refs/heads/a:b", "refs/heads/a..b"}
	for _, name := range invalid {
		if err := ValidateName(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestTargetCheckRejectsDanglingRef(t *testing.T) {
	known := hashOf("known")
	s, _ := newTestStore(t, WithTargetCheck(func(h object.Hash) bool { return h == known }))

	if err := s.Set("refs/heads/main", known); err != nil {
		t.Fatalf("Set(known): %v", err)
	}
	err := s.Set("refs/heads/main", hashOf("unknown"))
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("Set(unknown): err = %v, want object.ErrNotFound", err)
	}
	got, err := s.Get("refs/heads/main")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != known {
		t.Fatalf("ref moved to %s after rejected update", got)
	}
}

func TestSetCAS_ConcurrentSingleWinner(t *testing.T) {
	s, _ := newTestStore(t)

	base := hashOf("base")
	if err := s.Set("refs/heads/main", base); err != nil {
		t.Fatalf("Set(base): %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)

	successCh := make(chan object.Hash, workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		i := i
		go func() {
			defer wg.Done()
			next := hashOf(fmt.Sprintf("next-%d", i))
			if err := s.SetCAS("refs/heads/main", next, base, "race"); err != nil {
				errCh <- err
				return
			}
			successCh <- next
		}()
	}

	wg.Wait()
	close(successCh)
	close(errCh)

	var winner object.Hash
	successes := 0
	for h := range successCh {
		successes++
		winner = h
	}
	if successes != 1 {
		t.Fatalf("successful CAS updates = %d, want 1", successes)
	}

	for err := range errCh {
		if !errors.Is(err, ErrCASMismatch) {
			t.Fatalf("unexpected error type: %v", err)
		}
	}

	got, err := s.Get("refs/heads/main")
	if err != nil {
		t.Fatalf("Get(main): %v", err)
	}
	if got != winner {
		t.Fatalf("refs/heads/main = %s, want winner %s", got, winner)
	}
}

func TestSetCAS_CreateOnlyWhenAbsent(t *testing.T) {
	s, dir := newTestStore(t)
	if err := s.SetCAS("refs/heads/feature", hashOf("a"), "", "create"); err != nil {
		t.Fatalf("SetCAS(create): %v", err)
	}
	err := s.SetCAS("refs/heads/feature", hashOf("b"), "", "create")
	if !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("SetCAS on existing ref: err = %v, want ErrCASMismatch", err)
	}
	lockPath := filepath.Join(dir, "refs", "heads", "feature.lock")
	if _, statErr := os.Stat(lockPath); !os.IsNotExist(statErr) {
		t.Fatalf("expected no lingering lockfile at %q, stat err=%v", lockPath, statErr)
	}
}

func TestSetTimesOutOnHeldLock(t *testing.T) {
	s, dir := newTestStore(t, WithLockTimeout(30*time.Millisecond))
	if err := os.MkdirAll(filepath.Join(dir, "refs", "heads"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	lockPath := filepath.Join(dir, "refs", "heads", "main.lock")
	if err := os.WriteFile(lockPath, nil, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	err := s.Set("refs/heads/main", hashOf("a"))
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Set with held lock: err = %v, want ErrLocked", err)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Fatalf("foreign lock must be left alone: %v", err)
	}
}

func TestHeadSymbolicAndDetached(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetSymbolicHead("refs/heads/main"); err != nil {
		t.Fatalf("SetSymbolicHead: %v", err)
	}
	head, err := s.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.Detached() || head.Branch() != "main" {
		t.Fatalf("Head = %+v, want symbolic main", head)
	}
	if _, err := s.Get("HEAD"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("Get(HEAD) on unborn branch: err = %v, want ErrRefNotFound", err)
	}

	tip := hashOf("tip")
	if err := s.Set("refs/heads/main", tip); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := s.Get("HEAD"); err != nil || got != tip {
		t.Fatalf("Get(HEAD) = %s, %v; want %s", got, err, tip)
	}

	if err := s.SetDetachedHead(hashOf("detached")); err != nil {
		t.Fatalf("SetDetachedHead: %v", err)
	}
	head, err = s.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !head.Detached() || head.Hash != hashOf("detached") {
		t.Fatalf("Head = %+v, want detached", head)
	}

	if err := s.UpdateHeadCAS(hashOf("next"), hashOf("wrong"), "commit"); !errors.Is(err, ErrCASMismatch) {
		t.Fatalf("UpdateHeadCAS with stale old: err = %v, want ErrCASMismatch", err)
	}
	if err := s.UpdateHeadCAS(hashOf("next"), hashOf("detached"), "commit"); err != nil {
		t.Fatalf("UpdateHeadCAS: %v", err)
	}
	if got, _ := s.Get("HEAD"); got != hashOf("next") {
		t.Fatalf("Get(HEAD) = %s, want %s", got, hashOf("next"))
	}
}

func TestReflogNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetWithReason("refs/heads/main", hashOf("1"), "commit: one"); err != nil {
		t.Fatalf("Set 1: %v", err)
	}
	if err := s.SetWithReason("refs/heads/main", hashOf("2"), "commit: two"); err != nil {
		t.Fatalf("Set 2: %v", err)
	}
	if err := s.Delete("refs/heads/main"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	entries, err := s.Reflog("refs/heads/main", 0)
	if err != nil {
		t.Fatalf("Reflog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Reflog returned %d entries, want 3", len(entries))
	}
	if entries[0].Reason != "delete" || entries[0].NewHash != "" {
		t.Fatalf("newest entry = %+v, want delete", entries[0])
	}
	if entries[1].OldHash != hashOf("1") || entries[1].NewHash != hashOf("2") || entries[1].Reason != "commit: two" {
		t.Fatalf("entries[1] = %+v", entries[1])
	}
	if entries[2].OldHash != "" {
		t.Fatalf("first entry old hash = %q, want empty", entries[2].OldHash)
	}

	limited, err := s.Reflog("refs/heads/main", 1)
	if err != nil {
		t.Fatalf("Reflog(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("Reflog(limit=1) returned %d entries", len(limited))
	}
}
