package repo

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

func TestCommitCreatesBranchAndChains(t *testing.T) {
	r := newTestRepo(t)

	c1 := commitFiles(t, r, "main", map[string]string{"a.txt": "one"}, "first")
	c2 := commitFiles(t, r, "main", map[string]string{"a.txt": "two"}, "second")

	if got := mustResolve(t, r, "main"); got != c2 {
		t.Fatalf("main = %s, want %s", got.Short(), c2.Short())
	}
	if got := mustResolve(t, r, "HEAD"); got != c2 {
		t.Fatalf("HEAD = %s, want %s", got.Short(), c2.Short())
	}
	commit, err := r.Store.ReadCommit(c2)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if !reflect.DeepEqual(commit.Parents, []object.Hash{c1}) {
		t.Fatalf("parents = %v, want [%s]", commit.Parents, c1.Short())
	}
	if commit.Author != "test-author" || commit.Message != "second" {
		t.Fatalf("commit = %+v", commit)
	}
	root, err := r.Store.ReadCommit(c1)
	if err != nil {
		t.Fatalf("ReadCommit(root): %v", err)
	}
	if len(root.Parents) != 0 {
		t.Fatalf("root commit has parents %v", root.Parents)
	}
}

func TestCommitNoChanges(t *testing.T) {
	r := newTestRepo(t)
	files := map[string]string{"a.txt": "same"}
	commitFiles(t, r, "main", files, "first")

	_, err := r.Commit("main", buildTree(t, r, files), "again", "test-author")
	if !errors.Is(err, ErrNoChanges) {
		t.Fatalf("Commit identical tree err = %v, want ErrNoChanges", err)
	}
}

func TestCommitOnHead(t *testing.T) {
	r := newTestRepo(t)
	c1 := commitFiles(t, r, "", map[string]string{"a": "1"}, "on head")
	if got := mustResolve(t, r, "main"); got != c1 {
		t.Fatalf("commit on HEAD did not advance main")
	}

	if err := r.Checkout(string(c1)); err != nil {
		t.Fatalf("Checkout(hash): %v", err)
	}
	c2 := commitFiles(t, r, "", map[string]string{"a": "2"}, "detached")
	head, err := r.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if !head.Detached() || head.Hash != c2 {
		t.Fatalf("HEAD = %+v, want detached at %s", head, c2.Short())
	}
	if got := mustResolve(t, r, "main"); got != c1 {
		t.Fatalf("detached commit moved main to %s", got.Short())
	}
}

func TestCommitRequiresMessage(t *testing.T) {
	r := newTestRepo(t)
	if _, err := r.Commit("main", buildTree(t, r, map[string]string{"a": "1"}), "  ", "x"); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestCommitRejectsMissingTree(t *testing.T) {
	r := newTestRepo(t)
	missing := object.HashObject(object.TypeTree, []byte("never stored"))
	_, err := r.Commit("main", missing, "msg", "x")
	if !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("Commit missing tree err = %v, want object.ErrNotFound", err)
	}
	if _, err := r.ResolveRef("main"); !errors.Is(err, ErrRefNotFound) {
		t.Fatalf("failed commit created main: %v", err)
	}
}

func TestCommitWritesReflog(t *testing.T) {
	r := newTestRepo(t)
	c1 := commitFiles(t, r, "main", map[string]string{"a": "1"}, "first")
	c2 := commitFiles(t, r, "main", map[string]string{"a": "2"}, "second\n\nbody")

	entries, err := r.Reflog("main", 0)
	if err != nil {
		t.Fatalf("Reflog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(reflog) = %d, want 2", len(entries))
	}
	if entries[0].NewHash != c2 || entries[0].OldHash != c1 || entries[0].Reason != "commit: second" {
		t.Fatalf("newest reflog entry = %+v", entries[0])
	}
	if entries[1].OldHash != "" || entries[1].Reason != "commit (initial): first" {
		t.Fatalf("oldest reflog entry = %+v", entries[1])
	}
}

func TestConcurrentCommitsSerialize(t *testing.T) {
	r := newTestRepo(t)
	commitFiles(t, r, "main", map[string]string{"seed": "0"}, "seed")

	trees := make([]object.Hash, 8)
	for i := range trees {
		trees[i] = buildTree(t, r, map[string]string{"f": string(rune('a' + i))})
	}

	var wg sync.WaitGroup
	errs := make([]error, len(trees))
	for i := range trees {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Commit("main", trees[i], "concurrent", "worker")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, ErrBusy) {
			t.Fatalf("commit %d: %v", i, err)
		}
	}
	log, err := r.Log("main", 0, true)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if len(log) != succeeded+1 {
		t.Fatalf("history has %d commits, want %d (every successful commit chained)", len(log), succeeded+1)
	}
}

func TestLogOrder(t *testing.T) {
	r := newTestRepo(t)
	c1 := commitFiles(t, r, "main", map[string]string{"a": "1"}, "one")
	c2 := commitFiles(t, r, "main", map[string]string{"a": "2"}, "two")
	c3 := commitFiles(t, r, "main", map[string]string{"a": "3"}, "three")

	entries, err := r.Log("HEAD", 2, false)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(entries) != 2 || entries[0].Hash != c3 || entries[1].Hash != c2 {
		t.Fatalf("Log(HEAD, 2) = %v", entries)
	}
	all, err := r.Log("main", 0, false)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(all) != 3 || all[2].Hash != c1 {
		t.Fatalf("Log(main) = %v", all)
	}
}

func TestReflogNamesExpand(t *testing.T) {
	r := newTestRepo(t)
	commitFiles(t, r, "main", map[string]string{"a": "1"}, "one")
	short, err := r.Reflog("main", 0)
	if err != nil {
		t.Fatalf("Reflog(main): %v", err)
	}
	full, err := r.Reflog(refs.HeadsPrefix+"main", 0)
	if err != nil {
		t.Fatalf("Reflog(refs/heads/main): %v", err)
	}
	if !reflect.DeepEqual(short, full) {
		t.Fatalf("short and full reflog differ: %v vs %v", short, full)
	}
	head, err := r.Reflog("", 0)
	if err != nil {
		t.Fatalf("Reflog(HEAD): %v", err)
	}
	if len(head) == 0 {
		t.Fatal("HEAD reflog is empty")
	}
}
