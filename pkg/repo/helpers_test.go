package repo

import (
	"sort"
	"testing"
	"time"

	"github.com/odvcencio/keel/pkg/object"
)

func newTestRepo(t *testing.T, opts ...Option) *Repo {
	t.Helper()
	r, err := Init(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	clock := time.Unix(1_700_000_000, 0)
	r.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func buildTree(t *testing.T, r *Repo, files map[string]string) object.Hash {
	t.Helper()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var in []File
	for _, p := range paths {
		in = append(in, File{Path: p, Data: []byte(files[p])})
	}
	h, err := r.BuildTreeFromEntries(in)
	if err != nil {
		t.Fatalf("BuildTreeFromEntries: %v", err)
	}
	return h
}

func commitFiles(t *testing.T, r *Repo, branch string, files map[string]string, message string) object.Hash {
	t.Helper()
	h, err := r.Commit(branch, buildTree(t, r, files), message, "test-author")
	if err != nil {
		t.Fatalf("Commit(%s, %q): %v", branch, message, err)
	}
	return h
}

func readFiles(t *testing.T, r *Repo, rev string) map[string]string {
	t.Helper()
	tree, err := r.CommitTree(rev)
	if err != nil {
		t.Fatalf("CommitTree(%s): %v", rev, err)
	}
	entries, err := r.TreeEntries(tree)
	if err != nil {
		t.Fatalf("TreeEntries: %v", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := r.ReadFileAt(tree, e.Path)
		if err != nil {
			t.Fatalf("ReadFileAt(%s): %v", e.Path, err)
		}
		out[e.Path] = string(data)
	}
	return out
}

func mustResolve(t *testing.T, r *Repo, rev string) object.Hash {
	t.Helper()
	h, err := r.ResolveRef(rev)
	if err != nil {
		t.Fatalf("ResolveRef(%s): %v", rev, err)
	}
	return h
}
