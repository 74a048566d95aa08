package repo

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/odvcencio/keel/pkg/merge"
	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

func TestBundleCloneFetchAndPull(t *testing.T) {
	upstream := newTestRepo(t)
	commitFiles(t, upstream, "main", map[string]string{"README": "v1"}, "initial")
	if err := upstream.CreateTag("v1", mustResolve(t, upstream, "main"), false); err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	var full bytes.Buffer
	if _, err := upstream.ExportBundle(&full, []string{"main", "v1"}, nil); err != nil {
		t.Fatalf("ExportBundle: %v", err)
	}

	clone := newTestRepo(t)
	updated, err := clone.FetchBundle("origin", &full)
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	wantRefs := []refs.Ref{
		{Name: "refs/remotes/origin/main", Hash: mustResolve(t, upstream, "main")},
		{Name: "refs/tags/v1", Hash: mustResolve(t, upstream, "v1")},
	}
	if !reflect.DeepEqual(updated, wantRefs) {
		t.Fatalf("FetchBundle refs = %+v, want %+v", updated, wantRefs)
	}

	// An unborn main can start from the fetched tip.
	if err := clone.CreateBranch("main", mustResolve(t, clone, "origin/main")); err != nil {
		t.Fatalf("CreateBranch(main): %v", err)
	}

	// Upstream moves on; the clone pulls only the new objects.
	have := mustResolve(t, upstream, "main")
	commitFiles(t, upstream, "main", map[string]string{"README": "v2", "NEWS": "n"}, "second")
	var thin bytes.Buffer
	m, err := upstream.ExportBundle(&thin, nil, []object.Hash{have})
	if err != nil {
		t.Fatalf("ExportBundle(thin): %v", err)
	}
	if m.Objects != 4 {
		t.Fatalf("thin bundle carried %d objects, want 4", m.Objects)
	}
	if _, err := clone.FetchBundle("origin", &thin); err != nil {
		t.Fatalf("FetchBundle(thin): %v", err)
	}

	res, err := clone.Merge("main", "origin/main")
	if err != nil {
		t.Fatalf("Merge(origin/main): %v", err)
	}
	if res.Status != merge.StatusFastForward {
		t.Fatalf("pull Status = %v, want fast-forward", res.Status)
	}
	want := map[string]string{"README": "v2", "NEWS": "n"}
	if got := readFiles(t, clone, "main"); !reflect.DeepEqual(got, want) {
		t.Fatalf("pulled files = %v, want %v", got, want)
	}
}
