package repo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/keel/pkg/object"
)

// ErrPathNotFound is returned when a path is absent from a tree or is not a
// file.
var ErrPathNotFound = errors.New("path not found in tree")

// File is file content at a slash-separated path, as supplied by a working
// directory layer.
type File struct {
	Path string
	Mode string // defaults to object.TreeModeFile
	Data []byte
}

// ChangeKind classifies a path difference between two trees.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// TreeChange is one path that differs between two trees. Old is nil for
// additions and New is nil for deletions.
type TreeChange struct {
	Path string
	Kind ChangeKind
	Old  *object.FileEntry
	New  *object.FileEntry
}

// BuildTreeFromEntries stores each file's blob and the trees that hold them,
// returning the root tree hash.
func (r *Repo) BuildTreeFromEntries(files []File) (object.Hash, error) {
	unlock, err := r.readLock("build tree")
	if err != nil {
		return "", err
	}
	defer unlock()

	entries := make([]object.FileEntry, 0, len(files))
	for _, f := range files {
		h, err := r.Store.WriteBlob(&object.Blob{Data: f.Data})
		if err != nil {
			return "", fmt.Errorf("build tree: %s: %w", f.Path, err)
		}
		entries = append(entries, object.FileEntry{Path: f.Path, Mode: fileMode(f.Mode), Hash: h})
	}
	return object.BuildTree(r.Store, entries)
}

// TreeEntries flattens a tree into its files, sorted by path.
func (r *Repo) TreeEntries(tree object.Hash) ([]object.FileEntry, error) {
	unlock, err := r.readLock("tree entries")
	if err != nil {
		return nil, err
	}
	defer unlock()
	return object.FlattenTree(r.Store, tree)
}

// UpdateTree writes puts and removes deletions on top of base (empty base
// means an empty tree) and returns the new root.
func (r *Repo) UpdateTree(base object.Hash, puts []File, deletions []string) (object.Hash, error) {
	unlock, err := r.readLock("update tree")
	if err != nil {
		return "", err
	}
	defer unlock()

	edits := make(map[string]*object.TreeEntry, len(puts)+len(deletions))
	for _, path := range deletions {
		edits[path] = nil
	}
	for _, f := range puts {
		if _, dup := edits[f.Path]; dup {
			return "", fmt.Errorf("update tree: %q listed twice", f.Path)
		}
		h, err := r.Store.WriteBlob(&object.Blob{Data: f.Data})
		if err != nil {
			return "", fmt.Errorf("update tree: %s: %w", f.Path, err)
		}
		edits[f.Path] = &object.TreeEntry{Mode: fileMode(f.Mode), Kind: object.TypeBlob, Hash: h}
	}
	return object.EditTree(r.Store, base, edits)
}

// ReadFileAt returns the content of the file at path inside tree.
func (r *Repo) ReadFileAt(tree object.Hash, path string) ([]byte, error) {
	unlock, err := r.readLock("read file")
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, ok, err := object.EntryAtPath(r.Store, tree, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok || e.IsDir() {
		return nil, fmt.Errorf("read %s: %w", path, ErrPathNotFound)
	}
	b, err := r.Store.ReadBlob(e.Hash)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b.Data, nil
}

// DiffTrees lists files that differ between trees a and b, sorted by path.
// Either hash may be empty to stand for an empty tree.
func (r *Repo) DiffTrees(a, b object.Hash) ([]TreeChange, error) {
	unlock, err := r.readLock("diff trees")
	if err != nil {
		return nil, err
	}
	defer unlock()

	left, err := r.flattenIndex(a)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	right, err := r.flattenIndex(b)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	var out []TreeChange
	for path, old := range left {
		nu, ok := right[path]
		switch {
		case !ok:
			out = append(out, TreeChange{Path: path, Kind: ChangeDeleted, Old: old})
		case old.Hash != nu.Hash || old.Mode != nu.Mode:
			out = append(out, TreeChange{Path: path, Kind: ChangeModified, Old: old, New: nu})
		}
	}
	for path, nu := range right {
		if _, ok := left[path]; !ok {
			out = append(out, TreeChange{Path: path, Kind: ChangeAdded, New: nu})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (r *Repo) flattenIndex(tree object.Hash) (map[string]*object.FileEntry, error) {
	out := make(map[string]*object.FileEntry)
	if tree == "" {
		return out, nil
	}
	files, err := object.FlattenTree(r.Store, tree)
	if err != nil {
		return nil, err
	}
	for i := range files {
		out[files[i].Path] = &files[i]
	}
	return out, nil
}

// CommitTree returns the root tree of the commit a revision names.
func (r *Repo) CommitTree(rev string) (object.Hash, error) {
	unlock, err := r.readLock("commit tree")
	if err != nil {
		return "", err
	}
	defer unlock()

	h, err := r.resolveLocked(rev)
	if err != nil {
		return "", err
	}
	c, err := r.Store.ReadCommit(h)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", h.Short(), err)
	}
	return c.TreeHash, nil
}

func fileMode(mode string) string {
	if mode == "" {
		return object.TreeModeFile
	}
	return mode
}
