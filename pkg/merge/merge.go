// Package merge implements a path-level three-way merge of commit trees.
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/keel/pkg/graph"
	"github.com/odvcencio/keel/pkg/object"
)

// ErrUnrelatedHistories is returned when the two commits share no ancestor.
// It also matches graph.ErrNoCommonAncestor.
var ErrUnrelatedHistories = errors.New("refusing to merge unrelated histories")

// Store is the subset of the object store the engine reads and writes.
type Store interface {
	ReadCommit(h object.Hash) (*object.CommitObj, error)
	ReadTree(h object.Hash) (*object.TreeObj, error)
	WriteTree(tr *object.TreeObj) (object.Hash, error)
	WriteBlob(b *object.Blob) (object.Hash, error)
}

// BaseFinder picks the merge base of two commits.
type BaseFinder interface {
	MergeBase(a, b object.Hash) (object.Hash, error)
}

// Status classifies a merge outcome.
type Status int

const (
	// StatusClean is a true three-way merge with no conflicts.
	StatusClean Status = iota
	// StatusFastForward means ours is an ancestor of theirs.
	StatusFastForward
	// StatusUpToDate means theirs is already contained in ours.
	StatusUpToDate
	// StatusConflicted means at least one path needs manual resolution.
	StatusConflicted
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusFastForward:
		return "fast-forward"
	case StatusUpToDate:
		return "up-to-date"
	case StatusConflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result of merging two commits.
//
// Tree is the merged root tree. For StatusConflicted it is the partial merge:
// every clean path is merged and each conflicting path holds ours' entry (or
// is absent when ours has none).
type Outcome struct {
	Status    Status
	Base      object.Hash
	Ours      object.Hash
	Theirs    object.Hash
	Tree      object.Hash
	Conflicts []Conflict
}

// Clean reports whether the outcome needs no resolution.
func (o *Outcome) Clean() bool {
	return o.Status != StatusConflicted
}

// Engine merges commits stored in an object store.
type Engine struct {
	store Store
	bases BaseFinder
}

// New creates an Engine over store, using bases to pick merge bases.
func New(store Store, bases BaseFinder) *Engine {
	return &Engine{store: store, bases: bases}
}

// Merge computes the three-way merge of theirs into ours. It never creates
// commits; callers decide what to do with the outcome.
func (e *Engine) Merge(ours, theirs object.Hash) (*Outcome, error) {
	base, err := e.bases.MergeBase(ours, theirs)
	if err != nil {
		if errors.Is(err, graph.ErrNoCommonAncestor) {
			return nil, fmt.Errorf("merge %s into %s: %w: %w", theirs.Short(), ours.Short(), ErrUnrelatedHistories, err)
		}
		return nil, fmt.Errorf("merge: find merge base: %w", err)
	}

	out := &Outcome{Base: base, Ours: ours, Theirs: theirs}
	switch base {
	case theirs:
		out.Status = StatusUpToDate
		out.Tree, err = e.treeOf(ours)
		return out, err
	case ours:
		out.Status = StatusFastForward
		out.Tree, err = e.treeOf(theirs)
		return out, err
	}

	baseTree, err := e.treeOf(base)
	if err != nil {
		return nil, err
	}
	oursTree, err := e.treeOf(ours)
	if err != nil {
		return nil, err
	}
	theirsTree, err := e.treeOf(theirs)
	if err != nil {
		return nil, err
	}

	tree, conflicts, err := e.MergeTrees(baseTree, oursTree, theirsTree)
	if err != nil {
		return nil, err
	}
	out.Tree = tree
	out.Conflicts = conflicts
	out.Status = StatusClean
	if len(conflicts) > 0 {
		out.Status = StatusConflicted
	}
	return out, nil
}

// MergeTrees merges three root trees. An empty hash stands for an empty
// tree. Conflicts are returned sorted by path.
func (e *Engine) MergeTrees(base, ours, theirs object.Hash) (object.Hash, []Conflict, error) {
	var conflicts []Conflict
	tree, _, err := e.mergeTree("", base, ours, theirs, &conflicts)
	if err != nil {
		return "", nil, fmt.Errorf("merge trees: %w", err)
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Path < conflicts[j].Path })
	return tree, conflicts, nil
}

func (e *Engine) treeOf(commit object.Hash) (object.Hash, error) {
	c, err := e.store.ReadCommit(commit)
	if err != nil {
		return "", fmt.Errorf("merge: read commit %s: %w", commit.Short(), err)
	}
	return c.TreeHash, nil
}

func (e *Engine) mergeTree(prefix string, base, ours, theirs object.Hash, conflicts *[]Conflict) (object.Hash, bool, error) {
	baseEntries, err := e.entries(base)
	if err != nil {
		return "", false, err
	}
	oursEntries, err := e.entries(ours)
	if err != nil {
		return "", false, err
	}
	theirsEntries, err := e.entries(theirs)
	if err != nil {
		return "", false, err
	}

	var merged []object.TreeEntry
	for _, name := range unionNames(baseEntries, oursEntries, theirsEntries) {
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		entry, err := e.mergeEntry(path, baseEntries[name], oursEntries[name], theirsEntries[name], conflicts)
		if err != nil {
			return "", false, err
		}
		if entry != nil {
			entry.Name = name
			merged = append(merged, *entry)
		}
	}

	h, err := e.store.WriteTree(&object.TreeObj{Entries: merged})
	if err != nil {
		return "", false, fmt.Errorf("%s: write tree: %w", displayPath(prefix), err)
	}
	return h, len(merged) == 0, nil
}

// mergeEntry resolves a single path. Nil entries mean the path is absent on
// that side.
func (e *Engine) mergeEntry(path string, base, ours, theirs *object.TreeEntry, conflicts *[]Conflict) (*object.TreeEntry, error) {
	if sameEntry(ours, theirs) {
		return ours, nil
	}
	// A file on one side and a directory on another conflicts at this path
	// even when only one side changed it.
	if mixedKinds(base, ours, theirs) {
		*conflicts = append(*conflicts, Conflict{Path: path, Base: base, Ours: ours, Theirs: theirs})
		return ours, nil
	}

	switch {
	case sameEntry(base, ours):
		return theirs, nil
	case sameEntry(base, theirs):
		return ours, nil
	}

	if treeOrAbsent(base) && treeOrAbsent(ours) && treeOrAbsent(theirs) {
		h, empty, err := e.mergeTree(path, hashOf(base), hashOf(ours), hashOf(theirs), conflicts)
		if err != nil {
			return nil, err
		}
		if empty {
			return nil, nil
		}
		return &object.TreeEntry{Mode: object.TreeModeDir, Kind: object.TypeTree, Hash: h}, nil
	}

	*conflicts = append(*conflicts, Conflict{Path: path, Base: base, Ours: ours, Theirs: theirs})
	return ours, nil
}

func (e *Engine) entries(h object.Hash) (map[string]*object.TreeEntry, error) {
	out := make(map[string]*object.TreeEntry)
	if h == "" {
		return out, nil
	}
	tr, err := e.store.ReadTree(h)
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", h.Short(), err)
	}
	for i := range tr.Entries {
		entry := tr.Entries[i]
		out[entry.Name] = &entry
	}
	return out, nil
}

func unionNames(sides ...map[string]*object.TreeEntry) []string {
	seen := make(map[string]struct{})
	for _, side := range sides {
		for name := range side {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameEntry(a, b *object.TreeEntry) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.SameContent(*b)
}

// mixedKinds reports whether the present entries are not all files or all
// directories.
func mixedKinds(entries ...*object.TreeEntry) bool {
	dirs, files := 0, 0
	for _, e := range entries {
		switch {
		case e == nil:
		case e.IsDir():
			dirs++
		default:
			files++
		}
	}
	return dirs > 0 && files > 0
}

func treeOrAbsent(e *object.TreeEntry) bool {
	return e == nil || e.IsDir()
}

func hashOf(e *object.TreeEntry) object.Hash {
	if e == nil {
		return ""
	}
	return e.Hash
}

func displayPath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
