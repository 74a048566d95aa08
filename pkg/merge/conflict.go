package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/keel/pkg/object"
)

// ErrUnresolved is matched by *UnresolvedError.
var ErrUnresolved = errors.New("unresolved merge conflicts")

// ConflictKind names the shape of a conflict.
type ConflictKind string

const (
	ConflictContent      ConflictKind = "content"
	ConflictAddAdd       ConflictKind = "add/add"
	ConflictModifyDelete ConflictKind = "modify/delete"
	ConflictDeleteModify ConflictKind = "delete/modify"
	ConflictType         ConflictKind = "type"
)

// Conflict is a path both sides changed differently since the merge base.
// Nil entries mean the path is absent on that side.
type Conflict struct {
	Path   string
	Base   *object.TreeEntry
	Ours   *object.TreeEntry
	Theirs *object.TreeEntry
}

// Kind classifies the conflict.
func (c Conflict) Kind() ConflictKind {
	switch {
	case mixedKinds(c.Base, c.Ours, c.Theirs):
		return ConflictType
	case c.Base == nil:
		return ConflictAddAdd
	case c.Theirs == nil:
		return ConflictModifyDelete
	case c.Ours == nil:
		return ConflictDeleteModify
	default:
		return ConflictContent
	}
}

// UnresolvedError lists conflict paths that lack a resolution.
type UnresolvedError struct {
	Paths []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%d unresolved conflict(s): %s", len(e.Paths), strings.Join(e.Paths, ", "))
}

func (e *UnresolvedError) Is(target error) bool {
	return target == ErrUnresolved
}

// Resolution is the caller's answer for one conflicting path: either new
// file content or a deletion. An empty Mode keeps the mode of the side that
// had a file, preferring ours.
type Resolution struct {
	Content []byte
	Mode    string
	Delete  bool
}

// Resolve applies resolutions on top of the partial tree produced by a
// conflicted merge. Every conflict path must have a resolution; extra
// resolution paths are applied as ordinary edits.
func (e *Engine) Resolve(partialTree object.Hash, conflicts []Conflict, resolutions map[string]Resolution) (object.Hash, error) {
	var missing []string
	modes := make(map[string]string, len(conflicts))
	for _, c := range conflicts {
		if _, ok := resolutions[c.Path]; !ok {
			missing = append(missing, c.Path)
		}
		modes[c.Path] = fileMode(c.Ours, c.Theirs)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", &UnresolvedError{Paths: missing}
	}

	edits := make(map[string]*object.TreeEntry, len(resolutions))
	for path, res := range resolutions {
		if res.Delete {
			edits[path] = nil
			continue
		}
		h, err := e.store.WriteBlob(&object.Blob{Data: res.Content})
		if err != nil {
			return "", fmt.Errorf("resolve %s: write blob: %w", path, err)
		}
		mode := res.Mode
		if mode == "" {
			mode = modes[path]
		}
		if mode == "" {
			mode = object.TreeModeFile
		}
		edits[path] = &object.TreeEntry{Mode: mode, Kind: object.TypeBlob, Hash: h}
	}

	tree, err := object.EditTree(e.store, partialTree, edits)
	if err != nil {
		return "", fmt.Errorf("resolve: %w", err)
	}
	return tree, nil
}

func fileMode(sides ...*object.TreeEntry) string {
	for _, s := range sides {
		if s != nil && !s.IsDir() {
			return s.Mode
		}
	}
	return ""
}
