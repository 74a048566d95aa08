package object

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// TreeReader reads tree objects.
type TreeReader interface {
	ReadTree(h Hash) (*TreeObj, error)
}

// TreeWriter reads and writes tree objects.
type TreeWriter interface {
	TreeReader
	WriteTree(tr *TreeObj) (Hash, error)
}

// FileEntry is a file in a flattened tree, addressed by its slash-separated
// path from the root.
type FileEntry struct {
	Path string
	Mode string
	Hash Hash
}

// SplitPath validates a slash-separated repository path and returns its
// components.
func SplitPath(p string) ([]string, error) {
	if p == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if err := ValidateEntryName(part); err != nil {
			return nil, fmt.Errorf("path %q: %w", p, err)
		}
	}
	return parts, nil
}

// BuildTree converts flat file entries into a hierarchical tree, writing
// every TreeObj and returning the root hash. Blobs must already be stored.
// A path that is both a file and a directory prefix is an error.
func BuildTree(w TreeWriter, files []FileEntry) (Hash, error) {
	edits := make(map[string]*TreeEntry, len(files))
	for _, f := range files {
		if _, err := SplitPath(f.Path); err != nil {
			return "", fmt.Errorf("build tree: %w", err)
		}
		if _, dup := edits[f.Path]; dup {
			return "", fmt.Errorf("build tree: duplicate path %q", f.Path)
		}
		edits[f.Path] = &TreeEntry{Mode: f.Mode, Kind: TypeBlob, Hash: f.Hash}
	}
	for p := range edits {
		for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
			if _, clash := edits[dir]; clash {
				return "", fmt.Errorf("build tree: %q is both a file and a directory", dir)
			}
		}
	}
	h, _, err := editTreeRec(w, "", edits)
	if err != nil {
		return "", fmt.Errorf("build tree: %w", err)
	}
	return h, nil
}

// EditTree applies path edits to the tree at root (empty root means an
// empty tree) and returns the new root hash. A nil entry deletes the path;
// a non-nil entry is placed at the path, creating or replacing
// intermediate directories. Directories left empty are dropped.
func EditTree(w TreeWriter, root Hash, edits map[string]*TreeEntry) (Hash, error) {
	for p := range edits {
		if _, err := SplitPath(p); err != nil {
			return "", fmt.Errorf("edit tree: %w", err)
		}
	}
	h, _, err := editTreeRec(w, root, edits)
	if err != nil {
		return "", fmt.Errorf("edit tree: %w", err)
	}
	return h, nil
}

func editTreeRec(w TreeWriter, root Hash, edits map[string]*TreeEntry) (Hash, bool, error) {
	entries := make(map[string]TreeEntry)
	if root != "" {
		tr, err := w.ReadTree(root)
		if err != nil {
			return "", false, fmt.Errorf("read tree %s: %w", root.Short(), err)
		}
		for _, e := range tr.Entries {
			entries[e.Name] = e
		}
	}

	direct := make(map[string]*TreeEntry)
	nested := make(map[string]map[string]*TreeEntry)
	for p, e := range edits {
		first, rest, hasRest := strings.Cut(p, "/")
		if !hasRest {
			direct[first] = e
			continue
		}
		if nested[first] == nil {
			nested[first] = make(map[string]*TreeEntry)
		}
		nested[first][rest] = e
	}

	for name, e := range direct {
		if e == nil {
			delete(entries, name)
			continue
		}
		if _, alsoDir := nested[name]; alsoDir {
			return "", false, fmt.Errorf("%q is both a file and a directory", name)
		}
		placed := *e
		placed.Name = name
		placed.Mode = normalizeMode(placed)
		entries[name] = placed
	}

	names := make([]string, 0, len(nested))
	for name := range nested {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		base := Hash("")
		if cur, ok := entries[name]; ok && cur.IsDir() {
			base = cur.Hash
		}
		h, empty, err := editTreeRec(w, base, nested[name])
		if err != nil {
			return "", false, fmt.Errorf("%s: %w", name, err)
		}
		if empty {
			delete(entries, name)
			continue
		}
		entries[name] = TreeEntry{Name: name, Mode: TreeModeDir, Kind: TypeTree, Hash: h}
	}

	out := make([]TreeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	h, err := w.WriteTree(&TreeObj{Entries: sortedEntries(out)})
	if err != nil {
		return "", false, err
	}
	return h, len(out) == 0, nil
}

// FlattenTree walks a tree recursively, returning all file entries with
// their full slash-separated paths in path order.
func FlattenTree(r TreeReader, h Hash) ([]FileEntry, error) {
	var out []FileEntry
	if err := flattenTreeRec(r, h, "", &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func flattenTreeRec(r TreeReader, h Hash, prefix string, out *[]FileEntry) error {
	tr, err := r.ReadTree(h)
	if err != nil {
		return fmt.Errorf("flatten tree: read %s: %w", h.Short(), err)
	}
	for _, e := range tr.Entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.IsDir() {
			if err := flattenTreeRec(r, e.Hash, full, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, FileEntry{Path: full, Mode: normalizeMode(e), Hash: e.Hash})
	}
	return nil
}

// EntryAtPath resolves a slash-separated path inside the tree at root. It
// returns false when any component is missing or a file is traversed as
// a directory.
func EntryAtPath(r TreeReader, root Hash, p string) (TreeEntry, bool, error) {
	parts, err := SplitPath(p)
	if err != nil {
		return TreeEntry{}, false, err
	}
	current := root
	for i, part := range parts {
		tr, err := r.ReadTree(current)
		if err != nil {
			return TreeEntry{}, false, fmt.Errorf("read tree %s: %w", current.Short(), err)
		}
		entry, found := tr.Find(part)
		if !found {
			return TreeEntry{}, false, nil
		}
		if i == len(parts)-1 {
			return entry, true, nil
		}
		if !entry.IsDir() {
			return TreeEntry{}, false, nil
		}
		current = entry.Hash
	}
	return TreeEntry{}, false, nil
}
