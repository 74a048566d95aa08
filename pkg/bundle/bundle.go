// Package bundle serializes a set of refs and the objects they reach into a
// single zstd-compressed stream, and reads such streams back into a store.
// It is the offline transport between repositories: it only needs object
// Get/Put and ref names, no wire protocol.
package bundle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/refs"
)

const header = "keel-bundle v1"

var (
	ErrCorrupt   = errors.New("corrupt bundle")
	ErrBadHeader = errors.New("not a keel bundle")
	ErrEmpty     = errors.New("bundle has no refs")
)

// Source is where Write reads objects from.
type Source interface {
	Get(h object.Hash) (object.ObjectType, []byte, error)
	ReachableExcluding(roots, stops []object.Hash) (map[object.Hash]struct{}, error)
}

// Sink is where Read stores objects.
type Sink interface {
	Has(h object.Hash) bool
	Put(t object.ObjectType, data []byte) (object.Hash, error)
}

// Manifest describes a bundle: the refs it advertises and how many objects
// it carried.
type Manifest struct {
	Refs    []refs.Ref
	Objects int
}

// Write encodes tips and every object reachable from them, minus objects
// reachable from haves, to w. Objects are written dependencies first.
func Write(w io.Writer, src Source, tips []refs.Ref, haves []object.Hash) (*Manifest, error) {
	if len(tips) == 0 {
		return nil, ErrEmpty
	}
	tips = append([]refs.Ref(nil), tips...)
	sort.Slice(tips, func(i, j int) bool { return tips[i].Name < tips[j].Name })

	roots := make([]object.Hash, 0, len(tips))
	for _, t := range tips {
		roots = append(roots, t.Hash)
	}
	set, err := src.ReachableExcluding(roots, haves)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	order, err := dependencyOrder(src, roots, set)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	bw := bufio.NewWriter(enc)

	fmt.Fprintf(bw, "%s\n", header)
	for _, t := range tips {
		fmt.Fprintf(bw, "ref %s %s\n", t.Hash, t.Name)
	}
	fmt.Fprintf(bw, "objects %d\n", len(order))
	for _, h := range order {
		t, data, err := src.Get(h)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("bundle: read %s: %w", h.Short(), err)
		}
		if err := writeEntry(bw, t, h, data); err != nil {
			enc.Close()
			return nil, fmt.Errorf("bundle: write %s: %w", h.Short(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("bundle: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	return &Manifest{Refs: tips, Objects: len(order)}, nil
}

// dependencyOrder returns the members of set in post-order from roots, so
// every object follows the objects it references.
func dependencyOrder(src Source, roots []object.Hash, set map[object.Hash]struct{}) ([]object.Hash, error) {
	order := make([]object.Hash, 0, len(set))
	done := make(map[object.Hash]bool, len(set))

	type frame struct {
		hash     object.Hash
		children []object.Hash
		next     int
	}
	for _, root := range roots {
		if _, ok := set[root]; !ok || done[root] {
			continue
		}
		var stack []*frame
		push := func(h object.Hash) error {
			t, data, err := src.Get(h)
			if err != nil {
				return fmt.Errorf("read %s: %w", h.Short(), err)
			}
			children, err := object.ReferencedHashes(t, data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", h.Short(), err)
			}
			done[h] = true
			stack = append(stack, &frame{hash: h, children: children})
			return nil
		}
		if err := push(root); err != nil {
			return nil, err
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.children) {
				child := top.children[top.next]
				top.next++
				if _, ok := set[child]; ok && !done[child] {
					if err := push(child); err != nil {
						return nil, err
					}
				}
				continue
			}
			order = append(order, top.hash)
			stack = stack[:len(stack)-1]
		}
	}
	return order, nil
}
