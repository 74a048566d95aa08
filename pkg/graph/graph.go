// Package graph answers ancestry questions over the commits in an object
// store: parents, reachability, merge bases and history walks.
package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/keel/pkg/object"
)

var (
	ErrNoCommonAncestor = errors.New("no common ancestor")
	ErrTraversalLimit   = errors.New("commit graph traversal limit exceeded")
	ErrCycle            = errors.New("commit graph cycle detected")
)

const maxTraversalSteps = 1_000_000

// CommitReader is the read side of an object store the graph needs.
type CommitReader interface {
	ReadCommit(h object.Hash) (*object.CommitObj, error)
}

// Option configures a Graph.
type Option func(*Graph)

// WithStepLimit tightens the traversal safety bound. Values outside
// (0, 1_000_000] keep the default.
func WithStepLimit(n int) Option {
	return func(g *Graph) {
		if n > 0 && n <= maxTraversalSteps {
			g.maxSteps = n
		}
	}
}

// Graph is a read-only view of commit ancestry. Commits are immutable, so
// the commit, generation and merge-base caches never need invalidation; it
// is safe for concurrent use.
type Graph struct {
	reader   CommitReader
	maxSteps int
	state    *traversalState
}

// New returns a Graph over reader.
func New(reader CommitReader, opts ...Option) *Graph {
	g := &Graph{
		reader:   reader,
		maxSteps: maxTraversalSteps,
		state:    newTraversalState(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Parents returns the parent hashes of h in commit order.
func (g *Graph) Parents(h object.Hash) ([]object.Hash, error) {
	c, err := g.state.readCommit(g.reader, h)
	if err != nil {
		return nil, err
	}
	out := make([]object.Hash, len(c.Parents))
	copy(out, c.Parents)
	return out, nil
}

// Generation returns 1 for root commits and 1 + max(parent generation)
// otherwise.
func (g *Graph) Generation(h object.Hash) (uint64, error) {
	return g.state.generation(g.reader, h)
}

// IsAncestor reports whether a is reachable from b by following parent
// edges. Every commit is its own ancestor.
func (g *Graph) IsAncestor(a, b object.Hash) (bool, error) {
	if a == b {
		if _, err := g.state.readCommit(g.reader, a); err != nil {
			return false, err
		}
		return true, nil
	}
	genA, err := g.state.generation(g.reader, a)
	if err != nil {
		return false, err
	}
	genB, err := g.state.generation(g.reader, b)
	if err != nil {
		return false, err
	}
	if genA >= genB {
		return false, nil
	}

	visited := map[object.Hash]struct{}{b: {}}
	queue := generationHeap{{hash: b, generation: genB}}
	heap.Init(&queue)
	steps := 0

	for queue.Len() > 0 {
		item := heap.Pop(&queue).(heapItem)
		steps++
		if steps > g.maxSteps {
			return false, g.limitError("is ancestor")
		}
		if item.hash == a {
			return true, nil
		}
		// Parents of a commit at a's generation sit strictly below it.
		if item.generation <= genA {
			continue
		}

		commit, err := g.state.readCommit(g.reader, item.hash)
		if err != nil {
			return false, err
		}
		for _, p := range commit.Parents {
			if _, seen := visited[p]; seen {
				continue
			}
			pg, err := g.state.generation(g.reader, p)
			if err != nil {
				return false, err
			}
			if pg < genA {
				continue
			}
			visited[p] = struct{}{}
			heap.Push(&queue, heapItem{hash: p, generation: pg})
		}
	}
	return false, nil
}

// MergeBase returns the best common ancestor of a and b: a common ancestor
// that is not reachable from any other common ancestor. When several such
// commits exist, the one the fewest parent hops from a wins, then the
// lexicographically smallest hash. Disjoint histories fail with
// ErrNoCommonAncestor.
func (g *Graph) MergeBase(a, b object.Hash) (object.Hash, error) {
	bases, err := g.MergeBases(a, b)
	if err != nil {
		return "", err
	}
	return bases[0], nil
}

// MergeBases returns every best common ancestor of a and b in tie-break
// order (see MergeBase). The result is never empty on success.
func (g *Graph) MergeBases(a, b object.Hash) ([]object.Hash, error) {
	if cached, ok := g.state.loadMergeBases(a, b); ok {
		if len(cached) == 0 {
			return nil, fmt.Errorf("merge base of %s and %s: %w", a.Short(), b.Short(), ErrNoCommonAncestor)
		}
		return append([]object.Hash(nil), cached...), nil
	}

	bases, err := g.computeMergeBases(a, b)
	if err != nil {
		return nil, err
	}
	g.state.storeMergeBases(a, b, bases)
	if len(bases) == 0 {
		return nil, fmt.Errorf("merge base of %s and %s: %w", a.Short(), b.Short(), ErrNoCommonAncestor)
	}
	return append([]object.Hash(nil), bases...), nil
}

func (g *Graph) computeMergeBases(a, b object.Hash) ([]object.Hash, error) {
	// Fast path: one side already contains the other.
	if ok, err := g.IsAncestor(a, b); err != nil {
		return nil, err
	} else if ok {
		return []object.Hash{a}, nil
	}
	if ok, err := g.IsAncestor(b, a); err != nil {
		return nil, err
	} else if ok {
		return []object.Hash{b}, nil
	}

	steps := 0
	distA, err := g.ancestorDistances(a, &steps)
	if err != nil {
		return nil, err
	}
	distB, err := g.ancestorDistances(b, &steps)
	if err != nil {
		return nil, err
	}

	common := make(map[object.Hash]struct{})
	for h := range distA {
		if _, ok := distB[h]; ok {
			common[h] = struct{}{}
		}
	}
	if len(common) == 0 {
		return nil, nil
	}

	// Anything reachable from a common ancestor's parents is itself a
	// common ancestor that some other candidate dominates.
	dominated := make(map[object.Hash]struct{})
	var stack []object.Hash
	for h := range common {
		c, err := g.state.readCommit(g.reader, h)
		if err != nil {
			return nil, err
		}
		stack = append(stack, c.Parents...)
	}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := dominated[h]; seen {
			continue
		}
		steps++
		if steps > g.maxSteps {
			return nil, g.limitError("merge base")
		}
		dominated[h] = struct{}{}
		c, err := g.state.readCommit(g.reader, h)
		if err != nil {
			return nil, err
		}
		stack = append(stack, c.Parents...)
	}

	var best []object.Hash
	for h := range common {
		if _, ok := dominated[h]; !ok {
			best = append(best, h)
		}
	}
	sort.Slice(best, func(i, j int) bool {
		di, dj := distA[best[i]], distA[best[j]]
		if di != dj {
			return di < dj
		}
		return best[i] < best[j]
	})
	return best, nil
}

// ancestorDistances runs a breadth-first walk from start and records the
// fewest parent hops to every ancestor (start included at 0).
func (g *Graph) ancestorDistances(start object.Hash, steps *int) (map[object.Hash]int, error) {
	dist := map[object.Hash]int{start: 0}
	queue := []object.Hash{start}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		*steps++
		if *steps > g.maxSteps {
			return nil, g.limitError("merge base")
		}
		c, err := g.state.readCommit(g.reader, h)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[h] + 1
			queue = append(queue, p)
		}
	}
	return dist, nil
}

// LogEntry pairs a commit with its hash.
type LogEntry struct {
	Hash   object.Hash
	Commit *object.CommitObj
}

// Log walks history from start, newest generation first (ties broken by
// hash), returning at most limit commits; limit <= 0 means no limit. With
// firstParent only the first parent of each commit is followed.
func (g *Graph) Log(start object.Hash, limit int, firstParent bool) ([]LogEntry, error) {
	gen, err := g.state.generation(g.reader, start)
	if err != nil {
		return nil, err
	}
	visited := map[object.Hash]struct{}{start: {}}
	queue := generationHeap{{hash: start, generation: gen}}
	heap.Init(&queue)

	var out []LogEntry
	steps := 0
	for queue.Len() > 0 && (limit <= 0 || len(out) < limit) {
		item := heap.Pop(&queue).(heapItem)
		steps++
		if steps > g.maxSteps {
			return nil, g.limitError("log")
		}
		c, err := g.state.readCommit(g.reader, item.hash)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{Hash: item.hash, Commit: c})

		parents := c.Parents
		if firstParent && len(parents) > 1 {
			parents = parents[:1]
		}
		for _, p := range parents {
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = struct{}{}
			pg, err := g.state.generation(g.reader, p)
			if err != nil {
				return nil, err
			}
			heap.Push(&queue, heapItem{hash: p, generation: pg})
		}
	}
	return out, nil
}

func (g *Graph) limitError(op string) error {
	return fmt.Errorf("%s: %w (%d steps)", op, ErrTraversalLimit, g.maxSteps)
}
