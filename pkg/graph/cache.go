package graph

import (
	"fmt"
	"sync"

	"github.com/odvcencio/keel/pkg/object"
)

type mergeBaseKey struct {
	a object.Hash
	b object.Hash
}

// traversalState memoizes commit reads, generation numbers and merge-base
// answers. Keys are ordered pairs because the tie-break depends on which
// side is "a".
type traversalState struct {
	mu sync.RWMutex

	commits     map[object.Hash]*object.CommitObj
	generations map[object.Hash]uint64
	mergeBases  map[mergeBaseKey][]object.Hash
}

func newTraversalState() *traversalState {
	return &traversalState{
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[object.Hash]uint64),
		mergeBases:  make(map[mergeBaseKey][]object.Hash),
	}
}

func (s *traversalState) loadMergeBases(a, b object.Hash) ([]object.Hash, bool) {
	s.mu.RLock()
	bases, ok := s.mergeBases[mergeBaseKey{a: a, b: b}]
	s.mu.RUnlock()
	return bases, ok
}

func (s *traversalState) storeMergeBases(a, b object.Hash, bases []object.Hash) {
	s.mu.Lock()
	s.mergeBases[mergeBaseKey{a: a, b: b}] = append([]object.Hash(nil), bases...)
	s.mu.Unlock()
}

func (s *traversalState) readCommit(r CommitReader, h object.Hash) (*object.CommitObj, error) {
	s.mu.RLock()
	cached, ok := s.commits[h]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := r.ReadCommit(h)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", h.Short(), err)
	}

	s.mu.Lock()
	if existing, exists := s.commits[h]; exists {
		s.mu.Unlock()
		return existing, nil
	}
	s.commits[h] = commit
	s.mu.Unlock()
	return commit, nil
}

func (s *traversalState) loadGeneration(h object.Hash) (uint64, bool) {
	s.mu.RLock()
	g, ok := s.generations[h]
	s.mu.RUnlock()
	return g, ok
}

func (s *traversalState) storeGeneration(h object.Hash, g uint64) {
	s.mu.Lock()
	s.generations[h] = g
	s.mu.Unlock()
}

func (s *traversalState) generation(r CommitReader, h object.Hash) (uint64, error) {
	return s.generationRecursive(r, h, make(map[object.Hash]bool))
}

func (s *traversalState) generationRecursive(r CommitReader, h object.Hash, visiting map[object.Hash]bool) (uint64, error) {
	if g, ok := s.loadGeneration(h); ok {
		return g, nil
	}
	if visiting[h] {
		return 0, fmt.Errorf("generation of %s: %w", h.Short(), ErrCycle)
	}

	visiting[h] = true
	defer delete(visiting, h)

	commit, err := s.readCommit(r, h)
	if err != nil {
		return 0, err
	}

	var maxParentGeneration uint64
	for _, p := range commit.Parents {
		pg, err := s.generationRecursive(r, p, visiting)
		if err != nil {
			return 0, err
		}
		if pg > maxParentGeneration {
			maxParentGeneration = pg
		}
	}

	generation := maxParentGeneration + 1
	s.storeGeneration(h, generation)
	return generation, nil
}

func (s *traversalState) size() (commits, generations, mergeBases int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.commits), len(s.generations), len(s.mergeBases)
}
