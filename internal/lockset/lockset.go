// Package lockset serializes catalog operations per entity type.
//
// An operation names the types it writes and the types it only reads;
// Acquire takes a write lock on the former and a read lock on the latter,
// always in name order, so two operations never deadlock.
package lockset

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent readers of one entity type. A writer
// acquires the whole weight.
const maxReaders = 1 << 20

// Set holds one lock per entity type name.
type Set struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// New creates an empty Set.
func New() *Set {
	return &Set{locks: make(map[string]*semaphore.Weighted)}
}

func (s *Set) lock(name string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = semaphore.NewWeighted(maxReaders)
		s.locks[name] = l
	}
	return l
}

type held struct {
	l      *semaphore.Weighted
	weight int64
}

// Acquire locks writes exclusively and reads shared, waiting until all are
// held or ctx is done. A name in both lists is locked for writing. The
// returned function releases every lock.
func (s *Set) Acquire(ctx context.Context, writes, reads []string) (release func(), err error) {
	weights := make(map[string]int64, len(writes)+len(reads))
	for _, n := range reads {
		weights[n] = 1
	}
	for _, n := range writes {
		weights[n] = maxReaders
	}
	names := make([]string, 0, len(weights))
	for n := range weights {
		names = append(names, n)
	}
	sort.Strings(names)

	acquired := make([]held, 0, len(names))
	release = func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].l.Release(acquired[i].weight)
		}
	}
	for _, n := range names {
		l := s.lock(n)
		if err := l.Acquire(ctx, weights[n]); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, held{l: l, weight: weights[n]})
	}
	return release, nil
}
