// Package memory provides an in-process record store.
//
// Write transactions run one at a time and buffer their changes until
// Commit, so a failed or abandoned transaction never becomes visible.
// Read-only transactions run concurrently and see committed data.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/jacentio/catalog/store"
)

// ErrClosed is returned by Begin after Close.
var ErrClosed = errors.New("memory: store is closed")

// Store is an in-memory store.Store.
type Store struct {
	writer chan struct{}

	mu     sync.RWMutex
	rows   map[string]map[string]store.Row
	closed bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		writer: make(chan struct{}, 1),
		rows:   make(map[string]map[string]store.Row),
	}
}

// Begin starts a transaction. A write transaction waits until no other
// write transaction is open, or until ctx is done.
func (s *Store) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	if !opts.ReadOnly {
		select {
		case s.writer <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &tx{
		s:        s,
		readOnly: opts.ReadOnly,
		writes:   make(map[string]map[string]*store.Row),
	}, nil
}

// Close marks the store closed. Open transactions may still finish.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of committed rows of entity.
func (s *Store) Len(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[entity])
}

type tx struct {
	s        *Store
	readOnly bool
	done     bool

	// writes buffers changes by entity and encoded key; a nil row is a delete.
	writes map[string]map[string]*store.Row
}

func (t *tx) lookup(entity, enc string) (store.Row, bool) {
	if w, ok := t.writes[entity][enc]; ok {
		if w == nil {
			return store.Row{}, false
		}
		return *w, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	row, ok := t.s.rows[entity][enc]
	return row, ok
}

func (t *tx) buffer(entity, enc string, row *store.Row) {
	m, ok := t.writes[entity]
	if !ok {
		m = make(map[string]*store.Row)
		t.writes[entity] = m
	}
	m[enc] = row
}

func (t *tx) Get(ctx context.Context, entity string, key store.Key) (store.Row, error) {
	if t.done {
		return store.Row{}, store.ErrTxDone
	}
	row, ok := t.lookup(entity, store.EncodeKey(key))
	if !ok {
		return store.Row{}, store.ErrNotFound
	}
	return row.Clone(), nil
}

func (t *tx) Put(ctx context.Context, row store.Row) error {
	if t.done {
		return store.ErrTxDone
	}
	if t.readOnly {
		return store.ErrReadOnly
	}
	enc := store.EncodeKey(row.Key)
	if _, ok := t.lookup(row.Entity, enc); ok {
		return store.ErrAlreadyExists
	}
	c := row.Clone()
	t.buffer(row.Entity, enc, &c)
	return nil
}

func (t *tx) Delete(ctx context.Context, entity string, key store.Key) error {
	if t.done {
		return store.ErrTxDone
	}
	if t.readOnly {
		return store.ErrReadOnly
	}
	enc := store.EncodeKey(key)
	if _, ok := t.lookup(entity, enc); !ok {
		return store.ErrNotFound
	}
	t.buffer(entity, enc, nil)
	return nil
}

func (t *tx) Scan(ctx context.Context, entity string, prefix store.Key) ([]store.Row, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	p := store.EncodeKey(prefix)
	merged := make(map[string]store.Row)

	t.s.mu.RLock()
	for enc, row := range t.s.rows[entity] {
		if strings.HasPrefix(enc, p) {
			merged[enc] = row
		}
	}
	t.s.mu.RUnlock()

	for enc, w := range t.writes[entity] {
		if !strings.HasPrefix(enc, p) {
			continue
		}
		if w == nil {
			delete(merged, enc)
		} else {
			merged[enc] = *w
		}
	}

	encs := make([]string, 0, len(merged))
	for enc := range merged {
		encs = append(encs, enc)
	}
	sort.Strings(encs)
	out := make([]store.Row, 0, len(encs))
	for _, enc := range encs {
		out = append(out, merged[enc].Clone())
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if t.readOnly {
		return nil
	}
	defer t.release()

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for entity, writes := range t.writes {
		rows, ok := t.s.rows[entity]
		if !ok {
			rows = make(map[string]store.Row)
			t.s.rows[entity] = rows
		}
		for enc, w := range writes {
			if w == nil {
				delete(rows, enc)
			} else {
				rows[enc] = *w
			}
		}
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.writes = nil
	if !t.readOnly {
		t.release()
	}
	return nil
}

func (t *tx) release() {
	<-t.s.writer
}
