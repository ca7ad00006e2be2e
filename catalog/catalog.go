// Package catalog enforces the integrity rules of a composite-key schema on
// top of a record store.
//
// Writes are validated against the schema and vocabulary registries, checked
// for references that do not resolve and for duplicate keys, and committed
// in a single store transaction. Part rows are committed together with their
// master and deleted with it. Deleting a row that other rows still reference
// is refused unless the caller asks for a cascade.
//
// Operations on the same entity types are serialized in-process through
// per-type locks; stores add commit-time rechecks for concurrent writers in
// other processes.
package catalog

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/internal/lockset"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/vocab"
)

// Catalog validates and commits rows.
type Catalog struct {
	schema      *schema.Registry
	vocabs      *vocab.Registry
	store       store.Store
	locks       *lockset.Set
	logger      *slog.Logger
	metrics     *Metrics
	maxAttempts int
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithMetrics records operation outcomes in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Catalog) { c.metrics = m }
}

// WithMaxAttempts sets how often a write is attempted when the store
// reports a conflicting concurrent transaction. The default is 3.
func WithMaxAttempts(n int) Option {
	return func(c *Catalog) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// New creates a Catalog over registries that are fully populated.
func New(reg *schema.Registry, vocabs *vocab.Registry, s store.Store, opts ...Option) *Catalog {
	c := &Catalog{
		schema:      reg,
		vocabs:      vocabs,
		store:       s,
		locks:       lockset.New(),
		logger:      slog.Default(),
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schema returns the entity schema registry.
func (c *Catalog) Schema() *schema.Registry { return c.schema }

// Vocabularies returns the vocabulary registry.
func (c *Catalog) Vocabularies() *vocab.Registry { return c.vocabs }

// Get returns the row of entity stored under key.
func (c *Catalog) Get(ctx context.Context, entity string, key store.Key) (store.Row, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return store.Row{}, err
	}
	var row store.Row
	err = store.RunInTransaction(ctx, c.store, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		row, err = c.get(ctx, tx, et, key)
		return err
	})
	return row, err
}

func (c *Catalog) get(ctx context.Context, tx store.Tx, et *schema.EntityType, key store.Key) (store.Row, error) {
	row, err := tx.Get(ctx, et.Name(), key)
	if err != nil {
		return store.Row{}, storeError(et.Name(), key, err)
	}
	return normalizeRow(et, row)
}

// Children returns the rows of entity whose key starts with prefix, in the
// order of store.Tx.Scan.
func (c *Catalog) Children(ctx context.Context, entity string, prefix store.Key) ([]store.Row, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return nil, err
	}
	var out []store.Row
	err = store.RunInTransaction(ctx, c.store, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		rows, err := tx.Scan(ctx, entity, prefix)
		if err != nil {
			return err
		}
		out = make([]store.Row, 0, len(rows))
		for _, r := range rows {
			n, err := normalizeRow(et, r)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

// CanonicalKey parses key segments given in any accepted input form (e.g.
// "2024-03-01 09:30:00" for a datetime) into the canonical full key of
// entity.
func (c *Catalog) CanonicalKey(entity string, segments []string) (store.Key, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return nil, err
	}
	attrs, err := et.KeyAttrs(segments)
	if err != nil {
		return nil, err
	}
	return et.ComputeFullKey(attrs, nil)
}

func normalizeRow(et *schema.EntityType, row store.Row) (store.Row, error) {
	attrs, err := et.Normalize(row.Attrs)
	if err != nil {
		return store.Row{}, err
	}
	row.Attrs = attrs
	return row, nil
}

// storeError translates record store errors into the catalog taxonomy.
func storeError(entity string, key store.Key, err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return errs.New(errs.ErrDuplicateKey, entity, "row already exists").WithKey(key)
	case errors.Is(err, store.ErrNotFound):
		return errs.New(errs.ErrNotFound, entity, "no such row").WithKey(key)
	}
	return err
}

// write runs fn under locks, retrying when the store reports a conflicting
// concurrent transaction.
func (c *Catalog) write(ctx context.Context, op string, writes, reads []string, fn func(ctx context.Context, log *slog.Logger) error) error {
	log := c.logger.With("op", op, "tx", uuid.NewString())
	release, err := c.locks.Acquire(ctx, writes, reads)
	if err != nil {
		return err
	}
	defer release()

	for attempt := 1; ; attempt++ {
		err = fn(ctx, log)
		if err == nil || !errors.Is(err, store.ErrConflict) || attempt >= c.maxAttempts {
			return err
		}
		log.DebugContext(ctx, "retrying after conflict", "attempt", attempt, "error", err)
	}
}

// referencedTypes lists the types rows of et point at.
func referencedTypes(et *schema.EntityType) []string {
	var names []string
	for _, e := range et.Edges() {
		names = append(names, e.Target.Name())
	}
	return names
}
