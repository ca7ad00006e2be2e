package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
)

// Input is a row to write, before validation.
type Input struct {
	Entity string         `yaml:"entity" json:"entity"`
	Attrs  map[string]any `yaml:"attrs" json:"attrs"`
}

// CommitMasterWithParts inserts a master row together with part rows in one
// transaction. Each part must belong to the master, directly or through
// another part of the batch, and its key must extend the master's key.
// Either every row is committed or none is; failures are reported as
// ErrPartialCommitAborted wrapping the cause.
func (c *Catalog) CommitMasterWithParts(ctx context.Context, master Input, parts []Input) (store.Key, error) {
	key, err := c.commitMasterWithParts(ctx, master, parts)
	c.metrics.wrote(master.Entity, "commit_parts", err)
	if err != nil {
		return nil, errs.Wrap(errs.ErrPartialCommitAborted, master.Entity, err)
	}
	return key, nil
}

func (c *Catalog) commitMasterWithParts(ctx context.Context, master Input, parts []Input) (store.Key, error) {
	met, err := c.schema.Resolve(master.Entity)
	if err != nil {
		return nil, err
	}
	if met.IsPart() {
		return nil, errs.New(errs.ErrOwnedPart, met.Name(), "a part cannot be committed as a master")
	}

	owners := map[string]bool{met.Name(): true}
	types := make([]*schema.EntityType, len(parts))
	for i, p := range parts {
		et, err := c.schema.Resolve(p.Entity)
		if err != nil {
			return nil, err
		}
		types[i] = et
		owners[et.Name()] = true
	}
	for _, et := range types {
		if !et.IsPart() || !owners[et.Master().Name()] {
			return nil, errs.New(errs.ErrOrphanPart, et.Name(), "not a part of %s", met.Name())
		}
	}

	// Parents first, so each part's master is already in the transaction.
	order := make([]int, len(parts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return partDepth(types[order[a]]) < partDepth(types[order[b]])
	})

	writes := []string{met.Name()}
	reads := referencedTypes(met)
	for _, et := range types {
		writes = append(writes, et.Name())
		reads = append(reads, referencedTypes(et)...)
	}

	var key store.Key
	err = c.write(ctx, "commit_parts", writes, reads, func(ctx context.Context, log *slog.Logger) error {
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			mv, err := c.validate(ctx, tx, met, master.Attrs, true)
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, mv.Row()); err != nil {
				return storeError(mv.Entity, mv.Key, err)
			}
			for _, i := range order {
				pv, err := c.validate(ctx, tx, types[i], parts[i].Attrs, true)
				if err != nil {
					return err
				}
				if !pv.Key.HasPrefix(mv.Key) {
					return errs.New(errs.ErrOrphanPart, pv.Entity, "key does not extend master key %s", mv.Key).WithKey(pv.Key)
				}
				if err := tx.Put(ctx, pv.Row()); err != nil {
					return storeError(pv.Entity, pv.Key, err)
				}
			}
			key = mv.Key
			log.DebugContext(ctx, "master committed with parts", "entity", mv.Entity, "key", mv.Key.String(), "parts", len(parts))
			return nil
		})
	})
	return key, err
}

func partDepth(et *schema.EntityType) int {
	d := 0
	for m := et.Master(); m != nil; m = m.Master() {
		d++
	}
	return d
}

// DeleteOptions controls DeleteMaster.
type DeleteOptions struct {
	// Cascade deletes rows that reference the target through non-nullable
	// references instead of refusing the delete.
	Cascade bool
}

// DeleteResult lists what a delete changed.
type DeleteResult struct {
	// Deleted holds the removed rows in removal order, leaves first and the
	// target last.
	Deleted []store.Row

	// Nulled holds rows whose nullable references to deleted rows were
	// cleared.
	Nulled []store.Row
}

// DeleteMaster deletes the row of entity stored under key with all of its
// parts. Rows referencing a deleted row through a nullable reference have
// that reference cleared. Other referencing rows block the delete with
// ErrReferentialBlock, or are deleted first when opts.Cascade is set. The
// whole delete happens in one transaction.
func (c *Catalog) DeleteMaster(ctx context.Context, entity string, key store.Key, opts DeleteOptions) (*DeleteResult, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return nil, err
	}
	if et.IsPart() {
		return nil, errs.New(errs.ErrOwnedPart, entity, "delete the %s master instead", et.Master().Name()).WithKey(key)
	}

	var result *DeleteResult
	err = c.write(ctx, "delete", c.schema.Closure(entity), nil, func(ctx context.Context, log *slog.Logger) error {
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			root, err := c.get(ctx, tx, et, key)
			if err != nil {
				return err
			}
			p := &deletePlan{
				c:       c,
				tx:      tx,
				cascade: opts.Cascade,
				visited: make(map[rowID]bool),
				nulled:  make(map[rowID]*store.Row),
				scans:   make(map[string][]store.Row),
			}
			if err := p.visit(ctx, root); err != nil {
				return err
			}
			result, err = p.apply(ctx)
			if err != nil {
				return err
			}
			log.InfoContext(ctx, "rows deleted",
				"entity", entity, "key", key.String(),
				"deleted", len(result.Deleted), "nulled", len(result.Nulled), "cascade", opts.Cascade)
			return nil
		})
	})
	c.metrics.wrote(entity, "delete", err)
	if err != nil {
		return nil, err
	}
	c.metrics.cascaded(len(result.Deleted))
	return result, nil
}

type rowID struct {
	entity string
	key    string
}

func idOf(r store.Row) rowID {
	return rowID{entity: r.Entity, key: store.EncodeKey(r.Key)}
}

// deletePlan walks referencing rows depth first and records deletions in
// post-order, so every row is removed after the rows that depend on it.
type deletePlan struct {
	c       *Catalog
	tx      store.Tx
	cascade bool

	visited map[rowID]bool
	deletes []store.Row
	nulled  map[rowID]*store.Row
	order   []rowID

	// scans caches full scans of types whose references are not key
	// prefixes.
	scans map[string][]store.Row
}

func (p *deletePlan) visit(ctx context.Context, row store.Row) error {
	p.visited[idOf(row)] = true
	for _, ref := range p.c.schema.Referrers(row.Entity) {
		referencing, err := p.referencing(ctx, ref, row.Key)
		if err != nil {
			return err
		}
		for _, child := range referencing {
			id := idOf(child)
			if p.visited[id] {
				continue
			}
			switch {
			case ref.Edge.Master:
				if err := p.visit(ctx, child); err != nil {
					return err
				}
			case ref.Edge.Nullable:
				p.clear(child, ref.Edge)
			case p.cascade:
				if err := p.visit(ctx, child); err != nil {
					return err
				}
			default:
				return errs.New(errs.ErrReferentialBlock, row.Entity, "referenced by %s %s", child.Entity, child.Key).WithKey(row.Key)
			}
		}
	}
	p.deletes = append(p.deletes, row)
	return nil
}

// referencing returns the rows of ref.From that point at targetKey.
func (p *deletePlan) referencing(ctx context.Context, ref schema.Reference, targetKey store.Key) ([]store.Row, error) {
	from := ref.From
	if prefix, ok := ref.Edge.ReferrerPrefix(targetKey); ok {
		rows, err := p.tx.Scan(ctx, from.Name(), prefix)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i], err = normalizeRow(from, rows[i]); err != nil {
				return nil, err
			}
		}
		return rows, nil
	}

	all, ok := p.scans[from.Name()]
	if !ok {
		rows, err := p.tx.Scan(ctx, from.Name(), nil)
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if rows[i], err = normalizeRow(from, rows[i]); err != nil {
				return nil, err
			}
		}
		p.scans[from.Name()] = rows
		all = rows
	}
	var out []store.Row
	for _, r := range all {
		if ref.Edge.Matches(r.Attrs, targetKey) {
			out = append(out, r)
		}
	}
	return out, nil
}

// clear records that row's columns owned by e must be set to null.
func (p *deletePlan) clear(row store.Row, e *schema.Edge) {
	id := idOf(row)
	pending, ok := p.nulled[id]
	if !ok {
		c := row.Clone()
		pending = &c
		p.nulled[id] = pending
		p.order = append(p.order, id)
	}
	for _, name := range e.Owned() {
		pending.Attrs[name] = nil
	}
}

func (p *deletePlan) apply(ctx context.Context) (*DeleteResult, error) {
	result := &DeleteResult{}
	for _, id := range p.order {
		if p.visited[id] {
			continue
		}
		row := *p.nulled[id]
		if err := store.Replace(ctx, p.tx, row); err != nil {
			return nil, storeError(row.Entity, row.Key, err)
		}
		result.Nulled = append(result.Nulled, row)
	}
	for _, row := range p.deletes {
		if err := p.tx.Delete(ctx, row.Entity, row.Key); err != nil {
			return nil, storeError(row.Entity, row.Key, err)
		}
		result.Deleted = append(result.Deleted, row)
	}
	return result, nil
}

// SweepOrphans deletes part rows left under the key of a master row of
// entity that no longer exists. It returns the number of rows removed and
// does nothing when the master exists.
func (c *Catalog) SweepOrphans(ctx context.Context, entity string, key store.Key) (int, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return 0, err
	}

	var parts []*schema.EntityType
	queue := []string{entity}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range c.schema.Parts(cur) {
			parts = append(parts, p)
			queue = append(queue, p.Name())
		}
	}
	if len(parts) == 0 {
		return 0, nil
	}
	// Deepest parts first.
	sort.SliceStable(parts, func(i, j int) bool { return partDepth(parts[i]) > partDepth(parts[j]) })

	writes := make([]string, 0, len(parts))
	for _, p := range parts {
		writes = append(writes, p.Name())
	}

	var removed int
	err = c.write(ctx, "sweep", writes, []string{entity}, func(ctx context.Context, log *slog.Logger) error {
		removed = 0
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			if _, err := c.get(ctx, tx, et, key); err == nil {
				return nil
			} else if !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			for _, p := range parts {
				rows, err := tx.Scan(ctx, p.Name(), key)
				if err != nil {
					return err
				}
				for _, r := range rows {
					if err := tx.Delete(ctx, r.Entity, r.Key); err != nil {
						return storeError(r.Entity, r.Key, err)
					}
					removed++
				}
			}
			if removed > 0 {
				log.InfoContext(ctx, "orphaned parts removed", "entity", entity, "key", key.String(), "rows", removed)
			}
			return nil
		})
	})
	c.metrics.wrote(entity, "sweep", err)
	return removed, err
}
