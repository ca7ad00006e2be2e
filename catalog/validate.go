package catalog

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sort"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
)

// reference is a resolved foreign key of a validated row.
type reference struct {
	edge *schema.Edge
	key  store.Key
}

// ValidatedRow is a row that passed validation and is ready to commit.
type ValidatedRow struct {
	Entity string
	Key    store.Key

	// Attrs holds every attribute of the type, coerced to its domain, with
	// explicit nils for absent nullable values.
	Attrs map[string]any

	et   *schema.EntityType
	refs []reference
}

// Row returns the store row for v.
func (v *ValidatedRow) Row() store.Row {
	return store.Row{Entity: v.Entity, Key: v.Key.Clone(), Attrs: maps.Clone(v.Attrs)}
}

// ValidateWrite checks attrs as a new row of entity against the schema,
// the vocabularies and the rows currently committed. It does not write.
func (c *Catalog) ValidateWrite(ctx context.Context, entity string, attrs map[string]any) (*ValidatedRow, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return nil, err
	}
	var v *ValidatedRow
	err = store.RunInTransaction(ctx, c.store, store.TxOptions{ReadOnly: true}, func(tx store.Tx) error {
		v, err = c.validate(ctx, tx, et, attrs, true)
		return err
	})
	if err != nil {
		c.metrics.rejected(err)
		return nil, err
	}
	return v, nil
}

// validate runs the write checks in order: attribute shape, references,
// vocabularies, full key and, when unique is set, key uniqueness.
func (c *Catalog) validate(ctx context.Context, tx store.Tx, et *schema.EntityType, input map[string]any, unique bool) (*ValidatedRow, error) {
	attrs, err := c.shape(et, input)
	if err != nil {
		return nil, err
	}

	refs, err := c.resolveReferences(ctx, tx, et, attrs)
	if err != nil {
		return nil, err
	}

	if err := c.checkVocabularies(et, attrs); err != nil {
		return nil, err
	}

	key, err := et.ComputeFullKey(attrs, nil)
	if err != nil {
		return nil, err
	}

	if unique {
		_, err := tx.Get(ctx, et.Name(), key)
		switch {
		case err == nil:
			return nil, errs.New(errs.ErrDuplicateKey, et.Name(), "row already exists").WithKey(key)
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}
	return &ValidatedRow{Entity: et.Name(), Key: key, Attrs: attrs, et: et, refs: refs}, nil
}

// shape coerces input to the attribute domains of et and fills defaults.
func (c *Catalog) shape(et *schema.EntityType, input map[string]any) (map[string]any, error) {
	names := make([]string, 0, len(input))
	for name := range input {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := et.Column(name); !ok {
			return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), name, "unknown attribute")
		}
	}

	attrs := make(map[string]any, len(et.Columns()))
	for _, col := range et.Columns() {
		v := input[col.Name]
		if v == nil {
			switch {
			case col.Edge != nil && col.Edge.Nullable:
				attrs[col.Name] = nil
			case col.HasDefault:
				attrs[col.Name] = col.Default
			case col.Nullable:
				attrs[col.Name] = nil
			default:
				return nil, errs.Attr(errs.ErrMissingAttribute, et.Name(), col.Name, "required")
			}
			continue
		}
		cv, err := col.Domain.Coerce(v)
		if err != nil {
			return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), col.Name, "%v", err)
		}
		attrs[col.Name] = cv
	}
	return attrs, nil
}

// resolveReferences checks that every present reference names an existing
// row. A missing master is an orphan part rather than a dangling reference.
func (c *Catalog) resolveReferences(ctx context.Context, tx store.Tx, et *schema.EntityType, attrs map[string]any) ([]reference, error) {
	var refs []reference
	for _, e := range et.Edges() {
		key, present, err := e.TargetKey(attrs)
		if err != nil {
			return nil, err
		}
		if !present {
			if !e.Nullable {
				return nil, errs.New(errs.ErrMissingAttribute, et.Name(), "reference to %s is required", e.Target.Name())
			}
			continue
		}
		if _, err := tx.Get(ctx, e.Target.Name(), key); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			if e.Master {
				return nil, errs.New(errs.ErrOrphanPart, et.Name(), "master %s %s does not exist", e.Target.Name(), key).WithKey(key)
			}
			return nil, errs.New(errs.ErrDanglingReference, et.Name(), "%s %s does not exist", e.Target.Name(), key).WithKey(key)
		}
		refs = append(refs, reference{edge: e, key: key})
	}
	return refs, nil
}

func (c *Catalog) checkVocabularies(et *schema.EntityType, attrs map[string]any) error {
	for _, col := range et.Columns() {
		v := attrs[col.Name]
		if v == nil {
			continue
		}
		switch col.Domain.Kind {
		case schema.KindVocab:
			s := v.(string)
			ok, err := c.vocabs.IsMember(col.Domain.Vocabulary, s)
			if err != nil {
				return err
			}
			if !ok {
				return errs.Attr(errs.ErrInvalidVocabularyValue, et.Name(), col.Name, "%q is not in %s", s, col.Domain.Vocabulary)
			}
		case schema.KindEnum:
			if s := v.(string); !col.Domain.Admits(s) {
				return errs.Attr(errs.ErrInvalidVocabularyValue, et.Name(), col.Name, "%q is not one of %v", s, col.Domain.Values)
			}
		}
	}
	return nil
}

// recheck repeats the reference checks of v inside a write transaction.
func (c *Catalog) recheck(ctx context.Context, tx store.Tx, v *ValidatedRow) error {
	for _, r := range v.refs {
		if _, err := tx.Get(ctx, r.edge.Target.Name(), r.key); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if r.edge.Master {
				return errs.New(errs.ErrOrphanPart, v.Entity, "master %s %s no longer exists", r.edge.Target.Name(), r.key).WithKey(r.key)
			}
			return errs.New(errs.ErrDanglingReference, v.Entity, "%s %s no longer exists", r.edge.Target.Name(), r.key).WithKey(r.key)
		}
	}
	return nil
}

// Commit writes a row validated earlier. References and key uniqueness are
// checked again, since other writers may have committed in between.
func (c *Catalog) Commit(ctx context.Context, v *ValidatedRow) error {
	err := c.write(ctx, "commit", []string{v.Entity}, referencedTypes(v.et), func(ctx context.Context, log *slog.Logger) error {
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			if err := c.recheck(ctx, tx, v); err != nil {
				return err
			}
			if err := tx.Put(ctx, v.Row()); err != nil {
				return storeError(v.Entity, v.Key, err)
			}
			log.DebugContext(ctx, "row committed", "entity", v.Entity, "key", v.Key.String())
			return nil
		})
	})
	c.metrics.wrote(v.Entity, "insert", err)
	return err
}

// Insert validates attrs as a new row of entity and commits it.
func (c *Catalog) Insert(ctx context.Context, entity string, attrs map[string]any) (store.Key, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return nil, err
	}
	var key store.Key
	err = c.write(ctx, "insert", []string{entity}, referencedTypes(et), func(ctx context.Context, log *slog.Logger) error {
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			v, err := c.validate(ctx, tx, et, attrs, true)
			if err != nil {
				return err
			}
			if err := tx.Put(ctx, v.Row()); err != nil {
				return storeError(entity, v.Key, err)
			}
			key = v.Key
			log.DebugContext(ctx, "row inserted", "entity", entity, "key", v.Key.String())
			return nil
		})
	})
	c.metrics.wrote(entity, "insert", err)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// Update changes secondary attributes of the row of entity stored under key.
// Key attributes cannot change; references and vocabularies are checked
// again for the resulting row.
func (c *Catalog) Update(ctx context.Context, entity string, key store.Key, changes map[string]any) (store.Row, error) {
	et, err := c.schema.Resolve(entity)
	if err != nil {
		return store.Row{}, err
	}
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		col, ok := et.Column(name)
		if !ok {
			return store.Row{}, errs.Attr(errs.ErrDomainViolation, entity, name, "unknown attribute")
		}
		if col.Key {
			return store.Row{}, errs.Attr(errs.ErrImmutableKey, entity, name, "delete and insert the row instead").WithKey(key)
		}
	}

	var updated store.Row
	err = c.write(ctx, "update", []string{entity}, referencedTypes(et), func(ctx context.Context, log *slog.Logger) error {
		return store.RunInTransaction(ctx, c.store, store.TxOptions{}, func(tx store.Tx) error {
			current, err := c.get(ctx, tx, et, key)
			if err != nil {
				return err
			}
			merged := maps.Clone(current.Attrs)
			maps.Copy(merged, changes)

			v, err := c.validate(ctx, tx, et, merged, false)
			if err != nil {
				return err
			}
			if !v.Key.Equal(key) {
				return errs.New(errs.ErrImmutableKey, entity, "key would change to %s", v.Key).WithKey(key)
			}
			updated = v.Row()
			if err := store.Replace(ctx, tx, updated); err != nil {
				return storeError(entity, key, err)
			}
			log.DebugContext(ctx, "row updated", "entity", entity, "key", key.String(), "attributes", names)
			return nil
		})
	})
	c.metrics.wrote(entity, "update", err)
	if err != nil {
		return store.Row{}, err
	}
	return updated, nil
}
