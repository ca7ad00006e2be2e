package schema

import (
	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/store"
)

// ComputeFullKey builds the full key of a row of et. Inherited segments
// are taken from parents (keyed by target type name) when present, and
// from attrs otherwise; values in attrs are coerced to their domains first.
// The result depends only on the inputs.
func (et *EntityType) ComputeFullKey(attrs map[string]any, parents map[string]store.Key) (store.Key, error) {
	key := make(store.Key, len(et.segments))
	filled := make([]bool, len(et.segments))
	index := make(map[string]int, len(et.segments))
	for i, s := range et.segments {
		index[s.Name] = i
	}

	for _, e := range et.edges {
		if !e.Key {
			continue
		}
		pk, ok := parents[e.Target.Name()]
		if !ok {
			continue
		}
		if len(pk) != len(e.Columns) {
			return nil, errs.New(errs.ErrDomainViolation, et.Name(), "key of %s has %d segments, want %d", e.Target.Name(), len(pk), len(e.Columns))
		}
		for i, c := range e.Columns {
			pos := index[c.Local]
			if filled[pos] && key[pos] != pk[i] {
				return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), c.Local, "parents disagree: %q vs %q", key[pos], pk[i])
			}
			key[pos], filled[pos] = pk[i], true
		}
	}

	for i, s := range et.segments {
		v, present := attrs[s.Name]
		if present && v != nil {
			cv, err := s.Domain.Coerce(v)
			if err != nil {
				return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), s.Name, "%v", err)
			}
			formatted := s.Domain.Format(cv)
			if filled[i] && formatted != key[i] {
				return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), s.Name, "%q disagrees with inherited key segment %q", formatted, key[i])
			}
			key[i], filled[i] = formatted, true
			continue
		}
		if !filled[i] {
			return nil, errs.Attr(errs.ErrMissingAttribute, et.Name(), s.Name, "key attribute not supplied")
		}
	}
	return key, nil
}

// KeyAttrs maps a full key of et back to attribute values, coerced from
// their canonical segment strings.
func (et *EntityType) KeyAttrs(key store.Key) (map[string]any, error) {
	if len(key) != len(et.segments) {
		return nil, errs.New(errs.ErrDomainViolation, et.Name(), "key has %d segments, want %d", len(key), len(et.segments))
	}
	attrs := make(map[string]any, len(key))
	for i, s := range et.segments {
		v, err := s.Domain.Coerce(key[i])
		if err != nil {
			return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), s.Name, "%v", err)
		}
		attrs[s.Name] = v
	}
	return attrs, nil
}

// TargetKey returns the key of the row that a row with attrs references
// through e. present is false when every column owned by the edge is nil,
// which is only legal for nullable edges. attrs must hold coerced values.
func (e *Edge) TargetKey(attrs map[string]any) (key store.Key, present bool, err error) {
	if len(e.owned) > 0 {
		var missing string
		set := 0
		for _, name := range e.owned {
			if attrs[name] == nil {
				missing = name
			} else {
				set++
			}
		}
		if set == 0 {
			return nil, false, nil
		}
		if set < len(e.owned) {
			return nil, false, errs.Attr(errs.ErrMissingAttribute, e.From.Name(), missing, "reference to %s is only partly set", e.Target.Name())
		}
	}
	key = make(store.Key, len(e.Columns))
	for i, c := range e.Columns {
		v := attrs[c.Local]
		if v == nil {
			return nil, false, errs.Attr(errs.ErrMissingAttribute, e.From.Name(), c.Local, "needed by reference to %s", e.Target.Name())
		}
		col := e.From.byName[c.Local]
		key[i] = col.Domain.Format(v)
	}
	return key, true, nil
}

// Matches reports whether a row with attrs references the target row whose
// full key is targetKey. attrs must hold coerced values.
func (e *Edge) Matches(attrs map[string]any, targetKey store.Key) bool {
	key, present, err := e.TargetKey(attrs)
	return err == nil && present && key.Equal(targetKey)
}

// ReferrerPrefix returns the key prefix shared by every row that references
// targetKey through e. ok is false when the edge is not a key prefix of the
// referencing type.
func (e *Edge) ReferrerPrefix(targetKey store.Key) (store.Key, bool) {
	if !e.KeyPrefix() {
		return nil, false
	}
	return targetKey.Clone(), true
}

// Normalize coerces stored attribute values back to their domain types.
// Backends that round-trip values through other encodings (JSON numbers,
// RFC 3339 strings) hand rows back with looser types than were written.
func (et *EntityType) Normalize(attrs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(et.columns))
	for _, c := range et.columns {
		v, ok := attrs[c.Name]
		if !ok || v == nil {
			out[c.Name] = nil
			continue
		}
		cv, err := c.Domain.Coerce(v)
		if err != nil {
			return nil, errs.Attr(errs.ErrDomainViolation, et.Name(), c.Name, "stored value: %v", err)
		}
		out[c.Name] = cv
	}
	return out, nil
}

// ComputeFullKey resolves name and computes the full key of a row of it.
func (r *Registry) ComputeFullKey(name string, attrs map[string]any, parents map[string]store.Key) (store.Key, error) {
	et, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return et.ComputeFullKey(attrs, parents)
}
