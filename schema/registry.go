package schema

import (
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/jacentio/catalog/errs"
)

// Reference is an incoming edge: rows of From point at the target type
// through Edge.
type Reference struct {
	From *EntityType
	Edge *Edge
}

// Registry holds registered entity types and their dependency graph.
// Registration normally happens once during initialization; lookups are
// safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	types     map[string]*EntityType
	order     []string
	referrers map[string][]Reference
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types:     make(map[string]*EntityType),
		referrers: make(map[string][]Reference),
	}
}

// Register adds an entity type. Every referenced type and the master of a
// part must already be registered. Registering a declaration identical to
// an existing one is a no-op.
func (r *Registry) Register(d Declaration) (*EntityType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(d)
}

func (r *Registry) register(d Declaration) (*EntityType, error) {
	if existing, ok := r.types[d.Name]; ok {
		if reflect.DeepEqual(existing.decl, normalize(d)) {
			return existing, nil
		}
		return nil, errs.New(errs.ErrSchemaConflict, d.Name, "already registered with a different declaration")
	}
	et, err := r.compile(normalize(d))
	if err != nil {
		return nil, err
	}
	r.types[d.Name] = et
	r.order = append(r.order, d.Name)
	for _, e := range et.edges {
		r.referrers[e.Target.Name()] = append(r.referrers[e.Target.Name()], Reference{From: et, Edge: e})
	}
	return et, nil
}

// RegisterAll registers declarations given in any order. They are sorted so
// that every type is registered after the types it depends on.
func (r *Registry) RegisterAll(decls []Declaration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered, err := r.sortDeclarations(decls)
	if err != nil {
		return err
	}
	for _, d := range ordered {
		if _, err := r.register(d); err != nil {
			return err
		}
	}
	return nil
}

const (
	unvisited = iota
	visiting
	visited
)

func (r *Registry) sortDeclarations(decls []Declaration) ([]Declaration, error) {
	byName := make(map[string]Declaration, len(decls))
	var names []string
	for _, d := range decls {
		if prev, dup := byName[d.Name]; dup {
			if !reflect.DeepEqual(normalize(prev), normalize(d)) {
				return nil, errs.New(errs.ErrSchemaConflict, d.Name, "declared twice")
			}
			continue
		}
		byName[d.Name] = d
		names = append(names, d.Name)
	}

	state := make(map[string]int, len(byName))
	ordered := make([]Declaration, 0, len(byName))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visited:
			return nil
		case visiting:
			start := slices.Index(path, name)
			cycle := append(slices.Clone(path[start:]), name)
			return errs.New(errs.ErrCyclicDependency, name, "%s", strings.Join(cycle, " -> "))
		}
		state[name] = visiting
		path = append(path, name)
		for _, dep := range byName[name].dependencies() {
			if _, declared := byName[dep]; declared {
				if err := visit(dep); err != nil {
					return err
				}
				continue
			}
			if _, registered := r.types[dep]; !registered {
				return errs.New(errs.ErrUnknownEntity, name, "references undeclared type %q", dep)
			}
		}
		path = path[:len(path)-1]
		state[name] = visited
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// normalize gives semantically equal declarations equal representations.
func normalize(d Declaration) Declaration {
	c := d.clone()
	if c.Tier == "" {
		if c.Master != "" {
			c.Tier = Part
		} else {
			c.Tier = Manual
		}
	}
	if len(c.Attributes) == 0 {
		c.Attributes = nil
	}
	if len(c.References) == 0 {
		c.References = nil
	}
	for i := range c.References {
		if len(c.References[i].Rename) == 0 {
			c.References[i].Rename = nil
		}
	}
	return c
}

func (r *Registry) compile(d Declaration) (*EntityType, error) {
	if d.Name == "" {
		return nil, errs.New(errs.ErrSchemaConflict, "", "entity type name is empty")
	}
	switch d.Tier {
	case Lookup, Manual:
		if d.Master != "" {
			return nil, errs.New(errs.ErrSchemaConflict, d.Name, "only part types have a master")
		}
	case Part:
		if d.Master == "" {
			return nil, errs.New(errs.ErrSchemaConflict, d.Name, "part type needs a master")
		}
	default:
		return nil, errs.New(errs.ErrSchemaConflict, d.Name, "unknown tier %q", d.Tier)
	}

	et := &EntityType{decl: d, byName: make(map[string]*Column)}
	var keyCols, secondary []*Column

	addEdge := func(target string, fk ForeignKeyEdge, master bool) error {
		if target == d.Name {
			return errs.New(errs.ErrCyclicDependency, d.Name, "references itself")
		}
		t, ok := r.types[target]
		if !ok {
			return errs.New(errs.ErrSchemaConflict, d.Name, "references unregistered type %q", target)
		}
		if fk.Key && fk.Nullable {
			return errs.New(errs.ErrSchemaConflict, d.Name, "nullable reference to %q cannot be part of the key", target)
		}
		local := make(map[string]string, len(t.segments))
		for l, tgt := range fk.Rename {
			if !slices.Contains(t.KeyNames(), tgt) {
				return errs.New(errs.ErrSchemaConflict, d.Name, "rename %s=%s: %q is not a key attribute of %s", l, tgt, tgt, target)
			}
			local[tgt] = l
		}
		e := &Edge{From: et, Target: t, Key: fk.Key, Nullable: fk.Nullable, Master: master}
		for _, seg := range t.segments {
			name := seg.Name
			if l, ok := local[name]; ok {
				name = l
			}
			e.Columns = append(e.Columns, EdgeColumn{Local: name, Target: seg.Name})
			if a, ok := d.attribute(name); ok {
				dom, err := ParseDomain(a.Type)
				if err != nil || dom.Kind != seg.Domain.Kind {
					return errs.Attr(errs.ErrSchemaConflict, d.Name, name, "declared with a domain other than %s's", target)
				}
				if fk.Key && !a.Key {
					return errs.Attr(errs.ErrSchemaConflict, d.Name, name, "is a key attribute of %s but not of %s", target, d.Name)
				}
				continue
			}
			if existing, shared := et.byName[name]; shared {
				if existing.Domain.Kind != seg.Domain.Kind {
					return errs.Attr(errs.ErrSchemaConflict, d.Name, name, "shared by references with different domains")
				}
				if fk.Key && !existing.Key {
					return errs.Attr(errs.ErrSchemaConflict, d.Name, name, "is a key attribute of %s but not of %s", target, d.Name)
				}
				continue
			}
			col := &Column{Name: name, Domain: seg.Domain, Key: fk.Key, Nullable: fk.Nullable, Edge: e}
			et.byName[name] = col
			e.owned = append(e.owned, name)
			if fk.Key {
				keyCols = append(keyCols, col)
			} else {
				secondary = append(secondary, col)
			}
		}
		et.edges = append(et.edges, e)
		return nil
	}

	if d.Tier == Part {
		if err := addEdge(d.Master, ForeignKeyEdge{Target: d.Master, Key: true}, true); err != nil {
			return nil, err
		}
		et.master = r.types[d.Master]
	}
	for _, fk := range d.References {
		if err := addEdge(fk.Target, fk, false); err != nil {
			return nil, err
		}
	}

	for _, a := range d.Attributes {
		if a.Name == "" {
			return nil, errs.New(errs.ErrSchemaConflict, d.Name, "attribute name is empty")
		}
		if _, dup := et.byName[a.Name]; dup {
			return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "declared twice")
		}
		dom, err := ParseDomain(a.Type)
		if err != nil {
			return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "%v", err)
		}
		if a.Key && a.Nullable {
			return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "key attributes cannot be nullable")
		}
		if a.Key && !dom.Keyable() {
			return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "%s cannot be part of a key", dom.Kind)
		}
		col := &Column{Name: a.Name, Domain: dom, Key: a.Key, Nullable: a.Nullable}
		if a.Default != nil {
			v, err := dom.Coerce(a.Default)
			if err != nil {
				return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "default: %v", err)
			}
			if dom.Kind == KindEnum && !dom.Admits(v.(string)) {
				return nil, errs.Attr(errs.ErrSchemaConflict, d.Name, a.Name, "default %q is not an enum member", v)
			}
			col.Default, col.HasDefault = v, true
		} else if a.Nullable {
			col.HasDefault = true
		}
		et.byName[a.Name] = col
		if a.Key {
			keyCols = append(keyCols, col)
		} else {
			secondary = append(secondary, col)
		}
	}

	if len(keyCols) == 0 {
		return nil, errs.New(errs.ErrSchemaConflict, d.Name, "has no key attributes and no key references")
	}
	et.columns = append(keyCols, secondary...)
	for _, c := range keyCols {
		origin := d.Name
		if c.Edge != nil {
			origin = originOf(c.Edge, c.Name)
		}
		et.segments = append(et.segments, KeySegment{Name: c.Name, Domain: c.Domain, Origin: origin})
	}
	return et, nil
}

func originOf(e *Edge, local string) string {
	for i, c := range e.Columns {
		if c.Local == local {
			return e.Target.segments[i].Origin
		}
	}
	return e.Target.Name()
}

// Resolve returns the named entity type.
func (r *Registry) Resolve(name string) (*EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.types[name]
	if !ok {
		return nil, errs.New(errs.ErrUnknownEntity, name, "not registered")
	}
	return et, nil
}

// Names returns the registered type names in registration order, which is
// also a dependency order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Referrers returns the edges that point at the named type.
func (r *Registry) Referrers(name string) []Reference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.referrers[name])
}

// Parts returns the part types owned by the named type.
func (r *Registry) Parts(name string) []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var parts []*EntityType
	for _, ref := range r.referrers[name] {
		if ref.Edge.Master {
			parts = append(parts, ref.From)
		}
	}
	return parts
}

// Closure returns the named type and every type that references it,
// directly or transitively, sorted by name.
func (r *Registry) Closure(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ref := range r.referrers[cur] {
			if n := ref.From.Name(); !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Vocabularies returns every vocabulary referenced by a registered type.
func (r *Registry) Vocabularies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		for _, v := range r.types[name].Vocabularies() {
			if !slices.Contains(out, v) {
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}

// VocabularySet reports whether a vocabulary is defined.
type VocabularySet interface {
	Has(name string) bool
}

// CheckVocabularies verifies that every referenced vocabulary is defined.
func (r *Registry) CheckVocabularies(vs VocabularySet) error {
	for _, name := range r.Vocabularies() {
		if !vs.Has(name) {
			return errs.New(errs.ErrUnknownVocabulary, name, "referenced by the schema but not defined")
		}
	}
	return nil
}
