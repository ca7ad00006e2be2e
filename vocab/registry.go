// Package vocab holds the controlled vocabularies that attribute values are
// checked against: closed enumerations fixed at declaration time and curated
// lookups that administrators extend while the catalog is running.
package vocab

import (
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/jacentio/catalog/errs"
)

// Member is one admissible value, with the descriptive attributes its
// vocabulary declares (e.g. a tissue type's description).
type Member struct {
	Value string         `yaml:"value" json:"value"`
	Attrs map[string]any `yaml:"attrs,omitempty" json:"attrs,omitempty"`
}

// Domain coerces the values of one member attribute.
type Domain interface {
	Coerce(v any) (any, error)
}

// Attribute declares a descriptive attribute of a vocabulary's members.
type Attribute struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable,omitempty"`
	Default  any    `yaml:"default,omitempty"`
	Comment  string `yaml:"comment,omitempty"`

	// Domain checks values of the attribute. It is parsed from Type by the
	// schema package before the vocabulary is defined.
	Domain Domain `yaml:"-"`
}

// Definition declares a vocabulary and its initial members.
type Definition struct {
	Name       string      `yaml:"name"`
	Closed     bool        `yaml:"closed"`
	Comment    string      `yaml:"comment,omitempty"`
	Attributes []Attribute `yaml:"attributes,omitempty"`
	Members    []Member    `yaml:"members"`
}

type attribute struct {
	Attribute
	hasDefault bool
	def        any
}

type vocabulary struct {
	name    string
	closed  bool
	attrs   []attribute
	order   []string
	members map[string]Member
}

// normalize checks m's attributes against the declared ones, coercing
// values and filling defaults. Members of a vocabulary without declared
// attributes carry none.
func (v *vocabulary) normalize(m Member) (Member, error) {
	if m.Value == "" {
		return Member{}, errs.New(errs.ErrDomainViolation, v.name, "member value is empty")
	}
	names := make([]string, 0, len(m.Attrs))
	for name := range m.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !slices.ContainsFunc(v.attrs, func(a attribute) bool { return a.Name == name }) {
			return Member{}, errs.Attr(errs.ErrDomainViolation, v.name, name, "unknown member attribute").WithKey([]string{m.Value})
		}
	}
	if len(v.attrs) == 0 {
		return Member{Value: m.Value}, nil
	}

	out := Member{Value: m.Value, Attrs: make(map[string]any, len(v.attrs))}
	for _, a := range v.attrs {
		raw := m.Attrs[a.Name]
		if raw == nil {
			switch {
			case a.hasDefault:
				out.Attrs[a.Name] = a.def
			case a.Nullable:
				out.Attrs[a.Name] = nil
			default:
				return Member{}, errs.Attr(errs.ErrMissingAttribute, v.name, a.Name, "required").WithKey([]string{m.Value})
			}
			continue
		}
		cv, err := a.Domain.Coerce(raw)
		if err != nil {
			return Member{}, errs.Attr(errs.ErrDomainViolation, v.name, a.Name, "%v", err).WithKey([]string{m.Value})
		}
		out.Attrs[a.Name] = cv
	}
	return out, nil
}

// Registry stores vocabularies by name. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	vocabs map[string]*vocabulary
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{vocabs: make(map[string]*vocabulary)}
}

// Define establishes a vocabulary with its seed members.
func (r *Registry) Define(def Definition) error {
	if def.Name == "" {
		return errs.New(errs.ErrSchemaConflict, "", "vocabulary name is empty")
	}
	v := &vocabulary{name: def.Name, closed: def.Closed, members: make(map[string]Member, len(def.Members))}
	for _, a := range def.Attributes {
		switch {
		case a.Name == "":
			return errs.New(errs.ErrSchemaConflict, def.Name, "attribute name is empty")
		case a.Domain == nil:
			return errs.Attr(errs.ErrSchemaConflict, def.Name, a.Name, "no domain for type %q", a.Type)
		case slices.ContainsFunc(v.attrs, func(b attribute) bool { return b.Name == a.Name }):
			return errs.Attr(errs.ErrSchemaConflict, def.Name, a.Name, "declared twice")
		}
		attr := attribute{Attribute: a}
		if a.Default != nil {
			d, err := a.Domain.Coerce(a.Default)
			if err != nil {
				return errs.Attr(errs.ErrSchemaConflict, def.Name, a.Name, "default: %v", err)
			}
			attr.def, attr.hasDefault = d, true
		}
		v.attrs = append(v.attrs, attr)
	}
	for _, m := range def.Members {
		if _, dup := v.members[m.Value]; dup {
			return errs.New(errs.ErrSchemaConflict, def.Name, "member %q declared twice", m.Value)
		}
		nm, err := v.normalize(m)
		if err != nil {
			return errs.Wrap(errs.ErrSchemaConflict, def.Name, err)
		}
		v.members[m.Value] = nm
		v.order = append(v.order, m.Value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.vocabs[def.Name]; exists {
		return errs.New(errs.ErrSchemaConflict, def.Name, "vocabulary already defined")
	}
	r.vocabs[def.Name] = v
	return nil
}

// DefineAll defines every vocabulary in order, stopping at the first error.
func (r *Registry) DefineAll(defs []Definition) error {
	for _, def := range defs {
		if err := r.Define(def); err != nil {
			return err
		}
	}
	return nil
}

// IsMember reports whether value belongs to the named vocabulary.
func (r *Registry) IsMember(name, value string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return false, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	_, member := v.members[value]
	return member, nil
}

// Prepare checks that m can be added to the curated lookup name and returns
// it with its attributes coerced and defaults filled. It does not add it.
func (r *Registry) Prepare(name string, m Member) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return Member{}, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	return v.prepare(m)
}

func (v *vocabulary) prepare(m Member) (Member, error) {
	if v.closed {
		return Member{}, errs.New(errs.ErrVocabularyClosed, v.name, "cannot add %q", m.Value)
	}
	if _, dup := v.members[m.Value]; dup {
		return Member{}, errs.New(errs.ErrDuplicateKey, v.name, "member %q already exists", m.Value).WithKey([]string{m.Value})
	}
	return v.normalize(m)
}

// Add appends a member to a curated lookup after the checks of Prepare.
func (r *Registry) Add(name string, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vocabs[name]
	if !ok {
		return errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	nm, err := v.prepare(m)
	if err != nil {
		return err
	}
	v.members[m.Value] = nm
	v.order = append(v.order, m.Value)
	return nil
}

// Member returns one member of the named vocabulary.
func (r *Registry) Member(name, value string) (Member, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return Member{}, false, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	m, found := v.members[value]
	return cloneMember(m), found, nil
}

// Members returns the members of the named vocabulary in insertion order.
func (r *Registry) Members(name string) ([]Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return nil, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	out := make([]Member, 0, len(v.order))
	for _, value := range v.order {
		out = append(out, cloneMember(v.members[value]))
	}
	return out, nil
}

// Attributes returns the member attributes declared by the named vocabulary.
func (r *Registry) Attributes(name string) ([]Attribute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return nil, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	out := make([]Attribute, len(v.attrs))
	for i, a := range v.attrs {
		out[i] = a.Attribute
	}
	return out, nil
}

// Closed reports whether the named vocabulary is a closed enumeration.
func (r *Registry) Closed(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vocabs[name]
	if !ok {
		return false, errs.New(errs.ErrUnknownVocabulary, name, "not defined")
	}
	return v.closed, nil
}

// Has reports whether a vocabulary with the given name is defined.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.vocabs[name]
	return ok
}

// Names returns the defined vocabulary names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.vocabs))
	for name := range r.vocabs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func cloneMember(m Member) Member {
	if m.Attrs != nil {
		m.Attrs = maps.Clone(m.Attrs)
	}
	return m
}
