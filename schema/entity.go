package schema

import (
	"maps"
	"slices"
)

// Tier classifies how rows of an entity type come into existence.
type Tier string

const (
	// Lookup types hold reference data seeded with the schema.
	Lookup Tier = "lookup"

	// Manual types hold rows entered by operators.
	Manual Tier = "manual"

	// Part types hold rows owned by exactly one master row.
	Part Tier = "part"
)

// Attribute declares one local attribute.
type Attribute struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Key      bool   `yaml:"key,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty"`
	Default  any    `yaml:"default,omitempty"`
	Comment  string `yaml:"comment,omitempty"`
}

// ForeignKeyEdge declares a reference to another entity type. The
// referencing type gains one attribute per key attribute of the target.
type ForeignKeyEdge struct {
	// Target is the referenced entity type.
	Target string `yaml:"target"`

	// Key makes the target's full key part of this type's key.
	Key bool `yaml:"key,omitempty"`

	// Nullable lets rows omit the reference. Nullable edges cannot be keys.
	Nullable bool `yaml:"nullable,omitempty"`

	// Rename maps a local attribute name to the target key attribute it
	// stands for (e.g., source: user).
	Rename map[string]string `yaml:"rename,omitempty"`
}

// Declaration describes an entity type before registration.
type Declaration struct {
	Name       string           `yaml:"name"`
	Tier       Tier             `yaml:"tier"`
	Master     string           `yaml:"master,omitempty"`
	Comment    string           `yaml:"comment,omitempty"`
	Attributes []Attribute      `yaml:"attributes,omitempty"`
	References []ForeignKeyEdge `yaml:"references,omitempty"`
}

func (d Declaration) clone() Declaration {
	c := d
	c.Attributes = slices.Clone(d.Attributes)
	c.References = make([]ForeignKeyEdge, len(d.References))
	for i, e := range d.References {
		e.Rename = maps.Clone(e.Rename)
		c.References[i] = e
	}
	return c
}

// attribute returns the local attribute called name.
func (d Declaration) attribute(name string) (Attribute, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// dependencies returns the entity types d refers to, master first.
func (d Declaration) dependencies() []string {
	var deps []string
	if d.Master != "" {
		deps = append(deps, d.Master)
	}
	for _, e := range d.References {
		deps = append(deps, e.Target)
	}
	return deps
}

// Column is a resolved attribute of a registered entity type.
type Column struct {
	Name     string
	Domain   Domain
	Key      bool
	Nullable bool

	// Default is the coerced default; HasDefault tells a nil default apart
	// from no default.
	Default    any
	HasDefault bool

	// Edge is the reference that introduced the column, nil for local ones.
	Edge *Edge
}

// EdgeColumn pairs a local column with the target key attribute it holds.
type EdgeColumn struct {
	Local  string
	Target string
}

// Edge is a resolved reference from one entity type to another.
type Edge struct {
	From     *EntityType
	Target   *EntityType
	Key      bool
	Nullable bool

	// Master marks the ownership edge from a part to its master.
	Master bool

	// Columns follow the target's key segment order.
	Columns []EdgeColumn

	owned []string
}

// Owned returns the columns this edge introduced, excluding those shared
// with earlier edges.
func (e *Edge) Owned() []string {
	return e.owned
}

// KeyPrefix reports whether the edge's columns are the leading key segments
// of the referencing type, so referencing rows can be found by key prefix.
func (e *Edge) KeyPrefix() bool {
	segs := e.From.segments
	if len(e.Columns) > len(segs) {
		return false
	}
	for i, c := range e.Columns {
		if segs[i].Name != c.Local {
			return false
		}
	}
	return true
}

// KeySegment is one position of an entity type's full key.
type KeySegment struct {
	Name   string
	Domain Domain

	// Origin names the entity type that declared the attribute.
	Origin string
}

// EntityType is a registered, resolved entity type. It is immutable.
type EntityType struct {
	decl     Declaration
	master   *EntityType
	columns  []*Column
	byName   map[string]*Column
	edges    []*Edge
	segments []KeySegment
}

// Name returns the entity type name.
func (et *EntityType) Name() string { return et.decl.Name }

// Tier returns the entity type's tier.
func (et *EntityType) Tier() Tier { return et.decl.Tier }

// IsPart reports whether rows are owned by a master row.
func (et *EntityType) IsPart() bool { return et.master != nil }

// Master returns the owning entity type of a part, or nil.
func (et *EntityType) Master() *EntityType { return et.master }

// Declaration returns a copy of the declaration the type was built from.
func (et *EntityType) Declaration() Declaration { return et.decl.clone() }

// Columns returns every column, key columns first.
func (et *EntityType) Columns() []*Column { return et.columns }

// Column returns the named column.
func (et *EntityType) Column(name string) (*Column, bool) {
	c, ok := et.byName[name]
	return c, ok
}

// Edges returns the resolved references, the master edge first.
func (et *EntityType) Edges() []*Edge { return et.edges }

// MasterEdge returns the ownership edge of a part, or nil.
func (et *EntityType) MasterEdge() *Edge {
	if et.master == nil {
		return nil
	}
	return et.edges[0]
}

// KeySegments returns the memoized full key layout.
func (et *EntityType) KeySegments() []KeySegment { return et.segments }

// KeyNames returns the full key attribute names in order.
func (et *EntityType) KeyNames() []string {
	names := make([]string, len(et.segments))
	for i, s := range et.segments {
		names[i] = s.Name
	}
	return names
}

// Vocabularies returns the vocabularies referenced by vocab columns.
func (et *EntityType) Vocabularies() []string {
	var out []string
	for _, c := range et.columns {
		if c.Domain.Kind == KindVocab && !slices.Contains(out, c.Domain.Vocabulary) {
			out = append(out, c.Domain.Vocabulary)
		}
	}
	return out
}
