package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/catalog/errs"
	"github.com/jacentio/catalog/vocab"
)

// Document is a schema declaration file: vocabularies with their seed
// members followed by entity type declarations in any order.
type Document struct {
	Vocabularies []vocab.Definition `yaml:"vocabularies"`
	Entities     []Declaration      `yaml:"entities"`
}

// ParseDocument decodes a YAML declaration document. Unknown fields are
// rejected.
func ParseDocument(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, fmt.Errorf("schema: decode document: %w", err)
	}
	return &doc, nil
}

// ParseDocumentBytes decodes a YAML declaration document held in memory.
func ParseDocumentBytes(data []byte) (*Document, error) {
	return ParseDocument(bytes.NewReader(data))
}

// LoadDocument reads a YAML declaration document from path.
func LoadDocument(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	defer f.Close()
	return ParseDocument(f)
}

// Apply defines the document's vocabularies, registers its entity types
// and checks that every referenced vocabulary exists.
func (d *Document) Apply(reg *Registry, vocabs *vocab.Registry) error {
	for _, def := range d.Vocabularies {
		if vocabs.Has(def.Name) {
			continue
		}
		def, err := BindMemberDomains(def)
		if err != nil {
			return err
		}
		if err := vocabs.Define(def); err != nil {
			return err
		}
	}
	if err := reg.RegisterAll(d.Entities); err != nil {
		return err
	}
	return reg.CheckVocabularies(vocabs)
}

// BindMemberDomains parses the types of def's member attributes into the
// domains the vocabulary registry checks members with.
func BindMemberDomains(def vocab.Definition) (vocab.Definition, error) {
	def.Attributes = slices.Clone(def.Attributes)
	for i, a := range def.Attributes {
		dom, err := ParseDomain(a.Type)
		if err != nil {
			return def, errs.Attr(errs.ErrSchemaConflict, def.Name, a.Name, "%v", err)
		}
		if dom.Kind == KindVocab {
			return def, errs.Attr(errs.ErrSchemaConflict, def.Name, a.Name, "member attributes cannot draw from a vocabulary")
		}
		def.Attributes[i].Domain = memberDomain{dom}
	}
	return def, nil
}

// memberDomain also checks enum membership, which Domain.Coerce leaves to
// the catalog for row attributes.
type memberDomain struct {
	Domain
}

func (d memberDomain) Coerce(v any) (any, error) {
	cv, err := d.Domain.Coerce(v)
	if err != nil {
		return nil, err
	}
	if d.Kind == KindEnum && !d.Admits(cv.(string)) {
		return nil, fmt.Errorf("%q is not one of %v", cv, d.Values)
	}
	return cv, nil
}
