// Package labschema embeds the declaration document of the imaging
// pipeline's experiment schema: specimens, sessions, scans with their
// acquisition parameters, and behavioral recordings.
package labschema

import (
	_ "embed"

	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/vocab"
)

//go:embed experiment.yaml
var experiment []byte

// Source returns the raw YAML document.
func Source() []byte {
	return experiment
}

// Document parses the embedded document.
func Document() (*schema.Document, error) {
	return schema.ParseDocumentBytes(experiment)
}

// Load builds fresh registries holding the experiment schema.
func Load() (*schema.Registry, *vocab.Registry, error) {
	doc, err := Document()
	if err != nil {
		return nil, nil, err
	}
	reg := schema.NewRegistry()
	vocabs := vocab.NewRegistry()
	if err := doc.Apply(reg, vocabs); err != nil {
		return nil, nil, err
	}
	return reg, vocabs, nil
}
