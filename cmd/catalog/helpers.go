package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/catalog/store"
)

// rowJSON is the output form of a stored row.
type rowJSON struct {
	Entity string         `json:"entity"`
	Key    []string       `json:"key"`
	Attrs  map[string]any `json:"attrs"`
}

func toRowJSON(r store.Row) rowJSON {
	return rowJSON{Entity: r.Entity, Key: r.Key, Attrs: r.Attrs}
}

func toRowsJSON(rows []store.Row) []rowJSON {
	out := make([]rowJSON, len(rows))
	for i, r := range rows {
		out[i] = toRowJSON(r)
	}
	return out
}

func printJSON(w io.Writer, v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(output))
	return err
}

// parseAttrs builds an attribute map from name=value pairs and a list of
// attributes set to null. Values stay strings; the catalog coerces them to
// their domains.
func parseAttrs(pairs, nulls []string) (map[string]any, error) {
	attrs := make(map[string]any, len(pairs)+len(nulls))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("attribute %q: want name=value", p)
		}
		attrs[name] = value
	}
	for _, name := range nulls {
		attrs[name] = nil
	}
	return attrs, nil
}

// readYAML decodes the YAML file at path into v; "-" reads stdin.
func readYAML(path string, stdin io.Reader, v any) error {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	if err := yaml.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
