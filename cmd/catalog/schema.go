package main

import (
	"github.com/spf13/cobra"

	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/vocab"
)

type entityJSON struct {
	Name    string       `json:"name"`
	Tier    string       `json:"tier"`
	Master  string       `json:"master,omitempty"`
	Key     []string     `json:"key"`
	Columns []columnJSON `json:"columns,omitempty"`
	Parts   []string     `json:"parts,omitempty"`
}

type columnJSON struct {
	Name       string `json:"name"`
	Domain     string `json:"domain"`
	Key        bool   `json:"key,omitempty"`
	Nullable   bool   `json:"nullable,omitempty"`
	Default    any    `json:"default,omitempty"`
	References string `json:"references,omitempty"`
}

func describe(reg *schema.Registry, et *schema.EntityType, full bool) entityJSON {
	out := entityJSON{Name: et.Name(), Tier: string(et.Tier()), Key: et.KeyNames()}
	if m := et.Master(); m != nil {
		out.Master = m.Name()
	}
	if !full {
		return out
	}
	for _, c := range et.Columns() {
		cj := columnJSON{
			Name:     c.Name,
			Domain:   c.Domain.String(),
			Key:      c.Key,
			Nullable: c.Nullable,
		}
		if c.HasDefault {
			cj.Default = c.Default
		}
		if c.Edge != nil {
			cj.References = c.Edge.Target.Name()
		}
		out.Columns = append(out.Columns, cj)
	}
	for _, p := range reg.Parts(et.Name()) {
		out.Parts = append(out.Parts, p.Name())
	}
	return out
}

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the loaded schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List entity types in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.catalog.Schema()
			var out []entityJSON
			for _, name := range reg.Names() {
				et, err := reg.Resolve(name)
				if err != nil {
					return err
				}
				out = append(out, describe(reg, et, false))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <entity>",
		Short: "Show the columns, key and parts of an entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := a.catalog.Schema()
			et, err := reg.Resolve(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), describe(reg, et, true))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Check that a declaration document registers cleanly",
		Long: `Check parses a declaration document and registers it into empty
registries, reporting the first schema conflict, unknown entity type,
dependency cycle or unknown vocabulary it finds. No rows are written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.LoadDocument(args[0])
			if err != nil {
				return err
			}
			reg := schema.NewRegistry()
			if err := doc.Apply(reg, vocab.NewRegistry()); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"entities":     len(reg.Names()),
				"vocabularies": len(doc.Vocabularies),
			})
		},
	})
	return cmd
}
