package main

import (
	"github.com/spf13/cobra"

	"github.com/jacentio/catalog/vocab"
)

type vocabularyJSON struct {
	Name    string `json:"name"`
	Closed  bool   `json:"closed"`
	Members int    `json:"members"`
}

func newVocabCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "List and curate controlled vocabularies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list [name]",
		Short: "List vocabularies, or the members of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vocabs := a.catalog.Vocabularies()
			if len(args) == 1 {
				members, err := vocabs.Members(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), members)
			}
			var out []vocabularyJSON
			for _, name := range vocabs.Names() {
				closed, err := vocabs.Closed(name)
				if err != nil {
					return err
				}
				members, err := vocabs.Members(name)
				if err != nil {
					return err
				}
				out = append(out, vocabularyJSON{Name: name, Closed: closed, Members: len(members)})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	var pairs []string
	add := &cobra.Command{
		Use:   "add <name> <value>",
		Short: "Add a member to a curated vocabulary",
		Long: `Add stores a new member of a curated vocabulary so that rows may use it.
Closed vocabularies cannot be extended. Attributes are checked against
the ones the vocabulary declares; absent ones take their defaults.

Example:
  catalog vocab add tissue_type cortex -a "tissue_type_description=cerebral cortex"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAttrs(pairs, nil)
			if err != nil {
				return err
			}
			m := vocab.Member{Value: args[1]}
			if len(attrs) > 0 {
				m.Attrs = attrs
			}
			if err := a.catalog.AddVocabularyMember(cmd.Context(), args[0], m); err != nil {
				return err
			}
			stored, _, err := a.catalog.Vocabularies().Member(args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stored)
		},
	}
	add.Flags().StringArrayVarP(&pairs, "attr", "a", nil, "member attribute as name=value (repeatable)")
	cmd.AddCommand(add)
	return cmd
}
