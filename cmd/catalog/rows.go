package main

import (
	"errors"
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/jacentio/catalog/catalog"
)

// batchFile is the input of the commit command.
type batchFile struct {
	Master catalog.Input   `yaml:"master"`
	Parts  []catalog.Input `yaml:"parts"`
}

func newInsertCmd(a *app) *cobra.Command {
	var (
		pairs []string
		nulls []string
		file  string
	)
	cmd := &cobra.Command{
		Use:   "insert <entity>",
		Short: "Validate and insert one row",
		Long: `Insert validates one row and stores it. Attributes are given as
name=value pairs, as a YAML mapping file, or both; pairs override the file.
Key attributes inherited through references may be omitted when the
referenced row supplies them.

Example:
  catalog insert LabMember -a user=alice
  catalog insert Session -a specimen=S1 -a "session_start_time=2024-03-01 09:30:00" \
      -a organ=brain -a data_directory=/data/S1 -a backup_location=GOAT_BACKUP_10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs := map[string]any{}
			if file != "" {
				if err := readYAML(file, cmd.InOrStdin(), &attrs); err != nil {
					return err
				}
			}
			flagAttrs, err := parseAttrs(pairs, nulls)
			if err != nil {
				return err
			}
			maps.Copy(attrs, flagAttrs)

			key, err := a.catalog.Insert(cmd.Context(), args[0], attrs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"entity": args[0], "key": []string(key)})
		},
	}
	cmd.Flags().StringArrayVarP(&pairs, "attr", "a", nil, "attribute as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&nulls, "null", nil, "attribute to set to null (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file holding the attribute mapping (- for stdin)")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		pairs []string
		nulls []string
	)
	cmd := &cobra.Command{
		Use:   "update <entity> <key>...",
		Short: "Change non-key attributes of a row",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := parseAttrs(pairs, nulls)
			if err != nil {
				return err
			}
			if len(changes) == 0 {
				return errors.New("nothing to update: pass --attr or --null")
			}
			key, err := a.catalog.CanonicalKey(args[0], args[1:])
			if err != nil {
				return err
			}
			row, err := a.catalog.Update(cmd.Context(), args[0], key, changes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), toRowJSON(row))
		},
	}
	cmd.Flags().StringArrayVarP(&pairs, "attr", "a", nil, "attribute as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&nulls, "null", nil, "attribute to set to null (repeatable)")
	return cmd
}

func newCommitCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "commit -f <file>",
		Short: "Insert a master row together with its parts",
		Long: `Commit inserts a master row and its part rows in one transaction: either
all rows are stored or none is.

The file holds the master and its parts:

  master:
    entity: Session
    attrs:
      specimen: S1
      session_start_time: "2024-03-01 09:30:00"
      organ: brain
      data_directory: /data/S1
      backup_location: GOAT_BACKUP_10
  parts:
    - entity: Session.DevStage
      attrs:
        specimen: S1
        session_start_time: "2024-03-01 09:30:00"
        dev_stage: larva
        age: 3
        age_unit: days`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var batch batchFile
			if err := readYAML(file, cmd.InOrStdin(), &batch); err != nil {
				return err
			}
			if batch.Master.Entity == "" {
				return fmt.Errorf("%s: master entity is required", file)
			}
			key, err := a.catalog.CommitMasterWithParts(cmd.Context(), batch.Master, batch.Parts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"entity": batch.Master.Entity,
				"key":    []string(key),
				"parts":  len(batch.Parts),
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML batch file (- for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <key>...",
		Short: "Show one row by its full key",
		Long: `Get prints the row of an entity type stored under the given full key,
one argument per key segment.

Example:
  catalog get Scan S1 "2024-03-01 09:30:00" A`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.catalog.CanonicalKey(args[0], args[1:])
			if err != nil {
				return err
			}
			row, err := a.catalog.Get(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), toRowJSON(row))
		},
	}
}

func newChildrenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "children <entity> [key-prefix]...",
		Short: "List rows whose key starts with a prefix",
		Long: `Children lists the rows of an entity type whose full key starts with the
given segments, ordered segment by segment as strings. Segments are
matched as stored, so datetimes are written in their canonical form
(2024-03-01T09:30:00Z).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := a.catalog.Children(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), toRowsJSON(rows))
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var opts catalog.DeleteOptions
	cmd := &cobra.Command{
		Use:   "delete <entity> <key>...",
		Short: "Delete a row with its parts",
		Long: `Delete removes a row together with its part rows. Rows that reference it
through a nullable reference have that reference cleared. Any other
referencing row blocks the delete unless --cascade is given, in which case
it is deleted as well, recursively.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.catalog.CanonicalKey(args[0], args[1:])
			if err != nil {
				return err
			}
			res, err := a.catalog.DeleteMaster(cmd.Context(), args[0], key, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"deleted": toRowsJSON(res.Deleted),
				"nulled":  toRowsJSON(res.Nulled),
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Cascade, "cascade", false, "delete referencing rows too")
	return cmd
}

func newSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <master-entity> <key>...",
		Short: "Remove part rows left behind by a deleted master",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.catalog.CanonicalKey(args[0], args[1:])
			if err != nil {
				return err
			}
			n, err := a.catalog.SweepOrphans(cmd.Context(), args[0], key)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"swept": n})
		},
	}
}
