package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/config"
	"github.com/jacentio/catalog/store"
)

// app holds the state shared by the subcommands of one invocation.
type app struct {
	configFile  string
	metricsFile string

	cfg     config.Config
	logger  *slog.Logger
	store   store.Store
	catalog *catalog.Catalog
	metrics *prometheus.Registry
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "catalog",
		Short: "Catalog validates and stores rows of a composite-key schema",
		Long: `Catalog enforces the integrity rules of a declared schema on a record
store: keys propagate from referenced rows, references must resolve, part
rows are committed and deleted with their master, and vocabulary-typed
attributes only take member values.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.open,
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./catalog.yaml)")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", "", "write operation metrics to this file in the Prometheus text format")

	root.AddCommand(
		newSchemaCmd(a),
		newInsertCmd(a),
		newUpdateCmd(a),
		newCommitCmd(a),
		newGetCmd(a),
		newChildrenCmd(a),
		newDeleteCmd(a),
		newSweepCmd(a),
		newVocabCmd(a),
	)
	return root
}

// open loads configuration and schema, opens the store and restores
// vocabulary members added by earlier runs.
func (a *app) open(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())

	reg, vocabs, err := config.LoadSchema(cfg)
	if err != nil {
		return err
	}

	a.metrics = prometheus.NewRegistry()
	m, err := catalog.NewMetrics(a.metrics)
	if err != nil {
		return err
	}

	s, err := config.OpenStore(cmd.Context(), cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = s
	a.catalog = catalog.New(reg, vocabs, s,
		catalog.WithLogger(a.logger),
		catalog.WithMetrics(m),
		catalog.WithMaxAttempts(cfg.MaxAttempts),
	)

	n, err := a.catalog.RestoreVocabularies(cmd.Context())
	if err != nil {
		return fmt.Errorf("restore vocabularies: %w", err)
	}
	a.logger.Debug("catalog ready",
		"backend", cfg.Store.Backend,
		"entities", len(reg.Names()),
		"restoredMembers", n,
	)
	return nil
}

// close writes the metrics file and closes the store. It runs after failed
// commands too, so rejections are recorded.
func (a *app) close() error {
	if a.metricsFile != "" && a.metrics != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.metrics); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}
