// Command orphan-sweeper is the Lambda function attached to the row table's
// DynamoDB stream. It removes part rows whose master was deleted by a
// concurrent writer.
//
// Configuration is read like the catalog CLI's: CATALOG_* environment
// variables, plus the file named by CATALOG_CONFIG when set. The store
// backend must be dynamodb.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/config"
	"github.com/jacentio/catalog/stream"
)

func main() {
	h, err := newHandler(context.Background())
	if err != nil {
		slog.Error("orphan sweeper setup failed", "error", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleOrphanSweep)
}

func newHandler(ctx context.Context) (*stream.Handler, error) {
	cfg, err := config.Load(os.Getenv("CATALOG_CONFIG"))
	if err != nil {
		return nil, err
	}
	if cfg.Store.Backend != config.BackendDynamoDB {
		return nil, fmt.Errorf("store backend is %q, want %q", cfg.Store.Backend, config.BackendDynamoDB)
	}
	logger := cfg.Log.NewLogger(os.Stdout)

	reg, vocabs, err := config.LoadSchema(cfg)
	if err != nil {
		return nil, err
	}
	s, err := config.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	c := catalog.New(reg, vocabs, s,
		catalog.WithLogger(logger),
		catalog.WithMaxAttempts(cfg.MaxAttempts),
	)
	logger.Info("orphan sweeper ready",
		"table", cfg.Store.DynamoDB.Table,
		"shards", cfg.Store.DynamoDB.NumShards,
	)
	return stream.NewHandler(c, logger), nil
}
