package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/catalog/labschema"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/store/dynamo"
	"github.com/jacentio/catalog/store/memory"
	"github.com/jacentio/catalog/store/sqlstore"
	"github.com/jacentio/catalog/vocab"
)

// tableWait bounds how long OpenStore waits for a new table to become
// active.
const tableWait = 2 * time.Minute

// OpenStore opens the configured backend. The caller closes the store.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(), nil
	case BackendSQLite:
		return sqlstore.Open(ctx, sqlstore.Config{
			Dialect:           sqlstore.SQLite.Name,
			DSN:               cfg.SQLite.Path,
			BusyTimeoutMillis: cfg.SQLite.BusyTimeoutMillis,
			Logger:            logger,
		})
	case BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.Config{
			Dialect:      sqlstore.Postgres.Name,
			DSN:          cfg.Postgres.DSN,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			Logger:       logger,
		})
	case BackendDynamoDB:
		client, err := NewDynamoClient(ctx, cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDB.CreateTable {
			if err := dynamo.CreateTable(ctx, client, cfg.DynamoDB.Table, tableWait); err != nil {
				return nil, err
			}
		}
		return dynamo.New(client, dynamo.Config{
			Table:     cfg.DynamoDB.Table,
			NumShards: cfg.DynamoDB.NumShards,
			Logger:    logger,
		}), nil
	default:
		return nil, fmt.Errorf("config: unknown store backend %q", cfg.Backend)
	}
}

// NewDynamoClient builds a DynamoDB client from the default AWS
// configuration, applying the region, profile, credential and endpoint
// overrides that are set.
func NewDynamoClient(ctx context.Context, cfg DynamoDBConfig) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// LoadSchema builds the schema and vocabulary registries from the
// configured declaration document, or from the embedded experiment schema
// when none is set.
func LoadSchema(cfg Config) (*schema.Registry, *vocab.Registry, error) {
	if cfg.Schema == "" {
		return labschema.Load()
	}
	doc, err := schema.LoadDocument(cfg.Schema)
	if err != nil {
		return nil, nil, err
	}
	reg := schema.NewRegistry()
	vocabs := vocab.NewRegistry()
	if err := doc.Apply(reg, vocabs); err != nil {
		return nil, nil, fmt.Errorf("apply %s: %w", cfg.Schema, err)
	}
	return reg, vocabs, nil
}
