// Package dynamo provides store.Store on a single DynamoDB table.
//
// Every row is one item:
//
//	pk       entity#shard (see internal/shard)
//	sk       store.EncodeKey(full key)
//	entity   entity type name
//	key      full key as a list of strings
//	version  incremented on every write and on every read by a writer
//	attrs    attribute map
//
// A transaction buffers its writes and commits them with one
// TransactWriteItems call. Rows a writing transaction read with Get are
// re-checked at commit: an existing row gets an Update bumping its version
// under a version condition, an absent one a ConditionCheck. A transaction
// that read a row someone else changed, created or read for writing fails
// with store.ErrConflict. Rows returned by Scan are not re-checked, but a
// writer adding a referrer bumps the referenced row, so a delete that
// scanned for referrers conflicts with it.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/catalog/internal/shard"
	"github.com/jacentio/catalog/store"
)

// MaxTransactItems is the DynamoDB limit on items per transaction.
const MaxTransactItems = 100

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is a DynamoDB-backed store.Store.
type Store struct {
	client API
	config Config
	logger *slog.Logger
}

// New creates a new Store instance.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
		logger: config.Logger,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config { return s.config }

// Close is a no-op; the client is owned by the caller.
func (s *Store) Close() error { return nil }

// Begin starts a transaction. No request is sent until the first read.
func (s *Store) Begin(_ context.Context, opts store.TxOptions) (store.Tx, error) {
	return &tx{
		s:        s,
		readOnly: opts.ReadOnly,
		entries:  make(map[itemID]*entry),
	}, nil
}

func (s *Store) partitionKey(entity string, key store.Key) string {
	return shard.PartitionKey(entity, key, s.config.NumShards)
}

func (s *Store) itemKey(entity string, key store.Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: s.partitionKey(entity, key)},
		"sk": &types.AttributeValueMemberS{Value: store.EncodeKey(key)},
	}
}

// getItem reads one row with a strongly consistent read.
func (s *Store) getItem(ctx context.Context, entity string, key store.Key) (row store.Row, version int64, found bool, err error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.itemKey(entity, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return store.Row{}, 0, false, fmt.Errorf("dynamo: get %s %s: %w", entity, key, err)
	}
	if len(result.Item) == 0 {
		return store.Row{}, 0, false, nil
	}
	row, version, err = unmarshalRow(result.Item)
	if err != nil {
		return store.Row{}, 0, false, err
	}
	return row, version, true, nil
}

type scannedRow struct {
	row     store.Row
	version int64
}

// query returns the rows of entity under prefix. A non-empty prefix lives in
// one partition; an empty prefix fans out over every shard.
func (s *Store) query(ctx context.Context, entity string, prefix store.Key) ([]scannedRow, error) {
	if len(prefix) > 0 || s.config.NumShards == 1 {
		return s.queryPartition(ctx, s.partitionKey(entity, prefix), store.EncodeKey(prefix))
	}

	pks := shard.All(entity, s.config.NumShards)
	results := make([][]scannedRow, len(pks))
	g, gctx := errgroup.WithContext(ctx)
	for i, pk := range pks {
		g.Go(func() error {
			rows, err := s.queryPartition(gctx, pk, "")
			if err != nil {
				return fmt.Errorf("shard %02x: %w", i, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []scannedRow
	for _, rows := range results {
		all = append(all, rows...)
	}
	sort.Slice(all, func(i, j int) bool {
		return store.EncodeKey(all[i].row.Key) < store.EncodeKey(all[j].row.Key)
	})
	return all, nil
}

func (s *Store) queryPartition(ctx context.Context, pk, skPrefix string) ([]scannedRow, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.Table),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if skPrefix != "" {
		input.KeyConditionExpression = aws.String("pk = :pk AND begins_with(sk, :prefix)")
		input.ExpressionAttributeValues[":prefix"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var rows []scannedRow
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: query %s: %w", pk, err)
		}
		for _, item := range page.Items {
			row, version, err := unmarshalRow(item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, scannedRow{row: row, version: version})
		}
	}
	return rows, nil
}

func (s *Store) marshalRow(row store.Row, version int64) (map[string]types.AttributeValue, error) {
	attrs, err := attributevalue.MarshalMap(row.Attrs)
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshal %s %s: %w", row.Entity, row.Key, err)
	}
	key, err := attributevalue.MarshalList([]string(row.Key))
	if err != nil {
		return nil, fmt.Errorf("dynamo: marshal key: %w", err)
	}
	item := s.itemKey(row.Entity, row.Key)
	item["entity"] = &types.AttributeValueMemberS{Value: row.Entity}
	item["key"] = &types.AttributeValueMemberL{Value: key}
	item["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	item["attrs"] = &types.AttributeValueMemberM{Value: attrs}
	return item, nil
}

// unmarshalRow converts a DynamoDB item to a row and its version.
func unmarshalRow(item map[string]types.AttributeValue) (store.Row, int64, error) {
	var row store.Row
	if v, ok := item["entity"].(*types.AttributeValueMemberS); ok {
		row.Entity = v.Value
	}
	sk, ok := item["sk"].(*types.AttributeValueMemberS)
	if !ok {
		return store.Row{}, 0, errors.New("dynamo: item has no sort key")
	}
	key, err := store.DecodeKey(sk.Value)
	if err != nil {
		return store.Row{}, 0, err
	}
	row.Key = key

	row.Attrs = make(map[string]any)
	if v, ok := item["attrs"].(*types.AttributeValueMemberM); ok {
		if err := attributevalue.UnmarshalMap(v.Value, &row.Attrs); err != nil {
			return store.Row{}, 0, fmt.Errorf("dynamo: unmarshal attrs of %s %s: %w", row.Entity, row.Key, err)
		}
	}

	var version int64
	if v, ok := item["version"].(*types.AttributeValueMemberN); ok {
		version, _ = strconv.ParseInt(v.Value, 10, 64)
	}
	return row, version, nil
}
