package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/catalog/store"
)

type itemID struct {
	entity string
	sk     string
}

// entry tracks one item touched by a transaction: what the table held when
// it was first read, and what the transaction wants it to hold.
type entry struct {
	entity  string
	key     store.Key
	existed bool
	version int64

	// checked entries were read with Get and are re-validated at commit.
	checked bool
	written bool

	// current is the row as seen by the transaction, nil when absent.
	current *store.Row
}

type tx struct {
	s        *Store
	readOnly bool
	done     bool
	entries  map[itemID]*entry
}

func (t *tx) check(write bool) error {
	if t.done {
		return store.ErrTxDone
	}
	if write && t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) lookup(ctx context.Context, entity string, key store.Key) (*entry, error) {
	id := itemID{entity: entity, sk: store.EncodeKey(key)}
	if e, ok := t.entries[id]; ok {
		e.checked = true
		return e, nil
	}
	row, version, found, err := t.s.getItem(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	e := &entry{entity: entity, key: key.Clone(), existed: found, version: version, checked: true}
	if found {
		e.current = &row
	}
	t.entries[id] = e
	return e, nil
}

func (t *tx) Get(ctx context.Context, entity string, key store.Key) (store.Row, error) {
	if err := t.check(false); err != nil {
		return store.Row{}, err
	}
	e, err := t.lookup(ctx, entity, key)
	if err != nil {
		return store.Row{}, err
	}
	if e.current == nil {
		return store.Row{}, store.ErrNotFound
	}
	return e.current.Clone(), nil
}

func (t *tx) Put(ctx context.Context, row store.Row) error {
	if err := t.check(true); err != nil {
		return err
	}
	e, err := t.lookup(ctx, row.Entity, row.Key)
	if err != nil {
		return err
	}
	if e.current != nil {
		return fmt.Errorf("%w: %s %s", store.ErrAlreadyExists, row.Entity, row.Key)
	}
	c := row.Clone()
	e.current = &c
	e.written = true
	return nil
}

func (t *tx) Delete(ctx context.Context, entity string, key store.Key) error {
	if err := t.check(true); err != nil {
		return err
	}
	e, err := t.lookup(ctx, entity, key)
	if err != nil {
		return err
	}
	if e.current == nil {
		return store.ErrNotFound
	}
	e.current = nil
	e.written = true
	return nil
}

func (t *tx) Scan(ctx context.Context, entity string, prefix store.Key) ([]store.Row, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	scanned, err := t.s.query(ctx, entity, prefix)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]store.Row, len(scanned))
	for _, sr := range scanned {
		id := itemID{entity: entity, sk: store.EncodeKey(sr.row.Key)}
		if _, ok := t.entries[id]; !ok {
			row := sr.row
			t.entries[id] = &entry{entity: entity, key: row.Key.Clone(), existed: true, version: sr.version, current: &row}
		}
	}
	for id, e := range t.entries {
		if id.entity != entity || !e.key.HasPrefix(prefix) || e.current == nil {
			continue
		}
		byID[id.sk] = e.current.Clone()
	}

	sks := make([]string, 0, len(byID))
	for sk := range byID {
		sks = append(sks, sk)
	}
	sort.Strings(sks)
	rows := make([]store.Row, len(sks))
	for i, sk := range sks {
		rows[i] = byID[sk]
	}
	return rows, nil
}

// transactItems builds the commit request. inserts records which items
// insert new rows, for error mapping.
func (t *tx) transactItems() (items []types.TransactWriteItem, inserts map[int]bool, err error) {
	ids := make([]itemID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].entity != ids[j].entity {
			return ids[i].entity < ids[j].entity
		}
		return ids[i].sk < ids[j].sk
	})

	inserts = make(map[int]bool)
	table := aws.String(t.s.config.Table)
	for _, id := range ids {
		e := t.entries[id]
		key := t.s.itemKey(e.entity, e.key)
		cond, values := e.condition()

		switch {
		case !e.written && !e.checked:
			continue
		case !e.written && !e.existed:
			items = append(items, types.TransactWriteItem{
				ConditionCheck: &types.ConditionCheck{
					TableName:           table,
					Key:                 key,
					ConditionExpression: aws.String(cond),
				},
			})
		case !e.written:
			// Bump rows that were only read so that concurrent writers
			// relying on the old version conflict with this commit.
			values[":one"] = &types.AttributeValueMemberN{Value: "1"}
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:                 table,
					Key:                       key,
					UpdateExpression:          aws.String(bumpVersion),
					ConditionExpression:       aws.String(cond),
					ExpressionAttributeValues: values,
				},
			})
		case e.current == nil && !e.existed:
			// Inserted and deleted again; only the read matters.
			if e.checked {
				items = append(items, types.TransactWriteItem{
					ConditionCheck: &types.ConditionCheck{
						TableName:           table,
						Key:                 key,
						ConditionExpression: aws.String(cond),
					},
				})
			}
		case e.current == nil:
			items = append(items, types.TransactWriteItem{
				Delete: &types.Delete{
					TableName:                 table,
					Key:                       key,
					ConditionExpression:       aws.String(cond),
					ExpressionAttributeValues: values,
				},
			})
		default:
			item, err := t.s.marshalRow(*e.current, e.version+1)
			if err != nil {
				return nil, nil, err
			}
			if !e.existed {
				inserts[len(items)] = true
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:                 table,
					Item:                      item,
					ConditionExpression:       aws.String(cond),
					ExpressionAttributeValues: values,
				},
			})
		}
	}
	return items, inserts, nil
}

const bumpVersion = "SET version = version + :one"

// condition asserts the item is in the state the transaction first saw.
func (e *entry) condition() (string, map[string]types.AttributeValue) {
	if !e.existed {
		return "attribute_not_exists(pk)", nil
	}
	return "version = :v", map[string]types.AttributeValue{
		":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(e.version, 10)},
	}
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if t.readOnly {
		return nil
	}

	items, inserts, err := t.transactItems()
	if err != nil {
		return err
	}
	hasWrite := false
	for _, it := range items {
		if it.Put != nil || it.Delete != nil {
			hasWrite = true
			break
		}
	}
	if !hasWrite {
		return nil
	}
	if len(items) > MaxTransactItems {
		return fmt.Errorf("%w: %d items, limit %d", store.ErrTxTooLarge, len(items), MaxTransactItems)
	}

	token := uuid.New().String()
	_, err = t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(token),
	})
	if err != nil {
		t.s.logger.DebugContext(ctx, "transaction cancelled", "token", token, "items", len(items), "error", err)
	}
	return mapTransactionError(err, inserts)
}

func (t *tx) Rollback(context.Context) error {
	t.done = true
	t.entries = nil
	return nil
}

// mapTransactionError maps DynamoDB transaction errors for Commit.
// inserts holds the indexes of Put items that create new rows.
func mapTransactionError(err error, inserts map[int]bool) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil {
				continue
			}
			switch *reason.Code {
			case "ConditionalCheckFailed":
				if inserts[i] {
					return fmt.Errorf("%w: %s", store.ErrAlreadyExists, aws.ToString(reason.Message))
				}
				return fmt.Errorf("%w: item %d changed since read", store.ErrConflict, i)
			case "TransactionConflict":
				return fmt.Errorf("%w: item %d is being written concurrently", store.ErrConflict, i)
			}
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, reasonCodes(txErr.CancellationReasons))
	}

	var conflictErr *types.TransactionConflictException
	if errors.As(err, &conflictErr) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	var inProgress *types.TransactionInProgressException
	if errors.As(err, &inProgress) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return fmt.Errorf("dynamo: commit: %w", err)
}

func reasonCodes(reasons []types.CancellationReason) string {
	codes := make([]string, 0, len(reasons))
	for _, r := range reasons {
		codes = append(codes, aws.ToString(r.Code))
	}
	return strings.Join(codes, ",")
}
