package dynamo

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory table understanding the requests Store sends.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	transactCalls int
	lastTransact  *dynamodb.TransactWriteItemsInput
	queried       []string

	// failTransact, when set, is returned by the next TransactWriteItems.
	failTransact error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) get(key map[string]types.AttributeValue) map[string]types.AttributeValue {
	return f.items[attrS(key, "pk")][attrS(key, "sk")]
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.get(in.Key)}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := attrS(in.ExpressionAttributeValues, ":pk")
	prefix := attrS(in.ExpressionAttributeValues, ":prefix")
	f.queried = append(f.queried, pk)

	var sks []string
	for sk := range f.items[pk] {
		if strings.HasPrefix(sk, prefix) {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)
	out := &dynamodb.QueryOutput{}
	for _, sk := range sks {
		out.Items = append(out.Items, f.items[pk][sk])
	}
	return out, nil
}

func (f *fakeDynamo) holds(key map[string]types.AttributeValue, cond string, values map[string]types.AttributeValue) bool {
	item := f.get(key)
	switch cond {
	case "attribute_not_exists(pk)":
		return item == nil
	case "version = :v":
		if item == nil {
			return false
		}
		got, _ := item["version"].(*types.AttributeValueMemberN)
		want, _ := values[":v"].(*types.AttributeValueMemberN)
		return got != nil && want != nil && got.Value == want.Value
	case "":
		return true
	}
	panic(fmt.Sprintf("fake: unsupported condition %q", cond))
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactCalls++
	f.lastTransact = in

	if err := f.failTransact; err != nil {
		f.failTransact = nil
		return nil, err
	}
	if len(in.TransactItems) > MaxTransactItems {
		return nil, errors.New("fake: too many items")
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, it := range in.TransactItems {
		var ok bool
		switch {
		case it.ConditionCheck != nil:
			ok = f.holds(it.ConditionCheck.Key, aws.ToString(it.ConditionCheck.ConditionExpression), it.ConditionCheck.ExpressionAttributeValues)
		case it.Put != nil:
			key := map[string]types.AttributeValue{"pk": it.Put.Item["pk"], "sk": it.Put.Item["sk"]}
			ok = f.holds(key, aws.ToString(it.Put.ConditionExpression), it.Put.ExpressionAttributeValues)
		case it.Delete != nil:
			ok = f.holds(it.Delete.Key, aws.ToString(it.Delete.ConditionExpression), it.Delete.ExpressionAttributeValues)
		case it.Update != nil:
			if expr := aws.ToString(it.Update.UpdateExpression); expr != bumpVersion {
				panic(fmt.Sprintf("fake: unsupported update %q", expr))
			}
			ok = f.holds(it.Update.Key, aws.ToString(it.Update.ConditionExpression), it.Update.ExpressionAttributeValues)
		}
		code := "None"
		if !ok {
			code = "ConditionalCheckFailed"
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			pk, sk := attrS(it.Put.Item, "pk"), attrS(it.Put.Item, "sk")
			if f.items[pk] == nil {
				f.items[pk] = make(map[string]map[string]types.AttributeValue)
			}
			f.items[pk][sk] = it.Put.Item
		case it.Delete != nil:
			delete(f.items[attrS(it.Delete.Key, "pk")], attrS(it.Delete.Key, "sk"))
		case it.Update != nil:
			item := maps.Clone(f.get(it.Update.Key))
			version, _ := strconv.ParseInt(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
			item["version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)}
			f.items[attrS(it.Update.Key, "pk")][attrS(it.Update.Key, "sk")] = item
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) partitions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pks []string
	for pk, items := range f.items {
		if len(items) > 0 {
			pks = append(pks, pk)
		}
	}
	sort.Strings(pks)
	return pks
}
