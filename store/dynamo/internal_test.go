package dynamo

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/catalog/store"
)

// --- unmarshalRow Tests ---

func TestUnmarshalRow_Full(t *testing.T) {
	item := map[string]types.AttributeValue{
		"pk":      &types.AttributeValueMemberS{Value: "Session#00"},
		"sk":      &types.AttributeValueMemberS{Value: "S1/2024-03-01T09:30:00Z/"},
		"entity":  &types.AttributeValueMemberS{Value: "Session"},
		"version": &types.AttributeValueMemberN{Value: "3"},
		"attrs": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"organ":           &types.AttributeValueMemberS{Value: "brain"},
			"backup_location": &types.AttributeValueMemberNULL{Value: true},
		}},
	}

	row, version, err := unmarshalRow(item)
	if err != nil {
		t.Fatalf("unmarshalRow failed: %v", err)
	}
	if row.Entity != "Session" {
		t.Errorf("expected entity Session, got %q", row.Entity)
	}
	if !row.Key.Equal(store.Key{"S1", "2024-03-01T09:30:00Z"}) {
		t.Errorf("unexpected key %v", row.Key)
	}
	if version != 3 {
		t.Errorf("expected version 3, got %d", version)
	}
	if row.Attrs["organ"] != "brain" {
		t.Errorf("expected organ brain, got %v", row.Attrs["organ"])
	}
	if v, ok := row.Attrs["backup_location"]; !ok || v != nil {
		t.Errorf("expected nil backup_location, got %v", v)
	}
}

func TestUnmarshalRow_MissingSortKey(t *testing.T) {
	_, _, err := unmarshalRow(map[string]types.AttributeValue{
		"entity": &types.AttributeValueMemberS{Value: "Session"},
	})
	if err == nil {
		t.Error("expected error for item without sort key")
	}
}

func TestUnmarshalRow_UnparseableVersion(t *testing.T) {
	_, version, err := unmarshalRow(map[string]types.AttributeValue{
		"sk":      &types.AttributeValueMemberS{Value: "S1/"},
		"version": &types.AttributeValueMemberN{Value: "not-a-number"},
	})
	if err != nil {
		t.Fatalf("unmarshalRow failed: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0, got %d", version)
	}
}

func TestMarshalRow_RoundTrip(t *testing.T) {
	s := New(newFakeDynamo(), Config{NumShards: 4})
	row := specimen("S/1")

	item, err := s.marshalRow(row, 2)
	if err != nil {
		t.Fatalf("marshalRow failed: %v", err)
	}
	if pk := attrS(item, "pk"); pk != s.partitionKey("Specimen", row.Key) {
		t.Errorf("unexpected pk %q", pk)
	}
	if sk := attrS(item, "sk"); sk != "S%2F1/" {
		t.Errorf("unexpected sk %q", sk)
	}

	got, version, err := unmarshalRow(item)
	if err != nil {
		t.Fatalf("unmarshalRow failed: %v", err)
	}
	if version != 2 || !got.Key.Equal(row.Key) || got.Attrs["source"] != "alice" {
		t.Errorf("round trip mismatch: %+v version %d", got, version)
	}
}

// --- mapTransactionError Tests ---

func TestMapTransactionError_NilError(t *testing.T) {
	if err := mapTransactionError(nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMapTransactionError_NonTransactionError(t *testing.T) {
	original := errors.New("network error")
	err := mapTransactionError(original, nil)
	if !errors.Is(err, original) {
		t.Errorf("expected wrapped original error, got %v", err)
	}
}

func TestMapTransactionError_InsertFailure(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	err := mapTransactionError(txErr, map[int]bool{1: true})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMapTransactionError_CheckFailure(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
		},
	}
	err := mapTransactionError(txErr, map[int]bool{1: true})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMapTransactionError_TransactionConflict(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("TransactionConflict")},
		},
	}
	if err := mapTransactionError(txErr, nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
	if err := mapTransactionError(&types.TransactionConflictException{}, nil); !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMapTransactionError_NilCode(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: nil},
			{Code: aws.String("ThrottlingError")},
		},
	}
	err := mapTransactionError(txErr, nil)
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}
