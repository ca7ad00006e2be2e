package stream_test

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/catalog/catalog"
	"github.com/jacentio/catalog/labschema"
	"github.com/jacentio/catalog/schema"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/store/memory"
	"github.com/jacentio/catalog/stream"
)

type sweep struct {
	entity string
	key    store.Key
}

type fakeSweeper struct {
	reg   *schema.Registry
	calls []sweep
	swept int
	err   error
}

func (f *fakeSweeper) Schema() *schema.Registry { return f.reg }

func (f *fakeSweeper) SweepOrphans(ctx context.Context, entity string, key store.Key) (int, error) {
	f.calls = append(f.calls, sweep{entity: entity, key: key})
	return f.swept, f.err
}

func newFakeSweeper(t *testing.T) *fakeSweeper {
	t.Helper()
	reg, _, err := labschema.Load()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return &fakeSweeper{reg: reg}
}

func rowImage(entity string, key ...string) map[string]events.DynamoDBAttributeValue {
	list := make([]events.DynamoDBAttributeValue, len(key))
	for i, k := range key {
		list[i] = events.NewStringAttribute(k)
	}
	return map[string]events.DynamoDBAttributeValue{
		"pk":     events.NewStringAttribute(entity + "#00"),
		"sk":     events.NewStringAttribute(store.EncodeKey(key)),
		"entity": events.NewStringAttribute(entity),
		"key":    events.NewListAttribute(list),
	}
}

func removeRecord(id string, image map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   id,
		EventName: "REMOVE",
		Change:    events.DynamoDBStreamRecord{OldImage: image},
	}
}

func insertRecord(id string, image map[string]events.DynamoDBAttributeValue) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   id,
		EventName: "INSERT",
		Change:    events.DynamoDBStreamRecord{NewImage: image},
	}
}

const t1 = "2024-03-01T09:30:00Z"

func TestNewHandler(t *testing.T) {
	// Nil logger falls back to the default logger
	h := stream.NewHandler(newFakeSweeper(t), nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
}

// --- HandleOrphanSweep Tests ---

func TestHandler_EmptyEvent(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	if err := h.HandleOrphanSweep(context.Background(), events.DynamoDBEvent{}); err != nil {
		t.Errorf("expected no error for empty event, got %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("expected no sweeps, got %d", len(f.calls))
	}
}

func TestHandler_RemoveSweepsMasterKey(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeRecord("1", rowImage("Scan", "S1", t1, "scanA")),
	}}
	if err := h.HandleOrphanSweep(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []sweep{{entity: "Scan", key: store.Key{"S1", t1, "scanA"}}}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("expected %v, got %v", want, f.calls)
	}
}

func TestHandler_InsertedPartSweepsMaster(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		insertRecord("1", rowImage("Scan.CameraParam", "S1", t1, "scanA", "cfg1", "cam1")),
		insertRecord("2", rowImage("BehavioralSetup.Camera.Filter", "rig1", "2024-02-01", "1")),
	}}
	if err := h.HandleOrphanSweep(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []sweep{
		{entity: "Scan", key: store.Key{"S1", t1, "scanA"}},
		{entity: "BehavioralSetup.Camera", key: store.Key{"rig1", "2024-02-01", "1"}},
	}
	if !reflect.DeepEqual(f.calls, want) {
		t.Errorf("expected %v, got %v", want, f.calls)
	}
}

func TestHandler_SkippedRecords(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	modify := removeRecord("1", rowImage("Scan", "S1", t1, "scanA"))
	modify.EventName = "MODIFY"

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		modify,
		insertRecord("2", rowImage("Scan", "S1", t1, "scanA")),
		removeRecord("3", rowImage(catalog.VocabularyEntity, "tissue_type", "cortex")),
		removeRecord("4", rowImage("RetiredTable", "x")),
	}}
	if err := h.HandleOrphanSweep(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("expected no sweeps, got %v", f.calls)
	}
}

func TestHandler_SweepErrorRetries(t *testing.T) {
	f := newFakeSweeper(t)
	f.err = errors.New("throttled")
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeRecord("1", rowImage("Scan", "S1", t1, "scanA")),
		removeRecord("2", rowImage("Scan", "S1", t1, "scanB")),
	}}
	err := h.HandleOrphanSweep(context.Background(), event)
	if !errors.Is(err, f.err) {
		t.Fatalf("expected sweep error, got %v", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("expected processing to stop at the first failure, got %d sweeps", len(f.calls))
	}
}

func TestHandler_MalformedImage(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		removeRecord("1", map[string]events.DynamoDBAttributeValue{}),
	}}
	if err := h.HandleOrphanSweep(context.Background(), event); err == nil {
		t.Fatal("expected error for image without entity")
	}
}

func TestHandler_PartKeyTooShort(t *testing.T) {
	f := newFakeSweeper(t)
	h := stream.NewHandler(f, slog.New(slog.DiscardHandler))

	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		insertRecord("1", rowImage("Scan.CaliFactor", "S1")),
	}}
	if err := h.HandleOrphanSweep(context.Background(), event); err == nil {
		t.Fatal("expected error for truncated part key")
	}
}

// --- Catalog Integration ---

func TestHandler_WithCatalog(t *testing.T) {
	ctx := context.Background()
	reg, vocabs, err := labschema.Load()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	mem := memory.New()
	c := catalog.New(reg, vocabs, mem, catalog.WithLogger(slog.New(slog.DiscardHandler)))

	// A calibration part whose scan was deleted by another writer.
	orphan := store.Row{
		Entity: "Scan.CaliFactor",
		Key:    store.Key{"S1", t1, "scanA"},
		Attrs:  map[string]any{"specimen": "S1", "session_start_time": t1, "scan_name": "scanA"},
	}
	err = store.RunInTransaction(ctx, mem, store.TxOptions{}, func(tx store.Tx) error {
		return tx.Put(ctx, orphan)
	})
	if err != nil {
		t.Fatalf("seed orphan: %v", err)
	}

	h := stream.NewHandler(c, slog.New(slog.DiscardHandler))
	event := events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		insertRecord("1", rowImage("Scan.CaliFactor", "S1", t1, "scanA")),
	}}
	if err := h.HandleOrphanSweep(ctx, event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := mem.Len("Scan.CaliFactor"); n != 0 {
		t.Errorf("expected orphan to be swept, %d rows left", n)
	}
}
