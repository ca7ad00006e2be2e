package stream

import (
	"reflect"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/catalog/store"
)

// --- getStringAttr Tests ---

func TestGetStringAttr_ExistingString(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Scan"),
	}

	result := getStringAttr(image, "entity")
	if result != "Scan" {
		t.Errorf("expected 'Scan', got %q", result)
	}
}

func TestGetStringAttr_MissingKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"other": events.NewStringAttribute("value"),
	}

	result := getStringAttr(image, "entity")
	if result != "" {
		t.Errorf("expected empty string for missing key, got %q", result)
	}
}

func TestGetStringAttr_NilImage(t *testing.T) {
	var image map[string]events.DynamoDBAttributeValue

	result := getStringAttr(image, "entity")
	if result != "" {
		t.Errorf("expected empty string for nil image, got %q", result)
	}
}

func TestGetStringAttr_NumberAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"version": events.NewNumberAttribute("3"),
	}

	result := getStringAttr(image, "version")
	if result != "" {
		t.Errorf("expected empty string for number attribute, got %q", result)
	}
}

func TestGetStringAttr_UnicodeValue(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Präparat"),
	}

	result := getStringAttr(image, "entity")
	if result != "Präparat" {
		t.Errorf("expected unicode value, got %q", result)
	}
}

// --- getStringListAttr Tests ---

func TestGetStringListAttr_ValidList(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"key": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("S1"),
			events.NewStringAttribute("scan/A"),
		}),
	}

	result, ok := getStringListAttr(image, "key")
	if !ok {
		t.Fatal("expected list")
	}
	if !reflect.DeepEqual(result, store.Key{"S1", "scan/A"}) {
		t.Errorf("expected [S1 scan/A], got %v", result)
	}
}

func TestGetStringListAttr_EmptyList(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"key": events.NewListAttribute([]events.DynamoDBAttributeValue{}),
	}

	result, ok := getStringListAttr(image, "key")
	if !ok {
		t.Fatal("expected empty list to be accepted")
	}
	if len(result) != 0 {
		t.Errorf("expected empty key, got %v", result)
	}
}

func TestGetStringListAttr_MissingKey(t *testing.T) {
	if _, ok := getStringListAttr(map[string]events.DynamoDBAttributeValue{}, "key"); ok {
		t.Error("expected missing attribute to be reported")
	}
}

func TestGetStringListAttr_NonListAttribute(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"key": events.NewStringAttribute("S1/"),
	}

	if _, ok := getStringListAttr(image, "key"); ok {
		t.Error("expected string attribute to be rejected")
	}
}

func TestGetStringListAttr_ListWithMixedTypes(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"key": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("S1"),
			events.NewNumberAttribute("42"),
		}),
	}

	if _, ok := getStringListAttr(image, "key"); ok {
		t.Error("expected mixed list to be rejected")
	}
}

// --- RowKey Tests ---

func TestRowKey_FromList(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Session"),
		"key": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("S1"),
			events.NewStringAttribute("2024-03-01T09:30:00Z"),
		}),
	}

	entity, key, err := RowKey(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entity != "Session" {
		t.Errorf("expected Session, got %q", entity)
	}
	if !reflect.DeepEqual(key, store.Key{"S1", "2024-03-01T09:30:00Z"}) {
		t.Errorf("unexpected key %v", key)
	}
}

func TestRowKey_FromSortKey(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Scan"),
		"sk":     events.NewStringAttribute("S%2F1/scanA/"),
	}

	_, key, err := RowKey(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(key, store.Key{"S/1", "scanA"}) {
		t.Errorf("expected decoded sort key, got %v", key)
	}
}

func TestRowKey_Errors(t *testing.T) {
	tests := []struct {
		name  string
		image map[string]events.DynamoDBAttributeValue
	}{
		{"no entity", map[string]events.DynamoDBAttributeValue{
			"sk": events.NewStringAttribute("S1/"),
		}},
		{"no key", map[string]events.DynamoDBAttributeValue{
			"entity": events.NewStringAttribute("Scan"),
		}},
		{"bad sort key", map[string]events.DynamoDBAttributeValue{
			"entity": events.NewStringAttribute("Scan"),
			"sk":     events.NewStringAttribute("S1"),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := RowKey(tt.image); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// --- Benchmarks ---

func BenchmarkGetStringAttr(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Scan.CameraParam"),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		getStringAttr(image, "entity")
	}
}

func BenchmarkRowKey(b *testing.B) {
	image := map[string]events.DynamoDBAttributeValue{
		"entity": events.NewStringAttribute("Scan.CameraParam"),
		"key": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("S1"),
			events.NewStringAttribute("2024-03-01T09:30:00Z"),
			events.NewStringAttribute("scanA"),
			events.NewStringAttribute("cfg1"),
			events.NewStringAttribute("cam1"),
		}),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = RowKey(image)
	}
}
