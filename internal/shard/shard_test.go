package shard

import (
	"strings"
	"testing"
)

// --- PartitionKey Tests ---

func TestPartitionKey_SingleShard(t *testing.T) {
	// With numShards=1, every row of an entity goes to shard "00"
	tests := []struct {
		entity   string
		key      []string
		expected string
	}{
		{"Specimen", []string{"S1"}, "Specimen#00"},
		{"Specimen", []string{"S2"}, "Specimen#00"},
		{"Session", []string{"S1", "2024-03-01T09:30:00Z"}, "Session#00"},
		{"Scan.CameraParam", []string{"S1", "t", "scanA", "cfg", "cam"}, "Scan.CameraParam#00"},
	}

	for _, tt := range tests {
		result := PartitionKey(tt.entity, tt.key, 1)
		if result != tt.expected {
			t.Errorf("PartitionKey(%q, %v, 1) = %q, want %q", tt.entity, tt.key, result, tt.expected)
		}
	}
}

func TestPartitionKey_ZeroShards(t *testing.T) {
	// Zero or negative shards should be treated as 1
	if result := PartitionKey("Specimen", []string{"S1"}, 0); result != "Specimen#00" {
		t.Errorf("expected 'Specimen#00', got %q", result)
	}
	if result := PartitionKey("Specimen", []string{"S1"}, -1); result != "Specimen#00" {
		t.Errorf("expected 'Specimen#00', got %q", result)
	}
}

func TestPartitionKey_EmptyKey(t *testing.T) {
	if result := PartitionKey("Specimen", nil, 16); result != "Specimen#00" {
		t.Errorf("expected 'Specimen#00', got %q", result)
	}
}

func TestPartitionKey_SharedPrefixSharesPartition(t *testing.T) {
	// A master row and everything keyed below it must share a partition
	numShards := 16
	master := PartitionKey("Scan", []string{"S7", "2024-03-01T09:30:00Z", "scanA"}, numShards)
	tests := [][]string{
		{"S7", "2024-03-01T09:30:00Z", "scanA"},
		{"S7", "2024-03-02T10:00:00Z", "scanB"},
		{"S7"},
	}
	for _, key := range tests {
		if pk := PartitionKey("Scan", key, numShards); pk != master {
			t.Errorf("PartitionKey(%v) = %q, want %q", key, pk, master)
		}
	}
}

func TestPartitionKey_MultipleShards(t *testing.T) {
	// With numShards=256, different anchors should spread across shards
	numShards := 256

	shardCounts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		anchor := "S" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		pk := PartitionKey("Specimen", []string{anchor}, numShards)

		if !strings.HasPrefix(pk, "Specimen#") {
			t.Errorf("expected prefix Specimen#, got %q", pk)
		}
		shardCounts[pk[len("Specimen#"):]]++
	}

	if len(shardCounts) < 10 {
		t.Errorf("expected distribution across multiple shards, got only %d unique shards", len(shardCounts))
	}
}

func TestPartitionKey_Deterministic(t *testing.T) {
	first := PartitionKey("Specimen", []string{"S1"}, 256)
	for i := 0; i < 100; i++ {
		if result := PartitionKey("Specimen", []string{"S1"}, 256); result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestPartitionKey_HexFormat(t *testing.T) {
	// Shard suffix is always two lowercase hex digits
	for i := 0; i < 100; i++ {
		pk := PartitionKey("Specimen", []string{string(rune('A' + i%26)), "x"}, 256)
		suffix := pk[len("Specimen#"):]
		if len(suffix) != 2 {
			t.Fatalf("expected 2-char shard suffix, got %q", suffix)
		}
		for _, c := range suffix {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Errorf("non-hex character %q in %q", c, pk)
			}
		}
	}
}

func TestPartitionKey_SpecialCharacters(t *testing.T) {
	pk := PartitionKey("Specimen", []string{"S/1#x%"}, 16)
	if !strings.HasPrefix(pk, "Specimen#") {
		t.Errorf("unexpected partition key %q", pk)
	}
}

// --- Of / All Tests ---

func TestOf_InRange(t *testing.T) {
	for _, n := range []int{2, 4, 16, 256} {
		for _, anchor := range []string{"", "S1", "mouse", "été"} {
			if s := Of(anchor, n); s < 0 || s >= n {
				t.Errorf("Of(%q, %d) = %d, out of range", anchor, n, s)
			}
		}
	}
	if s := Of("S1", 1); s != 0 {
		t.Errorf("Of with one shard = %d, want 0", s)
	}
}

func TestOf_MatchesPartitionKey(t *testing.T) {
	for _, anchor := range []string{"S1", "S2", "S10"} {
		want := ForShard("Session", Of(anchor, 16))
		if got := PartitionKey("Session", []string{anchor, "t"}, 16); got != want {
			t.Errorf("PartitionKey = %q, want %q", got, want)
		}
	}
}

func TestAll(t *testing.T) {
	pks := All("Specimen", 4)
	expected := []string{"Specimen#00", "Specimen#01", "Specimen#02", "Specimen#03"}
	if len(pks) != len(expected) {
		t.Fatalf("expected %d keys, got %d", len(expected), len(pks))
	}
	for i := range expected {
		if pks[i] != expected[i] {
			t.Errorf("All()[%d] = %q, want %q", i, pks[i], expected[i])
		}
	}

	if pks := All("Specimen", 0); len(pks) != 1 || pks[0] != "Specimen#00" {
		t.Errorf("All with zero shards = %v", pks)
	}
}

func TestAll_CoversEveryPartitionKey(t *testing.T) {
	numShards := 16
	all := make(map[string]bool)
	for _, pk := range All("Scan", numShards) {
		all[pk] = true
	}
	for i := 0; i < 200; i++ {
		pk := PartitionKey("Scan", []string{"S" + string(rune('a'+i%26)) + string(rune('0'+i%10))}, numShards)
		if !all[pk] {
			t.Errorf("partition key %q not listed by All", pk)
		}
	}
}

// --- Benchmarks ---

func BenchmarkPartitionKey_SingleShard(b *testing.B) {
	key := []string{"S1", "2024-03-01T09:30:00Z"}
	for i := 0; i < b.N; i++ {
		PartitionKey("Session", key, 1)
	}
}

func BenchmarkPartitionKey_256Shards(b *testing.B) {
	key := []string{"S1", "2024-03-01T09:30:00Z"}
	for i := 0; i < b.N; i++ {
		PartitionKey("Session", key, 256)
	}
}
