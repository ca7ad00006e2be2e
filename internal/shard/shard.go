// Package shard provides partition key generation for the DynamoDB record
// table.
package shard

import (
	"fmt"
	"hash/fnv"
)

// PartitionKey computes the partition key of a row of entity with the given
// full key. With numShards=1, all rows of an entity type go to shard "00".
// With numShards>1, rows are distributed by the hash of the first key
// segment, so every key sharing a non-empty prefix lands in one partition.
func PartitionKey(entity string, key []string, numShards int) string {
	if numShards <= 1 || len(key) == 0 {
		return fmt.Sprintf("%s#00", entity)
	}
	return ForShard(entity, Of(key[0], numShards))
}

// Of returns the shard index for a first key segment.
func Of(anchor string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(anchor))
	return int(h.Sum32() % uint32(numShards))
}

// ForShard formats the partition key of shard i of entity.
func ForShard(entity string, i int) string {
	return fmt.Sprintf("%s#%02x", entity, i)
}

// All returns every partition key of entity, in shard order.
func All(entity string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = ForShard(entity, i)
	}
	return pks
}
