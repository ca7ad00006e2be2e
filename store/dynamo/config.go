package dynamo

import "log/slog"

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the row table.
	// Default: "catalog_rows"
	Table string

	// NumShards is the number of partitions each entity type is spread over.
	// Rows are placed by the hash of their first key segment, so a prefix
	// scan reads a single partition while a full scan fans out over all of
	// them.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-partition limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// Logger receives transaction diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:     "catalog_rows",
		NumShards: 1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "catalog_rows"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
