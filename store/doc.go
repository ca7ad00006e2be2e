// Package store defines the record store the catalog persists rows in.
//
// A store is a transactional map from (entity type, full key) to a row of
// attribute values. The catalog layers schema validation, referential
// integrity and cascades on top; a store only guarantees key uniqueness and
// atomic commits.
//
// # Backends
//
//   - memory: in-process, one writer at a time (tests, tooling)
//   - sqlstore: SQLite or PostgreSQL through database/sql
//   - dynamo: one DynamoDB table, writes committed with TransactWriteItems
//
// # Keys
//
// A [Key] is the ordered list of canonical segment strings of a row's full
// key. [EncodeKey] renders it so that every key prefix is also a string
// prefix of the encoding, which lets backends answer [Tx.Scan] with a range
// or begins_with query.
//
// # Errors
//
//   - [ErrNotFound] - row doesn't exist
//   - [ErrAlreadyExists] - put on a key that is taken
//   - [ErrConflict] - a concurrent transaction invalidated this one
//   - [ErrTxDone] - transaction already committed or rolled back
//   - [ErrReadOnly] - write attempted in a read-only transaction
//   - [ErrTxTooLarge] - transaction exceeds the backend's item limit
package store
