package store

import (
	"context"
	"errors"
	"maps"
)

var (
	// ErrNotFound is returned when a row doesn't exist.
	ErrNotFound = errors.New("store: row not found")

	// ErrAlreadyExists is returned when putting a row whose key is taken.
	ErrAlreadyExists = errors.New("store: row already exists")

	// ErrConflict is returned when a concurrent commit invalidated the transaction.
	ErrConflict = errors.New("store: transaction conflict")

	// ErrTxDone is returned when using a finished transaction.
	ErrTxDone = errors.New("store: transaction already finished")

	// ErrReadOnly is returned when writing through a read-only transaction.
	ErrReadOnly = errors.New("store: transaction is read-only")

	// ErrTxTooLarge is returned when a transaction exceeds the backend's limits.
	ErrTxTooLarge = errors.New("store: transaction too large")
)

// Row is a stored record.
type Row struct {
	// Entity is the entity type name (e.g., "Scan").
	Entity string

	// Key is the row's full key.
	Key Key

	// Attrs maps every attribute name, key attributes included, to its value.
	// Absent nullable values are stored as nil.
	Attrs map[string]any
}

// Clone returns a copy of r that shares no maps or slices with it.
func (r Row) Clone() Row {
	return Row{Entity: r.Entity, Key: r.Key.Clone(), Attrs: maps.Clone(r.Attrs)}
}

// TxOptions configures a transaction.
type TxOptions struct {
	// ReadOnly transactions reject writes and never take writer locks.
	ReadOnly bool
}

// Store opens transactions against persistent rows.
type Store interface {
	// Begin starts a transaction. Callers must end it with Commit or Rollback.
	Begin(ctx context.Context, opts TxOptions) (Tx, error)

	// Close releases the store's resources.
	Close() error
}

// Tx is a unit of work. Reads observe the transaction's own writes. Nothing
// written is visible to other transactions until Commit succeeds, and a
// failed Commit leaves the store as it was before Begin.
type Tx interface {
	// Get returns the row stored under key, or ErrNotFound.
	Get(ctx context.Context, entity string, key Key) (Row, error)

	// Put inserts row, or returns ErrAlreadyExists.
	Put(ctx context.Context, row Row) error

	// Delete removes the row stored under key, or returns ErrNotFound.
	Delete(ctx context.Context, entity string, key Key) error

	// Scan returns the rows of entity whose key starts with prefix, ordered
	// by EncodeKey. Segments compare as strings, so numeric segments are not
	// in numeric order ("10" sorts before "9"). An empty prefix returns every
	// row of entity.
	Scan(ctx context.Context, entity string, prefix Key) ([]Row, error)

	// Commit makes the transaction's writes durable and visible.
	Commit(ctx context.Context) error

	// Rollback discards the transaction. It is a no-op after Commit.
	Rollback(ctx context.Context) error
}

// Replace swaps the row stored under row.Key for row within tx.
func Replace(ctx context.Context, tx Tx, row Row) error {
	if err := tx.Delete(ctx, row.Entity, row.Key); err != nil {
		return err
	}
	return tx.Put(ctx, row)
}

// RunInTransaction runs fn inside a transaction, committing when fn returns
// nil and rolling back otherwise.
func RunInTransaction(ctx context.Context, s Store, opts TxOptions, fn func(Tx) error) (err error) {
	tx, err := s.Begin(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
