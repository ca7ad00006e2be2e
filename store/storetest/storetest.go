// Package storetest checks that a store.Store honours the record store
// contract. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/catalog/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutGet", testPutGet},
		{"PutDuplicate", testPutDuplicate},
		{"DeleteMissing", testDeleteMissing},
		{"ReadYourWrites", testReadYourWrites},
		{"RollbackDiscards", testRollbackDiscards},
		{"ScanPrefix", testScanPrefix},
		{"ScanEncodedOrder", testScanEncodedOrder},
		{"ReplaceInTx", testReplaceInTx},
		{"ReadOnlyRejectsWrites", testReadOnlyRejectsWrites},
		{"FinishedTx", testFinishedTx},
		{"ConcurrentCreate", testConcurrentCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func session(specimen string, start time.Time) store.Row {
	ts := start.UTC().Format(time.RFC3339Nano)
	return store.Row{
		Entity: "Session",
		Key:    store.Key{specimen, ts},
		Attrs: map[string]any{
			"specimen":           specimen,
			"session_start_time": ts,
			"organ":              "brain",
			"backup_location":    nil,
		},
	}
}

func put(t *testing.T, s store.Store, rows ...store.Row) {
	t.Helper()
	err := store.RunInTransaction(context.Background(), s, store.TxOptions{}, func(tx store.Tx) error {
		for _, r := range rows {
			if err := tx.Put(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func get(t *testing.T, s store.Store, entity string, key store.Key) (store.Row, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx, store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	return tx.Get(ctx, entity, key)
}

var t1 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func testPutGet(t *testing.T, s store.Store) {
	row := session("S1", t1)
	put(t, s, row)

	got, err := get(t, s, "Session", row.Key)
	require.NoError(t, err)
	assert.Equal(t, "Session", got.Entity)
	assert.True(t, row.Key.Equal(got.Key))
	assert.Equal(t, "brain", got.Attrs["organ"])
	assert.Contains(t, got.Attrs, "backup_location")
	assert.Nil(t, got.Attrs["backup_location"])

	_, err = get(t, s, "Session", store.Key{"S2", "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = get(t, s, "Scan", row.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutDuplicate(t *testing.T, s store.Store) {
	put(t, s, session("S1", t1))

	err := store.RunInTransaction(context.Background(), s, store.TxOptions{}, func(tx store.Tx) error {
		return tx.Put(context.Background(), session("S1", t1))
	})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func testDeleteMissing(t *testing.T, s store.Store) {
	err := store.RunInTransaction(context.Background(), s, store.TxOptions{}, func(tx store.Tx) error {
		return tx.Delete(context.Background(), "Session", store.Key{"nope", "x"})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReadYourWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	row := session("S1", t1)

	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, row))

	got, err := tx.Get(ctx, "Session", row.Key)
	require.NoError(t, err)
	assert.Equal(t, "brain", got.Attrs["organ"])

	rows, err := tx.Scan(ctx, "Session", store.Key{"S1"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, tx.Delete(ctx, "Session", row.Key))
	_, err = tx.Get(ctx, "Session", row.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, tx.Commit(ctx))

	_, err = get(t, s, "Session", row.Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRollbackDiscards(t *testing.T, s store.Store) {
	ctx := context.Background()
	kept := session("S1", t1)
	put(t, s, kept)

	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, session("S2", t1)))
	require.NoError(t, tx.Delete(ctx, "Session", kept.Key))
	require.NoError(t, tx.Rollback(ctx))

	_, err = get(t, s, "Session", kept.Key)
	assert.NoError(t, err)
	_, err = get(t, s, "Session", session("S2", t1).Key)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testScanPrefix(t *testing.T, s store.Store) {
	ctx := context.Background()
	put(t, s,
		session("S1", t1),
		session("S1", t1.Add(time.Hour)),
		session("S10", t1),
		session("S2", t1),
	)

	tx, err := s.Begin(ctx, store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	rows, err := tx.Scan(ctx, "Session", store.Key{"S1"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "S1", r.Key[0])
	}
	assert.Less(t, store.EncodeKey(rows[0].Key), store.EncodeKey(rows[1].Key))

	all, err := tx.Scan(ctx, "Session", nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := tx.Scan(ctx, "Scan", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testScanEncodedOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	channel := func(index string) store.Row {
		return store.Row{
			Entity: "Scan.AiChannel",
			Key:    store.Key{"S1", index},
			Attrs:  map[string]any{"specimen": "S1", "channel_index": index},
		}
	}
	put(t, s, channel("9"), channel("100"), channel("10"))

	tx, err := s.Begin(ctx, store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	rows, err := tx.Scan(ctx, "Scan.AiChannel", store.Key{"S1"})
	require.NoError(t, err)
	got := make([]string, 0, len(rows))
	for _, r := range rows {
		got = append(got, r.Key[1])
	}
	// Segments compare as strings.
	assert.Equal(t, []string{"10", "100", "9"}, got)
}

func testReplaceInTx(t *testing.T, s store.Store) {
	ctx := context.Background()
	row := session("S1", t1)
	put(t, s, row)

	updated := row.Clone()
	updated.Attrs["organ"] = "whole body"
	err := store.RunInTransaction(ctx, s, store.TxOptions{}, func(tx store.Tx) error {
		return store.Replace(ctx, tx, updated)
	})
	require.NoError(t, err)

	got, err := get(t, s, "Session", row.Key)
	require.NoError(t, err)
	assert.Equal(t, "whole body", got.Attrs["organ"])
}

func testReadOnlyRejectsWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx, store.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	assert.ErrorIs(t, tx.Put(ctx, session("S1", t1)), store.ErrReadOnly)
	assert.ErrorIs(t, tx.Delete(ctx, "Session", store.Key{"S1"}), store.ErrReadOnly)
}

func testFinishedTx(t *testing.T, s store.Store) {
	ctx := context.Background()
	tx, err := s.Begin(ctx, store.TxOptions{})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	assert.ErrorIs(t, tx.Put(ctx, session("S1", t1)), store.ErrTxDone)
	assert.ErrorIs(t, tx.Commit(ctx), store.ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
}

func testConcurrentCreate(t *testing.T, s store.Store) {
	ctx := context.Background()
	const writers = 4

	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.RunInTransaction(ctx, s, store.TxOptions{}, func(tx store.Tx) error {
				return tx.Put(ctx, session("S1", t1))
			})
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrConflict),
			"unexpected error %v", err)
	}
	assert.Equal(t, 1, ok)
}
