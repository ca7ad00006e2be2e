// Package sqlstore provides store.Store on SQL databases.
//
// All entity types share one table keyed by (entity, row_key), where row_key
// is store.EncodeKey of the full key, so a key-prefix scan is a range scan
// on the primary key. Attributes are stored as a msgpack document.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/jacentio/catalog/store"
)

// Config configures Open.
type Config struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string

	// DSN is the data source name. For sqlite it is the database file path.
	DSN string

	// BusyTimeoutMillis is how long sqlite writers wait for the write lock.
	BusyTimeoutMillis int

	// MaxOpenConns caps the connection pool; zero leaves the driver default.
	MaxOpenConns int

	// Logger receives migration and transaction diagnostics.
	Logger *slog.Logger
}

// DefaultConfig returns a sqlite configuration writing catalog.db.
func DefaultConfig() Config {
	return Config{
		Dialect:           SQLite.Name,
		DSN:               "catalog.db",
		BusyTimeoutMillis: 5000,
	}
}

func (c *Config) validate() error {
	if c.Dialect == "" {
		c.Dialect = SQLite.Name
	}
	if _, ok := DialectFor(c.Dialect); !ok {
		return fmt.Errorf("sqlstore: unknown dialect %q", c.Dialect)
	}
	if c.DSN == "" {
		return errors.New("sqlstore: DSN is required")
	}
	if c.BusyTimeoutMillis <= 0 {
		c.BusyTimeoutMillis = 5000
	}
	if c.MaxOpenConns < 0 {
		c.MaxOpenConns = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Store is a SQL-backed store.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the configured database and creates the row table.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d, _ := DialectFor(cfg.Dialect)
	dsn := cfg.DSN
	if d.Name == SQLite.Name {
		dsn = SQLiteDSN(cfg.DSN, cfg.BusyTimeoutMillis)
	}

	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.Name, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.Name, err)
	}

	s := New(db, d, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before first use unless the
// table already exists. A nil logger uses slog.Default().
func New(db *sql.DB, d Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, dialect: d, logger: logger}
}

// Migrate creates the row table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}
	s.logger.Debug("row table ready", "dialect", s.dialect.Name)
	return nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a database transaction.
func (s *Store) Begin(ctx context.Context, opts store.TxOptions) (store.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.txOptions(opts.ReadOnly))
	if err != nil {
		return nil, mapError("begin", err)
	}
	return &tx{s: s, tx: sqlTx, readOnly: opts.ReadOnly}, nil
}

type tx struct {
	s        *Store
	tx       *sql.Tx
	readOnly bool
	done     bool
}

func (t *tx) check(write bool) error {
	if t.done {
		return store.ErrTxDone
	}
	if write && t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) Get(ctx context.Context, entity string, key store.Key) (store.Row, error) {
	if err := t.check(false); err != nil {
		return store.Row{}, err
	}
	var payload []byte
	q := t.s.dialect.rebind(`SELECT payload FROM catalog_rows WHERE entity = ? AND row_key = ?`)
	err := t.tx.QueryRowContext(ctx, q, entity, store.EncodeKey(key)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Row{}, store.ErrNotFound
	}
	if err != nil {
		return store.Row{}, mapError("get", err)
	}
	attrs, err := decodeAttrs(payload)
	if err != nil {
		return store.Row{}, err
	}
	return store.Row{Entity: entity, Key: key.Clone(), Attrs: attrs}, nil
}

func (t *tx) Put(ctx context.Context, row store.Row) error {
	if err := t.check(true); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(row.Attrs)
	if err != nil {
		return fmt.Errorf("sqlstore: encode %s %s: %w", row.Entity, row.Key, err)
	}
	q := t.s.dialect.rebind(`INSERT INTO catalog_rows (entity, row_key, payload) VALUES (?, ?, ?)`)
	if _, err := t.tx.ExecContext(ctx, q, row.Entity, store.EncodeKey(row.Key), payload); err != nil {
		return mapError("put", err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, entity string, key store.Key) error {
	if err := t.check(true); err != nil {
		return err
	}
	q := t.s.dialect.rebind(`DELETE FROM catalog_rows WHERE entity = ? AND row_key = ?`)
	res, err := t.tx.ExecContext(ctx, q, entity, store.EncodeKey(key))
	if err != nil {
		return mapError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("delete", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) Scan(ctx context.Context, entity string, prefix store.Key) ([]store.Row, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	lo, hi := store.PrefixRange(prefix)
	var (
		rows *sql.Rows
		err  error
	)
	if lo == "" {
		q := t.s.dialect.rebind(`SELECT row_key, payload FROM catalog_rows WHERE entity = ? ORDER BY row_key`)
		rows, err = t.tx.QueryContext(ctx, q, entity)
	} else {
		q := t.s.dialect.rebind(`SELECT row_key, payload FROM catalog_rows WHERE entity = ? AND row_key >= ? AND row_key < ? ORDER BY row_key`)
		rows, err = t.tx.QueryContext(ctx, q, entity, lo, hi)
	}
	if err != nil {
		return nil, mapError("scan", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Row
	for rows.Next() {
		var (
			encoded string
			payload []byte
		)
		if err := rows.Scan(&encoded, &payload); err != nil {
			return nil, mapError("scan", err)
		}
		key, err := store.DecodeKey(encoded)
		if err != nil {
			return nil, err
		}
		attrs, err := decodeAttrs(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, store.Row{Entity: entity, Key: key, Attrs: attrs})
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("scan", err)
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		t.s.logger.DebugContext(ctx, "commit failed", "dialect", t.s.dialect.Name, "error", err)
		return mapError("commit", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return mapError("rollback", err)
	}
	return nil
}

func decodeAttrs(payload []byte) (map[string]any, error) {
	attrs := make(map[string]any)
	if err := msgpack.Unmarshal(payload, &attrs); err != nil {
		return nil, fmt.Errorf("sqlstore: decode payload: %w", err)
	}
	return attrs, nil
}
